package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("acc_42", time.Minute)
	require.NoError(t, err)

	accountID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acc_42", accountID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("test-secret")

	expired, err := v.Issue("acc_42", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier("other-secret").Issue("acc_42", time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "acc_42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"no subject":   noSubject,
		"alg none":     unsigned,
		"garbage":      "not-a-jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}
