package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the outcome recorded for a settled payment.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Value implements the driver.Valuer interface for TransactionStatus.
func (ts TransactionStatus) Value() (driver.Value, error) {
	return string(ts), nil
}

// Scan implements the sql.Scanner interface for TransactionStatus.
func (ts *TransactionStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan TransactionStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*ts = TransactionStatus(strVal)
	switch *ts {
	case TransactionStatusCompleted, TransactionStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown TransactionStatus value: %s", strVal)
	}
}

// Transaction is the immutable record of one settled payment. PaymentID is the
// processor's payment identifier and doubles as the idempotency key: at most
// one Transaction exists per PaymentID.
type Transaction struct {
	PaymentID      string            `json:"payment_id"`
	AccountID      string            `json:"account_id"`
	Amount         decimal.Decimal   `json:"amount"` // major currency units
	Currency       string            `json:"currency"`
	CreditsGranted int64             `json:"credits_granted"`
	BalanceAfter   int64             `json:"balance_after"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Settlement is what a settle call reports back to the caller.
type Settlement struct {
	PaymentID      string `json:"payment_id"`
	AccountID      string `json:"account_id"`
	CreditsAdded   int64  `json:"credits_added"`
	TotalCredits   int64  `json:"total_credits"`
	AlreadySettled bool   `json:"already_settled"`
}

// SettlementFromTransaction reports a stored record as a settlement result.
func SettlementFromTransaction(txn *Transaction, alreadySettled bool) *Settlement {
	return &Settlement{
		PaymentID:      txn.PaymentID,
		AccountID:      txn.AccountID,
		CreditsAdded:   txn.CreditsGranted,
		TotalCredits:   txn.BalanceAfter,
		AlreadySettled: alreadySettled,
	}
}
