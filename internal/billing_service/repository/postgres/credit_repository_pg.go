package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

const (
	queryGetBalance = `
		SELECT user_id, credits, updated_at
		FROM user_credits
		WHERE user_id = $1`

	queryEnsureAccount = `
		INSERT INTO user_credits (user_id, credits, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (user_id) DO NOTHING`

	// The balance check and the decrement are one statement, so two
	// concurrent consumers cannot both pass the check.
	queryConsume = `
		UPDATE user_credits
		SET credits = credits - $2, updated_at = now()
		WHERE user_id = $1 AND credits >= $2
		RETURNING user_id, credits, updated_at`

	queryGrant = `
		INSERT INTO user_credits (user_id, credits, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET credits = user_credits.credits + EXCLUDED.credits,
		    updated_at = EXCLUDED.updated_at
		RETURNING user_id, credits, updated_at`
)

func scanCredit(row pgx.Row) (*domain.AccountCredit, error) {
	var c domain.AccountCredit
	if err := row.Scan(&c.AccountID, &c.Credits, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgStore) GetBalance(ctx context.Context, accountID string) (*domain.AccountCredit, error) {
	c, err := scanCredit(r.db.QueryRow(ctx, queryGetBalance, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting credit balance", "error", err, "account_id", accountID)
		return nil, fmt.Errorf("getting credit balance: %w", err)
	}
	return c, nil
}

func (r *PgStore) Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	if _, err := r.db.Exec(ctx, queryEnsureAccount, accountID); err != nil {
		r.logger.ErrorContext(ctx, "Error creating credit record", "error", err, "account_id", accountID)
		return nil, fmt.Errorf("creating credit record: %w", err)
	}

	c, err := scanCredit(r.db.QueryRow(ctx, queryConsume, accountID, amount))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error consuming credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, fmt.Errorf("consuming credits: %w", err)
	}

	// The conditional update matched nothing: the balance was short. The read
	// below only reports the figure, it decides nothing.
	current, err := r.GetBalance(ctx, accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	var available int64
	if current != nil {
		available = current.Credits
	}
	return nil, &domain.InsufficientCreditsError{Available: available, Required: amount}
}

func (r *PgStore) Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	c, err := grant(ctx, r.db, accountID, amount)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error granting credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, err
	}
	return c, nil
}

func grant(ctx context.Context, q Querier, accountID string, amount int64) (*domain.AccountCredit, error) {
	c, err := scanCredit(q.QueryRow(ctx, queryGrant, accountID, amount))
	if err != nil {
		return nil, fmt.Errorf("granting credits: %w", err)
	}
	return c, nil
}
