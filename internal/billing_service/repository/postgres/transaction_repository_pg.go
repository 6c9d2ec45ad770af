package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

const (
	transactionColumns = `payment_id, user_id, amount::text, currency, credits_granted, balance_after, status, created_at`

	queryGetTransaction = `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE payment_id = $1`

	queryListTransactions = `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, payment_id
		LIMIT $2 OFFSET $3`

	// The primary key on payment_id makes this insert the idempotency gate.
	queryInsertTransaction = `
		INSERT INTO credit_transactions
			(payment_id, user_id, amount, currency, credits_granted, balance_after, status, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, 0, $6, $7)
		ON CONFLICT (payment_id) DO NOTHING`

	querySetBalanceAfter = `
		UPDATE credit_transactions SET balance_after = $2 WHERE payment_id = $1`
)

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var amount string
	err := row.Scan(
		&txn.PaymentID, &txn.AccountID, &amount, &txn.Currency,
		&txn.CreditsGranted, &txn.BalanceAfter, &txn.Status, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	return &txn, nil
}

func getTransaction(ctx context.Context, q Querier, paymentID string) (*domain.Transaction, error) {
	txn, err := scanTransaction(q.QueryRow(ctx, queryGetTransaction, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return txn, nil
}

func (r *PgStore) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Transaction, error) {
	txn, err := getTransaction(ctx, r.db, paymentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.ErrorContext(ctx, "Error getting transaction by payment ID", "error", err, "payment_id", paymentID)
	}
	return txn, err
}

func (r *PgStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, queryListTransactions, accountID, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing transactions", "error", err, "account_id", accountID)
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return transactions, nil
}

// SettlePayment runs the record insert and the grant in one SQL transaction.
// A concurrent settle on the same payment blocks on the primary key until the
// first commits, then inserts nothing and reads the winner's record.
func (r *PgStore) SettlePayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error) {
	var stored *domain.Transaction
	inserted := false

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, queryInsertTransaction,
			txn.PaymentID, txn.AccountID, txn.Amount.String(), txn.Currency,
			txn.CreditsGranted, string(txn.Status), txn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting transaction: %w", err)
		}

		if tag.RowsAffected() == 0 {
			existing, err := getTransaction(ctx, tx, txn.PaymentID)
			if err != nil {
				return err
			}
			stored = existing
			return nil
		}

		credit, err := grant(ctx, tx, txn.AccountID, txn.CreditsGranted)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, querySetBalanceAfter, txn.PaymentID, credit.Credits); err != nil {
			return fmt.Errorf("recording balance after settlement: %w", err)
		}

		settled := *txn
		settled.BalanceAfter = credit.Credits
		stored = &settled
		inserted = true
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Settlement transaction failed", "error", err,
			"payment_id", txn.PaymentID, "account_id", txn.AccountID, "credits", txn.CreditsGranted)
		return nil, false, err
	}

	r.logger.InfoContext(ctx, "Settlement committed", "payment_id", txn.PaymentID,
		"account_id", txn.AccountID, "inserted", inserted, "balance_after", stored.BalanceAfter)
	return stored, inserted, nil
}
