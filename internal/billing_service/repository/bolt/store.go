// Package bolt keeps the ledger in a single BoltDB file. Bolt serializes
// every read-write transaction, so each db.Update below is one atomic step.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	boltdb "github.com/boltdb/bolt"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

var (
	bucketCredits      = []byte("credits")
	bucketTransactions = []byte("transactions")
	// bucketAccountTxns holds one sub-bucket per account keyed by
	// created_at nanos followed by the payment id.
	bucketAccountTxns = []byte("account_transactions")
)

type Store struct {
	db     *boltdb.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database file at path and its buckets.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := boltdb.Open(path, 0600, &boltdb.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt file %s: %w", path, err)
	}

	err = db.Update(func(tx *boltdb.Tx) error {
		for _, name := range [][]byte{bucketCredits, bucketTransactions, bucketAccountTxns} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	logger.Info("Bolt store opened", "path", path)
	return &Store{db: db, logger: logger.With("component", "credit_store_bolt"), now: time.Now}, nil
}

func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *boltdb.Tx) error {
		if tx.Bucket(bucketCredits) == nil {
			return fmt.Errorf("bucket %s missing", bucketCredits)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func getCredit(tx *boltdb.Tx, accountID string) (*domain.AccountCredit, error) {
	v := tx.Bucket(bucketCredits).Get([]byte(accountID))
	if v == nil {
		return nil, domain.ErrNotFound
	}
	var c domain.AccountCredit
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, fmt.Errorf("decoding credit record %s: %w", accountID, err)
	}
	return &c, nil
}

func putCredit(tx *boltdb.Tx, c *domain.AccountCredit) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCredits).Put([]byte(c.AccountID), data)
}

// loadOrCreate returns the account record, starting it at 0 when absent.
func (s *Store) loadOrCreate(tx *boltdb.Tx, accountID string) (*domain.AccountCredit, error) {
	c, err := getCredit(tx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.AccountCredit{AccountID: accountID, UpdatedAt: s.now().UTC()}, nil
	}
	return c, err
}

func (s *Store) GetBalance(_ context.Context, accountID string) (*domain.AccountCredit, error) {
	var c *domain.AccountCredit
	err := s.db.View(func(tx *boltdb.Tx) error {
		var err error
		c, err = getCredit(tx, accountID)
		return err
	})
	return c, err
}

func (s *Store) Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	var result *domain.AccountCredit
	var insufficient *domain.InsufficientCreditsError

	err := s.db.Update(func(tx *boltdb.Tx) error {
		c, err := s.loadOrCreate(tx, accountID)
		if err != nil {
			return err
		}
		if c.Credits < amount {
			insufficient = &domain.InsufficientCreditsError{Available: c.Credits, Required: amount}
			// The lazily created record is still committed.
			return putCredit(tx, c)
		}
		c.Credits -= amount
		c.UpdatedAt = s.now().UTC()
		result = c
		return putCredit(tx, c)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error consuming credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, fmt.Errorf("consuming credits: %w", err)
	}
	if insufficient != nil {
		return nil, insufficient
	}
	return result, nil
}

func (s *Store) Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	var result *domain.AccountCredit
	err := s.db.Update(func(tx *boltdb.Tx) error {
		var err error
		result, err = s.grant(tx, accountID, amount)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error granting credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, fmt.Errorf("granting credits: %w", err)
	}
	return result, nil
}

func (s *Store) grant(tx *boltdb.Tx, accountID string, amount int64) (*domain.AccountCredit, error) {
	c, err := s.loadOrCreate(tx, accountID)
	if err != nil {
		return nil, err
	}
	c.Credits += amount
	c.UpdatedAt = s.now().UTC()
	return c, putCredit(tx, c)
}

func indexKey(createdAt time.Time, paymentID string) []byte {
	key := make([]byte, 8, 8+len(paymentID))
	binary.BigEndian.PutUint64(key, uint64(createdAt.UnixNano()))
	return append(key, paymentID...)
}

// SettlePayment checks for the record, grants and writes the record inside
// one db.Update.
func (s *Store) SettlePayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error) {
	var stored domain.Transaction
	inserted := false

	err := s.db.Update(func(tx *boltdb.Tx) error {
		b := tx.Bucket(bucketTransactions)
		if existing := b.Get([]byte(txn.PaymentID)); existing != nil {
			return json.Unmarshal(existing, &stored)
		}

		credit, err := s.grant(tx, txn.AccountID, txn.CreditsGranted)
		if err != nil {
			return err
		}

		stored = *txn
		stored.BalanceAfter = credit.Credits
		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(txn.PaymentID), data); err != nil {
			return err
		}

		idx, err := tx.Bucket(bucketAccountTxns).CreateBucketIfNotExists([]byte(txn.AccountID))
		if err != nil {
			return err
		}
		inserted = true
		return idx.Put(indexKey(txn.CreatedAt, txn.PaymentID), []byte(txn.PaymentID))
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Settlement transaction failed", "error", err,
			"payment_id", txn.PaymentID, "account_id", txn.AccountID, "credits", txn.CreditsGranted)
		return nil, false, fmt.Errorf("settling payment: %w", err)
	}

	s.logger.InfoContext(ctx, "Settlement committed", "payment_id", txn.PaymentID,
		"account_id", txn.AccountID, "inserted", inserted, "balance_after", stored.BalanceAfter)
	return &stored, inserted, nil
}

func (s *Store) GetByPaymentID(_ context.Context, paymentID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := s.db.View(func(tx *boltdb.Tx) error {
		v := tx.Bucket(bucketTransactions).Get([]byte(paymentID))
		if v == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(v, &txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *Store) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	transactions := []domain.Transaction{}

	err := s.db.View(func(tx *boltdb.Tx) error {
		idx := tx.Bucket(bucketAccountTxns).Bucket([]byte(accountID))
		if idx == nil {
			return nil
		}
		records := tx.Bucket(bucketTransactions)

		c := idx.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(transactions) < limit; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			raw := records.Get(v)
			if raw == nil {
				return fmt.Errorf("index points at missing transaction %s", v)
			}
			var txn domain.Transaction
			if err := json.Unmarshal(raw, &txn); err != nil {
				return err
			}
			transactions = append(transactions, txn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}
