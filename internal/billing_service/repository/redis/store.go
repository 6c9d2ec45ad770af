// Package redis keeps the ledger in Redis. Consume and settlement run as Lua
// scripts, which Redis executes without interleaving other commands. All keys
// touched by one script must live on the same node, so the store targets a
// single Redis instance.
package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

var (
	//go:embed consume.lua
	consumeLua    string
	consumeScript = redis.NewScript(consumeLua)

	//go:embed settle.lua
	settleLua    string
	settleScript = redis.NewScript(settleLua)
)

func creditKey(accountID string) string { return "credits:" + accountID }
func txnKey(paymentID string) string    { return "txn:" + paymentID }
func indexKey(accountID string) string  { return "account_txns:" + accountID }

type Store struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger.With("component", "credit_store_redis"), now: time.Now}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	logger.Info("Connected to Redis", "addr", addr)
	return NewStore(client, logger), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (*domain.AccountCredit, error) {
	vals, err := s.client.HMGet(ctx, creditKey(accountID), "credits", "updated_at").Result()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting credit balance", "error", err, "account_id", accountID)
		return nil, fmt.Errorf("getting credit balance: %w", err)
	}
	if vals[0] == nil {
		return nil, domain.ErrNotFound
	}

	credits, err := toInt64(vals[0])
	if err != nil {
		return nil, err
	}
	c := &domain.AccountCredit{AccountID: accountID, Credits: credits}
	if vals[1] != nil {
		millis, err := toInt64(vals[1])
		if err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(millis).UTC()
	}
	return c, nil
}

func (s *Store) Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	now := s.now().UTC()
	res, err := consumeScript.Run(ctx, s.client, []string{creditKey(accountID)}, amount, now.UnixMilli()).Slice()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error consuming credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, fmt.Errorf("consuming credits: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected consume script reply %v", res)
	}

	status, err := toInt64(res[0])
	if err != nil {
		return nil, err
	}
	credits, err := toInt64(res[1])
	if err != nil {
		return nil, err
	}

	if status == 0 {
		return nil, &domain.InsufficientCreditsError{Available: credits, Required: amount}
	}
	return &domain.AccountCredit{AccountID: accountID, Credits: credits, UpdatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *Store) Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	now := s.now().UTC()
	key := creditKey(accountID)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "credits", amount)
		pipe.HSet(ctx, key, "updated_at", now.UnixMilli())
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error granting credits", "error", err, "account_id", accountID, "amount", amount)
		return nil, fmt.Errorf("granting credits: %w", err)
	}
	return &domain.AccountCredit{AccountID: accountID, Credits: incr.Val(), UpdatedAt: now.Truncate(time.Millisecond)}, nil
}

func (s *Store) SettlePayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error) {
	record, err := json.Marshal(txn)
	if err != nil {
		return nil, false, fmt.Errorf("encoding transaction: %w", err)
	}

	keys := []string{txnKey(txn.PaymentID), creditKey(txn.AccountID), indexKey(txn.AccountID)}
	res, err := settleScript.Run(ctx, s.client, keys,
		record, txn.CreditsGranted, s.now().UnixMilli(), txn.CreatedAt.UnixMilli(), txn.PaymentID,
	).Slice()
	if err != nil {
		s.logger.ErrorContext(ctx, "Settlement script failed", "error", err,
			"payment_id", txn.PaymentID, "account_id", txn.AccountID, "credits", txn.CreditsGranted)
		return nil, false, fmt.Errorf("settling payment: %w", err)
	}
	if len(res) != 3 {
		return nil, false, fmt.Errorf("unexpected settle script reply %v", res)
	}

	inserted, err := toInt64(res[0])
	if err != nil {
		return nil, false, err
	}
	stored, err := decodeTransaction(res[1], res[2])
	if err != nil {
		return nil, false, err
	}

	s.logger.InfoContext(ctx, "Settlement committed", "payment_id", txn.PaymentID,
		"account_id", txn.AccountID, "inserted", inserted == 1, "balance_after", stored.BalanceAfter)
	return stored, inserted == 1, nil
}

func (s *Store) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Transaction, error) {
	vals, err := s.client.HMGet(ctx, txnKey(paymentID), "record", "balance_after").Result()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting transaction by payment ID", "error", err, "payment_id", paymentID)
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if vals[0] == nil {
		return nil, domain.ErrNotFound
	}
	return decodeTransaction(vals[0], vals[1])
}

func (s *Store) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(accountID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing transactions", "error", err, "account_id", accountID)
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	transactions := make([]domain.Transaction, 0, len(ids))
	if len(ids) == 0 {
		return transactions, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, txnKey(id), "record", "balance_after")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}

	for i, cmd := range cmds {
		vals := cmd.Val()
		if vals[0] == nil {
			return nil, fmt.Errorf("index points at missing transaction %s", ids[i])
		}
		txn, err := decodeTransaction(vals[0], vals[1])
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, nil
}

func decodeTransaction(record, balanceAfter any) (*domain.Transaction, error) {
	raw, ok := record.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction record type %T", record)
	}
	var txn domain.Transaction
	if err := json.Unmarshal([]byte(raw), &txn); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	balance, err := toInt64(balanceAfter)
	if err != nil {
		return nil, err
	}
	txn.BalanceAfter = balance
	return &txn, nil
}

// toInt64 accepts both integer replies and numeric bulk strings.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing integer reply %q: %w", n, err)
		}
		return i, nil
	case nil:
		return 0, errors.New("missing integer reply")
	default:
		return 0, fmt.Errorf("unexpected reply type %T", v)
	}
}
