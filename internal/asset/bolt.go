package asset

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"termpool/internal/model"
)

var (
	bucketBalances   = []byte("balances")
	bucketAllowances = []byte("allowances")
)

// BoltLedger is a fungible token whose balances and allowances live in a
// bbolt database. Each call is one bbolt transaction, so a failed transfer
// leaves nothing behind.
type BoltLedger struct {
	name string
	db   *bbolt.DB
}

var _ Asset = (*BoltLedger)(nil)

// OpenBoltLedger opens or creates the ledger database at dbPath.
func OpenBoltLedger(name, dbPath string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("asset: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("asset: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketBalances, bucketAllowances} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("asset: create buckets: %w", err)
	}
	return &BoltLedger{name: name, db: db}, nil
}

func (l *BoltLedger) Name() string { return l.name }

func (l *BoltLedger) Close() error { return l.db.Close() }

// Mint credits amount to account.
func (l *BoltLedger) Mint(account model.Account, amount uint64) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBalances)
		bal := getUint(b, []byte(account))
		if bal > math.MaxUint64-amount {
			return ErrOverflow
		}
		return putUint(b, []byte(account), bal+amount)
	})
}

func (l *BoltLedger) BalanceOf(account model.Account) uint64 {
	var bal uint64
	err := l.db.View(func(tx *bbolt.Tx) error {
		bal = getUint(tx.Bucket(bucketBalances), []byte(account))
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("account", string(account)).Msg("read balance")
	}
	return bal
}

func (l *BoltLedger) Approve(owner, spender model.Account, amount uint64) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return putUint(tx.Bucket(bucketAllowances), allowanceKey(owner, spender), amount)
	})
}

func (l *BoltLedger) Allowance(owner, spender model.Account) uint64 {
	var v uint64
	err := l.db.View(func(tx *bbolt.Tx) error {
		v = getUint(tx.Bucket(bucketAllowances), allowanceKey(owner, spender))
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("owner", string(owner)).Msg("read allowance")
	}
	return v
}

func (l *BoltLedger) Transfer(ctx context.Context, from, to model.Account, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return moveBalance(tx.Bucket(bucketBalances), from, to, amount)
	})
}

func (l *BoltLedger) TransferFrom(ctx context.Context, spender, from, to model.Account, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		allowances := tx.Bucket(bucketAllowances)
		key := allowanceKey(from, spender)
		allowed := getUint(allowances, key)
		if allowed < amount {
			return fmt.Errorf("%w: %s approved %d for %s, need %d", ErrInsufficientAllowance, from, allowed, spender, amount)
		}
		if err := moveBalance(tx.Bucket(bucketBalances), from, to, amount); err != nil {
			return err
		}
		return putUint(allowances, key, allowed-amount)
	})
}

func moveBalance(b *bbolt.Bucket, from, to model.Account, amount uint64) error {
	src := getUint(b, []byte(from))
	if src < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from, src, amount)
	}
	if from == to {
		return nil
	}
	dst := getUint(b, []byte(to))
	if dst > math.MaxUint64-amount {
		return ErrOverflow
	}
	if err := putUint(b, []byte(from), src-amount); err != nil {
		return err
	}
	return putUint(b, []byte(to), dst+amount)
}

// allowanceKey is owner, a zero byte, then spender.
func allowanceKey(owner, spender model.Account) []byte {
	k := make([]byte, 0, len(owner)+1+len(spender))
	k = append(k, owner...)
	k = append(k, 0)
	return append(k, spender...)
}

func getUint(b *bbolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putUint(b *bbolt.Bucket, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return b.Put(key, buf)
}
