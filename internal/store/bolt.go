package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"termpool/internal/model"
)

var (
	bucketMeta      = []byte("meta")
	bucketMembers   = []byte("members")
	bucketAllowList = []byte("allowlist")
	bucketDeposits  = []byte("deposits")
	bucketDirectory = []byte("directory")

	keyOwner     = []byte("owner")
	keyTerms     = []byte("terms")
	keyRound     = []byte("round")
	keyUpdatedAt = []byte("updated_at")
)

var allBuckets = [][]byte{bucketMeta, bucketMembers, bucketAllowList, bucketDeposits, bucketDirectory}

const depositRecordSize = 9 // amount(8) + withdrawn(1)

// BoltStore persists the snapshot in a bbolt database, one bucket per record
// family. Every save replaces the whole snapshot in a single transaction.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at dbPath.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Load reads the snapshot back. Returns ErrNotFound on an empty database.
func (s *BoltStore) Load() (*model.Snapshot, error) {
	snap := model.NewSnapshot()
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		owner := meta.Get(keyOwner)
		if owner == nil {
			return ErrNotFound
		}
		snap.Owner = model.Account(owner)
		if err := json.Unmarshal(meta.Get(keyTerms), &snap.Terms); err != nil {
			return fmt.Errorf("decode terms: %w", err)
		}
		if err := json.Unmarshal(meta.Get(keyRound), &snap.Round); err != nil {
			return fmt.Errorf("decode round: %w", err)
		}
		if v := meta.Get(keyUpdatedAt); len(v) == 8 {
			snap.UpdatedAt = decodeTime(v)
		}

		err := tx.Bucket(bucketMembers).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("membership %q: bad value length %d", k, len(v))
			}
			snap.Memberships[model.Account(k)] = decodeTime(v)
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketAllowList).ForEach(func(k, _ []byte) error {
			snap.AllowList[model.Account(k)] = true
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketDeposits).ForEach(func(k, v []byte) error {
			if len(v) != depositRecordSize {
				return fmt.Errorf("deposit %q: bad value length %d", k, len(v))
			}
			snap.Deposits[model.Account(k)] = model.DepositRecord{
				Amount:    binary.BigEndian.Uint64(v[:8]),
				Withdrawn: v[8] == 1,
			}
			return nil
		})
		if err != nil {
			return err
		}

		// keys are big-endian sequence numbers, so ForEach yields directory order
		return tx.Bucket(bucketDirectory).ForEach(func(_, v []byte) error {
			snap.Directory = append(snap.Directory, model.Account(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces the stored snapshot.
func (s *BoltStore) Save(snap *model.Snapshot) error {
	terms, err := json.Marshal(snap.Terms)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	round, err := json.Marshal(snap.Round)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("store: clear bucket %q: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("store: create bucket %q: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyOwner, []byte(snap.Owner)); err != nil {
			return err
		}
		if err := meta.Put(keyTerms, terms); err != nil {
			return err
		}
		if err := meta.Put(keyRound, round); err != nil {
			return err
		}
		if err := meta.Put(keyUpdatedAt, encodeTime(snap.UpdatedAt)); err != nil {
			return err
		}

		members := tx.Bucket(bucketMembers)
		for a, expiry := range snap.Memberships {
			if err := members.Put([]byte(a), encodeTime(expiry)); err != nil {
				return fmt.Errorf("store: put membership %s: %w", a, err)
			}
		}

		allow := tx.Bucket(bucketAllowList)
		for a, ok := range snap.AllowList {
			if !ok {
				continue
			}
			if err := allow.Put([]byte(a), []byte{1}); err != nil {
				return fmt.Errorf("store: put allowlist %s: %w", a, err)
			}
		}

		deposits := tx.Bucket(bucketDeposits)
		for a, rec := range snap.Deposits {
			v := make([]byte, depositRecordSize)
			binary.BigEndian.PutUint64(v[:8], rec.Amount)
			if rec.Withdrawn {
				v[8] = 1
			}
			if err := deposits.Put([]byte(a), v); err != nil {
				return fmt.Errorf("store: put deposit %s: %w", a, err)
			}
		}

		dir := tx.Bucket(bucketDirectory)
		for i, a := range snap.Directory {
			k := make([]byte, 8)
			binary.BigEndian.PutUint64(k, uint64(i))
			if err := dir.Put(k, []byte(a)); err != nil {
				return fmt.Errorf("store: put directory entry %d: %w", i, err)
			}
		}
		return nil
	})
}

// encodeTime stores t as big-endian unix nanoseconds. The zero time maps to 0.
func encodeTime(t time.Time) []byte {
	b := make([]byte, 8)
	if !t.IsZero() {
		binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	}
	return b
}

func decodeTime(b []byte) time.Time {
	n := binary.BigEndian.Uint64(b)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC()
}
