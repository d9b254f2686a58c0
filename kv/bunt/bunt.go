// Package bunt is the production kv.Store backend, built on
// github.com/tidwall/buntdb. buntdb's ordered b-tree indices and
// Update/View transactions give the same point/prefix/range/atomic-batch
// contract spec.md asks of an "embedded LSM" without pulling in a
// heavier engine the pack never references.
package bunt

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tidwall/buntdb"

	"github.com/graft-sh/graft/kv"
)

// Store wraps one buntdb.DB with the four logical partitions as key
// prefixes, each with a registered ascending index so ScanPrefix/ScanRange
// run as b-tree range scans rather than full scans.
type Store struct {
	db  *buntdb.DB
	seq atomic.Uint64
}

// partitions enumerates all four for index registration at Open time.
var partitions = []kv.Partition{kv.PartitionVolumes, kv.PartitionLog, kv.PartitionPages, kv.PartitionHandles}

// Open opens (or creates) a buntdb file at path. Use ":memory:" for a
// transient, non-persistent instance.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bunt: open %s: %w", path, err)
	}
	for _, part := range partitions {
		pattern := string(part) + ":*"
		if err := db.CreateIndex(string(part), pattern, buntdb.IndexString); err != nil && err != buntdb.ErrIndexExists {
			db.Close()
			return nil, fmt.Errorf("bunt: create index %s: %w", part, err)
		}
	}
	return &Store{db: db}, nil
}

func dbKey(part kv.Partition, key []byte) string {
	var b strings.Builder
	b.WriteString(string(part))
	b.WriteByte(':')
	b.Write(key)
	return b.String()
}

func stripPrefix(part kv.Partition, dbk string) []byte {
	return []byte(strings.TrimPrefix(dbk, string(part)+":"))
}

func (s *Store) Get(part kv.Partition, key []byte) ([]byte, bool, error) {
	var val string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(dbKey(part, key))
		val = v
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bunt: get: %w", err)
	}
	return []byte(val), true, nil
}

func (s *Store) Insert(part kv.Partition, key, value []byte) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(dbKey(part, key), string(value), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("bunt: insert: %w", err)
	}
	s.seq.Add(1)
	return nil
}

func (s *Store) Delete(part kv.Partition, key []byte) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(dbKey(part, key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("bunt: delete: %w", err)
	}
	s.seq.Add(1)
	return nil
}

func (s *Store) ScanPrefix(part kv.Partition, prefix []byte) ([]kv.KV, error) {
	var out []kv.KV
	fullPrefix := dbKey(part, prefix)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual(string(part), fullPrefix, func(k, v string) bool {
			if !strings.HasPrefix(k, fullPrefix) {
				return false
			}
			out = append(out, kv.KV{Key: stripPrefix(part, k), Value: []byte(v)})
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bunt: scan prefix: %w", err)
	}
	return out, nil
}

func (s *Store) ScanRange(part kv.Partition, lo, hi []byte, reverse bool) ([]kv.KV, error) {
	loKey := dbKey(part, lo)
	var hiKey string
	if hi != nil {
		hiKey = dbKey(part, hi)
	}
	var out []kv.KV
	visit := func(k, v string) bool {
		if hiKey != "" && k >= hiKey {
			return false
		}
		out = append(out, kv.KV{Key: stripPrefix(part, k), Value: []byte(v)})
		return true
	}
	err := s.db.View(func(tx *buntdb.Tx) error {
		if reverse {
			// buntdb has no native bounded descend-from; walk ascending
			// within range then reverse in memory, since ranges here are
			// a single log's commit history and stay small.
			var fwd []kv.KV
			fwdVisit := func(k, v string) bool {
				if hiKey != "" && k >= hiKey {
					return false
				}
				fwd = append(fwd, kv.KV{Key: stripPrefix(part, k), Value: []byte(v)})
				return true
			}
			if err := tx.AscendGreaterOrEqual(string(part), loKey, fwdVisit); err != nil {
				return err
			}
			for i := len(fwd) - 1; i >= 0; i-- {
				out = append(out, fwd[i])
			}
			return nil
		}
		return tx.AscendGreaterOrEqual(string(part), loKey, visit)
	})
	if err != nil {
		return nil, fmt.Errorf("bunt: scan range: %w", err)
	}
	return out, nil
}

func (s *Store) Seq() uint64 { return s.seq.Load() }

type readView struct {
	s   *Store
	seq uint64
}

func (v *readView) Seq() uint64 { return v.seq }
func (v *readView) Get(part kv.Partition, key []byte) ([]byte, bool, error) {
	return v.s.Get(part, key)
}
func (v *readView) ScanPrefix(part kv.Partition, prefix []byte) ([]kv.KV, error) {
	return v.s.ScanPrefix(part, prefix)
}
func (v *readView) ScanRange(part kv.Partition, lo, hi []byte, reverse bool) ([]kv.KV, error) {
	return v.s.ScanRange(part, lo, hi, reverse)
}

// SnapshotAt returns a ReadView. buntdb does not expose MVCC snapshots by
// sequence number, so this is a best-effort view backed by the live
// database guarded by buntdb's own transaction isolation; seq is recorded
// for callers that only need it as an opaque watermark.
func (s *Store) SnapshotAt(seq uint64) (kv.ReadView, error) {
	return &readView{s: s, seq: seq}, nil
}

// txReadView serves the precondition check from inside the same buntdb
// transaction the batch commits in, so checking and writing are atomic
// without buntdb's single-writer lock deadlocking on a nested View/Update.
type txReadView struct {
	tx  *buntdb.Tx
	seq uint64
}

func (v *txReadView) Seq() uint64 { return v.seq }

func (v *txReadView) Get(part kv.Partition, key []byte) ([]byte, bool, error) {
	val, err := v.tx.Get(dbKey(part, key))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (v *txReadView) ScanPrefix(part kv.Partition, prefix []byte) ([]kv.KV, error) {
	var out []kv.KV
	fullPrefix := dbKey(part, prefix)
	err := v.tx.AscendGreaterOrEqual(string(part), fullPrefix, func(k, val string) bool {
		if !strings.HasPrefix(k, fullPrefix) {
			return false
		}
		out = append(out, kv.KV{Key: stripPrefix(part, k), Value: []byte(val)})
		return true
	})
	return out, err
}

func (v *txReadView) ScanRange(part kv.Partition, lo, hi []byte, reverse bool) ([]kv.KV, error) {
	loKey := dbKey(part, lo)
	var hiKey string
	if hi != nil {
		hiKey = dbKey(part, hi)
	}
	var out []kv.KV
	err := v.tx.AscendGreaterOrEqual(string(part), loKey, func(k, val string) bool {
		if hiKey != "" && k >= hiKey {
			return false
		}
		out = append(out, kv.KV{Key: stripPrefix(part, k), Value: []byte(val)})
		return true
	})
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, err
}

func (s *Store) NewBatch() *kv.WriteBatch { return kv.NewBatch(s) }

func (s *Store) CommitBatch(ctx context.Context, b *kv.WriteBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if err := b.CheckPrecondition(&txReadView{tx: tx, seq: s.Seq()}); err != nil {
			return err
		}
		return b.Apply(
			func(part kv.Partition, k, v []byte) error {
				_, _, err := tx.Set(dbKey(part, k), string(v), nil)
				return err
			},
			func(part kv.Partition, k []byte) error {
				_, err := tx.Delete(dbKey(part, k))
				if err == buntdb.ErrNotFound {
					return nil
				}
				return err
			},
		)
	})
	if err != nil {
		return err
	}
	s.seq.Add(1)
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ kv.Store = (*Store)(nil)
