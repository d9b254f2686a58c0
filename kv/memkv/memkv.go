// Package memkv is an in-memory kv.Store used by tests throughout the
// module, in place of a real buntdb file. It is deliberately simple: a
// sorted slice per partition, scanned linearly, kept consistent under a
// single mutex. Grounded in the teacher's own in-memory test doubles
// (small, single-file, no external deps) rather than any production code
// path.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/graft-sh/graft/kv"
)

type Store struct {
	mu   sync.RWMutex
	seq  uint64
	data map[kv.Partition][]kv.KV
}

func New() *Store {
	return &Store{data: make(map[kv.Partition][]kv.KV)}
}

func (s *Store) find(part kv.Partition, key []byte) int {
	rows := s.data[part]
	return sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].Key, key) >= 0 })
}

func (s *Store) Get(part kv.Partition, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(part, key)
	rows := s.data[part]
	if i < len(rows) && bytes.Equal(rows[i].Key, key) {
		return append([]byte(nil), rows[i].Value...), true, nil
	}
	return nil, false, nil
}

func (s *Store) Insert(part kv.Partition, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(part, key, value)
	s.seq++
	return nil
}

func (s *Store) putLocked(part kv.Partition, key, value []byte) {
	rows := s.data[part]
	i := s.find(part, key)
	kvp := kv.KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	if i < len(rows) && bytes.Equal(rows[i].Key, key) {
		rows[i] = kvp
		s.data[part] = rows
		return
	}
	rows = append(rows, kv.KV{})
	copy(rows[i+1:], rows[i:])
	rows[i] = kvp
	s.data[part] = rows
}

func (s *Store) deleteLocked(part kv.Partition, key []byte) {
	rows := s.data[part]
	i := s.find(part, key)
	if i < len(rows) && bytes.Equal(rows[i].Key, key) {
		s.data[part] = append(rows[:i], rows[i+1:]...)
	}
}

func (s *Store) Delete(part kv.Partition, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(part, key)
	s.seq++
	return nil
}

func (s *Store) ScanPrefix(part kv.Partition, prefix []byte) ([]kv.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kv.KV
	for _, row := range s.data[part] {
		if bytes.HasPrefix(row.Key, prefix) {
			out = append(out, kv.KV{Key: append([]byte(nil), row.Key...), Value: append([]byte(nil), row.Value...)})
		}
	}
	return out, nil
}

func (s *Store) ScanRange(part kv.Partition, lo, hi []byte, reverse bool) ([]kv.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kv.KV
	for _, row := range s.data[part] {
		if bytes.Compare(row.Key, lo) < 0 {
			continue
		}
		if hi != nil && bytes.Compare(row.Key, hi) >= 0 {
			continue
		}
		out = append(out, kv.KV{Key: append([]byte(nil), row.Key...), Value: append([]byte(nil), row.Value...)})
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// snapshot is a frozen copy of the store's partitions at one sequence
// number.
type snapshot struct {
	seq  uint64
	data map[kv.Partition][]kv.KV
}

func (sn *snapshot) Seq() uint64 { return sn.seq }

func (sn *snapshot) Get(part kv.Partition, key []byte) ([]byte, bool, error) {
	rows := sn.data[part]
	i := sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].Key, key) >= 0 })
	if i < len(rows) && bytes.Equal(rows[i].Key, key) {
		return rows[i].Value, true, nil
	}
	return nil, false, nil
}

func (sn *snapshot) ScanPrefix(part kv.Partition, prefix []byte) ([]kv.KV, error) {
	var out []kv.KV
	for _, row := range sn.data[part] {
		if bytes.HasPrefix(row.Key, prefix) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (sn *snapshot) ScanRange(part kv.Partition, lo, hi []byte, reverse bool) ([]kv.KV, error) {
	var out []kv.KV
	for _, row := range sn.data[part] {
		if bytes.Compare(row.Key, lo) < 0 {
			continue
		}
		if hi != nil && bytes.Compare(row.Key, hi) >= 0 {
			continue
		}
		out = append(out, row)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *Store) SnapshotAt(seq uint64) (kv.ReadView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[kv.Partition][]kv.KV, len(s.data))
	for part, rows := range s.data {
		cp[part] = append([]kv.KV(nil), rows...)
	}
	return &snapshot{seq: s.seq, data: cp}, nil
}

func (s *Store) NewBatch() *kv.WriteBatch { return kv.NewBatch(s) }

func (s *Store) CommitBatch(ctx context.Context, b *kv.WriteBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	view := &snapshot{seq: s.seq, data: s.data}
	if err := b.CheckPrecondition(view); err != nil {
		return err
	}

	err := b.Apply(
		func(part kv.Partition, k, v []byte) error { s.putLocked(part, k, v); return nil },
		func(part kv.Partition, k []byte) error { s.deleteLocked(part, k); return nil },
	)
	if err != nil {
		return err
	}
	s.seq++
	return nil
}

func (s *Store) Close() error { return nil }

var _ kv.Store = (*Store)(nil)
