package splinter

import (
	"math/rand"
	"sort"
	"testing"
)

func sortedUnique(keys []uint32) []uint32 {
	m := map[uint32]struct{}{}
	for _, k := range keys {
		m[k] = struct{}{}
	}
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestInsertContains(t *testing.T) {
	s := New()
	keys := []uint32{1, 2, 3, 0xffffff, 0x800000, 5000}
	for _, k := range keys {
		if !s.Insert(k) {
			t.Fatalf("expected fresh insert for %d", k)
		}
	}
	for _, k := range keys {
		if !s.Contains(k) {
			t.Fatalf("expected %d present", k)
		}
	}
	if s.Contains(42) {
		t.Fatalf("42 should be absent")
	}
	if s.Cardinality() != len(keys) {
		t.Fatalf("cardinality = %d, want %d", s.Cardinality(), len(keys))
	}
}

func TestBitmapThresholdCrossing(t *testing.T) {
	s := New()
	// all share the same (hi, mid) pair so the leaf run crosses into bitmap.
	for i := 0; i < 64; i++ {
		s.Insert(join(0, 0, byte(i)))
	}
	leaf := s.children[0].children[0]
	if leaf.run.kind != kindBitmap {
		t.Fatalf("expected leaf to be promoted to bitmap representation")
	}
	for i := 0; i < 64; i++ {
		if !s.Contains(join(0, 0, byte(i))) {
			t.Fatalf("missing key %d after bitmap promotion", i)
		}
	}
	for i := 0; i < 40; i++ {
		s.Remove(join(0, 0, byte(i)))
	}
	if leaf.run.kind != kindList {
		t.Fatalf("expected leaf to demote back to list representation")
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	var keys []uint32
	for i := 0; i < 2000; i++ {
		keys = append(keys, rnd.Uint32()&0xffffff)
	}
	keys = sortedUnique(keys)

	s := FromKeys(keys)
	b := s.Bytes()
	got, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.Cardinality() != len(keys) {
		t.Fatalf("cardinality = %d, want %d", got.Cardinality(), len(keys))
	}
	gotKeys := got.ToSlice()
	for i, k := range keys {
		if gotKeys[i] != k {
			t.Fatalf("key[%d] = %d, want %d", i, gotKeys[i], k)
		}
	}
	for _, k := range keys {
		if !got.Contains(k) {
			t.Fatalf("round-tripped set missing %d", k)
		}
	}
}

func TestFromBytesRejectsBadMagic(t *testing.T) {
	s := FromKeys([]uint32{1, 2, 3})
	b := s.Bytes()
	b[len(b)-footerLen] ^= 0xff
	if _, err := FromBytes(b); err == nil {
		t.Fatalf("expected magic mismatch error")
	}
}

func TestSetOps(t *testing.T) {
	a := FromKeys([]uint32{1, 2, 3, 4})
	b := FromKeys([]uint32{3, 4, 5, 6})

	u := Union(a, b)
	if u.Cardinality() != 6 {
		t.Fatalf("union cardinality = %d, want 6", u.Cardinality())
	}
	i := Intersect(a, b)
	if i.Cardinality() != 2 || !i.Contains(3) || !i.Contains(4) {
		t.Fatalf("bad intersection: %v", i.ToSlice())
	}
	d := Difference(a, b)
	if d.Cardinality() != 2 || !d.Contains(1) || !d.Contains(2) {
		t.Fatalf("bad difference: %v", d.ToSlice())
	}
	// commutativity of union regardless of operand ownership direction.
	u2 := Union(b, a)
	if u.Cardinality() != u2.Cardinality() {
		t.Fatalf("union not order-independent")
	}
}

func TestCut(t *testing.T) {
	s := FromKeys([]uint32{1, 2, 3, 4, 5})
	other := FromKeys([]uint32{2, 4, 100})

	removed := s.Cut(other)
	if removed.Cardinality() != 2 || !removed.Contains(2) || !removed.Contains(4) {
		t.Fatalf("bad removed set: %v", removed.ToSlice())
	}
	if s.Contains(2) || s.Contains(4) {
		t.Fatalf("s should no longer contain cut keys")
	}
	if !s.Contains(1) || !s.Contains(3) || !s.Contains(5) {
		t.Fatalf("s lost unrelated keys")
	}
}

func TestRemoveRange(t *testing.T) {
	s := FromKeys([]uint32{1, 2, 3, 4, 5, 10})
	s.RemoveRange(2, 4)
	want := []uint32{1, 5, 10}
	got := s.ToSlice()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLast(t *testing.T) {
	s := New()
	if _, ok := s.Last(); ok {
		t.Fatalf("empty set should have no last")
	}
	s.Insert(5)
	s.Insert(0xffffff)
	s.Insert(100)
	last, ok := s.Last()
	if !ok || last != 0xffffff {
		t.Fatalf("last = %d, ok=%v, want 0xffffff", last, ok)
	}
}
