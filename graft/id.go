// Package graft holds the shared commit-log data model (spec §3, §4.3-4.4):
// identifiers, LSNs, pages, Volumes, Commits, Snapshots, and the search-path
// resolver. Client and server packages both depend on this package; neither
// depends on the other through it.
package graft

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Kind tags the first byte of every identifier so that a raw key can be
// type-checked and pretty-printed without a side table.
type Kind byte

const (
	KindVolume Kind = iota + 1
	KindLog
	KindSegment
)

func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "vol"
	case KindLog:
		return "log"
	case KindSegment:
		return "seg"
	default:
		return "unk"
	}
}

// idLen matches the teacher's short, sortable identifier convention: a
// 1-byte kind tag plus enough random payload to make collision practically
// impossible within one cluster's lifetime.
const idLen = 16

type rawID [idLen]byte

func newRawID(k Kind) rawID {
	var id rawID
	id[0] = byte(k)
	if _, err := rand.Read(id[1:]); err != nil {
		// crypto/rand failing means the host entropy source is broken;
		// this is unrecoverable and callers cannot sensibly proceed.
		panic("graft: crypto/rand unavailable: " + err.Error())
	}
	return id
}

func (id rawID) kind() Kind  { return Kind(id[0]) }
func (id rawID) isZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}
func (id rawID) pretty() string { return id.kind().String() + "_" + hex.EncodeToString(id[1:]) }
func (id rawID) bytes() []byte  { b := make([]byte, idLen); copy(b, id[:]); return b }

func rawFromBytes(b []byte) (rawID, error) {
	var id rawID
	if len(b) != idLen {
		return id, fmt.Errorf("graft: bad id length %d, want %d", len(b), idLen)
	}
	copy(id[:], b)
	return id, nil
}

// rawFromPretty parses the kind_hex form pretty() produces, checking the
// tag matches want.
func rawFromPretty(s string, want Kind) (rawID, error) {
	var id rawID
	prefix := want.String() + "_"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return id, fmt.Errorf("graft: %q is not a %s id", s, want)
	}
	payload, err := hex.DecodeString(s[len(prefix):])
	if err != nil {
		return id, fmt.Errorf("graft: decode %q: %w", s, err)
	}
	if len(payload) != idLen-1 {
		return id, fmt.Errorf("graft: %q has wrong payload length %d, want %d", s, len(payload), idLen-1)
	}
	id[0] = byte(want)
	copy(id[1:], payload)
	return id, nil
}

// VolumeId identifies a Volume; minted by the client, immutable once minted.
type VolumeId struct{ raw rawID }

func NewVolumeId() VolumeId { return VolumeId{newRawID(KindVolume)} }
func (v VolumeId) Pretty() string  { return v.raw.pretty() }
func (v VolumeId) Bytes() []byte   { return v.raw.bytes() }
func (v VolumeId) IsZero() bool    { return v.raw.isZero() }
func (v VolumeId) String() string  { return v.Pretty() }

func VolumeIdFromBytes(b []byte) (VolumeId, error) {
	raw, err := rawFromBytes(b)
	if err != nil {
		return VolumeId{}, err
	}
	return VolumeId{raw}, nil
}

// VolumeIdFromPretty parses the string Pretty() produces, e.g. as
// accepted by cmd/graft's -volume flag.
func VolumeIdFromPretty(s string) (VolumeId, error) {
	raw, err := rawFromPretty(s, KindVolume)
	if err != nil {
		return VolumeId{}, err
	}
	return VolumeId{raw}, nil
}

// LogId identifies a Log, local or remote; backs one or more Volumes.
type LogId struct{ raw rawID }

func NewLogId() LogId            { return LogId{newRawID(KindLog)} }
func (l LogId) Pretty() string   { return l.raw.pretty() }
func (l LogId) Bytes() []byte    { return l.raw.bytes() }
func (l LogId) IsZero() bool     { return l.raw.isZero() }
func (l LogId) String() string   { return l.Pretty() }
func (l LogId) Equal(o LogId) bool { return l.raw == o.raw }

func LogIdFromBytes(b []byte) (LogId, error) {
	raw, err := rawFromBytes(b)
	if err != nil {
		return LogId{}, err
	}
	return LogId{raw}, nil
}

// SegmentId identifies an immutable Segment; minted when the pagestore
// seals a segment.
type SegmentId struct{ raw rawID }

func NewSegmentId() SegmentId     { return SegmentId{newRawID(KindSegment)} }
func (s SegmentId) Pretty() string { return s.raw.pretty() }
func (s SegmentId) Bytes() []byte  { return s.raw.bytes() }
func (s SegmentId) IsZero() bool   { return s.raw.isZero() }
func (s SegmentId) String() string { return s.Pretty() }
func (s SegmentId) Equal(o SegmentId) bool { return s.raw == o.raw }

func SegmentIdFromBytes(b []byte) (SegmentId, error) {
	raw, err := rawFromBytes(b)
	if err != nil {
		return SegmentId{}, err
	}
	return SegmentId{raw}, nil
}
