// Package wire defines the request/response messages and HTTP routes the
// metastore and pagestore serve (spec §6): length-delimited bodies built
// on recwire, served as application/x-protobuf over fasthttp.
package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/graft-sh/graft/gerrs"
	"github.com/graft-sh/graft/graft"
	"github.com/graft-sh/graft/splinter"
	"github.com/graft-sh/graft/wire/recwire"
)

// ContentType is the fixed Content-Type every route requires on request
// bodies and sets on response bodies.
const ContentType = "application/x-protobuf"

// Routes, exactly as spec.md §6 names them.
const (
	RouteMetastoreSnapshot     = "/metastore/v1/snapshot"
	RouteMetastorePullOffsets  = "/metastore/v1/pull_offsets"
	RouteMetastorePullSegments = "/metastore/v1/pull_segments"
	RouteMetastoreCommit       = "/metastore/v1/commit"
	RoutePagestoreReadPages    = "/pagestore/v1/read_pages"
	RoutePagestoreWritePages   = "/pagestore/v1/write_pages"
)

const (
	fErrKind    protowire.Number = 1
	fErrMessage protowire.Number = 2
	fErrVolume  protowire.Number = 3
	fErrLSN     protowire.Number = 4
	fErrSegment protowire.Number = 5
)

// EncodeError frames a gerrs.Error using the same recwire primitives as
// every other message, so error bodies need no second codec.
func EncodeError(e *gerrs.Error) []byte {
	return recwire.NewWriter().
		Uint64(fErrKind, uint64(e.Kind)).
		String(fErrMessage, e.Message).
		String(fErrVolume, e.Volume).
		Uint64(fErrLSN, e.LSN).
		String(fErrSegment, e.Segment).
		Finish()
}

func DecodeError(buf []byte) (*gerrs.Error, error) {
	e := &gerrs.Error{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fErrKind:
			v, err := f.Uint64()
			e.Kind = gerrs.Kind(v)
			return err
		case fErrMessage:
			s, err := f.String()
			e.Message = s
			return err
		case fErrVolume:
			s, err := f.String()
			e.Volume = s
			return err
		case fErrLSN:
			v, err := f.Uint64()
			e.LSN = v
			return err
		case fErrSegment:
			s, err := f.String()
			e.Segment = s
			return err
		}
		return nil
	})
	return e, err
}

const (
	fReqVolume protowire.Number = 1
	fReqLSN    protowire.Number = 2
)

// SnapshotRequest asks the metastore to resolve a search path for a
// volume at an optional specific LSN (0 means "current head").
type SnapshotRequest struct {
	Volume graft.VolumeId
	AtLSN  graft.LSN // 0 = head
}

func (r *SnapshotRequest) Encode() []byte {
	return recwire.NewWriter().
		Bytes(fReqVolume, r.Volume.Bytes()).
		Uint64(fReqLSN, uint64(r.AtLSN)).
		Finish()
}

func DecodeSnapshotRequest(buf []byte) (*SnapshotRequest, error) {
	r := &SnapshotRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fReqVolume:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			vid, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Volume = vid
		case fReqLSN:
			v, err := f.Uint64()
			r.AtLSN = graft.LSN(v)
			return err
		}
		return nil
	})
	return r, err
}

const (
	fSnapEntryLog protowire.Number = 1
	fSnapEntryLo  protowire.Number = 2
	fSnapEntryHi  protowire.Number = 3

	fSnapEntries   protowire.Number = 1
	fSnapPageCount protowire.Number = 2
)

// SnapshotResponse carries a resolved search path.
type SnapshotResponse struct {
	Snapshot *graft.Snapshot
}

func encodeSnapshotEntry(e graft.SnapshotEntry) []byte {
	return recwire.NewWriter().
		Bytes(fSnapEntryLog, e.Log.Bytes()).
		Uint64(fSnapEntryLo, uint64(e.Lo)).
		Uint64(fSnapEntryHi, uint64(e.Hi)).
		Finish()
}

func decodeSnapshotEntry(buf []byte) (graft.SnapshotEntry, error) {
	var e graft.SnapshotEntry
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fSnapEntryLog:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			lid, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			e.Log = lid
		case fSnapEntryLo:
			v, err := f.Uint64()
			e.Lo = graft.LSN(v)
			return err
		case fSnapEntryHi:
			v, err := f.Uint64()
			e.Hi = graft.LSN(v)
			return err
		}
		return nil
	})
	return e, err
}

func (r *SnapshotResponse) Encode() []byte {
	w := recwire.NewWriter()
	for _, e := range r.Snapshot.Entries {
		w.Message(fSnapEntries, encodeSnapshotEntry(e))
	}
	w.Uint64(fSnapPageCount, uint64(r.Snapshot.PageCount))
	return w.Finish()
}

func DecodeSnapshotResponse(buf []byte) (*SnapshotResponse, error) {
	snap := &graft.Snapshot{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fSnapEntries:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			e, err := decodeSnapshotEntry(b)
			if err != nil {
				return err
			}
			snap.Entries = append(snap.Entries, e)
		case fSnapPageCount:
			v, err := f.Uint64()
			snap.PageCount = graft.PageCount(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{Snapshot: snap}, nil
}

const (
	fCommitReqLog      protowire.Number = 1
	fCommitReqVolume   protowire.Number = 2
	fCommitReqExpected protowire.Number = 3
	fCommitReqCommit   protowire.Number = 4
)

// CommitRequest asks the metastore to advance log by exactly one commit,
// contingent on the log's current head LSN equalling ExpectedHeadLSN
// (spec §4.8 step 1: "compare-and-advance").
type CommitRequest struct {
	Log            graft.LogId
	Volume         graft.VolumeId
	ExpectedHeadLSN graft.LSN
	Commit         *graft.Commit
}

func (r *CommitRequest) Encode() []byte {
	return recwire.NewWriter().
		Bytes(fCommitReqLog, r.Log.Bytes()).
		Bytes(fCommitReqVolume, r.Volume.Bytes()).
		Uint64(fCommitReqExpected, uint64(r.ExpectedHeadLSN)).
		Message(fCommitReqCommit, recwire.EncodeCommit(r.Commit)).
		Finish()
}

func DecodeCommitRequest(buf []byte) (*CommitRequest, error) {
	r := &CommitRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fCommitReqLog:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			lid, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Log = lid
		case fCommitReqVolume:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			vid, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Volume = vid
		case fCommitReqExpected:
			v, err := f.Uint64()
			r.ExpectedHeadLSN = graft.LSN(v)
			return err
		case fCommitReqCommit:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			c, err := recwire.DecodeCommit(b)
			if err != nil {
				return err
			}
			r.Commit = c
		}
		return nil
	})
	return r, err
}

const fCommitRespCommit protowire.Number = 1

// CommitResponse returns the metastore's accepted, hash-finalized commit.
type CommitResponse struct {
	Commit *graft.Commit
}

func (r *CommitResponse) Encode() []byte {
	return recwire.NewWriter().Message(fCommitRespCommit, recwire.EncodeCommit(r.Commit)).Finish()
}

func DecodeCommitResponse(buf []byte) (*CommitResponse, error) {
	resp := &CommitResponse{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num == fCommitRespCommit {
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			c, err := recwire.DecodeCommit(b)
			if err != nil {
				return err
			}
			resp.Commit = c
		}
		return nil
	})
	return resp, err
}

const (
	fOffsetsReqLog protowire.Number = 1
	fOffsetsRespHead protowire.Number = 1
)

// PullOffsetsRequest asks the metastore for a log's current remote head,
// the cheap check client/sync's classifier uses before deciding whether a
// full PullSegments fetch is worth issuing.
type PullOffsetsRequest struct {
	Log graft.LogId
}

func (r *PullOffsetsRequest) Encode() []byte {
	return recwire.NewWriter().Bytes(fOffsetsReqLog, r.Log.Bytes()).Finish()
}

func DecodePullOffsetsRequest(buf []byte) (*PullOffsetsRequest, error) {
	r := &PullOffsetsRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num == fOffsetsReqLog {
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			lid, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Log = lid
		}
		return nil
	})
	return r, err
}

type PullOffsetsResponse struct {
	HeadLSN graft.LSN
}

func (r *PullOffsetsResponse) Encode() []byte {
	return recwire.NewWriter().Uint64(fOffsetsRespHead, uint64(r.HeadLSN)).Finish()
}

func DecodePullOffsetsResponse(buf []byte) (*PullOffsetsResponse, error) {
	r := &PullOffsetsResponse{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num == fOffsetsRespHead {
			v, err := f.Uint64()
			r.HeadLSN = graft.LSN(v)
			return err
		}
		return nil
	})
	return r, err
}

const (
	fSegReqLog  protowire.Number = 1
	fSegReqFrom protowire.Number = 2
	fSegReqTo   protowire.Number = 3

	fSegRespCommit protowire.Number = 1
)

// PullSegmentsRequest asks the metastore for every commit in log over
// [FromLSN, ToLSN] (inclusive), used by FetchLog to backfill a locally
// missing LSN range including the commits that carry SegmentRefs.
type PullSegmentsRequest struct {
	Log             graft.LogId
	FromLSN, ToLSN graft.LSN
}

func (r *PullSegmentsRequest) Encode() []byte {
	return recwire.NewWriter().
		Bytes(fSegReqLog, r.Log.Bytes()).
		Uint64(fSegReqFrom, uint64(r.FromLSN)).
		Uint64(fSegReqTo, uint64(r.ToLSN)).
		Finish()
}

func DecodePullSegmentsRequest(buf []byte) (*PullSegmentsRequest, error) {
	r := &PullSegmentsRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fSegReqLog:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			lid, err := graft.LogIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Log = lid
		case fSegReqFrom:
			v, err := f.Uint64()
			r.FromLSN = graft.LSN(v)
			return err
		case fSegReqTo:
			v, err := f.Uint64()
			r.ToLSN = graft.LSN(v)
			return err
		}
		return nil
	})
	return r, err
}

type PullSegmentsResponse struct {
	Commits []*graft.Commit
}

func (r *PullSegmentsResponse) Encode() []byte {
	w := recwire.NewWriter()
	for _, c := range r.Commits {
		w.Message(fSegRespCommit, recwire.EncodeCommit(c))
	}
	return w.Finish()
}

func DecodePullSegmentsResponse(buf []byte) (*PullSegmentsResponse, error) {
	r := &PullSegmentsResponse{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num == fSegRespCommit {
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			c, err := recwire.DecodeCommit(b)
			if err != nil {
				return err
			}
			r.Commits = append(r.Commits, c)
		}
		return nil
	})
	return r, err
}

const (
	fWritePageIdx  protowire.Number = 1
	fWritePageData protowire.Number = 2

	fWriteReqVolume protowire.Number = 1
	fWriteReqPage   protowire.Number = 2
)

// PageData is one (idx, content) pair, used both for write_pages
// submissions and read_pages results (spec §4.7); pages are always
// exactly graft.PageSize bytes, validated at the pagestore boundary
// before they reach the ingest pipeline or get framed into a response.
type PageData struct {
	Idx  graft.PageIdx
	Data []byte
}

// WritePagesRequest carries a batch of page writes for one Volume. The
// pagestore rejects a request containing the same PageIdx twice (spec
// §4.7's duplicate-pageidx check happens before any page reaches the
// segment-writer task).
type WritePagesRequest struct {
	Volume graft.VolumeId
	Pages  []PageData
}

// AddPage appends one page to the request being built.
func (r *WritePagesRequest) AddPage(idx graft.PageIdx, pg graft.Page) {
	r.Pages = append(r.Pages, PageData{Idx: idx, Data: append([]byte(nil), pg[:]...)})
}

func encodePageWrite(p PageData) []byte {
	return recwire.NewWriter().
		Uint64(fWritePageIdx, uint64(p.Idx)).
		Bytes(fWritePageData, p.Data).
		Finish()
}

func decodePageWrite(buf []byte) (PageData, error) {
	var p PageData
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fWritePageIdx:
			v, err := f.Uint64()
			p.Idx = graft.PageIdx(v)
			return err
		case fWritePageData:
			b, err := f.Bytes()
			p.Data = b
			return err
		}
		return nil
	})
	return p, err
}

func (r *WritePagesRequest) Encode() []byte {
	w := recwire.NewWriter().Bytes(fWriteReqVolume, r.Volume.Bytes())
	for _, p := range r.Pages {
		w.Message(fWriteReqPage, encodePageWrite(p))
	}
	return w.Finish()
}

func DecodeWritePagesRequest(buf []byte) (*WritePagesRequest, error) {
	r := &WritePagesRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fWriteReqVolume:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			vid, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Volume = vid
		case fWriteReqPage:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			p, err := decodePageWrite(b)
			if err != nil {
				return err
			}
			r.Pages = append(r.Pages, p)
		}
		return nil
	})
	return r, err
}

const (
	fWriteAcceptSegment protowire.Number = 1
	fWriteAcceptPages   protowire.Number = 2

	fWriteRespAccept protowire.Number = 1
)

// SegmentAccept reports, for one Segment the write_pages call landed
// pages into, which of the requested PageIdx values it ended up holding
// (spec §4.7: "responds with a list of (SegmentId, accepted pageidxs)").
type SegmentAccept struct {
	Sid     graft.SegmentId
	Pages   *splinter.Splinter
}

func (r *WritePagesResponse) Encode() []byte {
	w := recwire.NewWriter()
	for _, a := range r.Accepted {
		aw := recwire.NewWriter().Bytes(fWriteAcceptSegment, a.Sid.Bytes())
		if a.Pages != nil {
			aw.Bytes(fWriteAcceptPages, a.Pages.Bytes())
		}
		w.Message(fWriteRespAccept, aw.Finish())
	}
	return w.Finish()
}

// WritePagesResponse is write_pages's reply: the set of segments the
// submitted pages landed in, each with the subset of pageidxs it holds.
type WritePagesResponse struct {
	Accepted []SegmentAccept
}

func DecodeWritePagesResponse(buf []byte) (*WritePagesResponse, error) {
	r := &WritePagesResponse{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num != fWriteRespAccept {
			return nil
		}
		b, err := f.Bytes()
		if err != nil {
			return err
		}
		var a SegmentAccept
		err = recwire.Parse(b, func(inner recwire.Field) error {
			switch inner.Num {
			case fWriteAcceptSegment:
				sb, err := inner.Bytes()
				if err != nil {
					return err
				}
				sid, err := graft.SegmentIdFromBytes(sb)
				if err != nil {
					return err
				}
				a.Sid = sid
			case fWriteAcceptPages:
				pb, err := inner.Bytes()
				if err != nil {
					return err
				}
				sp, err := splinter.FromBytes(pb)
				if err != nil {
					return err
				}
				a.Pages = sp
			}
			return nil
		})
		if err != nil {
			return err
		}
		r.Accepted = append(r.Accepted, a)
		return nil
	})
	return r, err
}

const (
	fReadReqVolume protowire.Number = 1
	fReadReqIdx    protowire.Number = 2
)

// ReadPagesRequest asks the pagestore to read a set of pages for Volume
// directly from sealed segment storage, bypassing the client's local
// cache entirely (used by tooling and by recovery paths that don't hold
// a local replica at all).
type ReadPagesRequest struct {
	Volume  graft.VolumeId
	Indices []graft.PageIdx
}

func (r *ReadPagesRequest) Encode() []byte {
	w := recwire.NewWriter().Bytes(fReadReqVolume, r.Volume.Bytes())
	for _, idx := range r.Indices {
		w.Uint64(fReadReqIdx, uint64(idx))
	}
	return w.Finish()
}

func DecodeReadPagesRequest(buf []byte) (*ReadPagesRequest, error) {
	r := &ReadPagesRequest{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		switch f.Num {
		case fReadReqVolume:
			b, err := f.Bytes()
			if err != nil {
				return err
			}
			vid, err := graft.VolumeIdFromBytes(b)
			if err != nil {
				return err
			}
			r.Volume = vid
		case fReadReqIdx:
			v, err := f.Uint64()
			r.Indices = append(r.Indices, graft.PageIdx(v))
			return err
		}
		return nil
	})
	return r, err
}

const (
	fReadRespIdx  protowire.Number = 1
	fReadRespData protowire.Number = 2

	fReadRespPage protowire.Number = 1
)

// ReadPagesResponse carries one page per requested index, in the same
// order as the request's Indices; a page absent from every segment comes
// back as a zeroed graft.Page rather than an error (same empty-page
// semantics as VolumeReader.Read).
type ReadPagesResponse struct {
	Pages []PageData
}

func (r *ReadPagesResponse) Encode() []byte {
	w := recwire.NewWriter()
	for _, p := range r.Pages {
		pw := recwire.NewWriter().
			Uint64(fReadRespIdx, uint64(p.Idx)).
			Bytes(fReadRespData, p.Data).
			Finish()
		w.Message(fReadRespPage, pw)
	}
	return w.Finish()
}

func DecodeReadPagesResponse(buf []byte) (*ReadPagesResponse, error) {
	r := &ReadPagesResponse{}
	err := recwire.Parse(buf, func(f recwire.Field) error {
		if f.Num != fReadRespPage {
			return nil
		}
		b, err := f.Bytes()
		if err != nil {
			return err
		}
		p, err := decodePageWrite(b)
		if err != nil {
			return err
		}
		r.Pages = append(r.Pages, p)
		return nil
	})
	return r, err
}
