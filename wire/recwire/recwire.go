// Package recwire encodes Graft's core records (Volume, Commit,
// SegmentRef, LogCheckpoints) as protobuf-wire-compatible bytes, built
// directly on google.golang.org/protobuf/encoding/protowire's tag/varint/
// length-delimited primitives. There is no .proto schema and no protoc
// step: field numbers are assigned here and readers skip unknown ones,
// which is exactly protobuf's own forward-compatibility rule.
package recwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer appends fields in the order its methods are called. The wire
// format does not require increasing field numbers, and the encoders in
// this package do not always follow it (EncodeCommit writes field 5
// before field 4).
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

// Finish returns the encoded bytes accumulated so far.
func (w *Writer) Finish() []byte { return w.buf }

func (w *Writer) Uint64(num protowire.Number, v uint64) *Writer {
	if v == 0 {
		return w
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
	return w
}

func (w *Writer) Bytes(num protowire.Number, v []byte) *Writer {
	if len(v) == 0 {
		return w
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
	return w
}

func (w *Writer) String(num protowire.Number, v string) *Writer {
	if v == "" {
		return w
	}
	return w.Bytes(num, []byte(v))
}

// Message nests an already-encoded sub-message's bytes as a length-delimited
// field.
func (w *Writer) Message(num protowire.Number, v []byte) *Writer {
	return w.Bytes(num, v)
}

// Field is one decoded (number, wire value) pair handed to a Reader's
// visitor callback.
type Field struct {
	Num  protowire.Number
	Type protowire.Type
	raw  []byte
}

func (f Field) Uint64() (uint64, error) {
	v, n := protowire.ConsumeVarint(f.raw)
	if n < 0 {
		return 0, fmt.Errorf("recwire: bad varint for field %d", f.Num)
	}
	return v, nil
}

func (f Field) Bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(f.raw)
	if n < 0 {
		return nil, fmt.Errorf("recwire: bad bytes for field %d", f.Num)
	}
	return v, nil
}

func (f Field) String() (string, error) {
	b, err := f.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse walks buf field by field, invoking visit for each. Unknown field
// numbers are left to the caller to ignore (the forward-compatibility
// contract): Parse itself never errors on an unrecognized number.
func Parse(buf []byte, visit func(Field) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("recwire: bad tag")
		}
		buf = buf[n:]

		_, vn := protowire.ConsumeFieldValue(num, typ, buf)
		if vn < 0 {
			return fmt.Errorf("recwire: bad value for field %d", num)
		}
		field := Field{Num: num, Type: typ, raw: buf[:vn]}
		if err := visit(field); err != nil {
			return err
		}
		buf = buf[vn:]
	}
	return nil
}
