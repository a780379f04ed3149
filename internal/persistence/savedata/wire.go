package savedata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var le = binary.LittleEndian

// writer records the first error and ignores the rest.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u16(v uint16) { w.buf.Write(le.AppendUint16(nil, v)) }
func (w *writer) u32(v uint32) { w.buf.Write(le.AppendUint32(nil, v)) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	if len(s) > 0xFFFF {
		if w.err == nil {
			w.err = fmt.Errorf("string of %d bytes exceeds u16 length", len(s))
		}
		return
	}
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}

// section writes a length-prefixed block produced by fill.
func (w *writer) section(fill func(*writer)) {
	var inner writer
	fill(&inner)
	if inner.err != nil && w.err == nil {
		w.err = inner.err
	}
	w.i32(int32(inner.buf.Len()))
	w.buf.Write(inner.buf.Bytes())
}

type reader struct {
	data []byte
	off  int
	err  error
}

var errShort = errors.New("unexpected end of data")

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d", errShort, n, r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) bool() bool { return r.u8() != 0 }

func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// count reads an element count and rejects values that cannot fit in the
// remaining bytes, given the minimum encoded size of one element.
func (r *reader) count(minSize int) int {
	n := int(r.i32())
	if r.err != nil {
		return 0
	}
	if n < 0 || (minSize > 0 && n > (len(r.data)-r.off)/minSize) {
		r.err = fmt.Errorf("bad element count %d at offset %d", n, r.off-4)
		return 0
	}
	return n
}

// section returns a reader over the next length-prefixed block.
func (r *reader) section() *reader {
	n := int(r.i32())
	if r.err != nil {
		return &reader{err: r.err}
	}
	b := r.take(n)
	if b == nil {
		return &reader{err: r.err}
	}
	return &reader{data: b}
}

func (r *reader) trailing() int { return len(r.data) - r.off }
