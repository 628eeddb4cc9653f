// Package wire implements the little-endian, length-prefixed chunk
// framing shared by the three broadcast streams (signal, stimulation,
// experiment info), generalizing the teacher's
// pcm.PCM16SampleToBytes/BytesToSample helpers from int16 mono PCM to
// framed float64 matrices and structured records.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteChunk frames payload as a u64-little-endian size followed by
// the payload bytes, and writes it to w.
func WriteChunk(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write chunk size: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write chunk payload: %w", err)
	}
	return nil
}

// ReadChunk reads one framed chunk from r: an 8-byte little-endian
// size followed by that many payload bytes.
func ReadChunk(r *bufio.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(hdr[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read chunk payload: %w", err)
	}
	return payload, nil
}

// byteWriter accumulates a payload in memory before it is handed to
// WriteChunk; every codec's Encode* method builds one of these.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) putF32(v float32) {
	w.putU32(math.Float32bits(v))
}

func (w *byteWriter) putF64(v float64) {
	w.putU64(math.Float64bits(v))
}

func (w *byteWriter) putByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *byteWriter) putBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// putString writes a u32 length prefix followed by the UTF-8 bytes.
func (w *byteWriter) putString(s string) {
	w.putU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// byteReader consumes a payload produced by byteWriter in the exact
// order it was written.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(buf []byte) *byteReader { return &byteReader{buf: buf} }

var errShortPayload = fmt.Errorf("wire: payload too short")

func (r *byteReader) getU16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, errShortPayload
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *byteReader) getU32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errShortPayload
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) getU64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errShortPayload
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) getF32() (float32, error) {
	v, err := r.getU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *byteReader) getF64() (float64, error) {
	v, err := r.getU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *byteReader) getByte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errShortPayload
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) getBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errShortPayload
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) getString() (string, error) {
	n, err := r.getU32()
	if err != nil {
		return "", err
	}
	b, err := r.getBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }
