package relay

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// Pickle protocol 2 opcodes used by EncodeBatch. Named after the opcodes
// in CPython's pickle.py; only the subset a list of (bytes, (int, float))
// tuples ever touches is implemented.
const (
	opProto          = 0x80
	opStop           = '.'
	opEmptyList      = ']'
	opMark           = '('
	opAppend         = 'a'
	opAppends        = 'e'
	opShortBinString = 'U'
	opBinString      = 'T'
	opBinInt         = 'J'
	opBinInt1        = 'K'
	opBinInt2        = 'M'
	opLong1          = 0x8a
	opBinFloat       = 'G'
	opTuple2         = 0x86
	opBinPut         = 'q'
	opLongBinPut     = 'r'
)

// batchAppendSize mirrors cPickle's BATCHSIZE: a list longer than this is
// built as several MARK...APPENDS groups rather than one.
const batchAppendSize = 1000

// picklePickler is a from-scratch Pickle protocol 2 encoder, grounded on
// spec §9's "serialization compatibility" note: the wire payload must be
// bit-exact with CPython's `pickle.dumps(batch, protocol=2)` for a batch
// shaped `[(metric, (timestamp, value)), ...]`, since no Go library in the
// retrieval pack speaks this dialect and substituting a different wire
// format would mean also replacing the receiver, which is out of scope.
type picklePickler struct {
	buf  bytes.Buffer
	memo int
}

func (p *picklePickler) put() {
	if p.memo < 256 {
		p.buf.WriteByte(opBinPut)
		p.buf.WriteByte(byte(p.memo))
	} else {
		p.buf.WriteByte(opLongBinPut)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(p.memo))
		p.buf.Write(b[:])
	}
	p.memo++
}

func (p *picklePickler) writeString(s string) {
	n := len(s)
	if n < 256 {
		p.buf.WriteByte(opShortBinString)
		p.buf.WriteByte(byte(n))
	} else {
		p.buf.WriteByte(opBinString)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		p.buf.Write(b[:])
	}
	p.buf.WriteString(s)
	p.put()
}

func (p *picklePickler) writeInt(v int64) {
	switch {
	case v >= 0 && v <= 0xff:
		p.buf.WriteByte(opBinInt1)
		p.buf.WriteByte(byte(v))
	case v >= 0 && v <= 0xffff:
		p.buf.WriteByte(opBinInt2)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		p.buf.Write(b[:])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		p.buf.WriteByte(opBinInt)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		p.buf.Write(b[:])
	default:
		p.writeLong(v)
	}
	// Ints are immutable/atomic and cPickle never memoizes them.
}

// writeLong encodes v as a minimal little-endian two's-complement LONG1,
// for timestamps outside the int32 range.
func (p *picklePickler) writeLong(v int64) {
	var b []byte
	for {
		b = append(b, byte(v))
		v >>= 8 // arithmetic shift: Go right-shifts signed ints with sign extension
		last := b[len(b)-1]
		if (v == 0 && last&0x80 == 0) || (v == -1 && last&0x80 != 0) {
			break
		}
	}
	p.buf.WriteByte(opLong1)
	p.buf.WriteByte(byte(len(b)))
	p.buf.Write(b)
}

func (p *picklePickler) writeFloat(v float64) {
	p.buf.WriteByte(opBinFloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	p.buf.Write(b[:])
	// Floats are atomic too; no memo put.
}

func (p *picklePickler) writeTuple2() {
	p.buf.WriteByte(opTuple2)
	p.put()
}

// EncodeBatch serializes entries as `[(metric, (timestamp, value)), ...]`
// in Pickle protocol 2, the wire payload spec §4.1/§6 requires.
func EncodeBatch(entries []Entry) ([]byte, error) {
	p := &picklePickler{}
	p.buf.WriteByte(opProto)
	p.buf.WriteByte(2)
	p.buf.WriteByte(opEmptyList)
	p.put()

	for start := 0; start < len(entries); start += batchAppendSize {
		end := start + batchAppendSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]
		if len(chunk) == 1 {
			p.writeItem(chunk[0])
			p.buf.WriteByte(opAppend)
			continue
		}
		if len(chunk) == 0 {
			continue
		}
		p.buf.WriteByte(opMark)
		for _, e := range chunk {
			p.writeItem(e)
		}
		p.buf.WriteByte(opAppends)
	}

	p.buf.WriteByte(opStop)
	return p.buf.Bytes(), nil
}

func (p *picklePickler) writeItem(e Entry) {
	p.writeString(e.Metric)
	p.writeInt(e.Point.Timestamp)
	p.writeFloat(e.Point.Value)
	p.writeTuple2() // (timestamp, value)
	p.writeTuple2() // (metric, (timestamp, value))
}

// WriteFrame writes the 4-byte big-endian length prefix and payload as one
// Write call, so a frame is never split across transport writes — spec
// §4.1's "no partial frames". Grounded on frame.go's BuildFrame, minus the
// teacher's leading message-type byte: the Carbon wire has none.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}
