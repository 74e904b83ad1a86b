package carbon

import (
	"encoding/binary"
	"math"
)

const (
	// pickleBufferSize is the size at which a pickled batch is written out early.
	pickleBufferSize = 4096
	// pickleItemSize bounds the encoded size of one item excluding its key, plus
	// the list terminator.
	pickleItemSize = 40
)

// pickler builds the payload of the carbon pickle protocol: a 4 byte big endian
// length followed by a protocol 2 pickle of a list of (name, (timestamp, value))
// tuples.
type pickler struct {
	buf   []byte
	memo  uint32
	items int
}

func (p *pickler) reset() {
	// length placeholder, EMPTY_LIST, BINPUT 0, MARK
	p.buf = append(p.buf[:0], 0, 0, 0, 0, ']', 'q', 0, '(')
	p.memo = 1
	p.items = 0
}

func (p *pickler) put() {
	if p.memo < 256 {
		p.buf = append(p.buf, 'q', byte(p.memo))
	} else {
		p.buf = append(p.buf, 'r')
		p.buf = binary.LittleEndian.AppendUint32(p.buf, p.memo)
	}
	p.memo++
}

func (p *pickler) push(name string, ts int64, value float64) {
	p.buf = append(p.buf, '(')
	if len(name) < 256 {
		p.buf = append(p.buf, 'U', byte(len(name)))
	} else {
		p.buf = append(p.buf, 'T')
		p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(name)))
	}
	p.buf = append(p.buf, name...)
	p.put()

	p.buf = append(p.buf, '(', 'J')
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(int32(ts)))
	p.buf = append(p.buf, 'G')
	p.buf = binary.BigEndian.AppendUint64(p.buf, math.Float64bits(value))
	p.buf = append(p.buf, 't')
	p.put()
	p.buf = append(p.buf, 't')
	p.put()
	p.items++
}

// finish terminates the list and fills in the length prefix.
func (p *pickler) finish() []byte {
	p.buf = append(p.buf, 'e', '.')
	binary.BigEndian.PutUint32(p.buf, uint32(len(p.buf)-4))
	return p.buf
}
