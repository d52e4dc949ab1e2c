package graphs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errTruncated = errors.New("truncated payload")

// decoder reads varints from a payload.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) int() (int, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	d.pos += n
	return int(v), nil
}

func (d *decoder) ints() ([]int, error) {
	count, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return nil, errTruncated
	}
	d.pos += n
	if count > uint64(len(d.data)-d.pos) {
		return nil, fmt.Errorf("member count %d exceeds payload", count)
	}
	out := make([]int, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := d.int()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) done() error {
	if d.pos != len(d.data) {
		return fmt.Errorf("%d trailing bytes", len(d.data)-d.pos)
	}
	return nil
}

func appendInts(buf []byte, vs []int) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(vs)))
	for _, v := range vs {
		buf = binary.AppendVarint(buf, int64(v))
	}
	return buf
}
