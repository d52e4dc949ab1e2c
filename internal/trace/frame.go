package trace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream layout:
//
//	header: "DITL" version(1)
//	frame:  varint time | uvarint count | count x (uvarint len | payload)
//
// Event streams carry one frame per emitted batch of equal-time events.
// Snapshot streams carry one frame per snapshot.
var streamHeader = []byte{'D', 'I', 'T', 'L', 1}

const (
	// maxFrameItems bounds the item count accepted from a frame header.
	maxFrameItems = 1 << 24

	// MaxItemSize bounds one encoded payload.
	MaxItemSize = 8 << 20
)

type frame struct {
	time   int64
	items  [][]byte
	offset int64
}

// frameWriter appends frames to a stream.
type frameWriter struct {
	w       *bufio.Writer
	started bool
	scratch []byte
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: bufio.NewWriter(w)}
}

func (fw *frameWriter) write(t int64, items [][]byte) error {
	if !fw.started {
		if _, err := fw.w.Write(streamHeader); err != nil {
			return err
		}
		fw.started = true
	}
	buf := fw.scratch[:0]
	buf = binary.AppendVarint(buf, t)
	buf = binary.AppendUvarint(buf, uint64(len(items)))
	for _, item := range items {
		if len(item) > MaxItemSize {
			return fmt.Errorf("item too large: %d bytes", len(item))
		}
		buf = binary.AppendUvarint(buf, uint64(len(item)))
		buf = append(buf, item...)
	}
	fw.scratch = buf
	_, err := fw.w.Write(buf)
	return err
}

// finish writes the header of an empty stream and flushes.
func (fw *frameWriter) finish() error {
	if !fw.started {
		if _, err := fw.w.Write(streamHeader); err != nil {
			return err
		}
		fw.started = true
	}
	return fw.w.Flush()
}

// frameReader decodes frames and tracks the byte offset for diagnostics.
type frameReader struct {
	name   string
	r      *bufio.Reader
	offset int64
	header bool
}

func newFrameReader(name string, r io.Reader) *frameReader {
	return &frameReader{name: name, r: bufio.NewReader(r)}
}

func (fr *frameReader) ReadByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err == nil {
		fr.offset++
	}
	return b, err
}

func (fr *frameReader) readHeader() error {
	got := make([]byte, len(streamHeader))
	n, err := io.ReadFull(fr.r, got)
	fr.offset += int64(n)
	if errors.Is(err, io.EOF) {
		// Never written.
		return io.EOF
	}
	if err != nil {
		return corrupt(fr.name, 0, "truncated stream header", err)
	}
	if !bytes.Equal(got, streamHeader) {
		return corrupt(fr.name, 0, fmt.Sprintf("bad stream header %x", got), nil)
	}
	fr.header = true
	return nil
}

// next returns the next frame, or io.EOF at a clean end of stream. Payloads
// of frames rejected by keep are skipped without copying and the returned
// frame has nil items.
func (fr *frameReader) next(keep func(t int64) bool) (frame, error) {
	if !fr.header {
		if err := fr.readHeader(); err != nil {
			return frame{}, err
		}
	}
	start := fr.offset
	t, err := binary.ReadVarint(fr)
	if err != nil {
		if errors.Is(err, io.EOF) && fr.offset == start {
			return frame{}, io.EOF
		}
		return frame{}, corrupt(fr.name, start, "bad frame time", unexpected(err))
	}
	count, err := binary.ReadUvarint(fr)
	if err != nil {
		return frame{}, corrupt(fr.name, start, "bad item count", unexpected(err))
	}
	if count > maxFrameItems {
		return frame{}, corrupt(fr.name, start, fmt.Sprintf("item count %d exceeds limit", count), nil)
	}
	f := frame{time: t, offset: start}
	decode := keep == nil || keep(t)
	if decode {
		f.items = make([][]byte, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		size, err := binary.ReadUvarint(fr)
		if err != nil {
			return frame{}, corrupt(fr.name, start, fmt.Sprintf("bad length of item %d", i), unexpected(err))
		}
		if size > MaxItemSize {
			return frame{}, corrupt(fr.name, start, fmt.Sprintf("item %d too large: %d bytes", i, size), nil)
		}
		if !decode {
			n, err := fr.r.Discard(int(size))
			fr.offset += int64(n)
			if err != nil {
				return frame{}, corrupt(fr.name, start, fmt.Sprintf("truncated item %d", i), unexpected(err))
			}
			continue
		}
		payload := make([]byte, size)
		n, err := io.ReadFull(fr.r, payload)
		fr.offset += int64(n)
		if err != nil {
			return frame{}, corrupt(fr.name, start, fmt.Sprintf("truncated item %d", i), unexpected(err))
		}
		f.items = append(f.items, payload)
	}
	return f, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
