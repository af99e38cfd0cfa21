package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Faultbox/midgard-vk/pkg/encoding"
)

// Writer accumulates files and serializes them as a GRF 0x200 archive.
type Writer struct {
	names []string
	data  map[string][]byte
}

// NewWriter returns an empty archive writer.
func NewWriter() *Writer {
	return &Writer{data: make(map[string][]byte)}
}

// Add stages a file. Adding the same path twice replaces the contents.
func (w *Writer) Add(path string, data []byte) {
	if _, ok := w.data[path]; !ok {
		w.names = append(w.names, path)
	}
	w.data[path] = data
}

// WriteTo writes the archive to out. Entries are stored compressed unless
// zlib does not make them smaller.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	var body, table bytes.Buffer

	for _, name := range w.names {
		content := w.data[name]

		stored, err := deflate(content)
		if err != nil {
			return 0, fmt.Errorf("compressing %s: %w", name, err)
		}
		if len(stored) >= len(content) {
			stored = content
		}

		aligned := (len(stored) + 7) &^ 7
		offset := body.Len()
		body.Write(stored)
		body.Write(make([]byte, aligned-len(stored)))

		table.Write(encoding.UTF8ToEUCKR(toBackslash(name)))
		table.WriteByte(0)
		var rec [17]byte
		binary.LittleEndian.PutUint32(rec[0:], uint32(len(stored)))
		binary.LittleEndian.PutUint32(rec[4:], uint32(aligned))
		binary.LittleEndian.PutUint32(rec[8:], uint32(len(content)))
		rec[12] = flagFile
		binary.LittleEndian.PutUint32(rec[13:], uint32(offset))
		table.Write(rec[:])
	}

	compressedTable, err := deflate(table.Bytes())
	if err != nil {
		return 0, fmt.Errorf("compressing file table: %w", err)
	}

	header := Header{
		TableOffset: uint32(body.Len()),
		FileCount:   uint32(len(w.names)) + 7,
		Version:     version200,
	}
	copy(header.Magic[:], grfMagic)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return 0, err
	}
	buf.Write(body.Bytes())
	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:], uint32(len(compressedTable)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(table.Len()))
	buf.Write(sizes[:])
	buf.Write(compressedTable)

	return buf.WriteTo(out)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toBackslash(path string) string {
	b := []byte(path)
	for i, c := range b {
		if c == '/' {
			b[i] = '\\'
		}
	}
	return string(b)
}
