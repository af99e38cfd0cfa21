package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Faultbox/midgard-vk/pkg/encoding"
)

// reader is a little-endian reader that remembers the first error. Short
// reads report truncated; out-of-range counts report invalid.
type reader struct {
	r         *bytes.Reader
	err       error
	truncated error
	invalid   error
}

func newReader(data []byte, truncated, invalid error) *reader {
	return &reader{r: bytes.NewReader(data), truncated: truncated, invalid: invalid}
}

func (r *reader) read(v any) {
	if r.err != nil {
		return
	}
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		r.err = r.truncated
	}
}

func (r *reader) skip(n int64) {
	if r.err != nil {
		return
	}
	if int64(r.r.Len()) < n {
		r.err = r.truncated
		return
	}
	_, _ = r.r.Seek(n, io.SeekCurrent)
}

// str reads a NUL padded EUC-KR field of n bytes.
func (r *reader) str(n int) string {
	buf := make([]byte, n)
	r.read(buf)
	if r.err != nil {
		return ""
	}
	return encoding.FixedStringToUTF8(buf)
}

// count reads an int32 element count and checks it against limit.
func (r *reader) count(what string, limit int32) int {
	var n int32
	r.read(&n)
	if r.err == nil && (n < 0 || n > limit) {
		r.err = fmt.Errorf("%w: %d %s", r.invalid, n, what)
	}
	if r.err != nil {
		return 0
	}
	return int(n)
}
