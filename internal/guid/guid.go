// Package guid provides injectable identifier sources. The zero ID is never issued.
package guid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// ID is an opaque identifier.
type ID uint64

// Invalid is the zero identifier. No generator returns it.
const Invalid ID = 0

// Valid reports whether id was issued by a generator.
func (id ID) Valid() bool { return id != Invalid }

func (id ID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// Generator issues identifiers.
type Generator interface {
	Next() ID
}

// Sequential issues 1, 2, 3, ... It is safe for concurrent use.
type Sequential struct {
	last atomic.Uint64
}

// NewSequential returns a generator whose first ID is start+1.
func NewSequential(start uint64) *Sequential {
	s := &Sequential{}
	s.last.Store(start)
	return s
}

// Next implements Generator.
func (s *Sequential) Next() ID {
	for {
		if v := s.last.Add(1); v != 0 {
			return ID(v)
		}
	}
}

// Random draws identifiers from crypto/rand.
type Random struct{}

// Next implements Generator.
func (Random) Next() ID {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("guid: crypto/rand failed: %v", err))
		}
		if v := binary.LittleEndian.Uint64(b[:]); v != 0 {
			return ID(v)
		}
	}
}

// Fixed replays a scripted sequence, then falls back to Sequential numbering
// above the largest scripted value. Intended for tests.
type Fixed struct {
	ids  []ID
	seq  *Sequential
	used int
}

// NewFixed returns a generator that yields ids in order.
func NewFixed(ids ...ID) *Fixed {
	var maxID uint64
	for _, id := range ids {
		maxID = max(maxID, uint64(id))
	}
	return &Fixed{ids: ids, seq: NewSequential(maxID)}
}

// Next implements Generator.
func (f *Fixed) Next() ID {
	for f.used < len(f.ids) {
		id := f.ids[f.used]
		f.used++
		if id.Valid() {
			return id
		}
	}
	return f.seq.Next()
}
