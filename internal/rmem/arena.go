package rmem

import (
	"sync"

	"github.com/pkg/errors"
)

// Arena carves fixed sub-regions out of one large backing region. The encoder
// wants its command lists and stream sinks physically contiguous and
// long-lived; the arena provides both without per-allocation driver round
// trips. Carved regions are never individually freed, only the whole arena.
type Arena struct {
	mu      sync.Mutex
	alloc   *Allocator
	backing *Region
	off     int
}

func NewArena(a *Allocator, size int, name string) (*Arena, error) {
	backing, err := a.Alloc(size, name)
	if err != nil {
		return nil, err
	}
	return &Arena{alloc: a, backing: backing}, nil
}

// Carve returns a size-byte region aligned to align bytes within the backing
// store. align <= 1 means no alignment requirement.
func (ar *Arena) Carve(size, align int, name string) (*Region, error) {
	if size <= 0 {
		return nil, errors.Errorf("Invalid carve size %d for %q", size, name)
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	off := ar.off
	if align > 1 {
		off = (off + align - 1) / align * align
	}
	if off+size > len(ar.backing.Data) {
		return nil, errors.Errorf("Arena %q exhausted: %d of %d bytes in use, %d more requested",
			ar.backing.Name, ar.off, len(ar.backing.Data), size)
	}
	ar.off = off + size

	return &Region{
		Name: name,
		Data: ar.backing.Data[off : off+size : off+size],
		Phys: ar.backing.Phys + uint64(off),
		prov: Carved,
	}, nil
}

// Remaining returns the bytes not yet carved.
func (ar *Arena) Remaining() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.backing.Data) - ar.off
}

// Close releases the backing region. Carved regions become invalid.
func (ar *Arena) Close() error {
	return ar.alloc.Free(ar.backing)
}
