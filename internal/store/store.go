package store

import (
	"errors"
	"fmt"
)

// MaxCapacity bounds the number of cells a Store may allocate.
const MaxCapacity = 1 << 24

var (
	ErrInvalidCapacity = errors.New("store: invalid capacity")
	ErrOutOfRange      = errors.New("store: key out of range")
)

// Store is a fixed-capacity array of int32 cells addressed by key in [0, Capacity).
// It is not safe for concurrent use; its owner serializes access.
type Store struct {
	cells   []int32
	written []bool
	count   int
}

// New allocates a zeroed store with room for capacity keys.
func New(capacity int) (*Store, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidCapacity, capacity, MaxCapacity)
	}
	return &Store{
		cells:   make([]int32, capacity),
		written: make([]bool, capacity),
	}, nil
}

// Capacity returns the number of addressable keys.
func (s *Store) Capacity() int {
	return len(s.cells)
}

// Contains reports whether key is addressable.
func (s *Store) Contains(key uint32) bool {
	return uint64(key) < uint64(len(s.cells))
}

// Get returns the value at key, or 0 if it was never written.
func (s *Store) Get(key uint32) (int32, error) {
	if !s.Contains(key) {
		return 0, fmt.Errorf("%w: key=%d capacity=%d", ErrOutOfRange, key, len(s.cells))
	}
	return s.cells[key], nil
}

// Set stores value at key. Out-of-range keys leave the store unchanged.
func (s *Store) Set(key uint32, value int32) error {
	if !s.Contains(key) {
		return fmt.Errorf("%w: key=%d capacity=%d", ErrOutOfRange, key, len(s.cells))
	}
	s.cells[key] = value
	if !s.written[key] {
		s.written[key] = true
		s.count++
	}
	return nil
}

// Written returns how many distinct keys have been set at least once.
func (s *Store) Written() int {
	return s.count
}

// Entry is one key and its current value.
type Entry struct {
	Key     uint32 `json:"key"`
	Value   int32  `json:"value"`
	Written bool   `json:"written"`
}

// Range copies up to limit entries starting at offset. Offsets past the end yield nil.
func (s *Store) Range(offset, limit int) []Entry {
	if offset < 0 || offset >= len(s.cells) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(s.cells) || end < offset {
		end = len(s.cells)
	}
	out := make([]Entry, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, Entry{Key: uint32(i), Value: s.cells[i], Written: s.written[i]})
	}
	return out
}
