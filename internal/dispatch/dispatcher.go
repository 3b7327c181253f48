// Package dispatch applies decoded commands to the key-value store.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/danmuck/udpkv/internal/store"
)

var (
	ErrKeyOutOfRange      = errors.New("dispatch: key out of range")
	ErrUnsupportedCommand = errors.New("dispatch: unsupported command")
)

// KeyOutOfRangeError reports a Read or Write beyond the store capacity.
type KeyOutOfRangeError struct {
	Op       protocol.Opcode
	Key      uint32
	Capacity int
}

func (e *KeyOutOfRangeError) Error() string {
	return fmt.Sprintf("dispatch: %s key=%d out of range (capacity=%d)", e.Op, e.Key, e.Capacity)
}

func (e *KeyOutOfRangeError) Is(target error) bool {
	return target == ErrKeyOutOfRange
}

// KeyOutOfRange marks the error for protocol error replies.
func (e *KeyOutOfRangeError) KeyOutOfRange() bool {
	return true
}

// Dispatcher owns one store and serializes every command applied to it.
type Dispatcher struct {
	mu    sync.Mutex
	store *store.Store
}

// New creates a dispatcher over a fresh store of the given capacity.
func New(capacity int) (*Dispatcher, error) {
	s, err := store.New(capacity)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{store: s}, nil
}

// Capacity returns the store capacity N.
func (d *Dispatcher) Capacity() int {
	return d.store.Capacity()
}

// Dispatch applies cmd and returns the optional reply.
func (d *Dispatcher) Dispatch(cmd protocol.Command) (protocol.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch c := cmd.(type) {
	case protocol.Nop:
		return protocol.NoResponse, nil
	case protocol.Echo:
		return protocol.ValueResponse(c.Value), nil
	case protocol.Read:
		if !d.store.Contains(c.Key) {
			return protocol.NoResponse, d.outOfRange(protocol.OpRead, c.Key)
		}
		v, err := d.store.Get(c.Key)
		if err != nil {
			return protocol.NoResponse, err
		}
		return protocol.ValueResponse(v), nil
	case protocol.Write:
		if !d.store.Contains(c.Key) {
			return protocol.NoResponse, d.outOfRange(protocol.OpWrite, c.Key)
		}
		if err := d.store.Set(c.Key, c.Value); err != nil {
			return protocol.NoResponse, err
		}
		return protocol.NoResponse, nil
	default:
		return protocol.NoResponse, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}
}

// Stats is a point-in-time view of store occupancy.
type Stats struct {
	Capacity int `json:"capacity"`
	Written  int `json:"written"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Capacity: d.store.Capacity(), Written: d.store.Written()}
}

// Snapshot copies up to limit entries starting at offset.
func (d *Dispatcher) Snapshot(offset, limit int) []store.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Range(offset, limit)
}

func (d *Dispatcher) outOfRange(op protocol.Opcode, key uint32) error {
	return &KeyOutOfRangeError{Op: op, Key: key, Capacity: d.store.Capacity()}
}
