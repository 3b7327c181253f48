// Package server runs the UDP request loop in front of a Dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/udpkv/internal/dispatch"
	"github.com/danmuck/udpkv/internal/observability"
	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/edwingeng/deque/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotListening = errors.New("server: not listening")

const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// Config configures the UDP runtime.
type Config struct {
	Addr         string
	MaxDatagram  int
	ErrorReplies bool
	RecentDrops  int
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":31337",
		MaxDatagram:  1024,
		ErrorReplies: false,
		RecentDrops:  64,
	}
}

// Drop records one datagram that was not answered normally.
type Drop struct {
	At     time.Time `json:"at"`
	Remote string    `json:"remote"`
	Size   int       `json:"size"`
	Reason string    `json:"reason"`
	Error  string    `json:"error"`
}

// Stats are cumulative datagram counters since start.
type Stats struct {
	Received  uint64 `json:"received"`
	Replied   uint64 `json:"replied"`
	Silent    uint64 `json:"silent"`
	Dropped   uint64 `json:"dropped"`
	Recovered uint64 `json:"recovered"`
	Uptime    string `json:"uptime"`
}

// Server receives datagrams and answers them one at a time.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
	started    time.Time

	mu   sync.Mutex
	conn *net.UDPConn

	dropsMu sync.Mutex
	drops   *deque.Deque[Drop]

	// handle is Handle outside of tests.
	handle func([]byte) ([]byte, error)

	received  atomic.Uint64
	replied   atomic.Uint64
	silent    atomic.Uint64
	dropped   atomic.Uint64
	recovered atomic.Uint64
}

func New(cfg Config, d *dispatch.Dispatcher) *Server {
	def := DefaultConfig()
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = def.MaxDatagram
	}
	if cfg.RecentDrops < 0 {
		cfg.RecentDrops = 0
	}
	observability.RegisterMetrics()
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     log.With().Str("component", "udp").Logger(),
		started:    time.Now(),
		drops:      deque.NewDeque[Drop](),
	}
	s.handle = s.Handle
	return s
}

// Dispatcher returns the dispatcher shared with the admin surface.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Listen binds the UDP socket. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.cfg.Addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("server: listen %q: unexpected %T", s.cfg.Addr, pc)
	}
	s.conn = conn
	s.logger.Info().Str("addr", conn.LocalAddr().String()).Int("capacity", s.dispatcher.Capacity()).Msg("listening")
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close releases the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Serve runs the receive loop until ctx is cancelled. A cancelled context is a
// clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotListening
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stopped:
		}
	}()

	buf := make([]byte, s.cfg.MaxDatagram)
	var backoff time.Duration
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info().Msg("shutdown")
				return nil
			}
			backoff = nextReadBackoff(backoff)
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("read failed")
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("shutdown")
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		s.serveDatagram(conn, buf[:n], remote)
	}
}

// Handle decodes and dispatches one datagram payload and returns the reply
// bytes to send, if any. A non-nil error means the datagram was dropped; the
// reply is then an error reply when enabled, nil otherwise.
func (s *Server) Handle(payload []byte) ([]byte, error) {
	cmd, err := protocol.Decode(payload)
	if err != nil {
		return s.errorReply(err), err
	}
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(cmd)
	observability.RecordDispatch(cmd.Opcode().String(), time.Since(start), err == nil)
	if err != nil {
		return s.errorReply(err), err
	}
	return protocol.Encode(resp), nil
}

func (s *Server) serveDatagram(conn *net.UDPConn, payload []byte, remote *net.UDPAddr) {
	s.received.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.recovered.Add(1)
			s.drop(remote, len(payload), "panic", fmt.Errorf("server: recovered: %v", r))
			s.logger.Error().Interface("panic", r).Str("remote", remote.String()).Msg("datagram handling panicked")
		}
	}()

	reply, err := s.handle(payload)
	if err != nil {
		reason := protocol.ErrorCodeOf(err).String()
		s.drop(remote, len(payload), reason, err)
		event := s.logger.Debug()
		if errors.Is(err, dispatch.ErrKeyOutOfRange) {
			event = s.logger.Warn()
		}
		event.Err(err).Str("remote", remote.String()).Int("size", len(payload)).Str("reason", reason).Msg("datagram dropped")
	}
	if len(reply) == 0 {
		if err == nil {
			s.silent.Add(1)
			observability.RecordDatagram(observability.ResultSilent)
		}
		return
	}
	if _, werr := conn.WriteToUDP(reply, remote); werr != nil {
		s.logger.Warn().Err(werr).Str("remote", remote.String()).Msg("reply failed")
		return
	}
	if err == nil {
		s.replied.Add(1)
		observability.RecordDatagram(observability.ResultReplied)
	}
}

// nextReadBackoff doubles the wait after each consecutive read error.
func nextReadBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minReadBackoff
	}
	if next := prev * 2; next < maxReadBackoff {
		return next
	}
	return maxReadBackoff
}

func (s *Server) errorReply(err error) []byte {
	if !s.cfg.ErrorReplies {
		return nil
	}
	return protocol.EncodeError(err)
}

func (s *Server) drop(remote *net.UDPAddr, size int, reason string, err error) {
	s.dropped.Add(1)
	observability.RecordDatagram(observability.ResultDropped)
	observability.RecordDrop(reason)
	if s.cfg.RecentDrops == 0 {
		return
	}
	rec := Drop{At: time.Now(), Size: size, Reason: reason}
	if remote != nil {
		rec.Remote = remote.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.dropsMu.Lock()
	defer s.dropsMu.Unlock()
	s.drops.PushBack(rec)
	for s.drops.Len() > s.cfg.RecentDrops {
		s.drops.PopFront()
	}
}

// RecentDrops returns up to limit of the newest drops, oldest first.
func (s *Server) RecentDrops(limit int) []Drop {
	s.dropsMu.Lock()
	defer s.dropsMu.Unlock()
	n := s.drops.Len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Drop, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, s.drops.Peek(i))
	}
	return out
}

func (s *Server) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Replied:   s.replied.Load(),
		Silent:    s.silent.Load(),
		Dropped:   s.dropped.Load(),
		Recovered: s.recovered.Load(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
}
