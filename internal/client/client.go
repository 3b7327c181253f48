// Package client talks to a kvd server over UDP.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/edwingeng/deque/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout         = errors.New("client: timed out waiting for reply")
	ErrClosed          = errors.New("client: closed")
	ErrPipelineDesync  = errors.New("client: pipeline reply order lost")
	ErrMissingResponse = errors.New("client: server sent no value")
)

const (
	maxReplySize = 64
	// A deadline already in the past fails reads without looking at the
	// socket, so draining waits this long for queued datagrams.
	drainWait = time.Millisecond
)

// Options configures request timeouts and retries. Retries apply only to
// commands that expect a reply (ECHO, READ); NOP and WRITE are sent once.
type Options struct {
	Timeout time.Duration
	Retries int
	Backoff BackoffConfig
}

func DefaultOptions() Options {
	return Options{
		Timeout: 500 * time.Millisecond,
		Retries: 2,
		Backoff: DefaultBackoff(),
	}
}

// Client is one UDP association with a server. Calls are serialized.
type Client struct {
	addr string
	opts Options

	mu   sync.Mutex
	conn *net.UDPConn
	rng  *rand.Rand
}

func Dial(addr string, opts Options) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %q: %w", addr, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{
		addr: addr,
		opts: opts,
		conn: conn,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Nop(ctx context.Context) error {
	_, err := c.Do(ctx, protocol.Nop{})
	return err
}

func (c *Client) Echo(ctx context.Context, v int32) (int32, error) {
	return c.value(ctx, protocol.Echo{Value: v})
}

func (c *Client) Read(ctx context.Context, key uint32) (int32, error) {
	return c.value(ctx, protocol.Read{Key: key})
}

func (c *Client) Write(ctx context.Context, key uint32, v int32) error {
	_, err := c.Do(ctx, protocol.Write{Key: key, Value: v})
	return err
}

func (c *Client) value(ctx context.Context, cmd protocol.Command) (int32, error) {
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if !resp.Present {
		return 0, ErrMissingResponse
	}
	return resp.Value, nil
}

// Do sends cmd and, when it expects a reply, waits for it with retries.
func (c *Client) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	req, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return protocol.NoResponse, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return protocol.NoResponse, ErrClosed
	}

	if !protocol.ExpectsReply(cmd) {
		if _, err := c.conn.Write(req); err != nil {
			return protocol.NoResponse, fmt.Errorf("client: send %s: %w", cmd.Opcode(), err)
		}
		return protocol.NoResponse, nil
	}

	c.discardStale()
	attempts := c.opts.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.opts.Backoff.Delay(attempt-1, c.rng)
			log.Debug().Str("addr", c.addr).Str("op", cmd.Opcode().String()).Int("attempt", attempt).Dur("delay", delay).Msg("client retry")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return protocol.NoResponse, ctx.Err()
			case <-timer.C:
			}
		}
		if _, err := c.conn.Write(req); err != nil {
			return protocol.NoResponse, fmt.Errorf("client: send %s: %w", cmd.Opcode(), err)
		}
		resp, err := c.readReply(ctx, time.Now().Add(c.opts.Timeout))
		if errors.Is(err, ErrTimeout) {
			continue
		}
		return resp, err
	}
	return protocol.NoResponse, fmt.Errorf("%w: %s to %s after %d attempts", ErrTimeout, cmd.Opcode(), c.addr, attempts)
}

// Result is the outcome of one pipelined command.
type Result struct {
	Command  protocol.Command
	Response protocol.Response
	Err      error
}

// Pipeline sends every command before reading any reply, then matches value
// replies to ECHO/READ commands in send order. All replies share one timeout.
// An error reply cannot be attributed to a command, so it fails every command
// still waiting with ErrPipelineDesync. Replies left over from earlier calls
// are discarded before the batch is sent.
func (c *Client) Pipeline(ctx context.Context, cmds []protocol.Command) ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrClosed
	}

	c.discardStale()
	results := make([]Result, len(cmds))
	pending := deque.NewDeque[int]()
	for i, cmd := range cmds {
		results[i].Command = cmd
		req, err := protocol.EncodeCommand(cmd)
		if err != nil {
			results[i].Err = err
			continue
		}
		if _, err := c.conn.Write(req); err != nil {
			return results, fmt.Errorf("client: pipeline send %d: %w", i, err)
		}
		if protocol.ExpectsReply(cmd) {
			pending.PushBack(i)
		}
	}

	deadline := time.Now().Add(c.opts.Timeout)
	for pending.Len() > 0 {
		resp, err := c.readReply(ctx, deadline)
		if err != nil {
			var remote *protocol.RemoteError
			if errors.As(err, &remote) {
				err = fmt.Errorf("%w: %v", ErrPipelineDesync, err)
			}
			for pending.Len() > 0 {
				results[pending.PopFront()].Err = err
			}
			break
		}
		results[pending.PopFront()].Response = resp
	}
	return results, ctx.Err()
}

// discardStale reads and drops datagrams already queued on the socket. They
// answer calls that gave up waiting, or are error replies to commands that
// expect no reply, and would otherwise be taken as the next call's reply.
func (c *Client) discardStale() {
	if err := c.conn.SetReadDeadline(time.Now().Add(drainWait)); err != nil {
		return
	}
	buf := make([]byte, maxReplySize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				log.Debug().Err(err).Str("addr", c.addr).Msg("client drain stopped")
			}
			return
		}
		log.Debug().Str("addr", c.addr).Hex("datagram", buf[:n]).Msg("client discarded stale reply")
	}
}

func (c *Client) readReply(ctx context.Context, deadline time.Time) (protocol.Response, error) {
	ctxBound := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
		ctxBound = true
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.NoResponse, err
	}
	buf := make([]byte, maxReplySize)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.NoResponse, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if ctxBound {
				return protocol.NoResponse, context.DeadlineExceeded
			}
			return protocol.NoResponse, ErrTimeout
		}
		return protocol.NoResponse, fmt.Errorf("client: read: %w", err)
	}
	return protocol.DecodeReply(buf[:n])
}
