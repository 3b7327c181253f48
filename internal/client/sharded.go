package client

import (
	"context"
	"errors"

	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/dgryski/go-jump"
)

var ErrNoShards = errors.New("client: no shards")

// Sharded spreads keys over several servers with jump consistent hashing.
// Commands without a key go to the first shard.
type Sharded struct {
	clients []*Client
}

func NewSharded(clients []*Client) (*Sharded, error) {
	if len(clients) == 0 {
		return nil, ErrNoShards
	}
	return &Sharded{clients: clients}, nil
}

// DialSharded dials every address; on failure already-open clients are closed.
func DialSharded(addrs []string, opts Options) (*Sharded, error) {
	clients := make([]*Client, 0, len(addrs))
	for _, addr := range addrs {
		c, err := Dial(addr, opts)
		if err != nil {
			for _, open := range clients {
				_ = open.Close()
			}
			return nil, err
		}
		clients = append(clients, c)
	}
	return NewSharded(clients)
}

// Route returns the client that owns key.
func (s *Sharded) Route(key uint32) *Client {
	i := jump.Hash(uint64(key), len(s.clients))
	return s.clients[i]
}

func (s *Sharded) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	switch c := cmd.(type) {
	case protocol.Read:
		return s.Route(c.Key).Do(ctx, cmd)
	case protocol.Write:
		return s.Route(c.Key).Do(ctx, cmd)
	default:
		return s.clients[0].Do(ctx, cmd)
	}
}

func (s *Sharded) Close() error {
	var errs []error
	for _, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
