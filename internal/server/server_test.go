package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/udpkv/internal/dispatch"
	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/danmuck/udpkv/internal/testutil/testlog"
)

const testCapacity = 8

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	d, err := dispatch.New(testCapacity)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return New(cfg, d)
}

func TestHandleScenarios(t *testing.T) {
	testlog.Start(t)
	s := newServer(t, DefaultConfig())

	reply, err := s.Handle([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x2A, 0, 0, 0})
	if err != nil || !bytes.Equal(reply, []byte{0x2A, 0, 0, 0}) {
		t.Fatalf("echo: reply=% X err=%v", reply, err)
	}
	reply, err = s.Handle([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x03, 0x05, 0, 0, 0, 0x07, 0, 0, 0})
	if err != nil || reply != nil {
		t.Fatalf("write: reply=% X err=%v", reply, err)
	}
	reply, err = s.Handle([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x02, 0x05, 0, 0, 0})
	if err != nil || !bytes.Equal(reply, []byte{0x07, 0, 0, 0}) {
		t.Fatalf("read: reply=% X err=%v", reply, err)
	}
	reply, err = s.Handle([]byte{0, 0, 0, 0, 0x01, 0x2A, 0, 0, 0})
	if !errors.Is(err, protocol.ErrBadMagic) || reply != nil {
		t.Fatalf("bad magic: reply=% X err=%v", reply, err)
	}
	reply, err = s.Handle([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x02, testCapacity, 0, 0, 0})
	if !errors.Is(err, dispatch.ErrKeyOutOfRange) || reply != nil {
		t.Fatalf("out of range: reply=% X err=%v", reply, err)
	}
}

func TestHandleErrorReplies(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ErrorReplies = true
	s := newServer(t, cfg)

	reply, err := s.Handle([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x03, testCapacity, 0, 0, 0, 1, 0, 0, 0})
	if !errors.Is(err, dispatch.ErrKeyOutOfRange) {
		t.Fatalf("expected ErrKeyOutOfRange, got %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, byte(protocol.CodeKeyOutOfRange)}
	if !bytes.Equal(reply, want) {
		t.Fatalf("unexpected error reply: % X", reply)
	}

	reply, _ = s.Handle([]byte{0xFF})
	if !bytes.Equal(reply, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, byte(protocol.CodeTooShort)}) {
		t.Fatalf("unexpected too-short reply: % X", reply)
	}
}

func TestRecentDropsBounded(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.RecentDrops = 3
	s := newServer(t, cfg)

	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	for i := 0; i < 5; i++ {
		s.drop(remote, i, "bad_magic", protocol.ErrBadMagic)
	}
	drops := s.RecentDrops(0)
	if len(drops) != 3 {
		t.Fatalf("expected 3 drops, got %d", len(drops))
	}
	if drops[0].Size != 2 || drops[2].Size != 4 {
		t.Fatalf("expected newest drops oldest-first: %+v", drops)
	}
	if last := s.RecentDrops(1); len(last) != 1 || last[0].Size != 4 {
		t.Fatalf("unexpected limited drops: %+v", last)
	}
	if s.Stats().Dropped != 5 {
		t.Fatalf("unexpected dropped count: %d", s.Stats().Dropped)
	}
}

func TestServeLoopback(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := newServer(t, cfg)
	if err := s.Listen(); err != nil {
		t.Skipf("skipping loopback test in restricted environment: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()

	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	exchange := func(req []byte) ([]byte, error) {
		if _, err := conn.Write(req); err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}

	got, err := exchange([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x2A, 0, 0, 0})
	if err != nil || !bytes.Equal(got, []byte{0x2A, 0, 0, 0}) {
		t.Fatalf("echo: got=% X err=%v", got, err)
	}

	if _, err := conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x03, 0x05, 0, 0, 0, 0x07, 0, 0, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = exchange([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x02, 0x05, 0, 0, 0})
	if err != nil || !bytes.Equal(got, []byte{0x07, 0, 0, 0}) {
		t.Fatalf("read: got=% X err=%v", got, err)
	}

	// bad magic is dropped without a reply
	if _, err := exchange([]byte{0, 0, 0, 0, 0x01, 0x2A, 0, 0, 0}); err == nil {
		t.Fatalf("expected no reply for bad magic")
	}

	// the loop survives malformed input
	got, err = exchange([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x01, 0, 0, 0})
	if err != nil || !bytes.Equal(got, []byte{0x01, 0, 0, 0}) {
		t.Fatalf("echo after drop: got=% X err=%v", got, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop after cancel")
	}

	st := s.Stats()
	if st.Received != 5 || st.Replied != 3 || st.Silent != 1 || st.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if drops := s.RecentDrops(0); len(drops) != 1 || drops[0].Reason != "bad_magic" {
		t.Fatalf("unexpected drops: %+v", drops)
	}
}

func TestServeRecoversFromPanic(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := newServer(t, cfg)
	if err := s.Listen(); err != nil {
		t.Skipf("skipping loopback test in restricted environment: %v", err)
	}
	// a leading zero byte blows up the handler
	s.handle = func(payload []byte) ([]byte, error) {
		if len(payload) > 0 && payload[0] == 0 {
			panic("handler exploded")
		}
		return s.Handle(payload)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()

	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0, 1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x09, 0, 0, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{0x09, 0, 0, 0}) {
		cancel()
		t.Fatalf("echo after panic: got=% X err=%v", buf[:n], err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned error: %v", err)
	}
	st := s.Stats()
	if st.Recovered != 1 || st.Dropped != 1 || st.Replied != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if drops := s.RecentDrops(0); len(drops) != 1 || drops[0].Reason != "panic" {
		t.Fatalf("unexpected drops: %+v", drops)
	}
}

func TestNextReadBackoff(t *testing.T) {
	var d time.Duration
	want := []time.Duration{5, 10, 20, 40}
	for _, w := range want {
		d = nextReadBackoff(d)
		if d != w*time.Millisecond {
			t.Fatalf("backoff: got=%v want=%v", d, w*time.Millisecond)
		}
	}
	for i := 0; i < 20; i++ {
		d = nextReadBackoff(d)
	}
	if d != maxReadBackoff {
		t.Fatalf("backoff should cap at %v, got %v", maxReadBackoff, d)
	}
}
