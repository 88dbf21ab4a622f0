package net

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/carbonforge/broadcast/src/common"
)

const (
	INMEM = iota
	TCP
	WEBSOCKET
	numTestLayers // NOTE: must be last
)

func NewTestLayer(ltype int, window int, t *testing.T) StreamLayer {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	switch ltype {
	case INMEM:
		return NewInmemStreamLayer("", window, logger)
	case TCP:
		tl, err := NewTCPStreamLayer("127.0.0.1:0", window, logger)
		if err != nil {
			t.Fatal(err)
		}
		return tl
	case WEBSOCKET:
		wl, err := NewWebsocketStreamLayer("127.0.0.1:0", "", window, logger)
		if err != nil {
			t.Fatal(err)
		}
		return wl
	default:
		panic("Unknown layer type")
	}
}

// pair dials the layer and returns the client and server ends.
func pair(t *testing.T, layer StreamLayer) (Stream, Stream) {
	acceptCh := make(chan Stream, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := layer.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- s
	}()

	client, err := layer.Dial(layer.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case server := <-acceptCh:
		return client, server
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for accept")
	}
	return nil, nil
}

// eventWatcher records events and signals a channel on each one.
type eventWatcher struct {
	sync.Mutex
	events []Event
	ch     chan Event
}

func watch(s Stream) *eventWatcher {
	w := &eventWatcher{ch: make(chan Event, 1024)}
	s.Watch(func(ev Event) {
		w.Lock()
		w.events = append(w.events, ev)
		w.Unlock()
		w.ch <- ev
	})
	return w
}

// readN drains s until n bytes were read, waiting on readiness events.
func readN(t *testing.T, s Stream, w *eventWatcher, n int) []byte {
	out := make([]byte, 0, n)
	buf := make([]byte, 1500)
	deadline := time.After(3 * time.Second)

	for len(out) < n {
		m, err := s.Read(buf)
		out = append(out, buf[:m]...)
		switch err {
		case nil:
			continue
		case ErrWouldBlock:
			select {
			case <-w.ch:
			case <-deadline:
				t.Fatalf("timeout after reading %d of %d bytes", len(out), n)
			}
		default:
			t.Fatalf("read: %v", err)
		}
	}
	return out
}

func waitHangup(w *eventWatcher, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w.Lock()
		for _, ev := range w.events {
			if ev.Has(Hangup) {
				w.Unlock()
				return true
			}
		}
		w.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestLayer_StartStop(t *testing.T) {
	for ltype := 0; ltype < numTestLayers; ltype++ {
		layer := NewTestLayer(ltype, 0, t)
		if err := layer.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
		if _, err := layer.Accept(); err != ErrLayerClosed {
			t.Fatalf("layer %d: Accept after Close should return ErrLayerClosed, not %v", ltype, err)
		}
	}
}

func TestStream_ReadWouldBlock(t *testing.T) {
	for ltype := 0; ltype < numTestLayers; ltype++ {
		layer := NewTestLayer(ltype, 0, t)
		client, server := pair(t, layer)

		if _, err := server.Read(make([]byte, 10)); err != ErrWouldBlock {
			t.Fatalf("layer %d: expected ErrWouldBlock, got %v", ltype, err)
		}

		client.Close()
		server.Close()
		layer.Close()
	}
}

func TestStream_Exchange(t *testing.T) {
	for ltype := 0; ltype < numTestLayers; ltype++ {
		layer := NewTestLayer(ltype, 0, t)
		client, server := pair(t, layer)

		sw := watch(server)
		cw := watch(client)

		msg := bytes.Repeat([]byte("broadcast"), 1000)
		if n, err := client.Write(msg); err != nil || n != len(msg) {
			t.Fatalf("layer %d: write returned %d, %v", ltype, n, err)
		}

		got := readN(t, server, sw, len(msg))
		if !bytes.Equal(got, msg) {
			t.Fatalf("layer %d: server received different bytes", ltype)
		}

		reply := []byte("ack")
		if _, err := server.Write(reply); err != nil {
			t.Fatal(err)
		}
		if got := readN(t, client, cw, len(reply)); !bytes.Equal(got, reply) {
			t.Fatalf("layer %d: reply should be %q, not %q", ltype, reply, got)
		}

		client.Close()
		server.Close()
		layer.Close()
	}
}

func TestStream_SendWindow(t *testing.T) {
	window := 1024
	layer := NewTestLayer(INMEM, window, t)
	client, server := pair(t, layer)

	// nobody reads the server side, so the window eventually fills up
	msg := make([]byte, 4*window)
	written := 0
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := client.Write(msg[written:])
		written += n
		if err == ErrWouldBlock {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("send window never filled")
		}
	}

	if written >= len(msg) {
		t.Fatalf("write should have been partial, wrote %d", written)
	}

	cw := watch(client)
	sw := watch(server)

	readN(t, server, sw, written)

	select {
	case ev := <-cw.ch:
		if !ev.Has(Writable) {
			t.Fatalf("expected Writable, got %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Writable")
	}

	client.Close()
	server.Close()
	layer.Close()
}

func TestStream_Hangup(t *testing.T) {
	for ltype := 0; ltype < numTestLayers; ltype++ {
		layer := NewTestLayer(ltype, 0, t)
		client, server := pair(t, layer)

		sw := watch(server)

		client.Write([]byte("bye"))
		client.Close()

		if got := readN(t, server, sw, 3); string(got) != "bye" {
			t.Fatalf("layer %d: pending bytes should be delivered before hangup, got %q", ltype, got)
		}

		deadline := time.After(3 * time.Second)
	wait:
		for {
			_, err := server.Read(make([]byte, 16))
			switch err {
			case ErrWouldBlock:
				select {
				case <-sw.ch:
				case <-deadline:
					t.Fatalf("layer %d: timeout waiting for hangup", ltype)
				}
			case nil:
				t.Fatalf("layer %d: unexpected data after close", ltype)
			default:
				break wait
			}
		}

		if !waitHangup(sw, 2*time.Second) {
			t.Fatalf("layer %d: no Hangup event delivered", ltype)
		}

		server.Close()
		layer.Close()
	}
}

func TestStream_CloseWhileWriting(t *testing.T) {
	window := 256 * 1024

	for ltype := 0; ltype < numTestLayers; ltype++ {
		layer := NewTestLayer(ltype, window, t)
		client, server := pair(t, layer)

		// the server does not read yet, so the client writer ends up
		// blocked with a full send window
		msg := make([]byte, 8*window)
		for i := range msg {
			msg[i] = byte(i)
		}
		written := 0
		deadline := time.Now().Add(2 * time.Second)
		for written < len(msg) {
			n, err := client.Write(msg[written:])
			written += n
			if err == ErrWouldBlock {
				if time.Now().After(deadline) {
					break
				}
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if err != nil {
				t.Fatalf("layer %d: %v", ltype, err)
			}
		}

		client.Close()

		ready := make(chan struct{}, 1)
		server.Watch(func(ev Event) {
			select {
			case ready <- struct{}{}:
			default:
			}
		})

		var got []byte
		buf := make([]byte, 32*1024)
		timeout := time.After(lingerTimeout + 3*time.Second)
	drain:
		for {
			n, err := server.Read(buf)
			got = append(got, buf[:n]...)
			switch err {
			case nil:
			case ErrWouldBlock:
				select {
				case <-ready:
				case <-time.After(50 * time.Millisecond):
				case <-timeout:
					t.Fatalf("layer %d: no hangup after close, read %d of %d bytes", ltype, len(got), written)
				}
			default:
				break drain
			}
		}

		if !bytes.Equal(got, msg[:written]) {
			t.Fatalf("layer %d: bytes accepted before close should be delivered, got %d of %d", ltype, len(got), written)
		}

		server.Close()
		layer.Close()
	}
}

func TestStream_WriteAfterClose(t *testing.T) {
	layer := NewTestLayer(INMEM, 0, t)
	client, server := pair(t, layer)

	client.Close()
	if _, err := client.Write([]byte("x")); err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if _, err := client.Read(make([]byte, 1)); err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	server.Close()
	layer.Close()
}

func TestInmemDialUnknownAddress(t *testing.T) {
	layer := NewInmemStreamLayer("", 0, common.NewTestEntry(t, common.TestLogLevel))
	defer layer.Close()

	if _, err := layer.Dial("nowhere", 10*time.Millisecond); err == nil {
		t.Fatal("dialing an unknown address should fail")
	}
}

func TestEventString(t *testing.T) {
	cases := []struct {
		ev  Event
		exp string
	}{
		{0, "None"},
		{Readable, "Readable"},
		{Readable | Hangup, "Readable|Hangup"},
		{Readable | Writable | Hangup, "Readable|Writable|Hangup"},
	}
	for _, c := range cases {
		if c.ev.String() != c.exp {
			t.Fatalf("%d should print as %s, not %s", c.ev, c.exp, c.ev.String())
		}
	}
}
