package net

import (
	"errors"
	"strings"
)

var (
	// ErrWouldBlock is returned by Stream.Read when nothing is buffered, and by
	// Stream.Write when the send window is full. The caller should wait for
	// the next Readable or Writable event.
	ErrWouldBlock = errors.New("operation would block")

	// ErrStreamClosed is returned by operations on a Stream after Close.
	ErrStreamClosed = errors.New("stream closed")

	// ErrLayerClosed is returned by Accept and Dial after the layer was
	// closed.
	ErrLayerClosed = errors.New("stream layer closed")
)

// Event is a set of readiness flags delivered to a Stream watcher.
type Event uint8

const (
	// Readable means Read will return data, EOF or an error.
	Readable Event = 1 << iota
	// Writable means space opened in a send window that previously refused
	// bytes.
	Writable
	// Hangup means the peer went away or the stream failed. It is always
	// delivered together with Readable so that the pending error surfaces
	// through Read.
	Hangup
)

// Has reports whether all the flags in o are set in e.
func (e Event) Has(o Event) bool {
	return e&o == o
}

func (e Event) String() string {
	var parts []string
	if e.Has(Readable) {
		parts = append(parts, "Readable")
	}
	if e.Has(Writable) {
		parts = append(parts, "Writable")
	}
	if e.Has(Hangup) {
		parts = append(parts, "Hangup")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// Stream is a non-blocking, bidirectional byte stream.
//
// Read never blocks: it returns ErrWouldBlock when no bytes are buffered, and
// io.EOF once the peer closed its side and everything was consumed. Write
// never blocks either: it copies as much of p as fits in the send window and
// returns ErrWouldBlock together with the count when the rest did not fit.
// A Write that returns any other error means the stream is dead.
//
// Watch registers the single readiness callback. It is invoked from the
// stream's own goroutines and must not block. If data or a hangup is already
// pending when the watcher is registered, it is invoked immediately.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Watch(fn func(Event))
	Close() error
	LocalAddr() string
	RemoteAddr() string
}
