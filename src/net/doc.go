// Package net implements the byte stream transports that broadcast sessions
// run on.
//
// A session never blocks on I/O. It consumes the Stream interface, whose Read
// and Write return ErrWouldBlock instead of waiting, and learns about progress
// through readiness Events delivered to a watcher callback. Every adapter in
// this package converts a blocking net.Conn into such a Stream with NewStream,
// which runs one reader and one writer goroutine per connection and bounds the
// buffered bytes in each direction by a send window.
//
// There are three StreamLayer implementations:
//
// - Inmem: net.Pipe pairs handed from Dial to Accept, used for testing
//
// - TCP: plain TCP sockets
//
// - Websocket: binary websocket messages over an HTTP server, for peers that
// can only speak HTTP (browsers, proxies)
//
// Clients that do not listen use TCPDialer or WebsocketDialer directly.
package net
