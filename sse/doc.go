// Package sse implements the server side of a Server-Sent Events push
// channel.
//
// A Channel owns one streaming http.ResponseWriter. Producers call Send,
// SendEvent or Post from any goroutine; frames are queued in FIFO order and
// written by a single writer loop (Run) that executes on the goroutine
// serving the HTTP request. Only that loop touches the ResponseWriter, so
// frames never interleave.
//
// Bounds
//
//   - At most MaxBacklog frames may be queued. A send that would exceed the
//     backlog fails with ErrBacklogFull and closes the channel.
//   - Every frame write is given WriteTimeout through
//     http.ResponseController. A write that misses it closes the channel.
//   - Close flushes already queued frames for at most CloseTimeout.
//
// The channel reports loss of the peer (request context ended, or a write
// failed) to callbacks registered with OnPeerDisconnect, after the writer
// loop has exited.
package sse
