// Package sshtransport owns the single authenticated SSH connection to the
// first hop and the interactive PTY channel opened over it.
//
// The package exposes byte-level primitives only: [Channel.Send] writes to the
// remote terminal and [Channel.Recv] returns whatever a background pump
// goroutine has drained from it since the last call, without blocking.
// Callers that need to wait select on [Channel.Ready] and [Channel.Done].
//
// Key material and agent handles are borrowed from the caller for the
// duration of Dial and are never stored beyond the connection's lifetime.
package sshtransport
