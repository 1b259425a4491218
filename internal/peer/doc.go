// Package peer establishes the byte streams binary channels run over: a TCP
// (optionally TLS) listener for inbound peers and a dialer that retries with
// exponential backoff.
package peer
