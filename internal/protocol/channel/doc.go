// Package channel owns the binary channel protocol engine.
//
// Ownership boundary:
// - fragment id allocation and the outgoing/incoming fragment registries
// - the dedicated stream reader and the serialized frame writer
// - blocking Send with progress, cancellation and acknowledgement wait
// - IncomingTransfer, the consumer handle for reassembled payloads
//
// One Channel wraps one already-established ordered byte stream. Send may be
// called from any number of goroutines; every frame is written inside a single
// critical section so frames from concurrent senders never interleave.
//
// FINISHED and REJECT frames acknowledge our outgoing fragments. DATA, CANCEL
// and TRANSFERDESCRIPTION refer to fragments the peer is sending to us. The two
// directions keep separate registries so the peer's ids never shadow ours.
package channel
