// Package protocol owns the transfer descriptor carried by TRANSFERDESCRIPTION frames.
//
// Ownership boundary:
// - frame primitives live in protocol/frame
// - tlv payload primitives live in protocol/tlv
// - descriptor field requirements live in protocol/schema
// - the channel engine lives in protocol/channel
package protocol
