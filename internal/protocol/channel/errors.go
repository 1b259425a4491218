package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	ErrProtocol           = errors.New("channel: protocol error")
	ErrLocalCanceled      = errors.New("channel: transfer canceled locally")
	ErrRemoteCanceled     = errors.New("channel: transfer canceled by peer")
	ErrAckTimeout         = errors.New("channel: acknowledgement timed out")
	ErrChannelClosed      = errors.New("channel: closed")
	ErrFragmentCollision  = errors.New("channel: fragment id still in use")
	ErrNoFreeFragmentID   = errors.New("channel: no free fragment id")
	ErrEmptyPayload       = errors.New("channel: empty payload")
	ErrDescriptorTooLarge = errors.New("channel: encoded descriptor exceeds chunk size")
	ErrReadTimeout        = errors.New("channel: read timed out")
	ErrTransferIncomplete = errors.New("channel: transfer incomplete")
	ErrTransferFinished   = errors.New("channel: transfer already finished")
)

// Peer-closure signatures seen during normal teardown: SOCKS5 peer already
// gone, and in-band peer offline.
var acceptedOnClosure = []string{
	"service-unavailable(503)",
	"recipient-unavailable(404)",
}

// isAcceptedOnClosure reports whether err is an expected teardown error that
// should not be logged as a failure.
func isAcceptedOnClosure(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	for _, s := range acceptedOnClosure {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// closedError is the error a dead channel reports. Peer-closure causes are
// kept as text only, so a transfer cut off by the peer never reads as io.EOF.
func closedError(cause error) error {
	switch {
	case cause == nil:
		return ErrChannelClosed
	case isAcceptedOnClosure(cause):
		return fmt.Errorf("%w: %v", ErrChannelClosed, cause)
	default:
		return fmt.Errorf("%w: %w", ErrChannelClosed, cause)
	}
}
