package protocol

import "errors"

var (
	ErrInvalidDescriptor = errors.New("protocol: invalid transfer descriptor")
)
