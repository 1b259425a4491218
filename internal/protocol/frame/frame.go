package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode is the one-byte tag leading every frame.
type Opcode uint8

// Opcode values are a fixed wire contract shared with every peer implementation.
const (
	OpTransferDescription Opcode = 0xFA
	OpData                Opcode = 0xFB
	OpCancel              Opcode = 0xFC
	OpFinished            Opcode = 0xFD
	OpReject              Opcode = 0xFE
)

const (
	// MaxChunk bounds the payload of TRANSFERDESCRIPTION and DATA frames.
	MaxChunk = 32*1024 - 1
	// FragmentIDMask keeps allocated fragment ids within 15 bits.
	FragmentIDMask uint16 = 0x7FFF

	controlFrameLen = 1 + 2
	dataHeaderLen   = 1 + 2 + 4
	descHeaderLen   = 1 + 2 + 4 + 4
)

var (
	ErrUnknownOpcode     = errors.New("frame: unknown opcode")
	ErrInvalidPayloadLen = errors.New("frame: payload length out of range")
	ErrInvalidChunkCount = errors.New("frame: chunk count out of range")
	ErrTruncated         = errors.New("frame: truncated frame")
)

// Frame is one decoded wire frame. ChunkCount is only meaningful for
// TRANSFERDESCRIPTION; Payload is empty for control frames.
type Frame struct {
	Opcode     Opcode
	FragmentID uint16
	ChunkCount int32
	Payload    []byte
}

func (o Opcode) String() string {
	switch o {
	case OpTransferDescription:
		return "TRANSFERDESCRIPTION"
	case OpData:
		return "DATA"
	case OpCancel:
		return "CANCEL"
	case OpFinished:
		return "FINISHED"
	case OpReject:
		return "REJECT"
	default:
		return fmt.Sprintf("0x%02X", uint8(o))
	}
}

// Valid reports whether o is part of the opcode table.
func (o Opcode) Valid() bool {
	return o >= OpTransferDescription && o <= OpReject
}

// HasPayload reports whether frames with this opcode carry a length-prefixed payload.
func (o Opcode) HasPayload() bool {
	return o == OpTransferDescription || o == OpData
}

// EncodedLen is the number of bytes f occupies on the wire.
func (f Frame) EncodedLen() int {
	switch f.Opcode {
	case OpTransferDescription:
		return descHeaderLen + len(f.Payload)
	case OpData:
		return dataHeaderLen + len(f.Payload)
	default:
		return controlFrameLen
	}
}

// ChunkCount returns the number of DATA frames needed for a payload of n bytes.
func ChunkCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n-1)/MaxChunk + 1
}

// Encode returns the complete wire form of f.
func Encode(f Frame) ([]byte, error) {
	if !f.Opcode.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, f.Opcode)
	}
	if f.Opcode.HasPayload() {
		if err := checkPayloadLen(int64(len(f.Payload))); err != nil {
			return nil, err
		}
	}
	if f.Opcode == OpTransferDescription && f.ChunkCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkCount, f.ChunkCount)
	}

	buf := make([]byte, f.EncodedLen())
	buf[0] = byte(f.Opcode)
	binary.BigEndian.PutUint16(buf[1:3], f.FragmentID)
	switch f.Opcode {
	case OpTransferDescription:
		binary.BigEndian.PutUint32(buf[3:7], uint32(f.ChunkCount))
		binary.BigEndian.PutUint32(buf[7:11], uint32(len(f.Payload)))
		copy(buf[descHeaderLen:], f.Payload)
	case OpData:
		binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Payload)))
		copy(buf[dataHeaderLen:], f.Payload)
	}
	return buf, nil
}

// WriteFrame encodes f and hands it to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame decodes the next frame from r. A clean end of stream before the
// opcode byte is reported as io.EOF; anything cut short afterwards is ErrTruncated.
func ReadFrame(r io.Reader) (Frame, error) {
	var op [1]byte
	if _, err := io.ReadFull(r, op[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{Opcode: Opcode(op[0])}
	if !f.Opcode.Valid() {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownOpcode, f.Opcode)
	}

	var id [2]byte
	if err := readFull(r, id[:]); err != nil {
		return Frame{}, err
	}
	f.FragmentID = binary.BigEndian.Uint16(id[:])

	switch f.Opcode {
	case OpTransferDescription:
		var hdr [8]byte
		if err := readFull(r, hdr[:]); err != nil {
			return Frame{}, err
		}
		f.ChunkCount = int32(binary.BigEndian.Uint32(hdr[0:4]))
		n := int32(binary.BigEndian.Uint32(hdr[4:8]))
		if err := checkPayloadLen(int64(n)); err != nil {
			return Frame{}, err
		}
		if f.ChunkCount <= 0 {
			return Frame{}, fmt.Errorf("%w: %d", ErrInvalidChunkCount, f.ChunkCount)
		}
		f.Payload = make([]byte, n)
		if err := readFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	case OpData:
		var hdr [4]byte
		if err := readFull(r, hdr[:]); err != nil {
			return Frame{}, err
		}
		n := int32(binary.BigEndian.Uint32(hdr[:]))
		if err := checkPayloadLen(int64(n)); err != nil {
			return Frame{}, err
		}
		f.Payload = make([]byte, n)
		if err := readFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

func checkPayloadLen(n int64) error {
	if n <= 0 || n > MaxChunk {
		return fmt.Errorf("%w: 0 < %d <= %d", ErrInvalidPayloadLen, n, MaxChunk)
	}
	return nil
}
