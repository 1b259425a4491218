// Package payload prepares transfer bytes for the wire and restores them on
// receipt. A sealed descriptor carries the original size and a blake2b-256
// digest; the bytes themselves may be zstd compressed.
package payload

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// AttrDigest is the descriptor attribute holding the hex digest of the
// uncompressed payload.
const AttrDigest = "blake2b-256"

var (
	ErrDigestMismatch = errors.New("payload: digest mismatch")
	ErrSizeMismatch   = errors.New("payload: size mismatch")
	ErrBadDigest      = errors.New("payload: malformed digest attribute")
)

type Options struct {
	Compress bool
	// Level defaults to zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

// Seal returns the bytes to send for data and records size, digest and
// compression on desc. Compression is skipped when it does not shrink data.
func Seal(desc *protocol.TransferDescriptor, data []byte, opts Options) ([]byte, error) {
	sum := blake2b.Sum256(data)
	if desc.Attributes == nil {
		desc.Attributes = make(map[string]string, 1)
	}
	desc.Attributes[AttrDigest] = hex.EncodeToString(sum[:])
	desc.Size = uint64(len(data))
	desc.Compressed = false
	if !opts.Compress || len(data) == 0 {
		return data, nil
	}

	level := opts.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("payload: zstd encoder: %w", err)
	}
	defer enc.Close()
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(out) >= len(data) {
		return data, nil
	}
	desc.Compressed = true
	return out, nil
}

// Reader yields the original bytes of a transfer. Once the source is
// drained it checks size and digest when the descriptor was sealed.
type Reader struct {
	src  io.Reader
	dec  *zstd.Decoder
	hash hash.Hash
	want []byte
	size uint64
	n    uint64
	err  error
}

// NewReader wraps r, the bytes received for desc. Unsealed, uncompressed
// descriptors pass through unchanged.
func NewReader(desc protocol.TransferDescriptor, r io.Reader) (*Reader, error) {
	out := &Reader{src: r, size: desc.Size}
	if v := desc.Attribute(AttrDigest); v != "" {
		want, err := hex.DecodeString(v)
		if err != nil || len(want) != blake2b.Size256 {
			return nil, fmt.Errorf("%w: %q", ErrBadDigest, v)
		}
		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, err
		}
		out.hash, out.want = h, want
	}
	if desc.Compressed {
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("payload: zstd decoder: %w", err)
		}
		out.src, out.dec = dec, dec
	}
	return out, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.n += uint64(n)
		if r.hash != nil {
			r.hash.Write(p[:n])
		}
	}
	if errors.Is(err, io.EOF) {
		if verr := r.verify(); verr != nil {
			err = verr
		}
	} else if err != nil && r.dec != nil {
		err = fmt.Errorf("payload: decompress: %w", err)
	}
	if err != nil {
		r.err = err
	}
	return n, err
}

func (r *Reader) verify() error {
	if r.hash == nil {
		return nil
	}
	if r.n != r.size {
		return fmt.Errorf("%w: got %d want %d", ErrSizeMismatch, r.n, r.size)
	}
	if !bytes.Equal(r.hash.Sum(nil), r.want) {
		return ErrDigestMismatch
	}
	return nil
}

// Close releases the decoder. It does not close the source.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	return nil
}
