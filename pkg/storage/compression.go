package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame markers prefixed to every stored payload
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// minCompressSize is the payload size below which compression is skipped
const minCompressSize = 256

var errEmptyFrame = errors.New("empty payload frame")

// Compressor handles compression of cached payloads
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor
func NewCompressor(level int) (*Compressor, error) {
	// Create encoder with specified compression level
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Compress frames a payload, zstd-compressing it when that pays off
func (c *Compressor) Compress(payload []byte) []byte {
	if len(payload) >= minCompressSize {
		out := make([]byte, 1, len(payload)/2+1)
		out[0] = frameZstd
		out = c.encoder.EncodeAll(payload, out)
		if len(out) < len(payload)+1 {
			return out
		}
	}

	out := make([]byte, 0, len(payload)+1)
	out = append(out, frameRaw)
	return append(out, payload...)
}

// Decompress returns the payload held in a frame written by Compress
func (c *Compressor) Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errEmptyFrame
	}

	switch frame[0] {
	case frameRaw:
		return bytes.Clone(frame[1:]), nil
	case frameZstd:
		payload, err := c.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown payload frame 0x%02x", frame[0])
	}
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
