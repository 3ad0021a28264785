package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec lazily builds one shared encoder and decoder
type zstdCodec struct {
	encoderOnce sync.Once
	decoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	encoderErr  error
	decoderErr  error
}

func newZstdCodec() *zstdCodec {
	return &zstdCodec{}
}

func (c *zstdCodec) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		c.encoder, c.encoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1))
	})
	return c.encoder, c.encoderErr
}

func (c *zstdCodec) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(256*1024*1024))
	})
	return c.decoder, c.decoderErr
}

func (c *zstdCodec) compress(data []byte) ([]byte, error) {
	encoder, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder: %w", err)
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) decompress(data []byte) ([]byte, error) {
	decoder, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to get decoder: %w", err)
	}
	return decoder.DecodeAll(data, nil)
}
