package sar

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionDictID tags zstd frames encoded against the archive dictionary.
const compressionDictID uint32 = 0x73617201

// decoderPool manages reusable zstd decoders bound to one dictionary state.
type decoderPool struct {
	pool      sync.Pool
	dict      []byte
	maxMemory uint64
}

func newDecoderPool(dict []byte, maxMemory uint64) *decoderPool {
	p := &decoderPool{dict: dict, maxMemory: maxMemory}
	p.pool.New = func() any {
		dec, err := p.newDecoder()
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

func (p *decoderPool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxMemory))
	}
	if p.dict != nil {
		opts = append(opts, zstd.WithDecoderDictRaw(compressionDictID, p.dict))
	}
	return zstd.NewReader(nil, opts...)
}

// decode decompresses a complete zstd frame of known decoded size.
func (p *decoderPool) decode(src []byte, size uint64) ([]byte, error) {
	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		var err error
		if dec, err = p.newDecoder(); err != nil {
			return nil, err
		}
	}
	defer p.pool.Put(dec)
	return dec.DecodeAll(src, make([]byte, 0, size))
}

// codec decodes stored payloads for one archive.
type codec struct {
	oldLZ4    bool
	maxMemory uint64
	zstd      atomic.Pointer[decoderPool]
}

func newCodec(oldLZ4 bool, maxMemory uint64) *codec {
	c := &codec{oldLZ4: oldLZ4, maxMemory: maxMemory}
	c.zstd.Store(newDecoderPool(nil, maxMemory))
	return c
}

// setDict rebinds zstd decoding to a compression dictionary.
func (c *codec) setDict(dict []byte) {
	c.zstd.Store(newDecoderPool(dict, c.maxMemory))
}

// decompress decodes src into exactly size bytes.
func (c *codec) decompress(src []byte, size uint64) ([]byte, error) {
	if c.oldLZ4 {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrDecompression, err)
		}
		if uint64(n) != size { //nolint:gosec // n is non-negative
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrDecompression, n, size)
		}
		return dst, nil
	}

	out, err := c.zstd.Load().decode(src, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrDecompression, err)
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrDecompression, len(out), size)
	}
	return out, nil
}

// tableDecoder decodes compressed file tables, which never use a dictionary.
var tableDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})

// decompressFileTable decodes a compressed file table. A non-zero maxMemory
// bounds the decoded size.
func decompressFileTable(src []byte, maxMemory uint64) ([]byte, error) {
	var dec *zstd.Decoder
	var err error
	if maxMemory == 0 {
		dec, err = tableDecoder()
	} else {
		dec, err = newDecoderPool(nil, maxMemory).newDecoder()
		if dec != nil {
			defer dec.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFileTable, err)
	}
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFileTable, err)
	}
	return out, nil
}

// encoder compresses payloads when building an archive.
type encoder struct {
	compression Compression
	zstd        *zstd.Encoder
}

func newEncoder(compression Compression, dict []byte) (*encoder, error) {
	e := &encoder{compression: compression}
	if compression == CompressionZstd {
		opts := []zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedDefault)}
		if dict != nil {
			opts = append(opts, zstd.WithEncoderDictRaw(compressionDictID, dict))
		}
		enc, err := zstd.NewWriter(nil, opts...)
		if err != nil {
			return nil, err
		}
		e.zstd = enc
	}
	return e, nil
}

// compress returns the compressed form of data, or nil when compression does
// not make it smaller.
func (e *encoder) compress(data []byte) ([]byte, error) {
	var out []byte
	switch e.compression {
	case CompressionZstd:
		out = e.zstd.EncodeAll(data, nil)
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		out = dst[:n]
	default:
		return nil, nil
	}
	if len(out) == 0 || len(out) >= len(data) {
		return nil, nil
	}
	return out, nil
}

func (e *encoder) close() {
	if e.zstd != nil {
		_ = e.zstd.Close() //nolint:errcheck // EncodeAll-only encoder holds no stream
	}
}

func compressFileTable(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
