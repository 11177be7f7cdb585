package publisher

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses/decompresses a payload with one algorithm.
// ShouldCompress lets an adaptive wrapper report that compression has
// stopped paying for itself; non-adaptive implementations always allow it.
type Compressor interface {
	Algorithm() string
	ShouldCompress() bool
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type gzipCompressor struct {
	pool sync.Pool
}

func newGzipCompressor() *gzipCompressor {
	c := &gzipCompressor{}
	c.pool.New = func() interface{} { return gzip.NewWriter(io.Discard) }
	return c
}

func (c *gzipCompressor) Algorithm() string    { return "gzip" }
func (c *gzipCompressor) ShouldCompress() bool { return true }

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := c.pool.Get().(*gzip.Writer)
	defer c.pool.Put(w)
	var buf bytes.Buffer
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("publisher: gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("publisher: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("publisher: gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("publisher: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("publisher: zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) Algorithm() string    { return "zstd" }
func (c *zstdCompressor) ShouldCompress() bool { return true }
func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}
func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

// NewCompressor returns the Compressor for algorithm ("gzip", "zstd", or
// "none" which returns nil).
func NewCompressor(algorithm string) (Compressor, error) {
	switch algorithm {
	case "", "none":
		return nil, nil
	case "gzip":
		return newGzipCompressor(), nil
	case "zstd":
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("publisher: unknown compression algorithm %q", algorithm)
	}
}

// AdaptiveCompressor wraps a Compressor and disables compression once its
// historical ratio (compressed/original) rises above floor, i.e. once the
// savings fall too low, per spec §4.4's adaptive mode. Ratio is tracked as a
// cheap running average over recent calls.
type AdaptiveCompressor struct {
	inner Compressor
	floor float64

	samples   atomic.Int64
	ratioE6   atomic.Int64 // running average ratio * 1e6, for lock-free updates
	disabled  atomic.Bool
}

// NewAdaptiveCompressor wraps inner with a floor ratio (compressed/original)
// above which compression is disabled; e.g. floor=0.9 disables compression
// once it stops saving at least 10% of bytes on average.
func NewAdaptiveCompressor(inner Compressor, floor float64) *AdaptiveCompressor {
	a := &AdaptiveCompressor{inner: inner, floor: floor}
	a.ratioE6.Store(500000) // assume 50% until enough samples arrive
	return a
}

func (a *AdaptiveCompressor) Algorithm() string { return a.inner.Algorithm() }

func (a *AdaptiveCompressor) ShouldCompress() bool {
	if a.disabled.Load() {
		return false
	}
	return true
}

func (a *AdaptiveCompressor) Compress(data []byte) ([]byte, error) {
	out, err := a.inner.Compress(data)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		ratio := float64(len(out)) / float64(len(data))
		n := a.samples.Add(1)
		prev := float64(a.ratioE6.Load()) / 1e6
		// exponential moving average, alpha proportional to 1/n capped at 0.2
		alpha := 1.0 / float64(n)
		if alpha > 0.2 {
			alpha = 0.2
		}
		next := prev + alpha*(ratio-prev)
		a.ratioE6.Store(int64(next * 1e6))
		a.disabled.Store(next > a.floor)
	}
	return out, nil
}

func (a *AdaptiveCompressor) Decompress(data []byte) ([]byte, error) {
	return a.inner.Decompress(data)
}
