package compress

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdPool manages reusable zstd decoders to reduce allocation overhead on
// the hot block-decode path.
type zstdPool struct {
	pool *sync.Pool
}

func newZstdPool() *zstdPool {
	p := &zstdPool{}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := newZstdDecoder()
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

func newZstdDecoder() (*zstd.Decoder, error) {
	// Blocks are small and decoded one at a time; single-threaded decoders
	// keep per-decoder memory flat across the pool.
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

func (p *zstdPool) decompress(src []byte, maxOut int) ([]byte, error) {
	dec, release, err := p.get(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer release()
	return readCapped(dec, maxOut)
}

// get returns a decoder reset to read from r and a release function that
// must be called when done.
func (p *zstdPool) get(r *bytes.Reader) (*zstd.Decoder, func(), error) {
	value := p.pool.Get()
	if value == nil {
		// Pool's New function failed, try directly.
		dec, err := newZstdDecoder()
		if err != nil {
			return nil, nil, err
		}
		if err := dec.Reset(r); err != nil {
			dec.Close()
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	dec := value.(*zstd.Decoder)
	if err := dec.Reset(r); err != nil {
		dec.Close()
		newDec, err := newZstdDecoder()
		if err != nil {
			return nil, nil, err
		}
		if err := newDec.Reset(r); err != nil {
			newDec.Close()
			return nil, nil, err
		}
		return newDec, newDec.Close, nil
	}

	return dec, func() {
		_ = dec.Reset(nil)
		p.pool.Put(dec)
	}, nil
}
