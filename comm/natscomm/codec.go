package natscomm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	kindP2P uint8 = iota + 1
	kindGather
	kindBarrier
	kindRelease
	kindHello
)

// header byte of every payload
const (
	flagPlain byte = 0
	flagZstd  byte = 1
)

var errShortFrame = errors.New("natscomm: empty frame")

// frame is the unit published on every subject.
type frame struct {
	Kind      uint8  `msgpack:"k"`
	Src       int    `msgpack:"s"`
	Tag       int    `msgpack:"t"`
	Row       []int  `msgpack:"r,omitempty"`
	Signature string `msgpack:"g,omitempty"`
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// codecs builds the shared encoder and decoder. EncodeAll and DecodeAll are safe
// for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func encodeFrame(f frame, compress bool) ([]byte, error) {
	body, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("natscomm: msgpack encode: %w", err)
	}
	if !compress {
		return append([]byte{flagPlain}, body...), nil
	}
	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("natscomm: zstd encode: %w", err)
	}
	return enc.EncodeAll(body, []byte{flagZstd}), nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if len(data) == 0 {
		return f, errShortFrame
	}
	body := data[1:]
	switch data[0] {
	case flagPlain:
	case flagZstd:
		_, dec, err := codecs()
		if err != nil {
			return f, fmt.Errorf("natscomm: zstd decode: %w", err)
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return f, fmt.Errorf("natscomm: zstd decode: %w", err)
		}
	default:
		return f, fmt.Errorf("natscomm: unknown frame flag %#x", data[0])
	}
	if err := msgpack.Unmarshal(body, &f); err != nil {
		return f, fmt.Errorf("natscomm: msgpack decode: %w", err)
	}
	return f, nil
}
