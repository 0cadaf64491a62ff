package bundle

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// Decompress applies a payload's declared compression filter to an already
// hash-verified block, per §4.2 point 4: decompression only ever runs on
// bytes that passed block-hash verification, so a corrupted compressed
// stream is caught as a tamper before any decompressor touches it.
func Decompress(compression Compression, verifiedBlock []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return verifiedBlock, nil
	case CompressionXZ:
		r, err := xz.NewReader(bytes.NewReader(verifiedBlock))
		if err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "opening xz stream", err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "decompressing xz block", err)
		}
		return out, nil
	case CompressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(verifiedBlock))
		if err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "opening zstd stream", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "decompressing zstd block", err)
		}
		return out, nil
	default:
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "unsupported compression")
	}
}
