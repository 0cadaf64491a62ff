// Package bundle implements the Bundle Reader (C2): a lazy, single-pass,
// verified reader over the wire format described in the external
// interfaces section of the system's design — a fixed binary header
// followed by one section per payload, each with its own per-block hash
// index, so that a data block is only ever handed to a caller after its
// listed hash has been confirmed to match.
package bundle

import (
	"crypto/sha512"
	"hash"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// Magic is the 16-byte ASCII header preamble, space-padded.
const Magic = "RUGIX-BUNDLE-v1 "

// Version is the only wire format version this reader understands.
const Version uint16 = 1

// HashAlgo names the hash function covering block, payload-index and root
// hashes; the algorithm is fixed per bundle, declared in the header.
type HashAlgo uint16

// HashAlgoSHA512_256 is the only algorithm this format defines.
const HashAlgoSHA512_256 HashAlgo = 1

// New returns a fresh hash.Hash for the algorithm.
func (a HashAlgo) New() (hash.Hash, error) {
	switch a {
	case HashAlgoSHA512_256:
		return sha512.New512_256(), nil
	default:
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "unsupported hash algorithm")
	}
}

// Size returns the digest size in bytes for the algorithm.
func (a HashAlgo) Size() int {
	switch a {
	case HashAlgoSHA512_256:
		return sha512.Size256
	default:
		return 0
	}
}

func (a HashAlgo) String() string {
	switch a {
	case HashAlgoSHA512_256:
		return "sha512-256"
	default:
		return "unknown"
	}
}

// Encoding is how a payload's bytes are laid out once decompressed.
type Encoding uint8

const (
	EncodingRawBlock Encoding = 0
	EncodingRawFile  Encoding = 1
	EncodingTar      Encoding = 2
)

// Compression is the filter applied to a payload's bytes before hashing
// stops being meaningful for the plaintext view (verification always
// happens on the wire bytes, before decompression).
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionXZ   Compression = 1
	CompressionZstd Compression = 2
)

// Header is the bundle's fixed-size preamble.
type Header struct {
	Version    uint16
	HashAlgo   HashAlgo
	BlockSize  uint32
	NPayloads  uint32
	RootHash   []byte
}

// PayloadMeta is a payload's fixed metadata fields, excluding its block
// index, hashed as part of that payload's index hash. Size and NBlocks
// describe the *decompressed* payload; the on-wire length of each
// individual block (which is what actually gets read off the stream, and
// what the block's hash covers) is carried per-entry in the block index
// alongside its hash, not derivable from Size when Compression != none.
type PayloadMeta struct {
	SlotRef     string
	Encoding    Encoding
	Compression Compression
	Size        uint64
	NBlocks     uint64
}
