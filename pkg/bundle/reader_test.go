package bundle

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// buildBundle assembles a minimal one-payload, uncompressed bundle in
// memory, matching the wire format bit-for-bit, for use as a test fixture.
func buildBundle(t *testing.T, slotRef string, data []byte, blockSize uint32, corruptBlock, corruptRoot bool) []byte {
	t.Helper()

	nBlocks := (uint64(len(data)) + uint64(blockSize) - 1) / uint64(blockSize)
	if nBlocks == 0 {
		nBlocks = 1
	}

	var wireBlocks [][]byte
	for i := uint64(0); i < nBlocks; i++ {
		start := i * uint64(blockSize)
		end := start + uint64(blockSize)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		wireBlocks = append(wireBlocks, data[start:end])
	}

	return buildBundleFromWireBlocks(t, slotRef, CompressionNone, uint64(len(data)), blockSize, wireBlocks, corruptBlock, corruptRoot)
}

// buildBundleFromWireBlocks assembles a one-payload bundle from already
// wire-encoded blocks (e.g. individually zstd-compressed), each framed with
// its own on-wire length per the block index's length-prefixed entries.
func buildBundleFromWireBlocks(t *testing.T, slotRef string, compression Compression, decompressedSize uint64, blockSize uint32, wireBlocks [][]byte, corruptBlock, corruptRoot bool) []byte {
	t.Helper()

	nBlocks := uint64(len(wireBlocks))

	var blockHashes [][]byte
	var body bytes.Buffer
	for i, block := range wireBlocks {
		body.Write(block)
		h := sha512.Sum512_256(block)
		sum := h[:]
		if corruptBlock && i == 0 {
			sum = append([]byte{}, sum...)
			sum[0] ^= 0xff
		}
		blockHashes = append(blockHashes, sum)
	}

	var payloadIndex bytes.Buffer
	binary.Write(&payloadIndex, binary.BigEndian, uint32(len(slotRef)))
	payloadIndex.WriteString(slotRef)
	payloadIndex.WriteByte(byte(EncodingRawFile))
	payloadIndex.WriteByte(byte(compression))
	binary.Write(&payloadIndex, binary.BigEndian, decompressedSize)
	binary.Write(&payloadIndex, binary.BigEndian, nBlocks)
	for i, bh := range blockHashes {
		binary.Write(&payloadIndex, binary.BigEndian, uint32(len(wireBlocks[i])))
		payloadIndex.Write(bh)
	}

	indexHash := sha512.New512_256()
	binary.Write(indexHash, binary.BigEndian, uint32(len(slotRef)))
	indexHash.Write([]byte(slotRef))
	binary.Write(indexHash, binary.BigEndian, uint8(EncodingRawFile))
	binary.Write(indexHash, binary.BigEndian, uint8(compression))
	binary.Write(indexHash, binary.BigEndian, decompressedSize)
	binary.Write(indexHash, binary.BigEndian, nBlocks)
	for i, bh := range blockHashes {
		binary.Write(indexHash, binary.BigEndian, uint32(len(wireBlocks[i])))
		indexHash.Write(bh)
	}

	chain := sha512.New512_256()
	binary.Write(chain, binary.BigEndian, Version)
	binary.Write(chain, binary.BigEndian, uint16(HashAlgoSHA512_256))
	binary.Write(chain, binary.BigEndian, blockSize)
	binary.Write(chain, binary.BigEndian, uint32(1))
	chain.Write(indexHash.Sum(nil))
	root := chain.Sum(nil)
	if corruptRoot {
		root[0] ^= 0xff
	}

	var out bytes.Buffer
	out.WriteString(Magic)
	binary.Write(&out, binary.BigEndian, Version)
	binary.Write(&out, binary.BigEndian, uint16(HashAlgoSHA512_256))
	binary.Write(&out, binary.BigEndian, blockSize)
	binary.Write(&out, binary.BigEndian, uint32(1))
	out.Write(root)
	out.Write(payloadIndex.Bytes())
	out.Write(body.Bytes())

	return out.Bytes()
}

func TestReaderVerifiesAndYieldsBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("A"), 10)
	raw := buildBundle(t, "system", data, 4, false, false)

	r, err := Open(bytes.NewReader(raw), nil)
	require.NoError(t, err)

	p, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "system", p.Meta().SlotRef)

	var got bytes.Buffer
	for {
		block, err := p.NextBlock()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got.Write(block)
	}
	require.Equal(t, data, got.Bytes())

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.VerifyRootHash())
}

func TestReaderRejectsCorruptedBlock(t *testing.T) {
	raw := buildBundle(t, "system", []byte("hello world"), 4, true, false)

	r, err := Open(bytes.NewReader(raw), nil)
	require.NoError(t, err)
	p, err := r.Next()
	require.NoError(t, err)

	_, err = p.NextBlock()
	require.Error(t, err)
}

func TestReaderRejectsCorruptedRootHash(t *testing.T) {
	raw := buildBundle(t, "system", []byte("hello world"), 4, false, true)

	r, err := Open(bytes.NewReader(raw), nil)
	require.NoError(t, err)
	p, err := r.Next()
	require.NoError(t, err)
	for {
		if _, err := p.NextBlock(); err == io.EOF {
			break
		}
	}
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	require.Error(t, r.VerifyRootHash())
}

func TestOpenRejectsSuppliedRootMismatch(t *testing.T) {
	raw := buildBundle(t, "system", []byte("hello"), 4, false, false)
	bogus := bytes.Repeat([]byte{0x42}, sha512.Size256)
	_, err := Open(bytes.NewReader(raw), bogus)
	require.Error(t, err)
}

// TestReaderStreamsCompressedBlocksByDeclaredLength exercises a
// compression != none payload whose on-wire block is shorter than the
// declared decompressed block_size, confirming NextBlock reads exactly the
// block index's declared length rather than block_size, and that the
// resulting wire bytes decompress back to the plaintext block.
func TestReaderStreamsCompressedBlocksByDeclaredLength(t *testing.T) {
	blockSize := uint32(4096)
	plainBlocks := [][]byte{
		bytes.Repeat([]byte("a"), int(blockSize)),
		bytes.Repeat([]byte("b"), int(blockSize)),
		bytes.Repeat([]byte("c"), 17), // short last block
	}

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	var decompressedSize uint64
	var wireBlocks [][]byte
	for _, pb := range plainBlocks {
		decompressedSize += uint64(len(pb))
		compressed := enc.EncodeAll(pb, nil)
		require.Less(t, len(compressed), int(blockSize)+len(pb)) // sanity: within the reader's per-block length bound
		wireBlocks = append(wireBlocks, compressed)
	}

	raw := buildBundleFromWireBlocks(t, "system", CompressionZstd, decompressedSize, blockSize, wireBlocks, false, false)

	r, err := Open(bytes.NewReader(raw), nil)
	require.NoError(t, err)

	p, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, p.Meta().Compression)

	var got bytes.Buffer
	for {
		block, err := p.NextBlock()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		plain, err := Decompress(p.Meta().Compression, block)
		require.NoError(t, err)
		got.Write(plain)
	}
	require.Equal(t, bytes.Join(plainBlocks, nil), got.Bytes())

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.VerifyRootHash())
}
