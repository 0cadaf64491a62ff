package bundle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash"
	"io"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// Reader is a lazy, single-pass, forward-only reader over a bundle stream.
// It is not restartable: once a Reader (or one of its PayloadReaders) fails,
// the whole bundle must be considered abandoned per §4.2.
type Reader struct {
	src    *bufio.Reader
	header Header

	chainHash    hash.Hash // running fold of (header fields, payload index hashes)
	payloadsLeft uint32
	current      *PayloadReader
}

// Open reads and validates the fixed header, and returns a Reader ready to
// iterate payloads via Next. verifyRoot, if non-nil, is the operator's
// independently supplied root hash (from `--verify-bundle <alg:hex>`); it is
// compared against the header's own declared root hash before any payload
// is read, per §4.2 step 1.
func Open(r io.Reader, verifyRoot []byte) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading bundle magic", err)
	}
	if string(magic) != Magic {
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "bad bundle magic")
	}

	var fixed struct {
		Version   uint16
		HashAlgo  uint16
		BlockSize uint32
		NPayloads uint32
	}
	if err := binary.Read(br, binary.BigEndian, &fixed); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading bundle header", err)
	}
	if fixed.Version != Version {
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "unsupported bundle version")
	}
	algo := HashAlgo(fixed.HashAlgo)
	hashSize := algo.Size()
	if hashSize == 0 {
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "unsupported hash algorithm")
	}

	rootHash := make([]byte, hashSize)
	if _, err := io.ReadFull(br, rootHash); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading root hash", err)
	}

	if verifyRoot != nil && !bytes.Equal(verifyRoot, rootHash) {
		return nil, ctrlerr.New(ctrlerr.BundleTamper, "supplied root hash does not match bundle header")
	}

	chain, err := algo.New()
	if err != nil {
		return nil, err
	}
	binary.Write(chain, binary.BigEndian, fixed.Version)
	binary.Write(chain, binary.BigEndian, fixed.HashAlgo)
	binary.Write(chain, binary.BigEndian, fixed.BlockSize)
	binary.Write(chain, binary.BigEndian, fixed.NPayloads)

	return &Reader{
		src: br,
		header: Header{
			Version:   fixed.Version,
			HashAlgo:  algo,
			BlockSize: fixed.BlockSize,
			NPayloads: fixed.NPayloads,
			RootHash:  rootHash,
		},
		chainHash:    chain,
		payloadsLeft: fixed.NPayloads,
	}, nil
}

// Header returns the parsed fixed header.
func (r *Reader) Header() Header { return r.header }

// Next advances to the next payload's index section, verifying it and
// folding its index hash into the running root-hash chain, and returns a
// PayloadReader for pulling its verified data blocks. Returns io.EOF when
// no payloads remain; at that point VerifyRootHash can be called safely.
func (r *Reader) Next() (*PayloadReader, error) {
	if r.current != nil && !r.current.exhausted {
		return nil, ctrlerr.New(ctrlerr.BundleMalformed, "previous payload not fully consumed")
	}
	if r.payloadsLeft == 0 {
		return nil, io.EOF
	}
	r.payloadsLeft--

	slotRef, err := readLengthPrefixedString(r.src)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading payload slot_ref", err)
	}

	var fixed struct {
		Encoding    uint8
		Compression uint8
	}
	if err := binary.Read(r.src, binary.BigEndian, &fixed); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading payload encoding/compression", err)
	}
	var sizeAndBlocks struct {
		Size    uint64
		NBlocks uint64
	}
	if err := binary.Read(r.src, binary.BigEndian, &sizeAndBlocks); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading payload size/n_blocks", err)
	}

	hashSize := r.header.HashAlgo.Size()
	// maxBlockLen bounds a single block's on-wire allocation: compression
	// can only shrink a block, plus a modest container overhead, so a
	// declared length far past blockSize is a malformed (or adversarial)
	// index rather than a legitimately large compressed chunk.
	maxBlockLen := uint64(r.header.BlockSize)*2 + 4096
	blockHashes := make([][]byte, sizeAndBlocks.NBlocks)
	blockLengths := make([]uint32, sizeAndBlocks.NBlocks)
	for i := range blockHashes {
		var length uint32
		if err := binary.Read(r.src, binary.BigEndian, &length); err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading block length", err)
		}
		if length == 0 || uint64(length) > maxBlockLen {
			return nil, ctrlerr.New(ctrlerr.BundleMalformed, "implausible block length in payload index")
		}
		bh := make([]byte, hashSize)
		if _, err := io.ReadFull(r.src, bh); err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading block hash", err)
		}
		blockLengths[i] = length
		blockHashes[i] = bh
	}

	meta := PayloadMeta{
		SlotRef:     slotRef,
		Encoding:    Encoding(fixed.Encoding),
		Compression: Compression(fixed.Compression),
		Size:        sizeAndBlocks.Size,
		NBlocks:     sizeAndBlocks.NBlocks,
	}

	indexHash, err := r.header.HashAlgo.New()
	if err != nil {
		return nil, err
	}
	writePayloadMeta(indexHash, meta)
	for i, bh := range blockHashes {
		binary.Write(indexHash, binary.BigEndian, blockLengths[i])
		indexHash.Write(bh)
	}
	r.chainHash.Write(indexHash.Sum(nil))

	pr := &PayloadReader{
		src:          r.src,
		meta:         meta,
		blockHashes:  blockHashes,
		blockLengths: blockLengths,
		hashAlgo:     r.header.HashAlgo,
	}
	r.current = pr
	return pr, nil
}

// VerifyRootHash finalizes the incremental root-hash chain and compares it
// against the bundle's declared root hash. It must only be called once all
// payloads have been fully consumed (Next returns io.EOF); calling it
// earlier reports a spurious mismatch since not all payload index hashes
// have been folded in yet.
func (r *Reader) VerifyRootHash() error {
	if r.payloadsLeft != 0 {
		return ctrlerr.New(ctrlerr.BundleMalformed, "root hash requested before all payloads were read")
	}
	computed := r.chainHash.Sum(nil)
	if !bytes.Equal(computed, r.header.RootHash) {
		return ctrlerr.New(ctrlerr.BundleTamper, "bundle root hash mismatch")
	}
	return nil
}

func writePayloadMeta(h hash.Hash, m PayloadMeta) {
	binary.Write(h, binary.BigEndian, uint32(len(m.SlotRef)))
	h.Write([]byte(m.SlotRef))
	binary.Write(h, binary.BigEndian, uint8(m.Encoding))
	binary.Write(h, binary.BigEndian, uint8(m.Compression))
	binary.Write(h, binary.BigEndian, m.Size)
	binary.Write(h, binary.BigEndian, m.NBlocks)
}

func readLengthPrefixedString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// PayloadReader pulls verified data blocks for a single payload. No block
// is returned until its hash has been checked against the value declared
// in the payload's own index section.
type PayloadReader struct {
	src          io.Reader
	meta         PayloadMeta
	blockHashes  [][]byte
	blockLengths []uint32 // on-wire byte length of each block, before decompression
	hashAlgo     HashAlgo

	nextBlock int
	exhausted bool
}

// Meta returns the payload's metadata.
func (p *PayloadReader) Meta() PayloadMeta { return p.meta }

// NextBlock pulls, hashes and verifies the next data block, returning it
// only on a hash match. The block is read by its declared on-wire length,
// not by slicing the payload's decompressed size into blockSize spans —
// under any compression != none the on-wire chunk is shorter than
// blockSize, so the two are only ever equal for CompressionNone. Returns
// io.EOF once all of the payload's blocks have been consumed.
func (p *PayloadReader) NextBlock() ([]byte, error) {
	if p.nextBlock >= len(p.blockHashes) {
		p.exhausted = true
		return nil, io.EOF
	}

	buf := make([]byte, p.blockLengths[p.nextBlock])
	if _, err := io.ReadFull(p.src, buf); err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.BundleMalformed, "reading payload data block", err)
	}

	h, err := p.hashAlgo.New()
	if err != nil {
		return nil, err
	}
	h.Write(buf)
	sum := h.Sum(nil)
	expected := p.blockHashes[p.nextBlock]
	if !bytes.Equal(sum, expected) {
		return nil, ctrlerr.New(ctrlerr.BundleTamper, "payload block hash mismatch")
	}

	p.nextBlock++
	if p.nextBlock >= len(p.blockHashes) {
		p.exhausted = true
	}
	return buf, nil
}
