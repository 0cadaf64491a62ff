package installer

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/bootflow"
	"github.com/rugix/rugix-ctrl-go/pkg/bundle"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

type fakeFlow struct {
	bootflow.BaseFlow
	tried string
}

func (f *fakeFlow) Kind() string                 { return "fake" }
func (f *fakeFlow) GetDefault() (string, error)  { return "a", nil }
func (f *fakeFlow) Commit(string) error          { return nil }
func (f *fakeFlow) SetTryNext(group string) error { f.tried = group; return nil }

func buildOnePayloadBundle(t *testing.T, slotRef string, data []byte) []byte {
	t.Helper()
	blockSize := uint32(4096)
	nBlocks := (uint64(len(data)) + uint64(blockSize) - 1) / uint64(blockSize)

	var body bytes.Buffer
	var blockHashes [][]byte
	var blockLengths []uint32
	for i := uint64(0); i < nBlocks; i++ {
		start := i * uint64(blockSize)
		end := start + uint64(blockSize)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		block := data[start:end]
		body.Write(block)
		h := sha512.Sum512_256(block)
		blockHashes = append(blockHashes, h[:])
		blockLengths = append(blockLengths, uint32(len(block)))
	}

	indexHash := sha512.New512_256()
	binary.Write(indexHash, binary.BigEndian, uint32(len(slotRef)))
	indexHash.Write([]byte(slotRef))
	binary.Write(indexHash, binary.BigEndian, uint8(bundle.EncodingRawFile))
	binary.Write(indexHash, binary.BigEndian, uint8(bundle.CompressionNone))
	binary.Write(indexHash, binary.BigEndian, uint64(len(data)))
	binary.Write(indexHash, binary.BigEndian, nBlocks)
	for i, bh := range blockHashes {
		binary.Write(indexHash, binary.BigEndian, blockLengths[i])
		indexHash.Write(bh)
	}

	chain := sha512.New512_256()
	binary.Write(chain, binary.BigEndian, bundle.Version)
	binary.Write(chain, binary.BigEndian, uint16(bundle.HashAlgoSHA512_256))
	binary.Write(chain, binary.BigEndian, blockSize)
	binary.Write(chain, binary.BigEndian, uint32(1))
	chain.Write(indexHash.Sum(nil))

	var out bytes.Buffer
	out.WriteString(bundle.Magic)
	binary.Write(&out, binary.BigEndian, bundle.Version)
	binary.Write(&out, binary.BigEndian, uint16(bundle.HashAlgoSHA512_256))
	binary.Write(&out, binary.BigEndian, blockSize)
	binary.Write(&out, binary.BigEndian, uint32(1))
	out.Write(chain.Sum(nil))

	binary.Write(&out, binary.BigEndian, uint32(len(slotRef)))
	out.WriteString(slotRef)
	out.WriteByte(byte(bundle.EncodingRawFile))
	out.WriteByte(byte(bundle.CompressionNone))
	binary.Write(&out, binary.BigEndian, uint64(len(data)))
	binary.Write(&out, binary.BigEndian, nBlocks)
	for i, bh := range blockHashes {
		binary.Write(&out, binary.BigEndian, blockLengths[i])
		out.Write(bh)
	}
	out.Write(body.Bytes())

	return out.Bytes()
}

func TestInstallWritesPayloadAndArmsTryNext(t *testing.T) {
	dir := t.TempDir()
	registry, err := slots.NewFromConfig(config.SystemConfig{
		Slots: map[string]config.SlotConfig{
			"system-a": {Type: "block", Device: "/dev/null-a"},
			"system-b": {Type: "block", Device: "/dev/null-b"},
		},
		BootGroups: map[string]config.BootGroupCfg{
			"a": {Slots: map[string]string{"system": "system-a"}},
			"b": {Slots: map[string]string{"system": "system-b"}},
		},
	}, "a")
	require.NoError(t, err)

	targetFile := filepath.Join(dir, "system-b.img")
	require.NoError(t, os.WriteFile(targetFile, make([]byte, 64), 0o644))

	data := []byte("this is a fake system image payload!!")
	raw := buildOnePayloadBundle(t, "system", data)

	flow := &fakeFlow{}
	opts := Options{
		TargetGroup: "b",
		HooksDir:    filepath.Join(dir, "hooks"),
		ConfigDir:   filepath.Join(dir, "config"),
		DataDir:     filepath.Join(dir, "data"),
		ResolveSlotPath: func(s *slots.Slot) (string, func(), error) {
			return targetFile, nil, nil
		},
	}

	err = Install(context.Background(), bytes.NewReader(raw), registry, flow, opts)
	require.NoError(t, err)
	require.Equal(t, "b", flow.tried)

	written, err := os.ReadFile(targetFile)
	require.NoError(t, err)
	require.Equal(t, data, written[:len(data)])
}

func TestInstallRefusesActiveSlotWithoutOverride(t *testing.T) {
	dir := t.TempDir()
	registry, err := slots.NewFromConfig(config.SystemConfig{
		Slots: map[string]config.SlotConfig{
			"system-a": {Type: "block", Device: "/dev/null-a"},
		},
		BootGroups: map[string]config.BootGroupCfg{
			"a": {Slots: map[string]string{"system": "system-a"}},
		},
	}, "a")
	require.NoError(t, err)

	raw := buildOnePayloadBundle(t, "system", []byte("data"))
	flow := &fakeFlow{}
	opts := Options{
		TargetGroup: "a",
		HooksDir:    filepath.Join(dir, "hooks"),
		ResolveSlotPath: func(s *slots.Slot) (string, func(), error) {
			return filepath.Join(dir, "shouldnotwrite"), nil, nil
		},
	}

	err = Install(context.Background(), bytes.NewReader(raw), registry, flow, opts)
	require.Error(t, err)
}
