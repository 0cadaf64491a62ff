package bootflow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// UBootEnv is a U-Boot environment: a flat key=value map, encoded on disk as
// a little-endian CRC32 followed by NUL-separated "key=value" entries and a
// trailing NUL, byte-for-byte matching the original source's UBootEnv
// encode/decode routines (rugix-common/src/boot/uboot.rs).
type UBootEnv map[string]string

// LoadUBootEnv reads and CRC-validates an environment file.
func LoadUBootEnv(path string) (UBootEnv, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "reading uboot env "+path, err)
	}
	return decodeUBootEnv(data)
}

func decodeUBootEnv(data []byte) (UBootEnv, error) {
	if len(data) < 5 {
		return nil, ctrlerr.New(ctrlerr.BootFlowState, "uboot env file too short")
	}
	stored := binary.LittleEndian.Uint32(data[:4])
	computed := crc32.ChecksumIEEE(data[4:])
	if stored != computed {
		return nil, ctrlerr.New(ctrlerr.BootFlowState, "uboot env checksum mismatch")
	}
	env := UBootEnv{}
	for _, entry := range bytes.Split(data[4:], []byte{0}) {
		if len(entry) == 0 {
			continue
		}
		kv := bytes.SplitN(entry, []byte{'='}, 2)
		if len(kv) != 2 {
			return nil, ctrlerr.New(ctrlerr.BootFlowState, "malformed uboot env entry")
		}
		env[string(kv[0])] = string(kv[1])
	}
	return env, nil
}

func (e UBootEnv) encode() []byte {
	var body bytes.Buffer
	first := true
	for k, v := range e {
		if !first {
			body.WriteByte(0)
		}
		first = false
		body.WriteString(k)
		body.WriteByte('=')
		body.WriteString(v)
	}
	body.WriteByte(0)

	checksum := crc32.ChecksumIEEE(body.Bytes())
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, checksum)
	out.Write(body.Bytes())
	return out.Bytes()
}

// Save atomically writes the environment to path.
func (e UBootEnv) Save(path string) error {
	return atomicWrite(path, e.encode())
}

const (
	bootpartDefaultEnvName = "bootpart.default.env"
	bootSpareEnvName       = "boot_spare.env"
)

// UBoot implements the u-boot variant (§4.4): two environment files,
// bootpart.default.env (default partition) and boot_spare.env (one-shot
// spare flag), each individually CRC-protected so a torn write in one does
// not corrupt the other.
type UBoot struct {
	BaseFlow
	configDir string
	registry  *slots.Registry
}

func NewUBoot(configDir string, registry *slots.Registry) *UBoot {
	return &UBoot{configDir: configDir, registry: registry}
}

func (u *UBoot) Kind() string { return "u-boot" }

func (u *UBoot) defaultEnvPath() string { return filepath.Join(u.configDir, bootpartDefaultEnvName) }
func (u *UBoot) spareEnvPath() string   { return filepath.Join(u.configDir, bootSpareEnvName) }

func (u *UBoot) partitionForGroup(group string) (uint32, error) {
	slot, err := u.registry.Resolve("boot", group)
	if err != nil {
		return 0, err
	}
	return slot.Partition, nil
}

func (u *UBoot) groupForPartition(partition uint32) (string, error) {
	for _, name := range u.registry.GroupNames() {
		slot, err := u.registry.Resolve("boot", name)
		if err == nil && slot.Partition == partition {
			return name, nil
		}
	}
	return "", ctrlerr.New(ctrlerr.BootFlowState, fmt.Sprintf("no boot group maps to partition %d", partition))
}

func (u *UBoot) GetDefault() (string, error) {
	env, err := LoadUBootEnv(u.defaultEnvPath())
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(env["bootpart_default"], 10, 32)
	if err != nil {
		return "", ctrlerr.Wrap(ctrlerr.BootFlowState, "parsing bootpart_default", err)
	}
	return u.groupForPartition(uint32(n))
}

// SetTryNext sets the one-shot spare flag; the first-stage boot script
// reads boot_spare.env and, on "1", boots spare_partition instead of the
// default, then overwrites boot_spare.env with a "disabled" copy itself.
func (u *UBoot) SetTryNext(group string) error {
	partition, err := u.partitionForGroup(group)
	if err != nil {
		return err
	}
	env := UBootEnv{
		"boot_spare":     "1",
		"spare_partition": strconv.FormatUint(uint64(partition), 10),
	}
	return env.Save(u.spareEnvPath())
}

func (u *UBoot) Commit(group string) error {
	active, ok := utils.ActiveGroupFromCmdline()
	if ok && active != group {
		return ctrlerr.New(ctrlerr.NotActive, fmt.Sprintf("cannot commit group %q while running from %q", group, active))
	}
	partition, err := u.partitionForGroup(group)
	if err != nil {
		return err
	}
	env := UBootEnv{"bootpart_default": strconv.FormatUint(uint64(partition), 10)}
	if err := env.Save(u.defaultEnvPath()); err != nil {
		return err
	}
	return u.MarkGood(group)
}

func (u *UBoot) MarkGood(string) error {
	return UBootEnv{"boot_spare": "0"}.Save(u.spareEnvPath())
}
