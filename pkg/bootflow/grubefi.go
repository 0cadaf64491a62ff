package bootflow

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// grubEnvBlockSize is GRUB's fixed environment block size; the block is
// always padded to exactly this many bytes so `grub-editenv` and our own
// writer produce interchangeable files.
const grubEnvBlockSize = 1024

const grubEnvHeader = "# GRUB Environment Block\n"

// grubEnv is a GRUB environment block: key=value lines inside a
// fixed-size, '#'-padded text block, in the format `grub-editenv` reads and
// writes.
type grubEnv map[string]string

func loadGrubEnv(path string) (grubEnv, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "reading grubenv "+path, err)
	}
	if !bytes.HasPrefix(data, []byte(grubEnvHeader)) {
		return nil, ctrlerr.New(ctrlerr.BootFlowState, "not a GRUB environment block")
	}
	env := grubEnv{}
	scanner := bufio.NewScanner(bytes.NewReader(data[len(grubEnvHeader):]))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		env[kv[0]] = kv[1]
	}
	return env, nil
}

func (e grubEnv) save(path string) error {
	var body bytes.Buffer
	body.WriteString(grubEnvHeader)
	for k, v := range e {
		fmt.Fprintf(&body, "%s=%s\n", k, v)
	}
	if body.Len() > grubEnvBlockSize {
		return ctrlerr.New(ctrlerr.BootFlowState, "grub environment block exceeds 1024 bytes")
	}
	padded := make([]byte, grubEnvBlockSize)
	copy(padded, body.Bytes())
	for i := body.Len(); i < grubEnvBlockSize; i++ {
		padded[i] = '#'
	}
	return atomicWrite(path, padded)
}

const grubEnvFileName = "grubenv"

// GrubEFI implements the grub-efi variant (§4.4): the same default/spare
// model as u-boot, but persisted in a single GRUB environment block, since
// the first-stage grub.cfg embedded in the EFI image's memdisk (immune to
// config-partition corruption) is what reads these keys.
type GrubEFI struct {
	BaseFlow
	configDir string
	registry  *slots.Registry
}

func NewGrubEFI(configDir string, registry *slots.Registry) *GrubEFI {
	return &GrubEFI{configDir: configDir, registry: registry}
}

func (g *GrubEFI) Kind() string { return "grub-efi" }

func (g *GrubEFI) envPath() string { return filepath.Join(g.configDir, grubEnvFileName) }

func (g *GrubEFI) partitionForGroup(group string) (uint32, error) {
	slot, err := g.registry.Resolve("boot", group)
	if err != nil {
		return 0, err
	}
	return slot.Partition, nil
}

func (g *GrubEFI) groupForPartition(partition uint32) (string, error) {
	for _, name := range g.registry.GroupNames() {
		slot, err := g.registry.Resolve("boot", name)
		if err == nil && slot.Partition == partition {
			return name, nil
		}
	}
	return "", ctrlerr.New(ctrlerr.BootFlowState, fmt.Sprintf("no boot group maps to partition %d", partition))
}

func (g *GrubEFI) GetDefault() (string, error) {
	env, err := loadGrubEnv(g.envPath())
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(env["default_partition"], 10, 32)
	if err != nil {
		return "", ctrlerr.Wrap(ctrlerr.BootFlowState, "parsing default_partition", err)
	}
	return g.groupForPartition(uint32(n))
}

func (g *GrubEFI) SetTryNext(group string) error {
	env, err := loadGrubEnv(g.envPath())
	if err != nil {
		env = grubEnv{}
	}
	partition, err := g.partitionForGroup(group)
	if err != nil {
		return err
	}
	env["boot_spare"] = "1"
	env["spare_partition"] = strconv.FormatUint(uint64(partition), 10)
	return env.save(g.envPath())
}

func (g *GrubEFI) Commit(group string) error {
	active, ok := utils.ActiveGroupFromCmdline()
	if ok && active != group {
		return ctrlerr.New(ctrlerr.NotActive, fmt.Sprintf("cannot commit group %q while running from %q", group, active))
	}
	partition, err := g.partitionForGroup(group)
	if err != nil {
		return err
	}
	env, err := loadGrubEnv(g.envPath())
	if err != nil {
		env = grubEnv{}
	}
	env["default_partition"] = strconv.FormatUint(uint64(partition), 10)
	env["boot_spare"] = "0"
	return env.save(g.envPath())
}
