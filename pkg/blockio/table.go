package blockio

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// Scheme names a partition table format.
type Scheme string

const (
	SchemeGPT Scheme = "gpt"
	SchemeMBR Scheme = "mbr"
)

// PartitionEntry is one row of a partition table, as reported by sfdisk.
type PartitionEntry struct {
	Number   uint32
	Device   string
	StartLBA uint64
	SizeLBA  uint64
	Type     string
}

// Table is a device's partition table, as read by ReadPartitionTable.
type Table struct {
	Scheme     Scheme
	SectorSize uint32
	Partitions []PartitionEntry
}

// Layout describes the table scheme and partition sizes CreatePartitions
// creates.
type Layout struct {
	Scheme               Scheme
	ConfigPartitionSizeMB uint64
	DataPartitionSizeMB  uint64 // 0 means "rest of disk"
	BootSlotSizeMB       uint64
	SystemSlotSizeMB     uint64
}

// ReadPartitionTable implements read_partition_table(device) -> Table
// (§4.1), by parsing `sfdisk --dump`'s script-style output — the same tool
// gprovision's partitioning package uses to write tables, run here in
// read-only dump mode.
func ReadPartitionTable(device DeviceHandle) (Table, error) {
	out, err := exec.Command("sfdisk", "--dump", device.Path).CombinedOutput()
	if err != nil {
		return Table{}, ctrlerr.Wrap(ctrlerr.IoError, fmt.Sprintf("sfdisk --dump %s: %s", device.Path, string(out)), err)
	}
	return parseSfdiskDump(string(out))
}

func parseSfdiskDump(dump string) (Table, error) {
	table := Table{Scheme: SchemeMBR, SectorSize: 512}
	scanner := bufio.NewScanner(strings.NewReader(dump))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "label:"):
			label := strings.TrimSpace(strings.TrimPrefix(line, "label:"))
			if label == "gpt" {
				table.Scheme = SchemeGPT
			} else {
				table.Scheme = SchemeMBR
			}
		case strings.HasPrefix(line, "sector-size:"):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "sector-size:")))
			if err == nil {
				table.SectorSize = uint32(n)
			}
		case strings.Contains(line, ": start="):
			entry, ok := parseSfdiskPartitionLine(line)
			if ok {
				table.Partitions = append(table.Partitions, entry)
			}
		}
	}
	return table, nil
}

// parseSfdiskPartitionLine parses one of sfdisk --dump's partition lines,
// e.g. "/dev/sda2 : start=2048, size=1048576, type=83".
func parseSfdiskPartitionLine(line string) (PartitionEntry, bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return PartitionEntry{}, false
	}
	device := strings.TrimSpace(parts[0])
	entry := PartitionEntry{Device: device, Number: partitionNumberOf(device)}
	for _, field := range strings.Split(parts[1], ",") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "start":
			entry.StartLBA, _ = strconv.ParseUint(val, 10, 64)
		case "size":
			entry.SizeLBA, _ = strconv.ParseUint(val, 10, 64)
		case "type":
			entry.Type = val
		}
	}
	return entry, true
}

func partitionNumberOf(device string) uint32 {
	i := len(device)
	for i > 0 && device[i-1] >= '0' && device[i-1] <= '9' {
		i--
	}
	n, _ := strconv.ParseUint(device[i:], 10, 32)
	return uint32(n)
}

// CreatePartitions implements create_partitions(device, layout) (§4.1):
// applies the config/boot-a/boot-b/system-a/system-b/data layout to device.
// Without bootstrap, a device that already has partitions is left untouched
// when its table's scheme equals layout.Scheme and is refused with
// PartitionMismatch otherwise; partition count and sizes are not compared.
// With bootstrap, or when no table can be read, the table is rewritten.
//
// Grounded on gprovision's partitioning.NewGpt/NewMbr, which likewise shell
// out to sgdisk/sfdisk rather than writing partition table bytes directly —
// the partitioning tools already handle alignment, protective MBRs and
// backup GPT headers correctly, which a hand-rolled binary writer would
// have to reimplement and re-verify.
func CreatePartitions(device DeviceHandle, layout Layout, bootstrap bool) error {
	existing, err := ReadPartitionTable(device)
	if err == nil && len(existing.Partitions) > 0 && !bootstrap {
		if existing.Scheme == layout.Scheme {
			return nil // already laid out; idempotent
		}
		return ctrlerr.New(ctrlerr.PartitionMismatch, fmt.Sprintf("device %s has a %s table, expected %s", device.Path, existing.Scheme, layout.Scheme))
	}

	script := buildSfdiskScript(layout)
	cmd := exec.Command("sfdisk", "--wipe", "always", "--wipe-partitions", "always", device.Path)
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, fmt.Sprintf("sfdisk %s: %s", device.Path, string(out)), err)
	}
	return nil
}

// buildSfdiskScript renders a layout as an sfdisk script: config, two boot
// slots, two system slots, then a data partition of DataPartitionSizeMB, or
// spanning the rest of the disk (size omitted) when that is 0.
func buildSfdiskScript(layout Layout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "label: %s\n", layout.Scheme)
	fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"config\"\n", layout.ConfigPartitionSizeMB, typeCode(layout.Scheme, "config"))
	fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"boot-a\"\n", layout.BootSlotSizeMB, typeCode(layout.Scheme, "linux"))
	fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"boot-b\"\n", layout.BootSlotSizeMB, typeCode(layout.Scheme, "linux"))
	fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"system-a\"\n", layout.SystemSlotSizeMB, typeCode(layout.Scheme, "linux"))
	fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"system-b\"\n", layout.SystemSlotSizeMB, typeCode(layout.Scheme, "linux"))
	if layout.DataPartitionSizeMB > 0 {
		fmt.Fprintf(&b, "size=%dMiB, type=%s, name=\"data\"\n", layout.DataPartitionSizeMB, typeCode(layout.Scheme, "linux"))
	} else {
		fmt.Fprintf(&b, "type=%s, name=\"data\"\n", typeCode(layout.Scheme, "linux"))
	}
	return b.String()
}

func typeCode(scheme Scheme, kind string) string {
	if scheme == SchemeGPT {
		if kind == "config" {
			return "C12A7328-F81F-11D2-BA4B-00A0C93EC93B" // ESP, FAT config partition
		}
		return "0FC63DAF-8483-4772-8E79-3D69D8477DE4" // Linux filesystem
	}
	if kind == "config" {
		return "c" // W95 FAT32 (LBA)
	}
	return "83" // Linux
}
