//go:build linux

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Filesystem magic numbers for network-backed mounts
const (
	nfsSuperMagic   = 0x6969
	smbSuperMagic   = 0x517B
	smb2SuperMagic  = 0xFE534D42
	cifsSuperMagic  = 0xFF534D42
	fuseSuperMagic  = 0x65735546
	v9fsSuperMagic  = 0x01021997
	afsSuperMagic   = 0x5346414F
	cephSuperMagic  = 0x00C36400
	ocfs2SuperMagic = 0x7461636F
)

// fingerprint returns a cheap, stable identifier for the volume backing
// path: the block device's major:minor numbers.
func fingerprint(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", err
	}
	dev := uint64(st.Dev)
	return fmt.Sprintf("%d:%d", unix.Major(dev), unix.Minor(dev)), nil
}

// detectDevice classifies the device backing path using statfs for
// network filesystems and sysfs for the rotational flag.
func detectDevice(path string) (probe, error) {
	fp, err := fingerprint(path)
	if err != nil {
		return probe{}, err
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err == nil {
		if isNetworkFS(int64(fs.Type)) {
			return probe{deviceID: fp, kind: KindNetwork, method: "statfs_magic"}, nil
		}
	}

	name, err := blockDeviceName(fp)
	if err != nil {
		return probe{deviceID: fp, kind: KindUnknown, method: "sysfs_unresolved"}, nil
	}

	pr := probe{deviceID: fp, method: "sysfs"}
	pr.removable = sysfsFlag(name, "removable")

	if strings.HasPrefix(name, "nvme") {
		pr.kind = KindNVMe
		return pr, nil
	}

	rotational, err := os.ReadFile(filepath.Join("/sys/block", name, "queue", "rotational"))
	if err != nil {
		pr.kind = KindUnknown
		return pr, nil
	}
	if strings.TrimSpace(string(rotational)) == "0" {
		pr.kind = KindSSD
	} else {
		pr.kind = KindHDD
	}
	return pr, nil
}

// blockDeviceName resolves a major:minor pair to the whole-disk device
// name (e.g. "sda" for a path on /dev/sda2), via the sysfs symlink.
func blockDeviceName(majMin string) (string, error) {
	link, err := os.Readlink(filepath.Join("/sys/dev/block", majMin))
	if err != nil {
		return "", err
	}

	// The link ends in .../block/sda/sda2 for a partition or
	// .../block/sda for a whole disk.
	parent := filepath.Base(filepath.Dir(link))
	if parent != "block" {
		return parent, nil
	}
	return filepath.Base(link), nil
}

// sysfsFlag reads a 0/1 attribute under /sys/block/<name>
func sysfsFlag(name, attr string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/block", name, attr))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

func isNetworkFS(magic int64) bool {
	switch magic {
	case nfsSuperMagic, smbSuperMagic, smb2SuperMagic, cifsSuperMagic,
		fuseSuperMagic, v9fsSuperMagic, afsSuperMagic, cephSuperMagic, ocfs2SuperMagic:
		return true
	default:
		return false
	}
}
