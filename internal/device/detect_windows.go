//go:build windows

package device

import (
	"fmt"
	"regexp"
	"strings"
	"unsafe"

	"github.com/StackExchange/wmi"
	"golang.org/x/sys/windows"
)

const (
	ioctlStorageQueryProperty = 0x002D1400

	storageDeviceSeekPenaltyProperty = 7
	storageAdapterProperty           = 1
	propertyStandardQuery            = 0

	busTypeUSB  = 7
	busTypeNVMe = 17
)

type storagePropertyQuery struct {
	PropertyID           uint32
	QueryType            uint32
	AdditionalParameters [1]byte
}

type deviceSeekPenaltyDescriptor struct {
	Version           uint32
	Size              uint32
	IncursSeekPenalty byte
}

type storageAdapterDescriptor struct {
	Version              uint32
	Size                 uint32
	MaximumTransferLen   uint32
	MaximumPhysicalPages uint32
	AlignmentMask        uint32
	AdapterUsesPio       byte
	AdapterScansDown     byte
	CommandQueueing      byte
	AcceleratedTransfer  byte
	BusType              byte
	BusMajorVersion      uint16
	BusMinorVersion      uint16
}

// fingerprint returns the volume serial number of the volume backing
// path, which is cheap to query and stable per volume.
func fingerprint(path string) (string, error) {
	root, err := volumeRoot(path)
	if err != nil {
		return "", err
	}

	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return "", err
	}

	var serial uint32
	if err := windows.GetVolumeInformation(rootPtr, nil, 0, &serial, nil, nil, nil, 0); err != nil {
		// Network roots may refuse the query; the root itself still
		// identifies the volume.
		return "vol-" + strings.ToLower(root), nil
	}
	return fmt.Sprintf("vol-%08X", serial), nil
}

// detectDevice classifies the volume backing path. Tiers, most reliable
// first: the seek-penalty IOCTL (no admin rights required), then WMI
// physical disk lookup, then the conservative fallback via error return.
func detectDevice(path string) (probe, error) {
	root, err := volumeRoot(path)
	if err != nil {
		return probe{}, err
	}

	fp, _ := fingerprint(path)
	pr := probe{deviceID: fp}

	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return probe{}, err
	}

	switch windows.GetDriveType(rootPtr) {
	case windows.DRIVE_REMOTE:
		pr.kind = KindNetwork
		pr.method = "drive_type"
		return pr, nil
	case windows.DRIVE_REMOVABLE:
		pr.removable = true
	case windows.DRIVE_NO_ROOT_DIR:
		return probe{}, fmt.Errorf("volume %s does not exist", root)
	}

	if kind, ok := seekPenaltyKind(root); ok {
		pr.kind = kind
		pr.method = "seek_penalty"
		return pr, nil
	}

	if kind, ok := wmiPhysicalDiskKind(root); ok {
		pr.kind = kind
		pr.method = "wmi"
		return pr, nil
	}

	pr.kind = KindUnknown
	pr.method = "windows_undetected"
	return pr, nil
}

// volumeRoot resolves path to its volume root, e.g. "C:\"
func volumeRoot(path string) (string, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return "", err
	}
	buf := make([]uint16, windows.MAX_PATH)
	if err := windows.GetVolumePathName(pathPtr, &buf[0], uint32(len(buf))); err != nil {
		return "", fmt.Errorf("volume for %s not accessible: %w", path, err)
	}
	return windows.UTF16ToString(buf), nil
}

// seekPenaltyKind queries IOCTL_STORAGE_QUERY_PROPERTY on the volume
// device. IncursSeekPenalty false means solid state; the adapter bus
// type distinguishes NVMe from SATA.
func seekPenaltyKind(root string) (Kind, bool) {
	device := `\\.\` + strings.TrimSuffix(root, `\`)
	devicePtr, err := windows.UTF16PtrFromString(device)
	if err != nil {
		return KindUnknown, false
	}

	// Zero access rights: property queries need a handle, not data access
	handle, err := windows.CreateFile(devicePtr, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return KindUnknown, false
	}
	defer windows.CloseHandle(handle)

	query := storagePropertyQuery{
		PropertyID: storageDeviceSeekPenaltyProperty,
		QueryType:  propertyStandardQuery,
	}
	var desc deviceSeekPenaltyDescriptor
	var returned uint32

	err = windows.DeviceIoControl(handle, ioctlStorageQueryProperty,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)),
		(*byte)(unsafe.Pointer(&desc)), uint32(unsafe.Sizeof(desc)),
		&returned, nil)
	if err != nil {
		return KindUnknown, false
	}

	if desc.IncursSeekPenalty != 0 {
		return KindHDD, true
	}

	// Solid state; check the adapter bus for NVMe
	query.PropertyID = storageAdapterProperty
	var adapter storageAdapterDescriptor
	err = windows.DeviceIoControl(handle, ioctlStorageQueryProperty,
		(*byte)(unsafe.Pointer(&query)), uint32(unsafe.Sizeof(query)),
		(*byte)(unsafe.Pointer(&adapter)), uint32(unsafe.Sizeof(adapter)),
		&returned, nil)
	if err == nil && adapter.BusType == busTypeNVMe {
		return KindNVMe, true
	}
	return KindSSD, true
}

// WMI association classes used to walk from a logical disk to its
// physical disk
type win32LogicalDiskToPartition struct {
	Antecedent string
	Dependent  string
}

type win32DiskDriveToDiskPartition struct {
	Antecedent string
	Dependent  string
}

type msftPhysicalDisk struct {
	DeviceId  string
	MediaType uint16
	BusType   uint16
}

var physicalDriveRe = regexp.MustCompile(`PHYSICALDRIVE(\d+)`)

// wmiPhysicalDiskKind walks Win32_LogicalDiskToPartition and
// Win32_DiskDriveToDiskPartition to find the physical disk backing the
// volume, then reads MSFT_PhysicalDisk.MediaType (3=HDD, 4=SSD).
func wmiPhysicalDiskKind(root string) (Kind, bool) {
	logicalID := strings.TrimSuffix(root, `\`)

	var ldToPart []win32LogicalDiskToPartition
	q := fmt.Sprintf("SELECT Antecedent, Dependent FROM Win32_LogicalDiskToPartition WHERE Dependent = \"Win32_LogicalDisk.DeviceID='%s'\"", logicalID)
	if err := wmi.Query(q, &ldToPart); err != nil || len(ldToPart) == 0 {
		return KindUnknown, false
	}

	partitionID := extractDeviceID(ldToPart[0].Antecedent)
	if partitionID == "" {
		return KindUnknown, false
	}

	var driveToPart []win32DiskDriveToDiskPartition
	q = fmt.Sprintf("SELECT Antecedent, Dependent FROM Win32_DiskDriveToDiskPartition WHERE Dependent = \"Win32_DiskPartition.DeviceID='%s'\"", partitionID)
	if err := wmi.Query(q, &driveToPart); err != nil || len(driveToPart) == 0 {
		return KindUnknown, false
	}

	m := physicalDriveRe.FindStringSubmatch(driveToPart[0].Antecedent)
	if m == nil {
		return KindUnknown, false
	}

	var disks []msftPhysicalDisk
	q = fmt.Sprintf("SELECT DeviceId, MediaType, BusType FROM MSFT_PhysicalDisk WHERE DeviceId = '%s'", m[1])
	if err := wmi.QueryNamespace(q, &disks, `root\Microsoft\Windows\Storage`); err != nil || len(disks) == 0 {
		return KindUnknown, false
	}

	switch disks[0].MediaType {
	case 4, 5: // SSD, storage class memory
		if disks[0].BusType == busTypeNVMe {
			return KindNVMe, true
		}
		return KindSSD, true
	case 3:
		return KindHDD, true
	default:
		return KindUnknown, false
	}
}

// extractDeviceID pulls the DeviceID value out of a WMI reference
// string such as Win32_DiskPartition.DeviceID="Disk #0, Partition #0"
func extractDeviceID(ref string) string {
	idx := strings.Index(ref, `DeviceID="`)
	if idx < 0 {
		return ""
	}
	start := idx + len(`DeviceID="`)
	end := strings.Index(ref[start:], `"`)
	if end < 0 {
		return ""
	}
	return ref[start : start+end]
}
