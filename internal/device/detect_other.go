//go:build !linux && !windows

package device

import (
	"fmt"
	"syscall"
)

func fingerprint(path string) (string, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return "", err
	}
	return fmt.Sprintf("dev-%d", st.Dev), nil
}

// No reliable storage classification on this platform; the profiler
// falls through to the conservative unknown policy.
func detectDevice(path string) (probe, error) {
	fp, err := fingerprint(path)
	if err != nil {
		return probe{}, err
	}
	return probe{deviceID: fp, kind: KindUnknown, method: "unsupported_platform"}, nil
}
