package collector

import (
	"os"
	"strings"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

var (
	machineIDPaths   = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}
	initCgroupPath   = "/proc/1/cgroup"
)

// DeviceID returns override when set, otherwise an id derived from the
// machine id, falling back to the hostname. The result is stable across restarts.
func DeviceID(override string) string {
	return deviceIDFrom(override, machineIDPaths, os.Hostname)
}

func deviceIDFrom(override string, paths []string, hostname func() (string, error)) string {
	if id := strings.TrimSpace(override); id != "" {
		return id
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		mid := strings.TrimSpace(string(data))
		if mid == "" {
			continue
		}
		if len(mid) > 12 {
			mid = mid[:12]
		}

		return "dev-" + mid
	}

	if name, err := hostname(); err == nil && name != "" {
		return name
	}

	return "unknown"
}

// DeviceKind returns override when set, otherwise "container" or "host".
func DeviceKind(override string) string {
	return deviceKindFrom(override, containerMarkers, initCgroupPath)
}

func deviceKindFrom(override string, markers []string, cgroupPath string) string {
	if kind := strings.TrimSpace(override); kind != "" {
		return kind
	}

	for _, m := range markers {
		if _, err := os.Stat(m); err == nil {
			return model.KindContainer
		}
	}

	if data, err := os.ReadFile(cgroupPath); err == nil {
		cg := string(data)
		for _, hint := range []string{"docker", "kubepods", "containerd", "libpod"} {
			if strings.Contains(cg, hint) {
				return model.KindContainer
			}
		}
	}

	return model.KindHost
}
