package collector

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	procNetRoute = "/proc/net/route"
	rtfUp        = 0x1
)

var errNoDefaultRoute = errors.New("no default route")

// defaultInterface returns the interface carrying the IPv4 default route.
// gopsutil exposes no routing table, so the kernel's view is read directly.
func defaultInterface() (string, error) {
	f, err := os.Open(procNetRoute)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return parseDefaultRoute(f)
}

// parseDefaultRoute picks the lowest-metric up route with destination 0.0.0.0.
func parseDefaultRoute(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)

	best := ""
	bestMetric := -1

	first := true
	for scanner.Scan() {
		if first {
			// header: Iface Destination Gateway Flags RefCnt Use Metric Mask ...
			first = false
			continue
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[1] != "00000000" || fields[7] != "00000000" {
			continue
		}

		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfUp == 0 {
			continue
		}

		metric, err := strconv.Atoi(fields[6])
		if err != nil {
			continue
		}

		if bestMetric < 0 || metric < bestMetric {
			best, bestMetric = fields[0], metric
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}
	if best == "" {
		return "", errNoDefaultRoute
	}

	return best, nil
}
