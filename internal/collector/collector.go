// Package collector reads host metrics into a best-effort snapshot.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

var (
	errNoSample       = errors.New("no cpu sample")
	errNoMemTotal     = errors.New("memory total is zero")
	errIfaceNotFound  = errors.New("interface not found")
	errNoIPv4         = errors.New("no ipv4 address")
	errCountersAbsent = errors.New("no counters for interface")
)

type Options struct {
	DeviceID   string
	DeviceKind string
	DiskPath   string
	CPUWindow  time.Duration
}

// Collector produces one snapshot per Collect call. Each source is read
// independently; a failing source leaves only its own field unknown.
type Collector struct {
	deviceID   string
	deviceKind string
	diskPath   string
	cpuWindow  time.Duration
	logger     logger.Logger

	uptime        func(context.Context) (float64, error)
	cpuPercent    func(context.Context, time.Duration) (float64, error)
	memPercent    func(context.Context) (float64, error)
	diskPercent   func(context.Context, string) (float64, error)
	loadAverage   func(context.Context) (*load.AvgStat, error)
	defaultIface  func() (string, error)
	ifaceAddrs    func(context.Context, string) (ip, mac string, err error)
	ifaceCounters func(context.Context, string) (*psnet.IOCountersStat, error)
}

// New resolves the device identity once and wires the host sources.
func New(opts Options, log logger.Logger) *Collector {
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.CPUWindow <= 0 {
		opts.CPUWindow = 500 * time.Millisecond
	}

	return &Collector{
		deviceID:      DeviceID(opts.DeviceID),
		deviceKind:    DeviceKind(opts.DeviceKind),
		diskPath:      opts.DiskPath,
		cpuWindow:     opts.CPUWindow,
		logger:        log,
		uptime:        hostUptime,
		cpuPercent:    cpuPercent,
		memPercent:    memPercent,
		diskPercent:   diskPercent,
		loadAverage:   load.AvgWithContext,
		defaultIface:  defaultInterface,
		ifaceAddrs:    interfaceAddrs,
		ifaceCounters: interfaceCounters,
	}
}

func (c *Collector) DeviceID() string { return c.deviceID }

// Collect gathers one snapshot. It never fails as a whole.
func (c *Collector) Collect(ctx context.Context) model.Snapshot {
	snap := model.Snapshot{
		DeviceID:   c.deviceID,
		DeviceKind: c.deviceKind,
	}

	var failed int

	gauge := func(field string, v float64, err error, precision float64) *float64 {
		if err != nil {
			failed++
			c.logger.Debug().Err(err).Str("field", field).Msg("Metric source unreadable")
			return nil
		}
		return model.Float(round(v, precision))
	}

	v, err := c.uptime(ctx)
	snap.UptimeSeconds = gauge("uptime_seconds", v, err, 10)

	v, err = c.cpuPercent(ctx, c.cpuWindow)
	snap.CPUPercent = gauge("cpu_percent", v, err, 100)

	v, err = c.memPercent(ctx)
	snap.MemPercent = gauge("mem_percent", v, err, 100)

	v, err = c.diskPercent(ctx, c.diskPath)
	snap.DiskPercent = gauge("disk_percent", v, err, 100)

	if avg, err := c.loadAverage(ctx); err != nil {
		failed++
		c.logger.Debug().Err(err).Str("field", "load_average").Msg("Metric source unreadable")
	} else {
		snap.LoadAverage = model.LoadAverage{
			model.Float(round(avg.Load1, 100)),
			model.Float(round(avg.Load5, 100)),
			model.Float(round(avg.Load15, 100)),
		}
	}

	snap.Network, failed = c.collectNetwork(ctx, failed)

	c.logger.Debug().Str("device_id", snap.DeviceID).Int("unreadable", failed).Msg("Collected snapshot")

	return snap
}

func (c *Collector) collectNetwork(ctx context.Context, failed int) (*model.Network, int) {
	netw := &model.Network{}

	iface, err := c.defaultIface()
	if err != nil {
		c.logger.Debug().Err(err).Str("field", "network").Msg("No usable default interface")
		return netw, failed + 1
	}
	netw.Interface = model.String(iface)

	ip, mac, err := c.ifaceAddrs(ctx, iface)
	if err != nil {
		failed++
		c.logger.Debug().Err(err).Str("interface", iface).Msg("Interface addresses unreadable")
	}
	if ip != "" {
		netw.IP = model.String(ip)
	}
	if mac != "" {
		netw.MAC = model.String(mac)
	}

	counters, err := c.ifaceCounters(ctx, iface)
	if err != nil {
		failed++
		c.logger.Debug().Err(err).Str("interface", iface).Msg("Interface counters unreadable")
		return netw, failed
	}

	netw.RxBytes = model.Uint(counters.BytesRecv)
	netw.TxBytes = model.Uint(counters.BytesSent)
	netw.RxPackets = model.Uint(counters.PacketsRecv)
	netw.TxPackets = model.Uint(counters.PacketsSent)

	return netw, failed
}

func round(v, precision float64) float64 {
	return math.Round(v*precision) / precision
}

func hostUptime(ctx context.Context) (float64, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}

	return float64(secs), nil
}

func cpuPercent(ctx context.Context, window time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errNoSample
	}

	return pct[0], nil
}

func memPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if vm.Total == 0 {
		return 0, errNoMemTotal
	}

	return (1 - float64(vm.Available)/float64(vm.Total)) * 100, nil
}

func diskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}

	return usage.UsedPercent, nil
}

func interfaceAddrs(ctx context.Context, name string) (ip, mac string, err error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", "", err
	}

	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}

		mac = iface.HardwareAddr
		ip = firstIPv4(iface.Addrs)
		if ip == "" {
			return "", mac, fmt.Errorf("%s: %w", name, errNoIPv4)
		}

		return ip, mac, nil
	}

	return "", "", fmt.Errorf("%s: %w", name, errIfaceNotFound)
}

func firstIPv4(addrs psnet.InterfaceAddrList) string {
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip != nil && ip.To4() != nil {
			return ip.String()
		}
	}

	return ""
}

func interfaceCounters(ctx context.Context, name string) (*psnet.IOCountersStat, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	for i := range stats {
		if stats[i].Name == name {
			return &stats[i], nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, errCountersAbsent)
}
