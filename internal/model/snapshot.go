// Package model holds the wire types exchanged between agents, the server and viewers.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrValidation marks a report the server refuses to apply.
var ErrValidation = errors.New("validation failed")

// Device kinds reported by agents. The server treats the value as opaque.
const (
	KindHost      = "host"
	KindContainer = "container"
)

// Snapshot is one device's self-reported state at one point in time.
// A nil pointer means the agent could not read that source; zero is a real value.
type Snapshot struct {
	DeviceID      string      `json:"device_id" yaml:"device_id"`
	DeviceKind    string      `json:"device_kind,omitempty" yaml:"device_kind,omitempty"`
	UptimeSeconds *float64    `json:"uptime_seconds" yaml:"uptime_seconds"`
	CPUPercent    *float64    `json:"cpu_percent" yaml:"cpu_percent"`
	MemPercent    *float64    `json:"mem_percent" yaml:"mem_percent"`
	DiskPercent   *float64    `json:"disk_percent" yaml:"disk_percent"`
	LoadAverage   LoadAverage `json:"load_average" yaml:"load_average"`
	Network       *Network    `json:"network" yaml:"network"`
}

// LoadAverage is the 1, 5 and 15 minute load, each independently optional.
type LoadAverage [3]*float64

// Network describes the interface carrying the default route.
type Network struct {
	Interface *string `json:"interface" yaml:"interface"`
	IP        *string `json:"ip" yaml:"ip"`
	MAC       *string `json:"mac" yaml:"mac"`
	RxBytes   *uint64 `json:"rx_bytes" yaml:"rx_bytes"`
	TxBytes   *uint64 `json:"tx_bytes" yaml:"tx_bytes"`
	RxPackets *uint64 `json:"rx_packets" yaml:"rx_packets"`
	TxPackets *uint64 `json:"tx_packets" yaml:"tx_packets"`
}

// UnmarshalJSON accepts counters written as whole-valued floats (100.0, 1e3),
// which agents built on float-only JSON encoders produce.
func (n *Network) UnmarshalJSON(data []byte) error {
	type plain Network

	aux := struct {
		*plain
		RxBytes   *json.Number `json:"rx_bytes"`
		TxBytes   *json.Number `json:"tx_bytes"`
		RxPackets *json.Number `json:"rx_packets"`
		TxPackets *json.Number `json:"tx_packets"`
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if n.RxBytes, err = counter("rx_bytes", aux.RxBytes); err != nil {
		return err
	}
	if n.TxBytes, err = counter("tx_bytes", aux.TxBytes); err != nil {
		return err
	}
	if n.RxPackets, err = counter("rx_packets", aux.RxPackets); err != nil {
		return err
	}
	if n.TxPackets, err = counter("tx_packets", aux.TxPackets); err != nil {
		return err
	}

	return nil
}

// counter converts a JSON number to a non-negative whole count. nil stays unknown.
func counter(field string, num *json.Number) (*uint64, error) {
	if num == nil {
		return nil, nil
	}

	if v, err := strconv.ParseUint(num.String(), 10, 64); err == nil {
		return &v, nil
	}

	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return nil, fmt.Errorf("%s: %q is not a whole non-negative count", field, num.String())
	}

	v := uint64(f)

	return &v, nil
}

// ValidationError describes why a report was refused. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Field)
}

func (*ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks the fields the server requires. Everything but device_id is optional.
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.DeviceID) == "" {
		return &ValidationError{Field: "device_id", Reason: "missing field"}
	}

	return nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Uint returns a pointer to v.
func Uint(v uint64) *uint64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
