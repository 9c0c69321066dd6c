package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

// Formatter renders a device listing for the terminal.
type Formatter interface {
	Format(listing model.Listing) (string, error)
}

// NewFormatter returns a Formatter for "table" (default), "json" or "yaml".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return tableFormatter{}, nil
	case "json":
		return jsonFormatter{}, nil
	case "yaml", "yml":
		return yamlFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

type tableFormatter struct{}

func (tableFormatter) Format(listing model.Listing) (string, error) {
	if len(listing.Devices) == 0 {
		return "No devices found.\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "DEVICE\tKIND\tSTATUS\tCPU%\tMEM%\tDISK%\tLOAD\tIP\tLAST SEEN")
	for _, d := range listing.Devices {
		kind := d.DeviceKind
		if kind == "" {
			kind = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeviceID,
			kind,
			d.Status,
			percent(d.CPUPercent),
			percent(d.MemPercent),
			percent(d.DiskPercent),
			loadAverage(d.LoadAverage),
			address(d.Network),
			d.LastSeenAgo,
		)
	}

	if err := w.Flush(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

type jsonFormatter struct{}

func (jsonFormatter) Format(listing model.Listing) (string, error) {
	b, err := json.MarshalIndent(listing, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting JSON: %w", err)
	}

	return string(b) + "\n", nil
}

type yamlFormatter struct{}

func (yamlFormatter) Format(listing model.Listing) (string, error) {
	b, err := yaml.Marshal(listing)
	if err != nil {
		return "", fmt.Errorf("formatting YAML: %w", err)
	}

	return string(b), nil
}

func percent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *p)
}

func loadAverage(l model.LoadAverage) string {
	parts := make([]string, 0, len(l))
	for _, v := range l {
		if v == nil {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, fmt.Sprintf("%.2f", *v))
	}
	return strings.Join(parts, "/")
}

func address(n *model.Network) string {
	if n == nil || n.IP == nil {
		return "-"
	}
	if n.Interface != nil {
		return fmt.Sprintf("%s (%s)", *n.IP, *n.Interface)
	}
	return *n.IP
}
