// Package viewer is the live terminal dashboard behind `fleetctl watch`.
// It follows the server's websocket feed and falls back to polling
// GET /devices while the feed is unavailable.
package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/client"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

const (
	pollInterval = 2 * time.Second
	defaultWidth = 100
	gaugeWidth   = 10
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true).PaddingLeft(1)
)

type mode int

const (
	modeConnecting mode = iota
	modeLive
	modePolling
)

func (m mode) String() string {
	switch m {
	case modeLive:
		return "live"
	case modePolling:
		return "polling"
	default:
		return "connecting"
	}
}

type (
	listingMsg     model.Listing
	pushedMsg      model.Listing
	errMsg         struct{ err error }
	tickMsg        time.Time
	connectedMsg   struct{ updates <-chan model.Listing }
	watchFailedMsg struct{ err error }
	disconnectMsg  struct{}
)

// Model is the bubbletea model for the dashboard.
type Model struct {
	ctx       context.Context
	api       client.API
	serverURL string

	mode       mode
	updates    <-chan model.Listing
	listing    model.Listing
	lastUpdate time.Time
	err        error
	width      int
}

func New(ctx context.Context, api client.API, serverURL string) Model {
	return Model{
		ctx:       ctx,
		api:       api,
		serverURL: serverURL,
		width:     defaultWidth,
	}
}

func (m Model) Init() tea.Cmd {
	return m.connect()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
		return m, nil

	case connectedMsg:
		if m.mode == modeLive {
			return m, nil
		}
		m.mode = modeLive
		m.updates = msg.updates
		m.err = nil
		return m, waitForListing(msg.updates)

	case watchFailedMsg:
		if m.mode == modePolling {
			return m, nil
		}
		m.mode = modePolling
		m.err = msg.err
		return m, tea.Batch(m.fetch(), tick())

	case disconnectMsg:
		m.updates = nil
		m.mode = modePolling
		return m, tea.Batch(m.fetch(), tick())

	case tickMsg:
		if m.mode != modePolling {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), m.connect(), tick())

	case pushedMsg:
		m.listing = model.Listing(msg)
		m.lastUpdate = time.Now()
		return m, waitForListing(m.updates)

	case listingMsg:
		m.listing = model.Listing(msg)
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) connect() tea.Cmd {
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		updates, err := api.Watch(ctx)
		if err != nil {
			return watchFailedMsg{err: err}
		}
		return connectedMsg{updates: updates}
	}
}

func (m Model) fetch() tea.Cmd {
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		listing, err := api.ListDevices(ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return listingMsg(listing)
	}
}

func waitForListing(updates <-chan model.Listing) tea.Cmd {
	return func() tea.Msg {
		listing, ok := <-updates
		if !ok {
			return disconnectMsg{}
		}
		return pushedMsg(listing)
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("fleetdash devices"))
	sb.WriteString("\n\n")
	sb.WriteString(renderDevices(m.listing.Devices))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())

	return sb.String()
}

func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	online := 0
	for _, d := range m.listing.Devices {
		if d.Online {
			online++
		}
	}

	parts := []string{
		fmt.Sprintf("server: %s", m.serverURL),
		m.mode.String(),
		fmt.Sprintf("%d/%d online", online, len(m.listing.Devices)),
	}
	if !m.lastUpdate.IsZero() {
		parts = append(parts, "updated "+m.lastUpdate.Format("15:04:05"))
	}
	parts = append(parts, "q: quit  r: refresh")

	return statusStyle.Render(strings.Join(parts, "  │  "))
}

var columns = []string{"DEVICE", "KIND", "STATUS", "CPU", "MEM", "DISK", "LOAD", "IP", "LAST SEEN"}

func renderDevices(devices []model.DeviceView) string {
	if len(devices) == 0 {
		return dimStyle.Render("  No devices have reported yet.")
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{
			d.DeviceID,
			orDash(d.DeviceKind),
			string(d.Status),
			gauge(d.CPUPercent),
			gauge(d.MemPercent),
			gauge(d.DiskPercent),
			load(d.LoadAverage),
			ip(d.Network),
			d.LastSeenAgo,
		})
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = pad(c, widths[i])
	}
	sb.WriteString(headerStyle.Render(strings.Join(header, "  ")))
	sb.WriteString("\n")

	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(cell, widths[i])
		}

		// pad first so colour codes do not skew alignment
		if devices[r].Status == model.StatusOnline {
			cells[2] = onlineStyle.Render(cells[2])
		} else {
			cells[2] = offStyle.Render(cells[2])
		}

		sb.WriteString(strings.Join(cells, "  "))
		sb.WriteString("\n")
	}

	return sb.String()
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// gauge renders a percentage as a bar plus value, or "-" when unknown.
func gauge(p *float64) string {
	if p == nil {
		return "-"
	}

	v := *p
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}

	filled := int(v/100*gaugeWidth + 0.5)

	return fmt.Sprintf("%s%s %5.1f%%", strings.Repeat("█", filled), strings.Repeat("░", gaugeWidth-filled), *p)
}

func load(l model.LoadAverage) string {
	parts := make([]string, len(l))
	for i, v := range l {
		if v == nil {
			parts[i] = "-"
			continue
		}
		parts[i] = fmt.Sprintf("%.2f", *v)
	}
	return strings.Join(parts, " ")
}

func ip(n *model.Network) string {
	if n == nil || n.IP == nil {
		return "-"
	}
	return *n.IP
}
