// Package reporter delivers snapshots to the collector server.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

const ingestPath = "/metrics"

var (
	// ErrTransport wraps every delivery failure: dial errors, timeouts and rejected responses.
	ErrTransport = errors.New("transport error")
	// ErrUnexpectedStatus is returned alongside ErrTransport for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Stats counts delivery outcomes since start.
type Stats struct {
	Sent   uint64
	Failed uint64
}

type Reporter struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  logger.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

// New targets <serverURL>/metrics. Every request is bounded by timeout.
func New(serverURL string, timeout time.Duration, log logger.Logger) *Reporter {
	return &Reporter{
		url:     strings.TrimRight(serverURL, "/") + ingestPath,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  log,
	}
}

func (r *Reporter) URL() string { return r.url }

func (r *Reporter) Stats() Stats {
	return Stats{Sent: r.sent.Load(), Failed: r.failed.Load()}
}

// Report sends one snapshot. Failures are logged and counted, then returned
// for the caller to inspect; nothing is retried here.
func (r *Reporter) Report(ctx context.Context, snap model.Snapshot) error {
	err := r.send(ctx, snap)
	if err != nil {
		n := r.failed.Add(1)
		r.logger.Warn().Err(err).Str("url", r.url).Uint64("failures", n).Msg("Report failed, will retry next tick")
		return err
	}

	r.sent.Add(1)
	r.logger.Info().
		Str("device_id", snap.DeviceID).
		Interface("cpu_percent", snap.CPUPercent).
		Interface("mem_percent", snap.MemPercent).
		Msg("Report sent")

	return nil
}

func (r *Reporter) send(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %w %d: %s", ErrTransport, ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return nil
}
