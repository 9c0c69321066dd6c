package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/registry"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

func newTestServer(t *testing.T, opts Options) (*Server, *registry.Registry, *fakeClock) {
	t.Helper()

	if opts.Interval == 0 {
		opts.Interval = 10 * time.Second
	}

	log := logger.NewTestLogger()
	reg := registry.New(log)
	srv := New(reg, opts, log)
	clock := &fakeClock{now: epoch}
	srv.now = clock.Now

	return srv, reg, clock
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func listDevices(t *testing.T, h http.Handler) model.Listing {
	t.Helper()

	rec := do(t, h, http.MethodGet, "/devices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var listing model.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))

	return listing
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReportRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()

	sent := model.Snapshot{
		DeviceID:      "dev-0123456789ab",
		DeviceKind:    model.KindContainer,
		UptimeSeconds: model.Float(3600.5),
		CPUPercent:    model.Float(0),
		MemPercent:    model.Float(55.25),
		LoadAverage:   model.LoadAverage{model.Float(0.1), nil, model.Float(0.3)},
		Network: &model.Network{
			Interface: model.String("eth0"),
			IP:        model.String("10.0.0.7"),
			RxBytes:   model.Uint(1 << 40),
			TxBytes:   model.Uint(0),
			RxPackets: model.Uint(7),
		},
	}
	body, err := json.Marshal(sent)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/metrics", string(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	listing := listDevices(t, h)
	require.Len(t, listing.Devices, 1)

	got := listing.Devices[0]
	assert.Equal(t, sent, got.Snapshot)
	assert.Equal(t, model.StatusOnline, got.Status)
	assert.True(t, got.Online)
	assert.Equal(t, epoch.Unix(), got.LastSeen)
	assert.Equal(t, epoch.Unix(), listing.Now)
	assert.Equal(t, "0s ago", got.LastSeenAgo)
}

func TestReportRejectsMissingDeviceID(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})
	h := srv.Handler()

	reg.Upsert("existing", model.Snapshot{DeviceID: "existing"}, epoch)
	before := reg.Len()

	for _, body := range []string{`{}`, `{"device_id":""}`, `{"cpu_percent":5}`, `null`} {
		rec := do(t, h, http.MethodPost, "/metrics", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"missing field: device_id"}`, rec.Body.String(), body)
	}

	assert.Equal(t, before, reg.Len())
}

func TestReportRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})
	h := srv.Handler()

	for _, body := range []string{``, `{"device_id":`, `[]`, `{"device_id": 12}`, `{"cpu_percent":"high","device_id":"D1"}`} {
		rec := do(t, h, http.MethodPost, "/metrics", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"invalid JSON"}`, rec.Body.String(), body)
	}

	assert.Zero(t, reg.Len())
}

func TestReportRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{MaxBodyBytes: 64})

	body := fmt.Sprintf(`{"device_id":"D1","device_kind":"%s"}`, strings.Repeat("x", 128))
	rec := do(t, srv.Handler(), http.MethodPost, "/metrics", body, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"payload too large"}`, rec.Body.String())
	assert.Zero(t, reg.Len())
}

func TestReportAcceptsWholeFloatCounters(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})
	h := srv.Handler()

	for id, body := range map[string]string{
		"G": `{"device_id":"G","network":{"rx_bytes":100.0}}`,
		"F": `{"device_id":"F","network":{"rx_bytes":1.0e3,"tx_packets":7}}`,
	} {
		rec := do(t, h, http.MethodPost, "/metrics", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, body)

		_, ok := reg.Get(id)
		assert.True(t, ok, id)
	}

	g, _ := reg.Get("G")
	assert.Equal(t, uint64(100), *g.Snapshot.Network.RxBytes)

	f, _ := reg.Get("F")
	assert.Equal(t, uint64(1000), *f.Snapshot.Network.RxBytes)
	assert.Equal(t, uint64(7), *f.Snapshot.Network.TxPackets)
}

func TestReportRejectsTrailingData(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})
	h := srv.Handler()

	for _, body := range []string{`{"device_id":"T"} trailing`, `{"device_id":"T"}{"device_id":"U"}`} {
		rec := do(t, h, http.MethodPost, "/metrics", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"invalid JSON"}`, rec.Body.String(), body)
	}
	assert.Zero(t, reg.Len())

	rec := do(t, h, http.MethodPost, "/metrics", "{\"device_id\":\"T\"}\n", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "trailing whitespace is fine")
}

func TestReportIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/metrics",
		`{"device_id":"legacy","ts":1700000000,"interval":10,"cpu_percent":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	e, ok := reg.Get("legacy")
	require.True(t, ok)
	assert.Equal(t, epoch, e.LastSeen, "last_seen comes from the server clock")
}

func TestWrongMethod(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFollowsClock(t *testing.T) {
	t.Parallel()

	srv, _, clock := newTestServer(t, Options{Interval: 10 * time.Second})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/metrics", `{"device_id":"D1","cpu_percent":42}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	clock.Set(epoch.Add(5 * time.Second))
	listing := listDevices(t, h)
	require.Len(t, listing.Devices, 1)
	assert.Equal(t, model.StatusOnline, listing.Devices[0].Status)
	assert.InDelta(t, 42, *listing.Devices[0].CPUPercent, 1e-9)

	clock.Set(epoch.Add(20 * time.Second))
	assert.Equal(t, model.StatusOnline, listDevices(t, h).Devices[0].Status)

	clock.Set(epoch.Add(25 * time.Second))
	listing = listDevices(t, h)
	assert.Equal(t, model.StatusOffline, listing.Devices[0].Status)
	assert.False(t, listing.Devices[0].Online)
	assert.InDelta(t, 42, *listing.Devices[0].CPUPercent, 1e-9)
	assert.Equal(t, "25s ago", listing.Devices[0].LastSeenAgo)
}

func TestSecondReportReplacesFields(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()

	do(t, h, http.MethodPost, "/metrics", `{"device_id":"D1","cpu_percent":42,"mem_percent":10,"network":{"interface":"eth0"}}`, nil)
	do(t, h, http.MethodPost, "/metrics", `{"device_id":"D1","cpu_percent":43}`, nil)

	listing := listDevices(t, h)
	require.Len(t, listing.Devices, 1)
	assert.InDelta(t, 43, *listing.Devices[0].CPUPercent, 1e-9)
	assert.Nil(t, listing.Devices[0].MemPercent)
	assert.Nil(t, listing.Devices[0].Network)
}

func TestListingSortedAndStable(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()

	for _, id := range []string{"node-c", "node-a", "node-b"} {
		do(t, h, http.MethodPost, "/metrics", fmt.Sprintf(`{"device_id":%q}`, id), nil)
	}

	first := listDevices(t, h)
	ids := make([]string, 0, len(first.Devices))
	for _, d := range first.Devices {
		ids = append(ids, d.DeviceID)
	}
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, ids)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, listDevices(t, h))
	}
}

func TestConcurrentReports(t *testing.T) {
	t.Parallel()

	const n = 64

	srv, reg, _ := newTestServer(t, Options{})
	h := srv.Handler()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"device_id":"dev-%02d","cpu_percent":%d}`, i, i)
			rec := do(t, h, http.MethodPost, "/metrics", body, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, reg.Len())

	listing := listDevices(t, h)
	require.Len(t, listing.Devices, n)
	for i, d := range listing.Devices {
		assert.Equal(t, fmt.Sprintf("dev-%02d", i), d.DeviceID)
		assert.InDelta(t, float64(i), *d.CPUPercent, 1e-9)
	}
}

func TestViewerToken(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{ViewerToken: "s3cret"})
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/devices", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodGet, "/devices", "", http.Header{"Authorization": {"Bearer wrong"}}).Code)
	assert.Equal(t, http.StatusOK,
		do(t, h, http.MethodGet, "/devices", "", http.Header{"Authorization": {"Bearer s3cret"}}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/devices?token=s3cret", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodGet, "/devices", "", http.Header{"Authorization": {"s3cret"}}).Code,
		"the header needs the Bearer scheme")

	// agents and probes are never challenged
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/metrics", `{"device_id":"D1"}`, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	rec = do(t, h, http.MethodGet, "/health", "", http.Header{requestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t, Options{})

	h := withRequestID(srv.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := do(t, h, http.MethodPost, "/metrics", `{"device_id":"D1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.Zero(t, reg.Len())
}

func TestWebSocketPushesListings(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	readListing := func() model.Listing {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var l model.Listing
		require.NoError(t, json.Unmarshal(data, &l))

		return l
	}

	initial := readListing()
	assert.Equal(t, messageDevices, initial.Type)
	assert.Empty(t, initial.Devices)

	require.Eventually(t, func() bool { return srv.hub.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err := http.Post(ts.URL+"/metrics", "application/json", bytes.NewBufferString(`{"device_id":"D1","cpu_percent":1}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	pushed := readListing()
	require.Len(t, pushed.Devices, 1)
	assert.Equal(t, "D1", pushed.Devices[0].DeviceID)
	assert.Equal(t, model.StatusOnline, pushed.Devices[0].Status)
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(stopped)
	}()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	cancel()
	<-stopped

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
