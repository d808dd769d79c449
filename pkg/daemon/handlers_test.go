package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/metrics"
	"github.com/charlie0129/dualbatt/pkg/sim"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*server, *sim.Board) {
	t.Helper()
	conf := config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "config.json"))
	b := sim.NewBoard()
	hub := events.NewEventHub()
	ctrl, err := controller.New(controller.Options{
		Policy:      conf.Policy(),
		BaseSupport: true,
		Charger:     b.Charger,
		Base:        b.Base,
		Port:        b.Port,
		Host:        b.Host,
		LidGauge:    b.Gauge,
		Adapter:     b.Adapter,
		Publisher:   hub,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	return &server{
		conf:    conf,
		ctrl:    ctrl,
		loop:    NewLoop(ctrl, conf, m, b.Host, b.Gauge, b.Port),
		hub:     hub,
		metrics: m,
	}, b
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetConfig(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, setupRoutes(s), http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var raw config.RawFileConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if raw.LoopIntervalMs == nil || *raw.LoopIntervalMs != 1000 {
		t.Errorf("loopIntervalMs = %v", raw.LoopIntervalMs)
	}
	if raw.Policy == nil || raw.Policy.OTGVoltage == nil {
		t.Error("effective policy missing")
	}
}

func TestTickAndStatus(t *testing.T) {
	s, _ := newTestServer(t)
	h := setupRoutes(s)

	rec := do(t, h, http.MethodPost, "/tick", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tick code = %d: %s", rec.Code, rec.Body)
	}
	var r controller.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Decision.BaseCurrentMA != 65 || r.Decision.LidCurrentMA != 2935 {
		t.Errorf("decision = %+v", r.Decision)
	}

	rec = do(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st["ac"] != true || st["baseConnected"] != true {
		t.Errorf("status = %v", st)
	}
}

func TestGetBase(t *testing.T) {
	s, b := newTestServer(t)
	h := setupRoutes(s)
	do(t, h, http.MethodPost, "/tick", "")

	rec := do(t, h, http.MethodGet, "/base", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var info controller.BaseInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.ChargePercent != 50 {
		t.Errorf("chargePercent = %d", info.ChargePercent)
	}

	b.Port.SetAttached(false)
	do(t, h, http.MethodPost, "/tick", "")
	if rec := do(t, h, http.MethodGet, "/base", ""); rec.Code != http.StatusNotFound {
		t.Errorf("detached code = %d, want 404", rec.Code)
	}
}

func TestManualOverrides(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		check    func(t *testing.T, st controller.Status)
	}{
		{
			name:     "charge",
			path:     "/manual/charge",
			body:     `"1500"`,
			wantCode: http.StatusCreated,
			check: func(t *testing.T, st controller.Status) {
				if st.State.ManualACCurrentBase == nil || *st.State.ManualACCurrentBase != 1500 {
					t.Errorf("manual AC current = %v", st.State.ManualACCurrentBase)
				}
			},
		},
		{
			name:     "discharge negative",
			path:     "/manual/discharge",
			body:     `"-300"`,
			wantCode: http.StatusCreated,
			check: func(t *testing.T, st controller.Status) {
				if st.State.ManualNoAC == nil || *st.State.ManualNoAC != -300 {
					t.Errorf("manual no-AC current = %v", st.State.ManualNoAC)
				}
			},
		},
		{
			name:     "auto",
			path:     "/manual/charge",
			body:     `"auto"`,
			wantCode: http.StatusCreated,
			check: func(t *testing.T, st controller.Status) {
				if st.State.ManualACCurrentBase != nil {
					t.Error("override not removed")
				}
			},
		},
		{
			name:     "negative charge",
			path:     "/manual/charge",
			body:     `"-1"`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "garbage",
			path:     "/manual/discharge",
			body:     `"lots"`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "not a string",
			path:     "/manual/charge",
			body:     `{`,
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			rec := do(t, setupRoutes(s), http.MethodPut, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.check != nil {
				tt.check(t, s.ctrl.Status())
				if len(s.loop.trigger) != 1 {
					t.Error("override did not trigger a tick")
				}
			}
		})
	}
}

func TestMetricsAndVersion(t *testing.T) {
	s, _ := newTestServer(t)
	h := setupRoutes(s)
	if _, err := s.loop.tick(); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "dualbatt_ticks_total 1") {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/version", "")
	if rec.Code != http.StatusOK {
		t.Errorf("version code = %d", rec.Code)
	}
}

func TestStreamEvents(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(setupRoutes(s))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Wait until the handler has subscribed.
	for s.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("no subscriber")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, err := s.ctrl.Tick(false); err != nil {
		t.Fatal(err)
	}

	out := make(chan events.Event, 8)
	go func() { _ = events.ReadSSE(ctx, bufio.NewReader(resp.Body), out) }()
	for {
		select {
		case <-ctx.Done():
			t.Fatal("no allocation.changed event")
		case ev := <-out:
			if ev.Name != events.AllocationChanged {
				continue
			}
			p, err := events.DecodeAs[events.AllocationChangedEvent](ev)
			if err != nil {
				t.Fatal(err)
			}
			if p.BaseCurrent != 65 || p.LidCurrent != 2935 {
				t.Errorf("payload = %+v", p)
			}
			return
		}
	}
}
