package baselink

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/dualbatt/internal/client"
	"github.com/charlie0129/dualbatt/pkg/sim"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	// Socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "baselink")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "base.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return path
}

func TestClientRoundTrip(t *testing.T) {
	base := sim.NewBase(nil)
	c := NewClient(serveUnix(t, Handler(base, nil)), 0)

	if err := c.SetChargeControl(-3206, 12000, false); err != nil {
		t.Fatalf("SetChargeControl: %v", err)
	}
	if base.CurrentMA != -3206 || base.VoltageMV != 12000 || base.AllowCharge {
		t.Errorf("base got %d mA %d mV allow=%v", base.CurrentMA, base.VoltageMV, base.AllowCharge)
	}

	info, err := c.DynamicInfo()
	if err != nil {
		t.Fatalf("DynamicInfo: %v", err)
	}
	if info != base.Info {
		t.Errorf("dynamic info = %+v, want %+v", info, base.Info)
	}
	if !info.Flags.Has(telemetry.Present) {
		t.Error("present flag lost")
	}

	static, err := c.StaticInfo()
	if err != nil {
		t.Fatalf("StaticInfo: %v", err)
	}
	if static.Model != "BASE-1" || static.DesignCapacityMAh != 2000 {
		t.Errorf("static info = %+v", static)
	}

	if err := c.Hibernate(); err != nil {
		t.Fatalf("Hibernate: %v", err)
	}
	if !base.Hibernated {
		t.Error("base not hibernated")
	}
}

func TestClientBaseFailure(t *testing.T) {
	base := sim.NewBase(nil)
	base.SetFail(errors.New("battery not responding"))
	c := NewClient(serveUnix(t, Handler(base, nil)), 0)

	err := c.SetChargeControl(100, 0, true)
	var se *client.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want a 503 status error", err)
	}
	if _, err := c.DynamicInfo(); err == nil {
		t.Error("expected an error")
	}
}

func TestClientBaseAbsent(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"), 0)
	if err := c.SetChargeControl(100, 0, true); !errors.Is(err, client.ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestHandlerRejectsBadBody(t *testing.T) {
	h := Handler(sim.NewBase(nil), nil)
	req := httptest.NewRequest(http.MethodPut, "/charge-control", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestPort(t *testing.T) {
	simPort := sim.NewPort(nil, true)
	path := serveUnix(t, Handler(sim.NewBase(nil), simPort))
	p := NewPort(path, 0)

	if !p.Attached() {
		t.Error("Attached() = false, want true")
	}
	simPort.SetAttached(false)
	if p.Attached() {
		t.Error("Attached() = true after detach")
	}

	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if simPort.Resets() != 1 {
		t.Errorf("resets = %d, want 1", simPort.Resets())
	}

	if err := p.EnablePower(true); err != nil {
		t.Fatalf("EnablePower: %v", err)
	}
	if !simPort.Powered() {
		t.Error("port not powered")
	}
}

func TestPortAbsent(t *testing.T) {
	p := NewPort(filepath.Join(t.TempDir(), "missing.sock"), 0)
	if p.Attached() {
		t.Error("a missing socket must read as detached")
	}
	if err := p.Reset(); !errors.Is(err, client.ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}
