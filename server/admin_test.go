package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arenasync/transport"
	"arenasync/transport/transporttest"
)

func newTestAdmin(t *testing.T, withLossy bool) (*Admin, *Room, *transport.LossyConn) {
	t.Helper()
	room, _ := newTestRoom(Options{Threshold: 64})
	var lossy *transport.LossyConn
	if withLossy {
		conn, err := transporttest.NewMemNetwork().Listen("server")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		lossy = transport.NewLossyConn(conn, transport.LossProfile{}, 1)
	}
	return NewAdmin(room, &transport.Stats{}, lossy), room, lossy
}

func TestAdminConfigRoundTrip(t *testing.T) {
	admin, room, lossy := newTestAdmin(t, true)
	mux := http.NewServeMux()
	admin.Routes(mux)

	body := `{"compactionThreshold":8,"maxInputsPerTick":3,"simulateDropProb":0.25,"simulateDelayMinMs":10,"simulateDelayMaxMs":30}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/config", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if room.Replication().Threshold() != 8 {
		t.Fatalf("expected threshold 8, got %d", room.Replication().Threshold())
	}
	if room.MaxInputsPerTick() != 3 {
		t.Fatalf("expected max inputs per tick 3, got %d", room.MaxInputsPerTick())
	}
	p := lossy.Profile()
	if p.DropProb != 0.25 || p.DelayMin != 10*time.Millisecond || p.DelayMax != 30*time.Millisecond {
		t.Fatalf("unexpected loss profile %+v", p)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/config", nil))
	var got adminConfig
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CompactionThreshold == nil || *got.CompactionThreshold != 8 {
		t.Fatalf("expected threshold 8 reported, got %+v", got)
	}
	if got.SimulateDelayMaxMs == nil || *got.SimulateDelayMaxMs != 30 {
		t.Fatalf("expected delay max 30 reported, got %+v", got)
	}
}

func TestAdminRejectsInvalidConfig(t *testing.T) {
	admin, _, _ := newTestAdmin(t, false)
	cases := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodPost, `{`, http.StatusBadRequest},
		{http.MethodPost, `{"compactionThreshold":0}`, http.StatusBadRequest},
		{http.MethodPost, `{"simulateDropProb":0.5}`, http.StatusConflict},
		{http.MethodDelete, ``, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		admin.HandleConfig(rec, httptest.NewRequest(tc.method, "/admin/config", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Fatalf("%s %q: expected %d, got %d", tc.method, tc.body, tc.want, rec.Code)
		}
	}
}

func TestAdminMetrics(t *testing.T) {
	admin, room, _ := newTestAdmin(t, true)
	rec := httptest.NewRecorder()
	admin.HandleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["room"] != room.ID {
		t.Fatalf("expected room id %s, got %v", room.ID, payload["room"])
	}
	for _, key := range []string{"metrics", "replication", "transport", "simulated"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %q in metrics payload", key)
		}
	}
}
