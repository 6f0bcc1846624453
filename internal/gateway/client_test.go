package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
)

func testClient() *Client {
	return New(config.GatewayConfig{
		RequestTimeout:    5000,
		HomeProbeTimeout:  2000,
		CloudProbeTimeout: 4000,
	})
}

func TestListStates(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %s, want /api/states", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]EntityState{ //nolint:errcheck
			{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"brightness": 200.0}},
			{EntityID: "sensor.hall", State: "21.5"},
		})
	}))
	defer srv.Close()

	states, err := testClient().ListStates(context.Background(), Target{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states[0].EntityID != "light.kitchen" || states[0].State != "on" {
		t.Errorf("states[0] = %+v", states[0])
	}
}

func TestListStates_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient().ListStates(context.Background(), Target{BaseURL: srv.URL})
	if err == nil {
		t.Fatal("ListStates() error = nil, want HTTP error")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error type = %T, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Error(), "invalid token") {
		t.Errorf("error %q does not include response body", httpErr.Error())
	}
}

func TestGetState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/media_player.living" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EntityState{EntityID: "media_player.living", State: "playing"}) //nolint:errcheck
	}))
	defer srv.Close()

	state, err := testClient().GetState(context.Background(), Target{BaseURL: srv.URL}, "media_player.living")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.State != "playing" {
		t.Errorf("State = %q, want playing", state.State)
	}
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient().CallService(context.Background(), Target{BaseURL: srv.URL},
		"light", "turn_on", map[string]any{"entity_id": "light.kitchen", "brightness_pct": 75})
	if err != nil {
		t.Fatalf("CallService() error = %v", err)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Errorf("path = %s, want /api/services/light/turn_on", gotPath)
	}
	if gotBody["entity_id"] != "light.kitchen" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestCallService_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient().CallService(context.Background(), Target{BaseURL: srv.URL},
		"light", "turn_on", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("CallService() error = %v, want HTTP 400 error", err)
	}
}

func TestRenderMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/template" {
			t.Errorf("path = %s, want /api/template", r.URL.Path)
		}
		var req templateRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		if !strings.Contains(req.Template, "area_name") {
			t.Errorf("template does not query area_name: %q", req.Template)
		}
		// The server replies with the rendered template as plain text.
		w.Write([]byte(`[{"entity_id": "light.kitchen", "area": "Kitchen", "labels": ["ceiling"], "device_id": "dev1"},` + //nolint:errcheck
			`{"entity_id": "sensor.hall", "area": "", "labels": [], "device_id": ""}]`))
	}))
	defer srv.Close()

	metas, err := testClient().RenderMetadata(context.Background(), Target{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("RenderMetadata() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas) = %d, want 2", len(metas))
	}
	kitchen := metas["light.kitchen"]
	if kitchen.Area != "Kitchen" || kitchen.DeviceID != "dev1" || len(kitchen.Labels) != 1 {
		t.Errorf("metas[light.kitchen] = %+v", kitchen)
	}
}

func TestProbe(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	errSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer errSrv.Close()

	c := testClient()
	ctx := context.Background()

	if !c.Probe(ctx, Target{BaseURL: okSrv.URL}, 2*time.Second) {
		t.Error("Probe() = false for healthy server")
	}

	// Any HTTP response counts as reachable, even an error status.
	if !c.Probe(ctx, Target{BaseURL: errSrv.URL}, 2*time.Second) {
		t.Error("Probe() = false for server answering 401, want true")
	}

	// A closed port is a transport failure.
	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()
	if c.Probe(ctx, Target{BaseURL: closedURL}, 500*time.Millisecond) {
		t.Error("Probe() = true for closed port, want false")
	}
}

func TestAnnotateNetworkError(t *testing.T) {
	base := errors.New("dial tcp: lookup failed")

	tests := []struct {
		name    string
		baseURL string
		want    []string
	}{
		{"mdns host", "http://homeassistant.local:8123", []string{".local", "unencrypted"}},
		{"plain http ip", "http://192.168.1.10:8123", []string{"unencrypted"}},
		{"https public host", "https://relay.example.com", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := annotateNetworkError("fetching states", tt.baseURL, base)
			if !errors.Is(err, ErrUnreachable) {
				t.Errorf("annotated error does not match ErrUnreachable: %v", err)
			}
			for _, frag := range tt.want {
				if !strings.Contains(err.Error(), frag) {
					t.Errorf("error %q missing hint fragment %q", err.Error(), frag)
				}
			}
			if tt.want == nil && strings.Contains(err.Error(), "(") {
				t.Errorf("error %q has unexpected hint", err.Error())
			}
		})
	}
}

func TestTimeoutCancelsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := New(config.GatewayConfig{RequestTimeout: 100, HomeProbeTimeout: 100, CloudProbeTimeout: 100})

	start := time.Now()
	_, err := c.ListStates(context.Background(), Target{BaseURL: srv.URL})
	if err == nil {
		t.Fatal("ListStates() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request not aborted by timeout, took %v", elapsed)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("timeout error = %v, want ErrUnreachable", err)
	}
}
