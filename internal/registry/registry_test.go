package registry_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/registry"
	"mediaflow/internal/workflow"
)

func TestStaticLookupFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Services["radarr"] = config.Service{Host: "media.lan", APIPort: 7878, HealthEndpoint: "/api/v3/health", APIKey: "k"}
	reg := registry.NewStatic(&cfg)

	endpoint, ok := reg.Lookup(" Radarr ")
	if !ok {
		t.Fatal("expected radarr registered")
	}
	if got := endpoint.URL("api/v3/movie"); got != "http://media.lan:7878/api/v3/movie" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := endpoint.HealthURL(); got != "http://media.lan:7878/api/v3/health" {
		t.Fatalf("unexpected health url %q", got)
	}
	if _, ok := reg.Lookup("plex"); ok {
		t.Fatal("expected plex unregistered")
	}
	if names := reg.Names(); len(names) != len(cfg.Services) || names[0] != "jellyfin" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestEndpointKeepsExplicitScheme(t *testing.T) {
	endpoint := registry.Endpoint{Host: "https://seedbox.example/", APIPort: 443}
	if got := endpoint.URL("/api/v2/app/version"); got != "https://seedbox.example:443/api/v2/app/version" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestProberClassifiesResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("X-Api-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/degraded":
			_, _ = w.Write([]byte(`{"overall_status":"degraded","status":"ok"}`))
		case "/list":
			_, _ = w.Write([]byte(`[]`))
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	host, portText, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portText)
	cfg := config.Default()
	cfg.Services = map[string]config.Service{
		"radarr":      {Host: host, APIPort: port, HealthEndpoint: "/ok", APIKey: "secret"},
		"sonarr":      {Host: host, APIPort: port, HealthEndpoint: "/degraded"},
		"jellyfin":    {Host: host, APIPort: port, HealthEndpoint: "/list"},
		"qbittorrent": {Host: host, APIPort: port, HealthEndpoint: "/down"},
		"prowlarr":    {Host: host, APIPort: 1, HealthEndpoint: "/ok"},
	}
	prober := registry.NewProber(registry.NewStatic(&cfg), server.Client(), nil)

	cases := map[string]workflow.HealthStatus{
		"radarr":      workflow.HealthHealthy,
		"sonarr":      workflow.HealthDegraded,
		"jellyfin":    workflow.HealthHealthy,
		"qbittorrent": workflow.HealthUnhealthy,
		"prowlarr":    workflow.HealthUnknown,
	}
	for name, want := range cases {
		report, ok := prober.Health(context.Background(), name)
		if !ok {
			t.Fatalf("expected %s registered", name)
		}
		if report.Status != want {
			t.Fatalf("%s: got %s (%s) want %s", name, report.Status, report.Detail, want)
		}
	}
	if _, ok := prober.Health(context.Background(), "plex"); ok {
		t.Fatal("expected unregistered service to be missing")
	}

	reports := prober.ProbeAll(context.Background(), []string{"qbittorrent", "plex"})
	if reports[0].Status != workflow.HealthUnhealthy || reports[1].Detail != "not registered" {
		t.Fatalf("unexpected probe-all reports: %+v", reports)
	}
}

func TestProberFeedsHealthGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	host, portText, _ := net.SplitHostPort(server.Listener.Addr().String())
	port, _ := strconv.Atoi(portText)
	cfg := config.Default()
	cfg.Services = map[string]config.Service{"radarr": {Host: host, APIPort: port, HealthEndpoint: "/health"}}

	exec, err := workflow.NewExecution(workflow.Definition{Steps: []workflow.Step{
		{ID: "grab", Service: "radarr"},
		{ID: "refresh", Service: "jellyfin", DependsOn: []string{"grab"}},
	}})
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	gate := workflow.NewHealthGate(registry.NewProber(registry.NewStatic(&cfg), nil, nil), 0, nil)
	err = gate.Validate(context.Background(), exec)
	if err == nil || err.Error() != "dependency unhealthy: unhealthy=[radarr] missing=[jellyfin]" {
		t.Fatalf("unexpected gate error: %v", err)
	}
}
