package registry

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"mediaflow/internal/config"
)

// Endpoint is the network location and credentials of one service.
type Endpoint struct {
	Name           string
	Host           string
	APIPort        int
	HealthEndpoint string
	APIKey         string
}

// BaseURL returns scheme://host:port. Hosts without a scheme use http.
func (e Endpoint) BaseURL() string {
	scheme := "http"
	host := strings.TrimRight(strings.TrimSpace(e.Host), "/")
	if idx := strings.Index(host, "://"); idx >= 0 {
		scheme = host[:idx]
		host = host[idx+3:]
	}
	if e.APIPort > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(e.APIPort))
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// URL joins path onto the endpoint's base URL.
func (e Endpoint) URL(path string) string {
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.BaseURL() + path
}

// HealthURL returns the URL of the service's health endpoint.
func (e Endpoint) HealthURL() string {
	return e.URL(e.HealthEndpoint)
}

// ServiceRegistry resolves a service name to its endpoint.
type ServiceRegistry interface {
	Lookup(name string) (Endpoint, bool)
}

// Static is a ServiceRegistry over a fixed set of endpoints.
type Static struct {
	endpoints map[string]Endpoint
}

// NewStatic builds a registry from the [services] tables of cfg.
func NewStatic(cfg *config.Config) *Static {
	endpoints := make(map[string]Endpoint)
	if cfg != nil {
		for name, svc := range cfg.Services {
			endpoints[name] = Endpoint{
				Name:           name,
				Host:           svc.Host,
				APIPort:        svc.APIPort,
				HealthEndpoint: svc.HealthEndpoint,
				APIKey:         svc.APIKey,
			}
		}
	}
	return &Static{endpoints: endpoints}
}

// Lookup returns the endpoint registered under name. Names are case-insensitive.
func (s *Static) Lookup(name string) (Endpoint, bool) {
	if s == nil {
		return Endpoint{}, false
	}
	endpoint, ok := s.endpoints[strings.ToLower(strings.TrimSpace(name))]
	return endpoint, ok
}

// Names lists registered services alphabetically.
func (s *Static) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
