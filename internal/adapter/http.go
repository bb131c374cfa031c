package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/registry"
	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

const (
	defaultBodyLimit = 512
	maxResponseBody  = 4 << 20
	userAgent        = "mediaflow"
)

// HTTPDoer describes the HTTP client used for step calls.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP is a workflow.ServiceAdapter that performs one HTTP request per step.
type HTTP struct {
	registry  registry.ServiceRegistry
	client    HTTPDoer
	bodyLimit int
	logger    *slog.Logger
}

// Option customizes the adapter.
type Option func(*HTTP)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(a *HTTP) {
		if client != nil {
			a.client = client
		}
	}
}

// WithErrorBodyLimit bounds how much of a failed response is kept in errors.
func WithErrorBodyLimit(limit int) Option {
	return func(a *HTTP) {
		if limit > 0 {
			a.bodyLimit = limit
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *HTTP) {
		a.logger = logging.NewComponentLogger(logger, "http-adapter")
	}
}

// NewHTTP constructs an adapter over reg. Timeouts come from the step context.
func NewHTTP(reg registry.ServiceRegistry, opts ...Option) *HTTP {
	a := &HTTP{
		registry:  reg,
		client:    http.DefaultClient,
		bodyLimit: defaultBodyLimit,
		logger:    logging.NewComponentLogger(nil, "http-adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute performs call.Step against its service.
func (a *HTTP) Execute(ctx context.Context, call workflow.StepCall) (workflow.StepResult, error) {
	step := call.Step
	endpoint, ok := a.registry.Lookup(step.Service)
	if !ok {
		return workflow.StepResult{}, services.Wrap(services.ErrConfiguration, "http-adapter", "resolve service",
			fmt.Sprintf("service %q is not configured", step.Service), nil)
	}

	req, err := a.buildRequest(ctx, endpoint, step, call.Params())
	if err != nil {
		return workflow.StepResult{}, services.Wrap(services.ErrValidation, "http-adapter", "build request", step.ID, err)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		marker := services.ErrExternalService
		if ctx.Err() != nil {
			marker = services.ErrTimeout
		}
		return workflow.StepResult{}, services.Wrap(marker, "http-adapter", "call "+step.Service, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	elapsed := time.Since(start)
	if err != nil {
		return workflow.StepResult{}, services.Wrap(services.ErrTransient, "http-adapter", "read response", step.Service, err)
	}

	logging.WithContext(ctx, a.logger).Debug("step response received",
		logging.String("method", req.Method),
		logging.String("path", req.URL.Path),
		logging.Int("status_code", resp.StatusCode),
		logging.Int("bytes", len(body)),
		logging.Duration("duration", elapsed),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.StepResult{StatusCode: resp.StatusCode, Duration: elapsed}, &services.ExecutionError{
			Service:     step.Service,
			StatusCode:  resp.StatusCode,
			BodySnippet: services.Truncate(string(body), a.bodyLimit),
		}
	}
	return workflow.StepResult{
		Data:       decodeBody(body),
		StatusCode: resp.StatusCode,
		Duration:   elapsed,
	}, nil
}

func (a *HTTP) buildRequest(ctx context.Context, endpoint registry.Endpoint, step workflow.Step, params map[string]any) (*http.Request, error) {
	target, err := url.Parse(endpoint.URL(step.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse step url: %w", err)
	}

	var body io.Reader
	method := strings.ToUpper(step.Method)
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if len(params) > 0 {
			query := target.Query()
			for _, key := range sortedParamKeys(params) {
				query.Set(key, queryValue(params[key]))
			}
			target.RawQuery = query.Encode()
		}
	default:
		payload := params
		if payload == nil {
			payload = map[string]any{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode step body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if endpoint.APIKey != "" {
		req.Header.Set("X-Api-Key", endpoint.APIKey)
	}
	if requestID, ok := services.RequestIDFromContext(ctx); ok && requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	return req, nil
}

// decodeBody returns a JSON object as-is and wraps anything else under "content".
func decodeBody(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var object map[string]any
	if err := json.Unmarshal(trimmed, &object); err == nil && object != nil {
		return object
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err == nil {
		return map[string]any{"content": value}
	}
	return map[string]any{"content": string(body)}
}

func queryValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	case []any, map[string]any:
		encoded, err := json.Marshal(v)
		if err == nil {
			return string(encoded)
		}
	}
	return fmt.Sprint(value)
}

func sortedParamKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
