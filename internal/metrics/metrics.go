package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// counterVec is a counter keyed by one label value
type counterVec struct {
	mu     sync.RWMutex
	values map[string]*atomic.Int64
}

func newCounterVec() *counterVec {
	return &counterVec{values: make(map[string]*atomic.Int64)}
}

func (v *counterVec) inc(label string) {
	v.mu.RLock()
	counter, ok := v.values[label]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if counter, ok = v.values[label]; !ok {
			counter = &atomic.Int64{}
			v.values[label] = counter
		}
		v.mu.Unlock()
	}
	counter.Add(1)
}

func (v *counterVec) snapshot() map[string]int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]int64, len(v.values))
	for k, c := range v.values {
		out[k] = c.Load()
	}
	return out
}

// Collector holds the proxy backend's metrics
type Collector struct {
	requestsByModel *counterVec
	responsesByCode *counterVec
	upstreamErrors  *counterVec // by error kind
	tokensInput     atomic.Int64
	tokensOutput    atomic.Int64
	rateLimited     atomic.Int64
	inFlight        atomic.Int64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestsByModel: newCounterVec(),
		responsesByCode: newCounterVec(),
		upstreamErrors:  newCounterVec(),
	}
}

// IncrementRequests counts a chat request for model
func (c *Collector) IncrementRequests(model string) {
	c.requestsByModel.inc(model)
}

// ObserveStatus counts a chat response by HTTP status
func (c *Collector) ObserveStatus(code int) {
	c.responsesByCode.inc(strconv.Itoa(code))
}

// IncrementUpstreamError counts a failed upstream call by error kind
func (c *Collector) IncrementUpstreamError(kind string) {
	c.upstreamErrors.inc(kind)
}

// IncrementRateLimited counts a request rejected by the rate limiter
func (c *Collector) IncrementRateLimited() {
	c.rateLimited.Add(1)
}

// AddTokens adds token usage
func (c *Collector) AddTokens(input, output int) {
	c.tokensInput.Add(int64(input))
	c.tokensOutput.Add(int64(output))
}

// TrackInFlight increments the in-flight gauge and returns its decrement
func (c *Collector) TrackInFlight() func() {
	c.inFlight.Add(1)
	return func() { c.inFlight.Add(-1) }
}

// GetRequests returns chat requests by model
func (c *Collector) GetRequests() map[string]int64 { return c.requestsByModel.snapshot() }

// GetResponses returns chat responses by status code
func (c *Collector) GetResponses() map[string]int64 { return c.responsesByCode.snapshot() }

// GetUpstreamErrors returns upstream failures by kind
func (c *Collector) GetUpstreamErrors() map[string]int64 { return c.upstreamErrors.snapshot() }

// GetTokensTotal returns token counts
func (c *Collector) GetTokensTotal() (input, output int64) {
	return c.tokensInput.Load(), c.tokensOutput.Load()
}

// GetRateLimited returns the number of rejected requests
func (c *Collector) GetRateLimited() int64 { return c.rateLimited.Load() }

// GetInFlight returns the number of chat requests being served
func (c *Collector) GetInFlight() int64 { return c.inFlight.Load() }

func writeVec(w io.Writer, name, help, label string, values map[string]int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
	fmt.Fprintln(w)
}

// WritePrometheus writes metrics in Prometheus text format
func (c *Collector) WritePrometheus(w io.Writer) {
	writeVec(w, "claudechat_requests_total", "Chat requests by model", "model", c.GetRequests())
	writeVec(w, "claudechat_responses_total", "Chat responses by HTTP status", "code", c.GetResponses())
	writeVec(w, "claudechat_upstream_errors_total", "Failed upstream calls by kind", "kind", c.GetUpstreamErrors())

	input, output := c.GetTokensTotal()
	fmt.Fprintln(w, "# HELP claudechat_tokens_total Total tokens used")
	fmt.Fprintln(w, "# TYPE claudechat_tokens_total counter")
	fmt.Fprintf(w, "claudechat_tokens_total{type=\"input\"} %d\n", input)
	fmt.Fprintf(w, "claudechat_tokens_total{type=\"output\"} %d\n", output)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# HELP claudechat_rate_limited_total Requests rejected by the rate limiter")
	fmt.Fprintln(w, "# TYPE claudechat_rate_limited_total counter")
	fmt.Fprintf(w, "claudechat_rate_limited_total %d\n", c.GetRateLimited())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# HELP claudechat_requests_in_flight Chat requests being served")
	fmt.Fprintln(w, "# TYPE claudechat_requests_in_flight gauge")
	fmt.Fprintf(w, "claudechat_requests_in_flight %d\n", c.GetInFlight())
}

// sortedKeys returns sorted keys of a map
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		c.WritePrometheus(w)
	}
}
