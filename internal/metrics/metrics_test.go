package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorRequestsAndResponses(t *testing.T) {
	c := NewCollector()

	c.IncrementRequests("claude-sonnet-4-20250514")
	c.IncrementRequests("claude-sonnet-4-20250514")
	c.IncrementRequests("claude-opus-4-20250514")
	c.ObserveStatus(200)
	c.ObserveStatus(200)
	c.ObserveStatus(401)

	assert.Equal(t, map[string]int64{
		"claude-sonnet-4-20250514": 2,
		"claude-opus-4-20250514":   1,
	}, c.GetRequests())
	assert.Equal(t, map[string]int64{"200": 2, "401": 1}, c.GetResponses())
}

func TestCollectorTokensAndGauges(t *testing.T) {
	c := NewCollector()

	c.AddTokens(100, 50)
	c.AddTokens(200, 100)
	input, output := c.GetTokensTotal()
	assert.Equal(t, int64(300), input)
	assert.Equal(t, int64(150), output)

	done := c.TrackInFlight()
	assert.Equal(t, int64(1), c.GetInFlight())
	done()
	assert.Zero(t, c.GetInFlight())

	c.IncrementRateLimited()
	c.IncrementUpstreamError("timeout")
	assert.Equal(t, int64(1), c.GetRateLimited())
	assert.Equal(t, map[string]int64{"timeout": 1}, c.GetUpstreamErrors())
}

func TestPrometheusFormat(t *testing.T) {
	c := NewCollector()
	c.IncrementRequests("b-model")
	c.IncrementRequests("a-model")
	c.ObserveStatus(500)
	c.AddTokens(10, 5)

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, "# TYPE claudechat_requests_total counter")
	assert.Contains(t, out, `claudechat_responses_total{code="500"} 1`)
	assert.Contains(t, out, `claudechat_tokens_total{type="input"} 10`)
	assert.Contains(t, out, `claudechat_tokens_total{type="output"} 5`)
	assert.Contains(t, out, "# TYPE claudechat_requests_in_flight gauge")
	assert.Less(t, strings.Index(out, `model="a-model"`), strings.Index(out, `model="b-model"`), "labels are sorted")
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "claudechat_rate_limited_total 0")
}

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncrementRequests("m")
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.GetRequests()["m"])
}
