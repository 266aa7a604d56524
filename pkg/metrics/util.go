package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/gin-gonic/gin"
)

func prometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MillisecondsSince returns elapsed wall time in milliseconds as a float,
// matching the histogram bucket unit.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}

	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)

	// r.Form and r.MultipartForm are assumed to be included in r.URL.
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}

// ObserveBusinessProcess records a business-step duration on the shared
// process histogram. Registration is idempotent across callers.
func ObserveBusinessProcess(processType, subtype string, start time.Time) {
	h, ok := MetricsBusinessProcess.MetricCollector.(*prometheus.HistogramVec)
	if !ok || h == nil {
		return
	}
	h.WithLabelValues(processType, subtype).Observe(MillisecondsSince(start))
}

// RegisterBusinessProcess installs the business-process histogram. Safe to call
// once at startup.
func RegisterBusinessProcess(subsystem string) {
	if MetricsBusinessProcess.MetricCollector != nil {
		return
	}
	m := NewMetric(MetricsBusinessProcess, subsystem)
	if err := prometheus.Register(m); err != nil {
		return
	}
	MetricsBusinessProcess.MetricCollector = m
}
