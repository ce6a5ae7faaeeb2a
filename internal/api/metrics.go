package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "HTTP requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	apiRequestDurationMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_ms",
		Help:    "Request handling time in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"endpoint"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(endpoint string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		apiRequestDurationMS.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func instrumentID(endpoint string, fn func(http.ResponseWriter, *http.Request, string)) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, id string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r, id)
		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		apiRequestDurationMS.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
	}
}
