package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000}
	prometheusMW   prometheusMiddleware
)

const (
	intakeReqsName        = "intake_requests_total"
	intakeLatencyName     = "intake_request_duration_milliseconds"
	segmentationReqsName  = "segmentation_requests_total"
	segmentationLatName   = "segmentation_request_duration_milliseconds"
	transcriptionReqsName = "transcription_requests_total"
	transcriptionLatName  = "transcription_request_duration_milliseconds"
	minutesReqsName       = "minutes_requests_total"
	minutesLatName        = "minutes_request_duration_milliseconds"
	service               = "minutesgen"
)

// prometheusMiddleware exposes prometheus metrics for the route families of
// spec.md §6: intake, segmentation, transcription, minutes assembly.
type prometheusMiddleware struct {
	intakeReqs        *prometheus.CounterVec
	intakeLatency     *prometheus.HistogramVec
	segmentationReqs  *prometheus.CounterVec
	segmentationLat   *prometheus.HistogramVec
	transcriptionReqs *prometheus.CounterVec
	transcriptionLat  *prometheus.HistogramVec
	minutesReqs       *prometheus.CounterVec
	minutesLat        *prometheus.HistogramVec
}

func init() {
	prometheusMW.intakeReqs = newCounter(intakeReqsName, "Number of intake requests processed, partitioned by status code.", service)
	prometheusMW.intakeLatency = newHistogram(intakeLatencyName, "Intake response latency.", service, defaultBuckets)
	prometheusMW.segmentationReqs = newCounter(segmentationReqsName, "Number of segmentation requests processed, partitioned by status code.", service)
	prometheusMW.segmentationLat = newHistogram(segmentationLatName, "Segmentation response latency.", service, defaultBuckets)
	prometheusMW.transcriptionReqs = newCounter(transcriptionReqsName, "Number of transcription requests processed, partitioned by status code.", service)
	prometheusMW.transcriptionLat = newHistogram(transcriptionLatName, "Transcription response latency.", service, defaultBuckets)
	prometheusMW.minutesReqs = newCounter(minutesReqsName, "Number of minutes-assembly requests processed, partitioned by status code.", service)
	prometheusMW.minutesLat = newHistogram(minutesLatName, "Minutes-assembly response latency.", service, defaultBuckets)
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6

		reqs, lat := mw.familyFor(path)
		if reqs == nil {
			return
		}
		reqs.WithLabelValues(status).Inc()
		lat.WithLabelValues(status).Observe(latencyMS)
	}
	return http.HandlerFunc(fn)
}

func (mw prometheusMiddleware) familyFor(path string) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	switch {
	case strings.HasPrefix(path, "/api/intake/"):
		return mw.intakeReqs, mw.intakeLatency
	case strings.HasPrefix(path, "/api/segmentation/"):
		return mw.segmentationReqs, mw.segmentationLat
	case strings.HasPrefix(path, "/api/transcription/"):
		return mw.transcriptionReqs, mw.transcriptionLat
	case strings.HasPrefix(path, "/api/minutes"):
		return mw.minutesReqs, mw.minutesLat
	default:
		return nil, nil
	}
}

func newCounter(counterName, help, serviceName string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{"code"},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}
