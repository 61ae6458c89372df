// Package metrics provides Prometheus metrics for vid2frame.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for vid2frame.
type Metrics struct {
	// Video metrics
	VideosProcessed *prometheus.CounterVec
	VideosSkipped   *prometheus.CounterVec
	VideosFailed    *prometheus.CounterVec

	// Frame metrics
	FramesWritten  *prometheus.CounterVec
	BytesWritten   *prometheus.CounterVec
	FramesPerVideo *prometheus.HistogramVec

	// Timing metrics
	DecodeDuration *prometheus.HistogramVec
	WriteDuration  *prometheus.HistogramVec

	// Error metrics
	StorageErrors *prometheus.CounterVec

	// Verifier
	FramesVerified *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init registers the metrics with the default registry and makes them
// available through Get. Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// New creates metrics registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vid2frame"
	}
	factory := promauto.With(reg)

	return &Metrics{
		VideosProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "videos_processed_total",
				Help:      "Total number of videos whose frames were written",
			},
			[]string{"split"},
		),
		VideosSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "videos_skipped_total",
				Help:      "Total number of videos skipped (zero frame rate or already done)",
			},
			[]string{"split", "reason"},
		),
		VideosFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "videos_failed_total",
				Help:      "Total number of videos that failed extraction or storage",
			},
			[]string{"split", "stage"},
		),
		FramesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_written_total",
				Help:      "Total number of frames written to the store",
			},
			[]string{"split", "backend"},
		),
		BytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Total encoded frame bytes written to the store",
			},
			[]string{"split", "backend"},
		),
		FramesPerVideo: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frames_per_video",
				Help:      "Number of frames kept per video",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1 to ~32k
			},
			[]string{"split"},
		),
		DecodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decode_duration_seconds",
				Help:      "Time to stage, decode and collect one video",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~800s
			},
			[]string{"split"},
		),
		WriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Time to write one video's frames to the store",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
			},
			[]string{"split", "backend"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"split", "backend"},
		),
		FramesVerified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_verified_total",
				Help:      "Total number of stored frames checked by verify",
			},
			[]string{"result"},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Split   string
	Backend string
}

// IncVideosProcessed increments the videos processed counter.
func (m *Metrics) IncVideosProcessed(l Labels) {
	m.VideosProcessed.WithLabelValues(l.Split).Inc()
}

// IncVideosSkipped increments the videos skipped counter.
func (m *Metrics) IncVideosSkipped(l Labels, reason string) {
	m.VideosSkipped.WithLabelValues(l.Split, reason).Inc()
}

// IncVideosFailed increments the videos failed counter.
func (m *Metrics) IncVideosFailed(l Labels, stage string) {
	m.VideosFailed.WithLabelValues(l.Split, stage).Inc()
}

// AddFramesWritten records a written video's frame count and size.
func (m *Metrics) AddFramesWritten(l Labels, frames int, bytes int64) {
	m.FramesWritten.WithLabelValues(l.Split, l.Backend).Add(float64(frames))
	m.BytesWritten.WithLabelValues(l.Split, l.Backend).Add(float64(bytes))
	m.FramesPerVideo.WithLabelValues(l.Split).Observe(float64(frames))
}

// ObserveDecodeDuration records the extraction time of a video.
func (m *Metrics) ObserveDecodeDuration(l Labels, seconds float64) {
	m.DecodeDuration.WithLabelValues(l.Split).Observe(seconds)
}

// ObserveWriteDuration records the store write time of a video.
func (m *Metrics) ObserveWriteDuration(l Labels, seconds float64) {
	m.WriteDuration.WithLabelValues(l.Split, l.Backend).Observe(seconds)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Split, l.Backend).Inc()
}

// IncFramesVerified counts a verified frame by result ("ok" | "corrupt").
func (m *Metrics) IncFramesVerified(result string) {
	m.FramesVerified.WithLabelValues(result).Inc()
}
