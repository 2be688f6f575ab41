package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "brayns"

// Metrics owns a private registry so tests can create as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	uploadsDeclared *prometheus.CounterVec
	uploadsFinished *prometheus.CounterVec
	uploadDuration  prometheus.Histogram
	bytesReceived   prometheus.Counter
	chunksRejected  *prometheus.CounterVec
	modelsLoaded    prometheus.Counter
	clients         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploadsDeclared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_declared_total",
			Help:      "Uploads accepted, by model type.",
		}, []string{"type"}),
		uploadsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finished_total",
			Help:      "Uploads that reached a final state, by status.",
		}, []string{"status"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from declaration to final state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_received_total",
			Help:      "Binary chunk bytes accepted.",
		}),
		chunksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rejected_total",
			Help:      "Binary frames that could not be routed, by error code.",
		}, []string{"code"}),
		modelsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "models_loaded_total",
			Help:      "Models added to the scene by uploads.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.uploadsDeclared,
		m.uploadsFinished,
		m.uploadDuration,
		m.bytesReceived,
		m.chunksRejected,
		m.modelsLoaded,
		m.clients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGauge exposes a value computed at scrape time.
func (m *Metrics) RegisterGauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, value))
}

func (m *Metrics) UploadDeclared(typ string) {
	m.uploadsDeclared.WithLabelValues(typ).Inc()
}

func (m *Metrics) UploadFinished(status string, elapsed time.Duration) {
	m.uploadsFinished.WithLabelValues(status).Inc()
	m.uploadDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) BytesReceived(n int) {
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) ChunkRejected(code string) {
	m.chunksRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) ModelsLoaded(n int) {
	m.modelsLoaded.Add(float64(n))
}

func (m *Metrics) ClientConnected() {
	m.clients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	m.clients.Dec()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
