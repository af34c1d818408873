package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SegmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speakerid",
		Name:      "segments_processed_total",
		Help:      "Total number of segments processed, by result status",
	}, []string{"status"})

	PlansBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speakerid",
		Name:      "plans_built_total",
		Help:      "Total number of identification plans built",
	}, []string{"video_id"})

	PlanCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "speakerid",
		Name:      "plan_cache_hits_total",
		Help:      "Total number of plan cache hits",
	})

	PlanCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "speakerid",
		Name:      "plan_cache_misses_total",
		Help:      "Total number of plan cache misses",
	})

	EmbeddingsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "speakerid",
		Name:      "embeddings_added_total",
		Help:      "Total number of gallery embedding upserts",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "speakerid",
		Name:      "stage_duration_seconds",
		Help:      "Duration of identification stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	GalleryEmbeddings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "speakerid",
		Name:      "gallery_embeddings",
		Help:      "Number of embeddings in the speaker gallery",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "speakerid",
		Name:      "queue_depth",
		Help:      "Number of pending identification jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "speakerid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "speakerid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
