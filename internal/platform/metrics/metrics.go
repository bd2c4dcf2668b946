package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はインジェストとクエリ処理のPrometheusメトリクスを保持します
type Metrics struct {
	ChunksCreated      prometheus.Counter
	EmbeddingsCreated  prometheus.Counter
	EmbeddingsDegraded prometheus.Counter
	UpsertFailures     prometheus.Counter
	QueryDuration      prometheus.Histogram
	QueriesTotal       *prometheus.CounterVec
}

// New は指定されたRegistererにメトリクスを登録して返します
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "chunks_created_total",
			Help:      "Number of chunks produced by the chunker.",
		}),
		EmbeddingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "embeddings_created_total",
			Help:      "Number of embedding vectors generated.",
		}),
		EmbeddingsDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "embeddings_degraded_total",
			Help:      "Number of embeddings that fell back to a zero vector.",
		}),
		UpsertFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "upsert_failures_total",
			Help:      "Number of embedding records that failed to upsert.",
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of RAG queries.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "total",
			Help:      "Number of RAG queries by outcome.",
		}, []string{"outcome"}),
	}
}

// NewNop はテスト用に独立したレジストリへ登録したメトリクスを返します
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
