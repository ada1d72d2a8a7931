package monitoring

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OpenalexCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openalex_calls",
		Help: "Total calls made to OpenAlex",
	}, []string{"status"})

	SemanticScholarCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "semantic_scholar_calls",
		Help: "Total calls made to Semantic Scholar",
	}, []string{"status"})

	OpenCitationsCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opencitations_calls",
		Help: "Total calls made to OpenCitations",
	}, []string{"status"})

	CrossrefCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossref_calls",
		Help: "Total calls made to CrossRef",
	}, []string{"status"})

	FetchesProcessed = prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "fetches_processed",
		Help: "Total citation fetches processed",
	})

	CitationsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citations_fetched",
		Help: "Total citations produced after dedup",
	})

	SourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "source_failures",
		Help: "Total failed source calls after retries",
	}, []string{"source"})

	CircuitBreaks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaks",
		Help: "Total times a source was marked unavailable",
	}, []string{"source"})

	ResultUpdateErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "result_update_errors",
		Help: "Total fetch result persistence errors",
	})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citation_cache_hits",
		Help: "Total number of citation cache hits",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citation_cache_misses",
		Help: "Total number of citation cache misses",
	})

	CacheErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citation_cache_errors",
		Help: "Total number of citation cache errors",
	})
)

func ExposeWorkerMetrics(port int) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OpenalexCalls,
		SemanticScholarCalls,
		OpenCitationsCalls,
		CrossrefCalls,
		FetchesProcessed,
		CitationsFetched,
		SourceFailures,
		CircuitBreaks,
		ResultUpdateErrors,
		CacheHits,
		CacheMisses,
		CacheErrors,
	)

	slog.Info("exposing worker metrics", "port", port)

	go func() {
		handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), handler); err != nil {
			log.Fatalf("error starting metrics server: %v", err)
		}
	}()
}
