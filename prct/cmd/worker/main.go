package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"prct/prct/cmd"
	"prct/prct/fetcher"
	"prct/prct/monitoring"
	"prct/prct/ratelimit"
	"prct/prct/sources"
	"prct/prct/store"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	PostgresUri string `env:"DB_URI,notEmpty,required"`
	Logfile     string `env:"LOGFILE,notEmpty" envDefault:"prct_worker.log"`

	// Sent to OpenAlex and CrossRef per their polite pool conventions.
	ContactEmail string `env:"CONTACT_EMAIL,notEmpty,required"`

	OpenCitationsToken string `env:"OPENCITATIONS_TOKEN"`
	SemanticScholarKey string `env:"S2_API_KEY"`

	EnableOpenCitations   bool `env:"ENABLE_OPENCITATIONS" envDefault:"true"`
	EnableOpenAlex        bool `env:"ENABLE_OPENALEX" envDefault:"true"`
	EnableSemanticScholar bool `env:"ENABLE_SEMANTICSCHOLAR" envDefault:"true"`

	Workers   int `env:"WORKERS" envDefault:"4"`
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`
	MaxPages  int `env:"MAX_PAGES" envDefault:"20"`

	CallTimeoutSecs int `env:"CALL_TIMEOUT_SECS" envDefault:"30"`

	PollIntervalSecs int `env:"POLL_INTERVAL_SECS" envDefault:"30"`

	CachePath string `env:"CACHE_PATH" envDefault:"./work/citations.cache"`

	MetricsPort int `env:"METRICS_PORT" envDefault:"9091"`
}

func buildSources(config Config, cache *sources.FetchCache) []sources.CitationSource {
	sourceConfig := sources.Config{
		ContactEmail:       config.ContactEmail,
		OpenCitationsToken: config.OpenCitationsToken,
		SemanticScholarKey: config.SemanticScholarKey,
		MaxPages:           config.MaxPages,
	}

	// Priority order: OpenCitations first for its unthrottled quota, then
	// OpenAlex, then Semantic Scholar.
	srcs := make([]sources.CitationSource, 0, 3)
	if config.EnableOpenCitations {
		srcs = append(srcs, sources.NewOpenCitations(sourceConfig))
	}
	if config.EnableOpenAlex {
		srcs = append(srcs, sources.NewOpenAlex(sourceConfig))
	}
	if config.EnableSemanticScholar {
		srcs = append(srcs, sources.NewSemanticScholar(sourceConfig))
	}

	if cache != nil {
		for i, src := range srcs {
			srcs[i] = sources.WithCache(src, cache)
		}
	}

	return srcs
}

func processBatch(ctx context.Context, f *fetcher.Fetcher, manager *store.Manager, config Config) bool {
	works, err := manager.ClaimNextQueuedWorks(config.BatchSize)
	if err != nil {
		slog.Error("error claiming queued works", "error", err)
		return false
	}
	if len(works) == 0 {
		return false
	}

	slog.Info("processing batch", "n_works", len(works))

	for _, completed := range f.FetchBatch(ctx, works, config.Workers) {
		if completed.Error != nil {
			if ctx.Err() != nil {
				if err := manager.RequeueWork(completed.Work.Id); err != nil {
					slog.Error("error requeueing aborted work", "doi", completed.Work.Doi, "error", err)
				}
				continue
			}
			slog.Error("fetch failed", "doi", completed.Work.Doi, "error", completed.Error)
			if err := manager.MarkFetchFailed(completed.Work.Id); err != nil {
				monitoring.ResultUpdateErrors.Inc()
				slog.Error("error marking fetch failed", "doi", completed.Work.Doi, "error", err)
			}
			continue
		}

		if err := manager.SaveFetchResult(completed.Work.Id, completed.Result); err != nil {
			monitoring.ResultUpdateErrors.Inc()
			slog.Error("error saving fetch result", "doi", completed.Work.Doi, "error", err)
		}
	}

	return true
}

func main() {
	cmd.LoadEnvFile()

	var config Config
	if err := env.Parse(&config); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	logFile, err := os.OpenFile(config.Logfile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	cmd.InitLogging(logFile)

	if err := os.MkdirAll(filepath.Dir(config.CachePath), 0755); err != nil {
		log.Fatalf("error creating cache dir: %v", err)
	}
	cache, err := sources.NewFetchCache(config.CachePath)
	if err != nil {
		log.Fatalf("error opening fetch cache: %v", err)
	}
	defer cache.Close()

	srcs := buildSources(config, cache)
	if len(srcs) == 0 {
		log.Fatalf("at least one citation source must be enabled")
	}

	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.CallTimeout = time.Duration(config.CallTimeoutSecs) * time.Second
	limiter := ratelimit.NewLimiter(limiterConfig, ratelimit.DefaultRates())

	f, err := fetcher.New(limiter, srcs...)
	if err != nil {
		log.Fatalf("error building fetcher: %v", err)
	}

	manager := store.NewManager(cmd.OpenDB(config.PostgresUri))

	monitoring.ExposeWorkerMetrics(config.MetricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("citation fetch worker started", "workers", config.Workers, "batch_size", config.BatchSize)

	for {
		processed := processBatch(ctx, f, manager, config)
		// Breakers are per batch; give failed sources another chance on the
		// next one.
		limiter.Reset()

		if ctx.Err() != nil {
			slog.Info("shutting down")
			return
		}

		if !processed {
			select {
			case <-time.After(time.Duration(config.PollIntervalSecs) * time.Second):
			case <-ctx.Done():
				slog.Info("shutting down")
				return
			}
		}
	}
}
