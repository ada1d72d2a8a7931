// Discover pages CrossRef's retraction updates and seeds the retracted-work
// queue. Meant to run on a schedule; reruns upsert by doi so already-known
// works just pick up fresher metadata.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"prct/prct/api"
	"prct/prct/cmd"
	"prct/prct/ratelimit"
	"prct/prct/sources"
	"prct/prct/store"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	PostgresUri string `env:"DB_URI,notEmpty,required"`
	Logfile     string `env:"LOGFILE,notEmpty" envDefault:"prct_discover.log"`

	ContactEmail string `env:"CONTACT_EMAIL,notEmpty,required"`

	Rows     int `env:"ROWS" envDefault:"500"`
	MaxPages int `env:"MAX_PAGES" envDefault:"40"`
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

	manager := store.NewManager(cmd.OpenDB(config.PostgresUri))
	crossref := sources.NewCrossRef(sources.Config{ContactEmail: config.ContactEmail})
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), ratelimit.DefaultRates())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	discovered, upserted := 0, 0

	cursor := "*"
	for page := 0; page < config.MaxPages && cursor != ""; page++ {
		works, next, _, err := fetchPage(ctx, limiter, crossref, cursor, config.Rows)
		if err != nil {
			slog.Error("retraction discovery page failed", "page", page, "error", err)
			break
		}

		discovered += len(works)
		for _, work := range works {
			if _, err := manager.UpsertRetractedWork(work); err != nil {
				slog.Error("error upserting retracted work", "doi", work.Doi, "error", err)
				continue
			}
			upserted++
		}

		slog.Info("processed discovery page", "page", page, "n_works", len(works))

		if len(works) == 0 || ctx.Err() != nil {
			break
		}
		cursor = next
	}

	slog.Info("retraction discovery complete", "discovered", discovered, "upserted", upserted)
}

type page struct {
	works  []api.RetractedWork
	cursor string
}

func fetchPage(ctx context.Context, limiter *ratelimit.Limiter, crossref *sources.CrossRef, cursor string, rows int) ([]api.RetractedWork, string, int, error) {
	result, attempts, err := ratelimit.Do(limiter, ctx, crossref.Name(), func(ctx context.Context) (page, error) {
		works, next, err := crossref.FetchRetractions(ctx, cursor, rows)
		return page{works: works, cursor: next}, err
	})
	return result.works, result.cursor, attempts, err
}
