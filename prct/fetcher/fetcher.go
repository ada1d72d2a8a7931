// Package fetcher drives the citation pipeline for retracted works: fan out
// to the configured sources under the shared rate limiter, normalize and
// merge whatever came back, classify against the retraction date, and
// aggregate summary counts. One source failing never fails the fetch;
// partial results are the norm.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"prct/prct/api"
	"prct/prct/citations"
	"prct/prct/monitoring"
	"prct/prct/ratelimit"
	"prct/prct/sources"
)

// ErrAborted reports a fetch canceled by the batch driver. Partial results
// are discarded on cancellation; only per-source failure is allowed to
// produce a partial FetchResult.
var ErrAborted = errors.New("fetch aborted")

// Tolerance when cross-checking an OpenCitations timespan against the dates
// we resolved ourselves. Generous because the timespan day count is derived
// with average month and year lengths.
const timespanTolerance = 90

type Fetcher struct {
	sources []sources.CitationSource
	limiter *ratelimit.Limiter
}

// New builds a fetcher over the given sources in priority order. The default
// hybrid order puts OpenCitations first for its unthrottled quota, then
// OpenAlex, then Semantic Scholar.
func New(limiter *ratelimit.Limiter, srcs ...sources.CitationSource) (*Fetcher, error) {
	if len(srcs) == 0 {
		return nil, errors.New("at least one citation source is required")
	}
	if limiter == nil {
		return nil, errors.New("a rate limiter is required")
	}
	return &Fetcher{sources: srcs, limiter: limiter}, nil
}

type sourceOutcome struct {
	source     string
	candidates []api.CitationCandidate
	attempts   int
	err        error
}

func (f *Fetcher) FetchCitations(ctx context.Context, work api.RetractedWork) (api.FetchResult, error) {
	start := time.Now()

	if !sources.ValidDoi(work.Doi) {
		return api.FetchResult{}, fmt.Errorf("%w: '%s'", sources.ErrInvalidIdentifier, work.Doi)
	}

	logger := slog.With("doi", work.Doi)
	logger.Info("starting citation fetch", "sources", len(f.sources))

	outcomes := make(chan sourceOutcome, len(f.sources))

	wg := sync.WaitGroup{}
	wg.Add(len(f.sources))
	for _, src := range f.sources {
		go func(src sources.CitationSource) {
			defer wg.Done()

			candidates, attempts, err := ratelimit.Do(f.limiter, ctx, src.Name(), func(ctx context.Context) ([]api.CitationCandidate, error) {
				return src.FetchCitations(ctx, work.Doi)
			})
			outcomes <- sourceOutcome{source: src.Name(), candidates: candidates, attempts: attempts, err: err}
		}(src)
	}
	wg.Wait()
	close(outcomes)

	if ctx.Err() != nil {
		logger.Info("citation fetch canceled")
		return api.FetchResult{}, ErrAborted
	}

	status := make(map[string]api.SourceStatus, len(f.sources))
	raw := make([]api.CitationCandidate, 0)

	for outcome := range outcomes {
		entry := api.SourceStatus{Attempts: outcome.attempts}

		switch {
		case outcome.err == nil:
			entry.Succeeded = true
			entry.Candidates = len(outcome.candidates)
			raw = append(raw, outcome.candidates...)
		case errors.Is(outcome.err, sources.ErrNotFound):
			// A source not indexing this doi is an empty answer, not a
			// failure.
			entry.Succeeded = true
		default:
			entry.Error = outcome.err.Error()
			logger.Error("source failed", "source", outcome.source, "attempts", outcome.attempts, "error", outcome.err)
		}

		status[outcome.source] = entry
	}

	normalized := make([]api.Citation, 0, len(raw))
	for _, candidate := range raw {
		normalized = append(normalized, citations.Normalize(candidate))
	}

	merged, fallbackMerges := citations.Merge(normalized)
	for i := range merged {
		merged[i].Classification = citations.Classify(work.RetractionDate, merged[i].Date, merged[i].DatePrecision)
	}

	result := api.FetchResult{
		Doi:          work.Doi,
		Citations:    merged,
		Summary:      summarize(work, merged, fallbackMerges),
		SourceStatus: status,
		Elapsed:      time.Since(start),
	}

	monitoring.FetchesProcessed.Observe(result.Elapsed.Seconds())
	monitoring.CitationsFetched.Add(float64(len(merged)))

	logger.Info("citation fetch complete",
		"citations", len(merged),
		"post_retraction", result.Summary.PostRetraction,
		"elapsed", result.Elapsed)

	return result, nil
}

func summarize(work api.RetractedWork, merged []api.Citation, fallbackMerges int) api.Summary {
	summary := api.Summary{
		Total:   len(merged),
		Buckets: make(map[string]int),
	}

	timespanDisagreements := 0

	for _, citation := range merged {
		summary.Buckets[citation.Classification.Bucket]++

		if offset := citation.Classification.OffsetDays; offset != nil {
			switch {
			case *offset < 0:
				summary.PreRetraction++
			case *offset == 0:
				summary.SameDay++
				summary.PostRetraction++
			default:
				summary.PostRetraction++
			}
		}

		if disagrees(work, citation) {
			timespanDisagreements++
		}
	}

	if work.RetractionDate != nil && work.PublicationDate != nil && work.RetractionDate.Before(*work.PublicationDate) {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("retraction date %s precedes original publication date %s",
				work.RetractionDate.Format("2006-01-02"), work.PublicationDate.Format("2006-01-02")))
	}
	if fallbackMerges > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("%d citations merged on title and year alone, merges may be approximate", fallbackMerges))
	}
	if timespanDisagreements > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("%d citations have a reported timespan disagreeing with their publication date", timespanDisagreements))
	}

	return summary
}

// disagrees cross-checks the OpenCitations timespan (citing minus cited
// publication date) against the dates resolved from the record itself.
func disagrees(work api.RetractedWork, citation api.Citation) bool {
	if citation.TimespanDays == nil || work.PublicationDate == nil {
		return false
	}
	if citation.DatePrecision != api.PrecisionDay && citation.DatePrecision != api.PrecisionMonth {
		return false
	}

	observed := int(citation.Date.Sub(*work.PublicationDate) / (24 * time.Hour))
	diff := observed - *citation.TimespanDays
	if diff < 0 {
		diff = -diff
	}
	return diff > timespanTolerance
}
