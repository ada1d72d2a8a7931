package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"prct/prct/api"

	"github.com/go-resty/resty/v2"
)

var (
	ErrInvalidIdentifier = errors.New("invalid doi")
	ErrUnreachable       = errors.New("source unreachable")
	ErrRateLimited       = errors.New("source rate limited")
	ErrMalformed         = errors.New("malformed source response")
	ErrNotFound          = errors.New("doi not found")
	ErrSourceUnavailable = errors.New("source unavailable")
)

// CitationSource fetches the citing works recorded for a DOI from one
// external citation index. Implementations drain pagination internally, up to
// the configured page limit, and surface failures via the sentinel errors
// above. CrossRef is not a CitationSource; it only discovers retraction
// records (see CrossRef.FetchRetractions).
type CitationSource interface {
	Name() string

	FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error)
}

type Config struct {
	// Contact email sent to sources with polite-pool conventions (OpenAlex,
	// CrossRef).
	ContactEmail string

	// Access tokens. Both optional, both improve quota.
	OpenCitationsToken string
	SemanticScholarKey string

	// Pagination bounds shared by all adapters.
	MaxPages int
	PageSize int

	// Overrides the adapter's API endpoint, used by tests.
	BaseUrl string
}

const (
	defaultMaxPages = 20
	defaultPageSize = 100
)

func (c Config) maxPages() int {
	if c.MaxPages <= 0 {
		return defaultMaxPages
	}
	return c.MaxPages
}

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return defaultPageSize
	}
	return c.PageSize
}

func (c Config) baseUrl(fallback string) string {
	if c.BaseUrl != "" {
		return c.BaseUrl
	}
	return fallback
}

// ValidDoi reports whether doi looks like a DOI. The registry only requires
// the "10." directory prefix followed by a registrant/suffix pair.
func ValidDoi(doi string) bool {
	doi = strings.TrimSpace(doi)
	if len(doi) < 7 {
		return false
	}
	return strings.HasPrefix(doi, "10.") && strings.Contains(doi, "/")
}

func newClient(cfg Config, fallbackUrl string, onResponse resty.ResponseMiddleware) *resty.Client {
	// Retries are owned by the ratelimit package so that attempt counts and
	// circuit breaking stay observable. The client itself never retries.
	client := resty.New().
		SetBaseURL(cfg.baseUrl(fallbackUrl)).
		SetHeader("Accept", "application/json")
	if onResponse != nil {
		client.OnAfterResponse(onResponse)
	}
	return client
}

// responseError maps a completed adapter request onto the error taxonomy.
// A nil return means the response is a 2xx and safe to parse.
func responseError(res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	switch {
	case res.IsSuccess():
		return nil
	case res.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode() == http.StatusTooManyRequests:
		return ErrRateLimited
	case res.StatusCode() >= 500:
		return ErrUnreachable
	default:
		// Other 4xx responses will not change on retry, treat them like an
		// unparseable payload.
		return ErrMalformed
	}
}
