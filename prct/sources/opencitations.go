package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"prct/prct/api"
	"prct/prct/monitoring"

	"github.com/go-resty/resty/v2"
)

// OpenCitations fetches OCI citation edges from the COCI index. Each edge
// carries the citing work's publication date in its creation field plus a
// timespan (citing minus cited publication date) in ISO-8601 duration form,
// and journal/author self-citation flags. The index has no request quota;
// an access token is appreciated but optional.
type OpenCitations struct {
	client *resty.Client
}

func NewOpenCitations(cfg Config) *OpenCitations {
	client := newClient(cfg, "https://opencitations.net", func(client *resty.Client, response *resty.Response) error {
		monitoring.OpenCitationsCalls.WithLabelValues(strconv.Itoa(response.StatusCode())).Inc()
		return nil
	})
	if cfg.OpenCitationsToken != "" {
		client.SetHeader("authorization", cfg.OpenCitationsToken)
	}
	return &OpenCitations{client: client}
}

func (oc *OpenCitations) Name() string {
	return api.OpenCitationsSource
}

// citingDoi extracts the doi from an OCI entity reference. The v2 index
// returns space-separated prefixed ids like "omid:br/0612345 doi:10.1/abc".
func citingDoi(entity string) string {
	for _, id := range strings.Fields(entity) {
		if strings.HasPrefix(id, "doi:") {
			return strings.TrimPrefix(id, "doi:")
		}
	}
	return ""
}

func (oc *OpenCitations) FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error) {
	doi = strings.TrimSpace(doi)
	if !ValidDoi(doi) {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidIdentifier, doi)
	}

	// The citations endpoint returns all edges in one response, no paging.
	res, err := oc.client.R().
		SetContext(ctx).
		Get("/index/api/v2/citations/doi:" + doi)
	if err := responseError(res, err); err != nil {
		return nil, err
	}

	var edges []struct {
		Oci       string `json:"oci"`
		Citing    string `json:"citing"`
		Creation  string `json:"creation"`
		Timespan  string `json:"timespan"`
		JournalSc string `json:"journal_sc"`
		AuthorSc  string `json:"author_sc"`
	}
	if err := json.Unmarshal(res.Body(), &edges); err != nil {
		slog.Error("opencitations: error parsing citations response", "doi", doi, "error", err)
		return nil, ErrMalformed
	}

	candidates := make([]api.CitationCandidate, 0, len(edges))
	for _, edge := range edges {
		candidate := api.CitationCandidate{
			Source:              api.OpenCitationsSource,
			Doi:                 citingDoi(edge.Citing),
			SourceRecordId:      edge.Oci,
			PublicationDate:     edge.Creation,
			JournalSelfCitation: edge.JournalSc == "yes",
			AuthorSelfCitation:  edge.AuthorSc == "yes",
		}
		if days, err := ParseTimespan(edge.Timespan); err == nil {
			candidate.TimespanDays = &days
		} else if edge.Timespan != "" {
			slog.Warn("opencitations: unparseable timespan", "oci", edge.Oci, "timespan", edge.Timespan)
		}
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// ParseTimespan converts an ISO-8601 duration of the form used by the COCI
// index ("P6Y0M1D", also the week form "P2W", optionally negative) into a
// whole day count: years*365.25 + months*30.44 + weeks*7 + days, rounded.
func ParseTimespan(timespan string) (int, error) {
	s := timespan
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration '%s'", timespan)
	}
	s = strings.TrimPrefix(s, "P")
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", timespan)
	}

	days := 0.0
	value := ""
	for _, c := range s {
		if c >= '0' && c <= '9' {
			value += string(c)
			continue
		}
		if value == "" {
			return 0, fmt.Errorf("invalid duration '%s'", timespan)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s'", timespan)
		}
		switch c {
		case 'Y':
			days += float64(n) * 365.25
		case 'M':
			days += float64(n) * 30.44
		case 'W':
			days += float64(n) * 7
		case 'D':
			days += float64(n)
		default:
			return 0, fmt.Errorf("invalid duration designator '%c' in '%s'", c, timespan)
		}
		value = ""
	}
	if value != "" {
		return 0, fmt.Errorf("invalid duration '%s': trailing value", timespan)
	}

	total := int(math.Round(days))
	if negative {
		total = -total
	}
	return total, nil
}
