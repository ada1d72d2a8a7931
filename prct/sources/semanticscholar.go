package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"prct/prct/api"
	"prct/prct/monitoring"

	"github.com/go-resty/resty/v2"
)

// SemanticScholar fetches citing works from the academic graph citations
// endpoint with offset pagination. An api key raises the quota from the
// shared unauthenticated pool but is not required.
type SemanticScholar struct {
	client   *resty.Client
	maxPages int
	pageSize int
}

func NewSemanticScholar(cfg Config) *SemanticScholar {
	client := newClient(cfg, "https://api.semanticscholar.org", func(client *resty.Client, response *resty.Response) error {
		monitoring.SemanticScholarCalls.WithLabelValues(strconv.Itoa(response.StatusCode())).Inc()
		return nil
	})
	if cfg.SemanticScholarKey != "" {
		client.SetHeader("x-api-key", cfg.SemanticScholarKey)
	}
	return &SemanticScholar{client: client, maxPages: cfg.maxPages(), pageSize: cfg.pageSize()}
}

func (s2 *SemanticScholar) Name() string {
	return api.SemanticScholarSource
}

func (s2 *SemanticScholar) FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error) {
	doi = strings.TrimSpace(doi)
	if !ValidDoi(doi) {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidIdentifier, doi)
	}

	candidates := make([]api.CitationCandidate, 0)

	offset := 0
	for page := 0; page < s2.maxPages; page++ {
		res, err := s2.client.R().
			SetContext(ctx).
			SetQueryParam("fields", "title,externalIds,publicationDate,year").
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetQueryParam("limit", strconv.Itoa(s2.pageSize)).
			Get("/graph/v1/paper/DOI:" + doi + "/citations")
		if err := responseError(res, err); err != nil {
			return nil, err
		}

		var results struct {
			Next *int `json:"next"`
			Data []struct {
				CitingPaper struct {
					PaperId     string `json:"paperId"`
					Title       string `json:"title"`
					ExternalIds struct {
						Doi string `json:"DOI"`
					} `json:"externalIds"`
					PublicationDate string `json:"publicationDate"`
					Year            int    `json:"year"`
				} `json:"citingPaper"`
			} `json:"data"`
		}
		if err := json.Unmarshal(res.Body(), &results); err != nil {
			slog.Error("semantic scholar: error parsing citations response", "doi", doi, "page", page, "error", err)
			return nil, ErrMalformed
		}

		for _, item := range results.Data {
			paper := item.CitingPaper
			date := paper.PublicationDate
			if date == "" && paper.Year > 0 {
				date = strconv.Itoa(paper.Year)
			}
			candidates = append(candidates, api.CitationCandidate{
				Source:          api.SemanticScholarSource,
				Doi:             paper.ExternalIds.Doi,
				Title:           paper.Title,
				SourceRecordId:  paper.PaperId,
				PublicationDate: date,
			})
		}

		if results.Next == nil {
			break
		}
		offset = *results.Next
	}

	return candidates, nil
}
