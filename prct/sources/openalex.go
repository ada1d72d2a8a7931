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

// OpenAlex fetches citing works via the works endpoint's cites filter. The
// DOI is first resolved to an OpenAlex work id, then the citing works are
// drained with cursor pagination.
type OpenAlex struct {
	client   *resty.Client
	maxPages int
	pageSize int
}

func NewOpenAlex(cfg Config) *OpenAlex {
	client := newClient(cfg, "https://api.openalex.org", func(client *resty.Client, response *resty.Response) error {
		monitoring.OpenalexCalls.WithLabelValues(strconv.Itoa(response.StatusCode())).Inc()
		return nil
	})
	if cfg.ContactEmail != "" {
		client.SetQueryParam("mailto", cfg.ContactEmail)
	}
	return &OpenAlex{client: client, maxPages: cfg.maxPages(), pageSize: cfg.pageSize()}
}

func (oa *OpenAlex) Name() string {
	return api.OpenAlexSource
}

func (oa *OpenAlex) resolveWorkId(ctx context.Context, doi string) (string, error) {
	res, err := oa.client.R().
		SetContext(ctx).
		Get("/works/https://doi.org/" + doi)
	if err := responseError(res, err); err != nil {
		return "", err
	}

	var work struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(res.Body(), &work); err != nil {
		slog.Error("openalex: error parsing work lookup response", "doi", doi, "error", err)
		return "", ErrMalformed
	}
	if work.Id == "" {
		return "", ErrNotFound
	}

	// Ids come back as full urls like https://openalex.org/W2741809807.
	idx := strings.LastIndex(work.Id, "/")
	return work.Id[idx+1:], nil
}

func (oa *OpenAlex) FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error) {
	doi = strings.TrimSpace(doi)
	if !ValidDoi(doi) {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidIdentifier, doi)
	}

	workId, err := oa.resolveWorkId(ctx, doi)
	if err != nil {
		return nil, err
	}

	candidates := make([]api.CitationCandidate, 0)

	cursor := "*"
	for page := 0; page < oa.maxPages && cursor != ""; page++ {
		res, err := oa.client.R().
			SetContext(ctx).
			SetQueryParam("filter", "cites:"+workId).
			SetQueryParam("select", "id,doi,display_name,publication_date,publication_year").
			SetQueryParam("per-page", strconv.Itoa(oa.pageSize)).
			SetQueryParam("cursor", cursor).
			Get("/works")
		if err := responseError(res, err); err != nil {
			return nil, err
		}

		var results struct {
			Meta struct {
				NextCursor string `json:"next_cursor"`
			} `json:"meta"`
			Results []struct {
				Id              string `json:"id"`
				Doi             string `json:"doi"`
				DisplayName     string `json:"display_name"`
				PublicationDate string `json:"publication_date"`
				PublicationYear int    `json:"publication_year"`
			} `json:"results"`
		}
		if err := json.Unmarshal(res.Body(), &results); err != nil {
			slog.Error("openalex: error parsing citing works response", "doi", doi, "page", page, "error", err)
			return nil, ErrMalformed
		}

		for _, result := range results.Results {
			date := result.PublicationDate
			if date == "" && result.PublicationYear > 0 {
				date = strconv.Itoa(result.PublicationYear)
			}
			candidates = append(candidates, api.CitationCandidate{
				Source:          api.OpenAlexSource,
				Doi:             result.Doi,
				Title:           result.DisplayName,
				SourceRecordId:  result.Id,
				PublicationDate: date,
			})
		}

		if len(results.Results) == 0 {
			break
		}
		cursor = results.Meta.NextCursor
	}

	return candidates, nil
}
