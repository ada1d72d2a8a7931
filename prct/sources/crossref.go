package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"prct/prct/api"
	"prct/prct/monitoring"

	"github.com/go-resty/resty/v2"
)

// CrossRef discovers retraction records rather than citations: the works
// endpoint filtered by update-type:retraction yields retraction notices, and
// each notice's update-to entry names the retracted doi and the retraction
// date. Used by the discovery command that seeds the retracted-work queue.
type CrossRef struct {
	client *resty.Client
}

func NewCrossRef(cfg Config) *CrossRef {
	client := newClient(cfg, "https://api.crossref.org", func(client *resty.Client, response *resty.Response) error {
		monitoring.CrossrefCalls.WithLabelValues(strconv.Itoa(response.StatusCode())).Inc()
		return nil
	})
	if cfg.ContactEmail != "" {
		client.SetQueryParam("mailto", cfg.ContactEmail)
	}
	return &CrossRef{client: client}
}

func (cr *CrossRef) Name() string {
	return api.CrossRefSource
}

func dateFromParts(parts [][]int) *time.Time {
	if len(parts) == 0 || len(parts[0]) == 0 || parts[0][0] == 0 {
		return nil
	}
	year, month, day := parts[0][0], 1, 1
	if len(parts[0]) > 1 {
		month = parts[0][1]
	}
	if len(parts[0]) > 2 {
		day = parts[0][2]
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &date
}

// Retraction notice titles usually repeat the original title behind a
// "Retraction:" style prefix.
func trimNoticePrefix(title string) string {
	for _, prefix := range []string{"Retraction:", "Retracted:", "Retraction Note:", "Retraction notice to:", "WITHDRAWN:"} {
		if len(title) > len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			return strings.TrimSpace(title[len(prefix):])
		}
	}
	return title
}

// FetchRetractions returns one page of retracted works plus the cursor for
// the next page. Pass "*" to start and stop when the returned cursor is empty
// or the page comes back short.
func (cr *CrossRef) FetchRetractions(ctx context.Context, cursor string, rows int) ([]api.RetractedWork, string, error) {
	res, err := cr.client.R().
		SetContext(ctx).
		SetQueryParam("filter", "update-type:retraction").
		SetQueryParam("select", "DOI,title,update-to,published").
		SetQueryParam("rows", strconv.Itoa(rows)).
		SetQueryParam("cursor", cursor).
		Get("/works")
	if err := responseError(res, err); err != nil {
		return nil, "", err
	}

	var results struct {
		Message struct {
			NextCursor string `json:"next-cursor"`
			Items      []struct {
				Doi      string   `json:"DOI"`
				Title    []string `json:"title"`
				UpdateTo []struct {
					Doi     string `json:"DOI"`
					Type    string `json:"type"`
					Updated struct {
						DateParts [][]int `json:"date-parts"`
					} `json:"updated"`
				} `json:"update-to"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(res.Body(), &results); err != nil {
		slog.Error("crossref: error parsing retraction discovery response", "error", err)
		return nil, "", ErrMalformed
	}

	works := make([]api.RetractedWork, 0, len(results.Message.Items))
	for _, item := range results.Message.Items {
		title := ""
		if len(item.Title) > 0 {
			title = trimNoticePrefix(item.Title[0])
		}
		for _, update := range item.UpdateTo {
			if update.Type != "retraction" || update.Doi == "" {
				continue
			}
			works = append(works, api.RetractedWork{
				Doi:            strings.ToLower(update.Doi),
				Title:          title,
				RetractionDate: dateFromParts(update.Updated.DateParts),
			})
		}
	}

	return works, results.Message.NextCursor, nil
}
