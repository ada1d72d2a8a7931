// Package citations holds the pure core of the pipeline: normalizing raw
// source candidates into canonical citations, merging duplicates across
// sources, and classifying each citation against the retraction date.
package citations

import (
	"strings"
	"time"

	"prct/prct/api"
)

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDoi lowercases a doi and strips resolver url prefixes so the same
// work matches across sources.
func NormalizeDoi(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(doi, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return doi
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// ResolveDate parses a source date string into a full calendar date plus a
// precision tag. Year-only dates resolve to January 1, year-month dates to
// the first of the month. Returns ok=false for empty or unparseable input.
func ResolveDate(raw string) (time.Time, string, bool) {
	raw = strings.TrimSpace(raw)

	for _, layout := range []struct {
		format    string
		precision string
	}{
		{"2006-01-02", api.PrecisionDay},
		{"2006-01", api.PrecisionMonth},
		{"2006", api.PrecisionYear},
	} {
		if date, err := time.Parse(layout.format, raw); err == nil {
			return date.UTC(), layout.precision, true
		}
	}

	return time.Time{}, "", false
}

// Normalize converts one raw candidate into canonical form. Pure, no I/O.
// Normalizing an already-normalized citation yields an identical record.
func Normalize(candidate api.CitationCandidate) api.Citation {
	citation := api.Citation{
		Doi:                 NormalizeDoi(candidate.Doi),
		Title:               normalizeTitle(candidate.Title),
		SourceRecordId:      candidate.SourceRecordId,
		Sources:             []string{candidate.Source},
		TimespanDays:        candidate.TimespanDays,
		JournalSelfCitation: candidate.JournalSelfCitation,
		AuthorSelfCitation:  candidate.AuthorSelfCitation,
	}

	if date, precision, ok := ResolveDate(candidate.PublicationDate); ok {
		citation.Date = date
		citation.DatePrecision = precision
	}

	return citation
}
