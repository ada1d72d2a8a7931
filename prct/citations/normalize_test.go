package citations_test

import (
	"testing"
	"time"

	"prct/prct/api"
	"prct/prct/citations"
)

func TestNormalizeDoi(t *testing.T) {
	cases := []struct {
		raw, expected string
	}{
		{"10.1234/abc", "10.1234/abc"},
		{"10.1234/ABC", "10.1234/abc"},
		{" 10.1234/abc ", "10.1234/abc"},
		{"https://doi.org/10.1234/abc", "10.1234/abc"},
		{"http://doi.org/10.1234/abc", "10.1234/abc"},
		{"https://dx.doi.org/10.1234/abc", "10.1234/abc"},
		{"doi:10.1234/abc", "10.1234/abc"},
		{"DOI:10.1234/ABC", "10.1234/abc"},
		{"", ""},
	}

	for _, c := range cases {
		if got := citations.NormalizeDoi(c.raw); got != c.expected {
			t.Fatalf("NormalizeDoi('%s'): expected '%s', got '%s'", c.raw, c.expected, got)
		}
	}
}

func TestResolveDate(t *testing.T) {
	cases := []struct {
		raw       string
		date      time.Time
		precision string
	}{
		{"2021-03-15", time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), api.PrecisionDay},
		{"2021-03", time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), api.PrecisionMonth},
		{"2021", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), api.PrecisionYear},
		{" 2021-03-15 ", time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), api.PrecisionDay},
	}

	for _, c := range cases {
		date, precision, ok := citations.ResolveDate(c.raw)
		if !ok || !date.Equal(c.date) || precision != c.precision {
			t.Fatalf("ResolveDate('%s'): expected (%v, %s), got (%v, %s, %v)", c.raw, c.date, c.precision, date, precision, ok)
		}
	}

	for _, raw := range []string{"", "not a date", "2021-13-01", "15/03/2021"} {
		if _, _, ok := citations.ResolveDate(raw); ok {
			t.Fatalf("ResolveDate('%s'): expected failure", raw)
		}
	}
}

func TestNormalize(t *testing.T) {
	span := 42
	citation := citations.Normalize(api.CitationCandidate{
		Source:              api.OpenCitationsSource,
		Doi:                 "https://doi.org/10.1234/ABC",
		Title:               "  A   study \t of  things ",
		PublicationDate:     "2021-03-15",
		TimespanDays:        &span,
		JournalSelfCitation: true,
	})

	if citation.Doi != "10.1234/abc" {
		t.Fatalf("incorrect doi: '%s'", citation.Doi)
	}
	if citation.Title != "A study of things" {
		t.Fatalf("incorrect title: '%s'", citation.Title)
	}
	if !citation.Date.Equal(time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)) || citation.DatePrecision != api.PrecisionDay {
		t.Fatalf("incorrect date: %v (%s)", citation.Date, citation.DatePrecision)
	}
	if len(citation.Sources) != 1 || citation.Sources[0] != api.OpenCitationsSource {
		t.Fatalf("incorrect sources: %v", citation.Sources)
	}
	if citation.TimespanDays == nil || *citation.TimespanDays != 42 || !citation.JournalSelfCitation {
		t.Fatal("timespan and self-citation flags should carry through")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first := citations.Normalize(api.CitationCandidate{
		Source:          api.OpenAlexSource,
		Doi:             "https://doi.org/10.1234/ABC",
		Title:           "  Some   title ",
		PublicationDate: "2021-03",
	})

	second := citations.Normalize(api.CitationCandidate{
		Source:          first.Sources[0],
		Doi:             first.Doi,
		Title:           first.Title,
		PublicationDate: "2021-03",
	})

	if second.Doi != first.Doi || second.Title != first.Title ||
		!second.Date.Equal(first.Date) || second.DatePrecision != first.DatePrecision {
		t.Fatalf("normalization is not idempotent: %+v vs %+v", first, second)
	}
}

func TestNormalizeUnusableDate(t *testing.T) {
	citation := citations.Normalize(api.CitationCandidate{
		Source: api.OpenAlexSource,
		Doi:    "10.1234/abc",
		Title:  "undated work",
	})

	if !citation.Date.IsZero() || citation.DatePrecision != "" {
		t.Fatalf("missing date should stay zero valued: %+v", citation)
	}
}
