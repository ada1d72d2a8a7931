package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"prct/prct/api"
	"prct/prct/sources"
)

func TestSemanticScholarFetchPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graph/v1/paper/DOI:10.1234/abc/citations" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			return
		}
		if key := r.Header.Get("x-api-key"); key != "secret" {
			t.Errorf("expected api key header, got '%s'", key)
		}

		switch r.URL.Query().Get("offset") {
		case "0":
			w.Write([]byte(`{
				"next": 2,
				"data": [
					{"citingPaper": {"paperId": "p1", "title": "citing one", "externalIds": {"DOI": "10.1/AAA"}, "publicationDate": "2021-06-01", "year": 2021}},
					{"citingPaper": {"paperId": "p2", "title": "citing two", "externalIds": {}, "publicationDate": "", "year": 2020}}
				]
			}`))
		case "2":
			w.Write([]byte(`{
				"data": [
					{"citingPaper": {"paperId": "p3", "title": "citing three", "externalIds": {"DOI": "10.1/CCC"}, "publicationDate": "2022-01-15", "year": 2022}}
				]
			}`))
		default:
			t.Errorf("unexpected offset: %s", r.URL.Query().Get("offset"))
		}
	}))
	defer server.Close()

	s2 := sources.NewSemanticScholar(sources.Config{BaseUrl: server.URL, SemanticScholarKey: "secret"})

	candidates, err := s2.FetchCitations(context.Background(), "10.1234/abc")
	if err != nil {
		t.Fatal(err)
	}

	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates across pages, got %d", len(candidates))
	}

	if candidates[0].Source != api.SemanticScholarSource ||
		candidates[0].Doi != "10.1/AAA" ||
		candidates[0].Title != "citing one" ||
		candidates[0].SourceRecordId != "p1" ||
		candidates[0].PublicationDate != "2021-06-01" {
		t.Fatalf("incorrect first candidate: %+v", candidates[0])
	}

	if candidates[1].Doi != "" || candidates[1].PublicationDate != "2020" {
		t.Fatalf("doi-less year-only candidate parsed incorrectly: %+v", candidates[1])
	}

	if candidates[2].Doi != "10.1/CCC" {
		t.Fatalf("incorrect third candidate: %+v", candidates[2])
	}
}

func TestSemanticScholarTrimsDoi(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graph/v1/paper/DOI:10.1234/abc/citations" {
			t.Errorf("expected a trimmed doi in the path, got: %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	s2 := sources.NewSemanticScholar(sources.Config{BaseUrl: server.URL})

	if _, err := s2.FetchCitations(context.Background(), "  10.1234/abc  "); err != nil {
		t.Fatal(err)
	}
}
