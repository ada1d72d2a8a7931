package sources_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"prct/prct/api"
	"prct/prct/sources"
)

type countingSource struct {
	name       string
	candidates []api.CitationCandidate
	err        error
	calls      int
}

func (s *countingSource) Name() string {
	return s.name
}

func (s *countingSource) FetchCitations(ctx context.Context, doi string) ([]api.CitationCandidate, error) {
	s.calls++
	return s.candidates, s.err
}

func TestFetchCacheServesRepeatFetches(t *testing.T) {
	cache, err := sources.NewFetchCache(filepath.Join(t.TempDir(), "test.cache"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	src := &countingSource{
		name: "fake",
		candidates: []api.CitationCandidate{
			{Source: "fake", Doi: "10.1/a", Title: "cached work", PublicationDate: "2021-01-01"},
		},
	}
	cached := sources.WithCache(src, cache)

	for i := 0; i < 3; i++ {
		candidates, err := cached.FetchCitations(context.Background(), "10.1234/abc")
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) != 1 || candidates[0].Doi != "10.1/a" {
			t.Fatalf("iteration %d: incorrect candidates: %+v", i, candidates)
		}
	}

	if src.calls != 1 {
		t.Fatalf("expected 1 underlying call, got %d", src.calls)
	}
}

func TestFetchCacheCachesEmptyResults(t *testing.T) {
	cache, err := sources.NewFetchCache(filepath.Join(t.TempDir(), "test.cache"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	src := &countingSource{name: "fake"}
	cached := sources.WithCache(src, cache)

	for i := 0; i < 2; i++ {
		if _, err := cached.FetchCitations(context.Background(), "10.1234/abc"); err != nil {
			t.Fatal(err)
		}
	}

	if src.calls != 1 {
		t.Fatalf("empty result should be cached, got %d underlying calls", src.calls)
	}
}

func TestFetchCacheDoesNotCacheFailures(t *testing.T) {
	cache, err := sources.NewFetchCache(filepath.Join(t.TempDir(), "test.cache"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	src := &countingSource{name: "fake", err: sources.ErrUnreachable}
	cached := sources.WithCache(src, cache)

	for i := 0; i < 2; i++ {
		if _, err := cached.FetchCitations(context.Background(), "10.1234/abc"); !errors.Is(err, sources.ErrUnreachable) {
			t.Fatalf("expected ErrUnreachable, got %v", err)
		}
	}

	if src.calls != 2 {
		t.Fatalf("failures must not be cached, got %d underlying calls", src.calls)
	}
}

func TestFetchCacheKeysPerSource(t *testing.T) {
	cache, err := sources.NewFetchCache(filepath.Join(t.TempDir(), "test.cache"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	first := &countingSource{name: "one", candidates: []api.CitationCandidate{{Source: "one", Doi: "10.1/a"}}}
	second := &countingSource{name: "two", candidates: []api.CitationCandidate{{Source: "two", Doi: "10.1/b"}}}

	cachedFirst := sources.WithCache(first, cache)
	cachedSecond := sources.WithCache(second, cache)

	if _, err := cachedFirst.FetchCitations(context.Background(), "10.1234/abc"); err != nil {
		t.Fatal(err)
	}
	candidates, err := cachedSecond.FetchCitations(context.Background(), "10.1234/abc")
	if err != nil {
		t.Fatal(err)
	}

	if len(candidates) != 1 || candidates[0].Doi != "10.1/b" {
		t.Fatalf("sources must not share cache entries: %+v", candidates)
	}
}
