package orchestrator

import "testing"

func TestParseRequestIDMovieImdb(t *testing.T) {
	id := parseRequestID("movie", "tt1234567")
	if id.ImdbID != "tt1234567" || id.TmdbID != "" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.CanonicalID() != "tt1234567" {
		t.Fatalf("unexpected canonical id: %s", id.CanonicalID())
	}
	if id.EpisodeHint() != "" {
		t.Fatalf("expected no episode hint for a movie, got %q", id.EpisodeHint())
	}
}

func TestParseRequestIDMovieTmdb(t *testing.T) {
	id := parseRequestID("movie", "tmdb:123")
	if id.TmdbID != "123" || id.ImdbID != "" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.CanonicalID() != "tmdb:123" {
		t.Fatalf("unexpected canonical id: %s", id.CanonicalID())
	}
}

func TestParseRequestIDSeriesImdb(t *testing.T) {
	id := parseRequestID("series", "tt1234567:1:2")
	if id.ImdbID != "tt1234567" || id.Season != "1" || id.Episode != "2" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.EpisodeHint() != "S01E02" {
		t.Fatalf("unexpected episode hint: %s", id.EpisodeHint())
	}
}

func TestParseRequestIDSeriesTmdb(t *testing.T) {
	id := parseRequestID("series", "tmdb:123:1:12")
	if id.TmdbID != "123" || id.Season != "1" || id.Episode != "12" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.EpisodeHint() != "S01E12" {
		t.Fatalf("unexpected episode hint: %s", id.EpisodeHint())
	}
}

func TestSplitStreamPath(t *testing.T) {
	contentType, id, ok := splitStreamPath("/stream/movie/tt1234567.json")
	if !ok || contentType != "movie" || id != "tt1234567" {
		t.Fatalf("unexpected parse: %s %s %v", contentType, id, ok)
	}
}

func TestSplitStreamPathSeries(t *testing.T) {
	contentType, id, ok := splitStreamPath("/stream/series/tt1234567:1:2.json")
	if !ok || contentType != "series" || id != "tt1234567:1:2" {
		t.Fatalf("unexpected parse: %s %s %v", contentType, id, ok)
	}
}

func TestSplitStreamPathRejectsMissingPrefix(t *testing.T) {
	if _, _, ok := splitStreamPath("/other/movie/tt123.json"); ok {
		t.Fatal("expected non-/stream/ path to be rejected")
	}
}
