package triage

import (
	"testing"

	"github.com/nzbstream/nzbstream/pkg/nzb"
)

func TestClassifyArchiveName(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantOK       bool
		wantSevenZ   bool
		wantCanonLen int
	}{
		{name: "plain rar", input: "Movie.2024.1080p-GROUP.rar", wantOK: true},
		{name: "r00 volume", input: "Movie.2024.1080p-GROUP.r00", wantOK: true},
		{name: "part numbered rar", input: "Movie.2024.1080p-GROUP.part02.rar", wantOK: true},
		{name: "7z", input: "Movie.2024.1080p-GROUP.7z", wantOK: true, wantSevenZ: true},
		{name: "not an archive", input: "Movie.2024.1080p-GROUP.mkv", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, isSevenZ, ok := classifyArchiveName(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && isSevenZ != tt.wantSevenZ {
				t.Fatalf("isSevenZ = %v, want %v", isSevenZ, tt.wantSevenZ)
			}
		})
	}
}

func TestFindArchiveCandidatesDedupesVolumes(t *testing.T) {
	n := &nzb.NZB{
		Files: []nzb.File{
			{Subject: `"movie.part01.rar" yEnc (1/50)`},
			{Subject: `"movie.r00" yEnc (1/50)`},
			{Subject: `"movie.nfo" yEnc (1/1)`},
		},
	}
	candidates := findArchiveCandidates(n)
	if len(candidates) != 1 {
		t.Fatalf("expected part01.rar and r00 volumes to collapse into 1 candidate, got %d", len(candidates))
	}
}

func TestBestArchiveCandidatePrefersPlainRAR(t *testing.T) {
	candidates := []archiveCandidate{
		{canonical: "movie.rar", score: 60},
		{canonical: "movie.rar", score: 100},
	}
	best := bestArchiveCandidate(candidates)
	if best.score != 100 {
		t.Fatalf("expected highest-scoring candidate to win, got score %d", best.score)
	}
}

func TestSynthesizeVerifiedRequiresPositiveFinding(t *testing.T) {
	d := synthesize([]string{"rar-stored"}, []byte("nzb"))
	if d.Status != StatusVerified {
		t.Fatalf("expected verified, got %s", d.Status)
	}
	if d.NZBBody == nil {
		t.Fatal("expected verified decision to carry the NZB body")
	}
}

func TestSynthesizeUnverified7z(t *testing.T) {
	d := synthesize([]string{"sevenzip-untested"}, nil)
	if d.Status != StatusUnverified7z {
		t.Fatalf("expected unverified_7z, got %s", d.Status)
	}
}

func TestSynthesizeUnverifiedWithoutPositiveFinding(t *testing.T) {
	d := synthesize([]string{"no-archive-candidates"}, nil)
	if d.Status != StatusUnverified {
		t.Fatalf("expected unverified, got %s", d.Status)
	}
}
