package nzb

import (
	"strings"
	"testing"
)

const sampleDoc = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
<head>
<meta type="category">Movies</meta>
</head>
<file poster="someone@example.com" date="1700000000" subject="[1/2] - &quot;movie.mkv&quot; yEnc (1/3)">
<groups><group>alt.binaries.test</group></groups>
<segments>
<segment bytes="500000" number="2">part2@example</segment>
<segment bytes="500000" number="1">part1@example</segment>
</segments>
</file>
</nzb>`

func TestParse(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Files) != 1 {
		t.Fatalf("got %d files, want 1", len(doc.Files))
	}
	if len(doc.Head.Meta) != 1 || doc.Head.Meta[0].Value != "Movies" {
		t.Errorf("head meta not decoded: %+v", doc.Head.Meta)
	}
	f := doc.Files[0]
	if len(f.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(f.Segments))
	}
}

func TestCalculateID(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id := doc.CalculateID()
	if id == "" {
		t.Fatal("CalculateID returned empty string")
	}
	// Deterministic: same document, same first-segment Message-ID, same hash.
	doc2, _ := Parse(strings.NewReader(sampleDoc))
	if doc2.CalculateID() != id {
		t.Error("CalculateID is not deterministic across identical documents")
	}
}

func TestCalculateID_noSegments(t *testing.T) {
	empty := &NZB{}
	if id := empty.CalculateID(); id != "" {
		t.Errorf("CalculateID() on empty doc = %q, want empty", id)
	}
}

func TestExtractFilename_quoted(t *testing.T) {
	got := ExtractFilename(`[1/2] - "movie.mkv" yEnc (1/3)`)
	if got != "movie.mkv" {
		t.Errorf("ExtractFilename() = %q, want %q", got, "movie.mkv")
	}
}

func TestExtractFilename_unquoted(t *testing.T) {
	got := ExtractFilename("movie.mkv yEnc (1/3)")
	if got != "movie.mkv" {
		t.Errorf("ExtractFilename() = %q, want %q", got, "movie.mkv")
	}
}
