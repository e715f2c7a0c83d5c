// Package nzb decodes the NZB XML document: a small tree of <file> elements,
// each carrying the Usenet subject line the indexer advertised and the
// <segment> children needed to fetch the article bytes. Everything past
// "what segments exist and what did the poster call them" — archive
// recognition, main-payload selection, compression heuristics — belongs to
// whichever caller needs it; triage owns that classification for its own
// candidate scoring rather than duplicating it here.
package nzb

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

// Segment is one article of a posted file, addressed by its Message-ID.
type Segment struct {
	Bytes  int64  `xml:"bytes,attr"`
	Number int    `xml:"number,attr"`
	ID     string `xml:",chardata"`
}

// File is one <file> block: a Usenet subject (from which the real filename
// must be inferred, see ExtractFilename) plus its ordered segments.
type File struct {
	Poster   string    `xml:"poster,attr"`
	Date     int64     `xml:"date,attr"`
	Subject  string    `xml:"subject,attr"`
	Groups   []string  `xml:"groups>group"`
	Segments []Segment `xml:"segments>segment"`
}

// Meta is a free-form <head><meta> tag (password, tag, category, ...).
type Meta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// Head holds the NZB's optional metadata block.
type Head struct {
	Meta []Meta `xml:"meta"`
}

// NZB is the decoded document.
type NZB struct {
	XMLName xml.Name `xml:"nzb"`
	Head    Head     `xml:"head"`
	Files   []File   `xml:"file"`
}

// Parse decodes an NZB document. Indexers disagree on declared encodings
// (and some lie), so the reader goes through charset.NewReader first rather
// than trusting the XML prolog.
func Parse(r io.Reader) (*NZB, error) {
	sniffed, err := charset.NewReader(r, "")
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(sniffed)
	dec.Strict = false
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var doc NZB
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and decodes an NZB document from disk.
func ParseFile(path string) (*NZB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// CalculateID derives a stable identifier for the release from the first
// segment's Message-ID, the one value every poster-mangled copy of the same
// upload shares regardless of subject-line cosmetics.
func (n *NZB) CalculateID() string {
	if len(n.Files) == 0 || len(n.Files[0].Segments) == 0 {
		return ""
	}
	id := strings.Trim(n.Files[0].Segments[0].ID, "<>")
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

// ExtractFilename recovers the real filename a Usenet subject line is
// hiding. Well-behaved posters quote it: `"movie.mkv" yEnc (1/42)`. Less
// disciplined ones don't, so the fallback strips the trailing yEnc/segment
// annotation and takes the token left that carries an archive or video
// extension, or the whole trimmed remainder when no token does.
func ExtractFilename(subject string) string {
	if start := strings.IndexByte(subject, '"'); start != -1 {
		if end := strings.IndexByte(subject[start+1:], '"'); end != -1 {
			return subject[start+1 : start+1+end]
		}
	}

	name := subject
	if i := strings.Index(name, "yEnc"); i != -1 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "("); i != -1 {
		name = name[:i]
	}
	if token := filenameTokenRe.FindString(name); token != "" {
		return token
	}
	return strings.TrimSpace(name)
}

// filenameTokenRe matches a filename-shaped token ending in an archive,
// par2/nfo or video extension.
var filenameTokenRe = regexp.MustCompile(`(?i)[^\s"\[\]()]+\.(?:rar|r\d{2,3}|7z(?:\.\d{3})?|zip|par2|nfo|mkv|mp4|avi|m4v|mov|wmv|mpg|mpeg|ts|webm|flv)\b`)
