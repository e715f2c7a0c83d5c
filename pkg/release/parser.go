package release

import (
	"regexp"
	"strconv"
	"strings"

	ptt "github.com/MunifTanjim/go-ptt"
)

// resolutions is the closed, ordered label set. Index is the quality rank:
// higher index ranks higher. "unknown" ranks lowest (0).
var resolutions = []string{
	"unknown", "240p", "360p", "480p", "540p", "576p", "720p", "1080p", "1440p", "2160p", "4320p",
}

var resolutionRank = func() map[string]int {
	m := make(map[string]int, len(resolutions))
	for i, r := range resolutions {
		m[r] = i
	}
	return m
}()

var resolutionAliases = map[string]string{
	"4k":     "2160p",
	"uhd":    "2160p",
	"8k":     "4320p",
	"fullhd": "1080p",
	"fhd":    "1080p",
	"sd":     "480p",
}

var numericResolutionRe = regexp.MustCompile(`(?i)\b(240|360|480|540|576|720|1080|1440|2160|4320)p?\b`)

// ParsedRelease mirrors the signal the release-title parser extracts,
// combining the general-purpose parse-torrent-title result with the
// closed resolution/language/quality labels this system cares about.
type ParsedRelease struct {
	Title      string
	Year       int
	Resolution string
	Quality    string
	Codec      string
	Audio      string
	Channels   string
	HDR        []string
	Container  string
	Group      string
	Season     int
	Episode    int
	Languages  []string
	Network    string
	Repack     bool
	Proper     bool
	Extended   bool
	Unrated    bool
	ThreeD     bool
	Size       string
	BitDepth   string
	Dubbed     bool
	Hardcoded  bool

	QualityScore int
}

// ResolutionRank returns the quality rank of a resolution label (0 for
// anything not in the closed label set, including "unknown").
func ResolutionRank(label string) int {
	return resolutionRank[label]
}

// DetectResolution applies the parser-result → numeric-pattern → alias
// precedence described for release title parsing, and falls back to
// "unknown" when nothing matches.
func DetectResolution(title, pttResolution string) string {
	if r := normalizeResolution(pttResolution); r != "" {
		return r
	}
	if m := numericResolutionRe.FindStringSubmatch(title); len(m) == 2 {
		return m[1] + "p"
	}
	lower := strings.ToLower(title)
	for alias, canon := range resolutionAliases {
		if containsToken(lower, alias) {
			return canon
		}
	}
	return "unknown"
}

func normalizeResolution(r string) string {
	if r == "" {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(r))
	if _, ok := resolutionRank[lower]; ok {
		return lower
	}
	if canon, ok := resolutionAliases[lower]; ok {
		return canon
	}
	if m := numericResolutionRe.FindStringSubmatch(lower); len(m) == 2 {
		return m[1] + "p"
	}
	return ""
}

func containsToken(lower, token string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`)
	return re.MatchString(lower)
}

// ParseReleaseTitle extracts structured signal from a raw release title.
// Pure function, no I/O, idempotent.
func ParseReleaseTitle(title string) ParsedRelease {
	res := ptt.Parse(title)

	pr := ParsedRelease{
		Title:     res.Title,
		Quality:   res.Quality,
		Codec:     res.Codec,
		Audio:     res.Audio,
		Channels:  res.Channels,
		HDR:       res.HDR,
		Container: res.Container,
		Group:     res.Group,
		Network:   res.Network,
		Repack:    res.Repack,
		Proper:    res.Proper,
		Extended:  res.Extended,
		Unrated:   res.Unrated,
		ThreeD:    res.ThreeD,
		Size:      res.Size,
		BitDepth:  res.BitDepth,
		Dubbed:    res.Dubbed,
		Hardcoded: res.Hardcoded,
	}
	if res.Year != "" {
		if y, err := strconv.Atoi(res.Year); err == nil {
			pr.Year = y
		}
	}
	if len(res.Season) > 0 {
		pr.Season = res.Season[0]
	}
	if len(res.Episode) > 0 {
		pr.Episode = res.Episode[0]
	}

	pr.Resolution = DetectResolution(title, res.Resolution)
	pr.QualityScore = ResolutionRank(pr.Resolution)
	pr.Languages = DetectLanguages(title)
	if len(res.Languages) > 0 {
		pr.Languages = mergeLanguages(pr.Languages, res.Languages)
	}
	return pr
}

func mergeLanguages(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, l := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(l)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}
