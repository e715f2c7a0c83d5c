package release

import (
	"regexp"
	"strings"
)

// languageLexicon maps a canonical language name to its synonym tokens as
// they appear in release titles. A title matches a language when any
// synonym appears as a whole-word, punctuation-normalized token.
var languageLexicon = map[string][]string{
	"English":    {"english", "eng"},
	"French":     {"french", "fre", "fra", "vff", "vf", "truefrench"},
	"German":     {"german", "ger", "deu"},
	"Spanish":    {"spanish", "spa", "esp", "castellano"},
	"Italian":    {"italian", "ita"},
	"Portuguese": {"portuguese", "por", "pt"},
	"Dutch":      {"dutch", "nld", "nl"},
	"Russian":    {"russian", "rus"},
	"Polish":     {"polish", "pol", "pl"},
	"Swedish":    {"swedish", "swe", "sv"},
	"Norwegian":  {"norwegian", "nor", "no"},
	"Danish":     {"danish", "dan", "dk"},
	"Finnish":    {"finnish", "fin", "fi"},
	"Greek":      {"greek", "gre", "ell"},
	"Turkish":    {"turkish", "tur", "tr"},
	"Hebrew":     {"hebrew", "heb"},
	"Arabic":     {"arabic", "ara"},
	"Hindi":      {"hindi", "hin"},
	"Tamil":      {"tamil", "tam"},
	"Telugu":     {"telugu", "tel"},
	"Malayalam":  {"malayalam", "mal"},
	"Bengali":    {"bengali", "ben", "bangla"},
	"Punjabi":    {"punjabi", "pan"},
	"Urdu":       {"urdu", "urd"},
	"Persian":    {"persian", "farsi", "fas"},
	"Chinese":    {"chinese", "chi", "zho", "mandarin", "cantonese"},
	"Japanese":   {"japanese", "jpn", "jap"},
	"Korean":     {"korean", "kor"},
	"Vietnamese": {"vietnamese", "vie"},
	"Thai":       {"thai", "tha"},
	"Indonesian": {"indonesian", "ind"},
	"Malay":      {"malay", "msa"},
	"Czech":      {"czech", "cze", "ces"},
	"Slovak":     {"slovak", "slk", "svk"},
	"Hungarian":  {"hungarian", "hun"},
	"Romanian":   {"romanian", "rum", "ron"},
	"Bulgarian":  {"bulgarian", "bul"},
	"Croatian":   {"croatian", "hrv"},
	"Serbian":    {"serbian", "srp"},
	"Ukrainian":  {"ukrainian", "ukr"},
	"Lithuanian": {"lithuanian", "lit"},
	"Latvian":    {"latvian", "lav"},
	"Estonian":   {"estonian", "est"},
	"Icelandic":  {"icelandic", "isl"},
	"Afrikaans":  {"afrikaans", "afr"},
	"Swahili":    {"swahili", "swa"},
	"Filipino":   {"filipino", "tagalog", "fil"},
}

type langMatcher struct {
	name    string
	pattern *regexp.Regexp
}

var languageMatchers = buildLanguageMatchers()

func buildLanguageMatchers() []langMatcher {
	out := make([]langMatcher, 0, len(languageLexicon))
	for name, synonyms := range languageLexicon {
		escaped := make([]string, len(synonyms))
		for i, s := range synonyms {
			escaped[i] = regexp.QuoteMeta(s)
		}
		pattern := regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
		out = append(out, langMatcher{name: name, pattern: pattern})
	}
	return out
}

// DetectLanguages returns every language in the lexicon whose synonym
// appears as a whole-word token in title. Multi-match is allowed.
func DetectLanguages(title string) []string {
	normalized := normalizePunctuation(title)
	var matched []string
	for _, m := range languageMatchers {
		if m.pattern.MatchString(normalized) {
			matched = append(matched, m.name)
		}
	}
	return matched
}

var punctuationRe = regexp.MustCompile(`[._-]+`)

func normalizePunctuation(s string) string {
	return punctuationRe.ReplaceAllString(s, " ")
}
