// Package indexer defines the common indexer capability surface (Search,
// DownloadNZB, Ping) plus the Newznab XML result shape every direct
// endpoint and the aggregator normalize into.
package indexer

import (
	"context"
	"encoding/xml"
	"strconv"

	"github.com/nzbstream/nzbstream/pkg/release"
)

// Indexer is the capability set every search backend (aggregator, direct
// Newznab endpoint, Easynews) satisfies.
type Indexer interface {
	Name() string
	Search(req SearchRequest) (*SearchResponse, error)
	DownloadNZB(ctx context.Context, downloadURL string) ([]byte, error)
	Ping() error
	GetUsage() Usage
}

// SearchRequest is the plan-derived query handed to an Indexer.
type SearchRequest struct {
	Query   string
	IMDbID  string
	TMDBID  string
	TVDBID  string
	Cat     string // Newznab category: "2000" movies, "5000" TV, "" generic search
	Limit   int
	Season  string
	Episode string
}

// SearchResponse is a Newznab RSS-style response.
type SearchResponse struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`

	// Releases is populated by NormalizeSearchResponse from Channel.Items;
	// empty until that conversion runs.
	Releases []*release.Release `xml:"-"`
}

// Channel holds the search result items.
type Channel struct {
	Items []Item `xml:"item"`
}

// Enclosure mirrors the RSS enclosure element some indexers use to carry size.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

// Item is one raw search result, prior to Release normalization.
type Item struct {
	Title       string      `xml:"title"`
	Link        string      `xml:"link"`
	GUID        string      `xml:"guid"`
	PubDate     string      `xml:"pubDate"`
	Category    string      `xml:"category"`
	Description string      `xml:"description"`
	Size        int64       `xml:"size"`
	Enclosure   Enclosure   `xml:"enclosure"`
	Attributes  []Attribute `xml:"attr"`

	// SourceIndexer is populated by the client, not present in the XML.
	SourceIndexer Indexer `xml:"-"`

	// ActualIndexer/ActualGUID are populated by aggregating clients (e.g.
	// NZBHydra2) that proxy several real indexers behind one endpoint; they
	// carry the underlying indexer's name and stable GUID when known.
	ActualIndexer string `xml:"-"`
	ActualGUID    string `xml:"-"`
}

// Attribute is a newznab-style name/value pair carried on an Item.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// NormalizeSearchResponse converts resp.Channel.Items into resp.Releases,
// preferring the real underlying indexer's name/GUID (ActualIndexer/
// ActualGUID) over the aggregator's own when an aggregating client resolved
// them, and falling back to the enclosure length when Size is unset.
func NormalizeSearchResponse(resp *SearchResponse) {
	if resp == nil {
		return
	}
	resp.Releases = make([]*release.Release, 0, len(resp.Channel.Items))
	for i := range resp.Channel.Items {
		item := &resp.Channel.Items[i]

		size := item.Size
		if size == 0 {
			size = item.Enclosure.Length
		}

		indexerName := item.ActualIndexer
		if indexerName == "" && item.SourceIndexer != nil {
			indexerName = item.SourceIndexer.Name()
		}

		guid := item.ActualGUID
		if guid == "" {
			guid = item.GUID
		}

		var grabs int
		if g := item.GetAttribute("grabs"); g != "" {
			grabs, _ = strconv.Atoi(g)
		}

		parsed := release.ParseReleaseTitle(item.Title)

		resp.Releases = append(resp.Releases, &release.Release{
			Title:         item.Title,
			Link:          item.Link,
			DetailsURL:    guid,
			Size:          size,
			Indexer:       indexerName,
			SourceIndexer: item.SourceIndexer,
			PubDate:       item.PubDate,
			GUID:          guid,
			Grabs:         grabs,
			Resolution:    parsed.Resolution,
			Languages:     parsed.Languages,
			QualityScore:  parsed.QualityScore,
		})
	}
}

// GetAttribute returns the named attribute's value, or "" if absent.
func (i *Item) GetAttribute(name string) string {
	for _, a := range i.Attributes {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// Usage is a snapshot of an indexer's daily and lifetime API/download counters.
type Usage struct {
	APIHitsLimit       int
	APIHitsUsed        int
	APIHitsRemaining   int
	DownloadsLimit     int
	DownloadsUsed       int
	DownloadsRemaining  int
	AllTimeAPIHitsUsed   int64
	AllTimeDownloadsUsed int64
}
