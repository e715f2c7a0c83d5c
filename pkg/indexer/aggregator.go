package indexer

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/nzbstream/nzbstream/pkg/indexer/manager"
	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/release"
)

// Aggregator fans a search out across every configured sub-indexer and
// merges/deduplicates the combined result set. It satisfies Indexer itself,
// so the orchestrator can treat "the aggregator" and "a direct endpoint"
// identically. A sub-indexer that trips its circuit breaker is skipped for
// the cooldown window rather than searched on every request (§5).
type Aggregator struct {
	Indexers []Indexer
	breaker  *manager.CircuitBreaker
}

func NewAggregator(indexers ...Indexer) *Aggregator {
	return &Aggregator{Indexers: indexers, breaker: manager.NewCircuitBreaker()}
}

func (a *Aggregator) Name() string { return "Aggregator" }

func (a *Aggregator) GetIndexers() []Indexer { return a.Indexers }

// GetUsage sums the daily usage counters across sub-indexers.
func (a *Aggregator) GetUsage() Usage {
	var usage Usage
	for _, idx := range a.Indexers {
		u := idx.GetUsage()
		usage.APIHitsLimit += u.APIHitsLimit
		usage.APIHitsRemaining += u.APIHitsRemaining
		usage.DownloadsLimit += u.DownloadsLimit
		usage.DownloadsRemaining += u.DownloadsRemaining
		usage.AllTimeAPIHitsUsed += u.AllTimeAPIHitsUsed
		usage.AllTimeDownloadsUsed += u.AllTimeDownloadsUsed
	}
	return usage
}

// Ping succeeds iff at least one sub-indexer is reachable.
func (a *Aggregator) Ping() error {
	var lastErr error
	ok := 0
	for _, idx := range a.Indexers {
		if err := idx.Ping(); err != nil {
			lastErr = err
		} else {
			ok++
		}
	}
	if ok == 0 && len(a.Indexers) > 0 {
		return fmt.Errorf("all indexers failed ping, last error: %w", lastErr)
	}
	return nil
}

// DownloadNZB tries each sub-indexer in turn, since ownership of a proxy
// download link isn't known ahead of time.
func (a *Aggregator) DownloadNZB(ctx context.Context, nzbURL string) ([]byte, error) {
	if len(a.Indexers) == 0 {
		return nil, fmt.Errorf("no indexers configured")
	}
	var lastErr error
	for _, idx := range a.Indexers {
		data, err := idx.DownloadNZB(ctx, nzbURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// ResolveDownloadURL searches by title and returns the Link of the first
// item whose normalized title matches and whose size equals size, or else
// of the first title-matching item, for resolving a direct-indexer URL
// surfaced by an external availability report.
func (a *Aggregator) ResolveDownloadURL(directURL, title string, size int64, cat string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("title required to resolve download URL")
	}
	resp, err := a.Search(SearchRequest{Query: title, Limit: 30, Cat: cat})
	if err != nil {
		return "", fmt.Errorf("search for resolve: %w", err)
	}
	if resp == nil || len(resp.Channel.Items) == 0 {
		return "", fmt.Errorf("no search results for title")
	}
	normTitle := release.NormalizeTitle(title)
	var fallback string
	for _, item := range resp.Channel.Items {
		if release.NormalizeTitle(item.Title) != normTitle || item.Link == "" {
			continue
		}
		if size > 0 && item.Size > 0 && item.Size == size {
			return item.Link, nil
		}
		if fallback == "" {
			fallback = item.Link
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no matching release for title in search results")
}

// Search queries every sub-indexer in parallel and merges the results with a
// three-tier dedupe: GUID, then normalized link, then title+size.
func (a *Aggregator) Search(req SearchRequest) (*SearchResponse, error) {
	resultsChan := make(chan []Item, len(a.Indexers))
	var wg sync.WaitGroup

	for _, idx := range a.Indexers {
		if a.breaker.Unavailable(idx.Name()) {
			logger.Debug("skipping indexer in circuit-breaker cooldown", "indexer", idx.Name())
			continue
		}
		wg.Add(1)
		go func(indexer Indexer) {
			defer wg.Done()
			resp, err := indexer.Search(req)
			if err != nil {
				logger.Warn("indexer search failed", "indexer", indexer.Name(), "err", err)
				a.breaker.RecordFailure(indexer.Name())
				resultsChan <- nil
				return
			}
			a.breaker.RecordSuccess(indexer.Name())
			if resp != nil {
				resultsChan <- resp.Channel.Items
			}
		}(idx)
	}

	wg.Wait()
	close(resultsChan)

	var allItems []Item
	for items := range resultsChan {
		allItems = append(allItems, items...)
	}

	seenGUID := make(map[string]bool)
	seenLink := make(map[string]bool)
	seenTitleSize := make(map[string]bool)
	unique := make([]Item, 0, len(allItems))

	for _, item := range allItems {
		switch {
		case item.GUID != "":
			if seenGUID[item.GUID] {
				continue
			}
			seenGUID[item.GUID] = true
		case item.Link != "":
			key := normalizeURL(item.Link)
			if seenLink[key] {
				continue
			}
			seenLink[key] = true
		default:
			key := fmt.Sprintf("%s:%d", release.NormalizeTitle(item.Title), item.Size)
			if item.Size > 0 {
				if seenTitleSize[key] {
					continue
				}
				seenTitleSize[key] = true
			}
		}
		unique = append(unique, item)
	}

	sort.Slice(unique, func(i, j int) bool { return unique[i].Size > unique[j].Size })

	return &SearchResponse{
		XMLName: xml.Name{Local: "rss"},
		Channel: Channel{Items: unique},
	}, nil
}

func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	return strings.ToLower(fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, parsed.Path))
}
