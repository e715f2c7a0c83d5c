package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nzbstream/nzbstream/pkg/cache"
	"github.com/nzbstream/nzbstream/pkg/mount"
)

// handleNZBStream implements GET/HEAD /nzb/stream (§6): resolve or build a
// mount handle for the requested download, locate the playable file on the
// mount's WebDAV surface, and proxy the ranged request through it.
func (o *Orchestrator) handleNZBStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	downloadURL := q.Get("downloadUrl")
	reqType := q.Get("type")
	title := q.Get("title")
	easynewsPayload := q.Get("easynewsPayload")
	historyNzoID := q.Get("historyNzoId")

	if downloadURL == "" && easynewsPayload == "" && historyNzoID == "" {
		http.Error(w, "missing downloadUrl", http.StatusBadRequest)
		return
	}

	category := o.mountCli.CategoryFor(reqType)
	mountKey := mountCacheKey(downloadURL, easynewsPayload, historyNzoID)

	handle, err := o.cache.Mount.GetOrBuild(mountKey, func() cache.BuildResult {
		return o.buildMountHandle(r.Context(), downloadURL, easynewsPayload, category, historyNzoID)
	})
	if err != nil {
		o.mountCli.Serve(w, r, nil, err)
		return
	}

	status, ok := handle.(*mount.HistoryStatus)
	if !ok || status == nil {
		o.mountCli.Serve(w, r, nil, fmt.Errorf("invalid mount handle"))
		return
	}

	reqID := parseRequestID(reqType, q.Get("id"))
	file, findErr := o.mountCli.FindPlayableFile(r.Context(), "/"+status.Name, reqID.EpisodeHint())
	if findErr != nil {
		o.mountCli.Serve(w, r, nil, mount.ErrNoVideoFound)
		return
	}

	o.mountCli.Serve(w, r, &mount.PlaybackRequest{File: file, Title: title}, nil)
}

func mountCacheKey(downloadURL, easynewsPayload, historyNzoID string) string {
	switch {
	case downloadURL != "":
		return downloadURL
	case easynewsPayload != "":
		return "easynews:" + easynewsPayload
	default:
		return "history:" + historyNzoID
	}
}

// buildMountHandle is the Mount Handle Cache's builder function: it submits
// the download to the mount service (or reuses an existing history entry)
// and waits for the job to settle. A job that fails deterministically (the
// mount service itself rejected the NZB) is pinned failed for the cache
// TTL; a transient error is not cached, so the next caller retries.
func (o *Orchestrator) buildMountHandle(ctx context.Context, downloadURL, easynewsPayload, category, historyNzoID string) cache.BuildResult {
	if historyNzoID != "" {
		if status, err := o.mountCli.History(ctx, historyNzoID); err == nil && status.Status == "completed" {
			return cache.BuildResult{Handle: status}
		}
	}

	var nzoID string
	var err error
	switch {
	case downloadURL != "":
		nzoID, err = o.mountCli.AddURL(ctx, downloadURL, category)
	case easynewsPayload != "" && o.easynews != nil:
		var body []byte
		body, err = o.easynews.DownloadNZB(ctx, "/easynews/nzb?payload="+url.QueryEscape(easynewsPayload))
		if err != nil {
			return cache.BuildResult{Err: fmt.Errorf("fetch easynews nzb: %w", err)}
		}
		nzoID, err = o.mountCli.AddFile(ctx, "easynews.nzb", body, category)
	default:
		return cache.BuildResult{Err: fmt.Errorf("no download source for mount request"), Deterministic: true}
	}
	if err != nil {
		return cache.BuildResult{Err: err}
	}

	status, err := o.mountCli.WaitForCompletion(ctx, nzoID)
	if err != nil {
		return cache.BuildResult{Err: err}
	}
	if status.Status != "completed" {
		return cache.BuildResult{Err: fmt.Errorf("mount job %s: %s", status.Status, status.FailMsg), Deterministic: true}
	}
	return cache.BuildResult{Handle: status}
}
