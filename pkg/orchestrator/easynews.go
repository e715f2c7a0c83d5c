package orchestrator

import (
	"net/http"
	"net/url"
)

// handleEasynewsNZB implements GET /easynews/nzb?payload=... (§6): the
// opaque payload token was minted by the Easynews search adapter and is
// handed straight back to its DownloadNZB, which decodes it and replays the
// original Easynews download request.
func (o *Orchestrator) handleEasynewsNZB(w http.ResponseWriter, r *http.Request) {
	if o.easynews == nil {
		http.Error(w, "easynews not configured", http.StatusNotFound)
		return
	}
	payload := r.URL.Query().Get("payload")
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	syntheticURL := "/easynews/nzb?payload=" + url.QueryEscape(payload)
	body, err := o.easynews.DownloadNZB(r.Context(), syntheticURL)
	if err != nil {
		http.Error(w, "failed to fetch nzb: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/x-nzb")
	w.Write(body)
}
