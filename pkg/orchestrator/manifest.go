package orchestrator

import (
	"net/http"

	"github.com/nzbstream/nzbstream/pkg/stremio"
)

func (o *Orchestrator) handleManifest(w http.ResponseWriter, r *http.Request) {
	m := stremio.NewManifest()
	if o.cfg.AddonName != "" {
		m.Name = o.cfg.AddonName
	}
	data, err := m.ToJSON()
	if err != nil {
		http.Error(w, "failed to build manifest", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

// handleHealth is exempt from the shared-secret gate (§6).
func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
