// Package stremio implements the wire types of the Stremio addon protocol
// this service exposes: the manifest descriptor and the stream response
// list, both served as-is over HTTP (§ manifest.json, stream endpoints). The
// JSON shape is Stremio's contract, not ours, so field names and casing
// follow the protocol; everything else here — defaults, construction,
// validation — is this addon's own.
package stremio

import "encoding/json"

// Manifest describes this addon to a Stremio client: what it serves and
// under which resource/type/id combinations it should be consulted.
type Manifest struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Resources   []string  `json:"resources"`
	Types       []string  `json:"types"`
	Catalogs    []Catalog `json:"catalogs"`
	IDPrefixes  []string  `json:"idPrefixes,omitempty"`
	Background  string    `json:"background,omitempty"`
	Logo        string    `json:"logo,omitempty"`
}

// Catalog is a content catalog this addon would surface; this addon is a
// stream-only adapter, so Catalogs is always empty, but the field is part
// of the protocol and must round-trip as [] rather than null.
type Catalog struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

const defaultManifestID = "community.nzbstream"

// NewManifest builds the manifest this addon serves at /manifest.json.
// Callers override Name from configuration (ADDON_NAME) before encoding.
func NewManifest() *Manifest {
	return &Manifest{
		ID:          defaultManifestID,
		Version:     "0.1.0",
		Name:        "NZBStream",
		Description: "Resolves Usenet NZB releases into direct-playable streams for movies and series",
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series"},
		Catalogs:    []Catalog{},
		IDPrefixes:  []string{"tt", "tmdb"},
	}
}

// ToJSON renders the manifest for the HTTP response body.
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
