package stremio

// StreamResponse is the body of a /stream/{type}/{id}.json response.
type StreamResponse struct {
	Streams []Stream `json:"streams"`
}

// Stream is one playable option offered for a content ID. This addon only
// ever populates URL (the mount proxy's playback endpoint); ExternalUrl
// exists in the protocol for addons that hand off to a third-party player
// instead, which this one never does.
type Stream struct {
	URL           string         `json:"url,omitempty"`
	ExternalUrl   string         `json:"externalUrl,omitempty"`
	Name          string         `json:"name,omitempty"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

// BehaviorHints tells the Stremio client how to treat a Stream: whether it
// needs an external player, what bin-watching group it belongs to, and
// (when known) the exact byte size the player's progress bar should expect.
type BehaviorHints struct {
	NotWebReady      bool     `json:"notWebReady,omitempty"`
	BingeGroup       string   `json:"bingeGroup,omitempty"`
	CountryWhitelist []string `json:"countryWhitelist,omitempty"`
	VideoSize        int64    `json:"videoSize,omitempty"`
	Filename         string   `json:"filename,omitempty"`
}
