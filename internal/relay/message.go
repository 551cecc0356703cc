package relay

import (
	"time"
)

// Peer message types.
const (
	// MessageContextUpdate carries an environment classification and an
	// optional accompanying phrase list.
	MessageContextUpdate = "context_update"
	// MessageCustomPhrases carries a scenario-tagged phrase list.
	MessageCustomPhrases = "custom_phrases"
	// MessageRequestContext asks the peer to re-send its current context.
	MessageRequestContext = "request_context"
	// MessagePhraseSpoken echoes that the peer spoke a phrase.
	MessagePhraseSpoken = "phrase_spoken"
)

// Message is one device-to-device payload. It is a flat object with a type
// discriminator; fields irrelevant to the type are omitted on the wire.
type Message struct {
	Type      string    `json:"type"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// context_update
	Environment string  `json:"environment,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	PlaceName   string  `json:"place_name,omitempty"`
	SceneText   string  `json:"scene_text,omitempty"`

	// context_update, custom_phrases
	Phrases []string `json:"phrases,omitempty"`

	// custom_phrases
	Scenario string `json:"scenario,omitempty"`

	// phrase_spoken
	Text string `json:"text,omitempty"`
}
