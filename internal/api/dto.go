package api

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is a strict RFC 3339 wire timestamp. Unparseable dates fail the
// decode instead of silently defaulting to the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON rejects anything that is not a valid RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return fmt.Errorf("timestamp is missing")
	}

	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Some backends emit fractional seconds.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("unparseable timestamp %q: %w", s, err)
		}
	}

	t.Time = parsed
	return nil
}

// MarshalJSON emits RFC 3339 UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

// UserDTO is the server's user record.
type UserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// PhraseDTO is the server's phrase record.
type PhraseDTO struct {
	ID         string    `json:"id"`
	PhraseText string    `json:"phraseText"`
	Category   string    `json:"category,omitempty"`
	UsageCount int       `json:"usageCount"`
	IsFavorite bool      `json:"isFavorite"`
	CreatedAt  Timestamp `json:"createdAt"`
	UpdatedAt  Timestamp `json:"updatedAt"`
}

// SettingsDTO is the server's settings record.
type SettingsDTO struct {
	Language     string    `json:"language"`
	SpeechRate   float64   `json:"speechRate"`
	AIEnabled    bool      `json:"aiEnabled"`
	ResponseMode string    `json:"responseMode"`
	UpdatedAt    Timestamp `json:"updatedAt"`
}

// EventDTO is one analytics event in a batch upload.
type EventDTO struct {
	EventType  string `json:"eventType"`
	EventData  string `json:"eventData,omitempty"`
	PhraseUsed string `json:"phraseUsed,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// InstructionDTO is a server-queued remote instruction.
type InstructionDTO struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt Timestamp         `json:"createdAt"`
}

// loginRequest / loginResponse cover both login and signup.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type loginResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

type phrasesResponse struct {
	Phrases []PhraseDTO `json:"phrases"`
}

type phraseResponse struct {
	Phrase PhraseDTO `json:"phrase"`
}

type createPhraseRequest struct {
	PhraseText string `json:"phraseText"`
	Category   string `json:"category,omitempty"`
}

type updatePhraseRequest struct {
	PhraseText string `json:"phraseText,omitempty"`
	Category   string `json:"category,omitempty"`
	UsageCount *int   `json:"usageCount,omitempty"`
	IsFavorite *bool  `json:"isFavorite,omitempty"`
}

type settingsEnvelope struct {
	Settings SettingsDTO `json:"settings"`
}

type logEventsRequest struct {
	Events []EventDTO `json:"events"`
}

type registerDeviceRequest struct {
	Token       string `json:"token"`
	Platform    string `json:"platform"`
	DeviceModel string `json:"deviceModel"`
}

type instructionsResponse struct {
	Instructions []InstructionDTO `json:"instructions"`
}
