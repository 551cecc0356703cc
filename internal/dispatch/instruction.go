// Package dispatch routes asynchronous instructions to local effects.
//
// Instructions arrive from three sources: the server's pending-instruction
// queue, peer messages, and JSON files dropped into a watched inbox
// directory. All three funnel through Handle, which decodes the raw payload
// into a typed instruction at the boundary. A payload that fails to decode
// is discarded silently; instruction sources are not schema-validated
// upstream, so discarding is the correct best-effort behavior.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed marks an instruction payload that can never be processed.
// It is logged and dropped, never retried.
var ErrMalformed = errors.New("malformed instruction")

// Recognized instruction types.
const (
	TypeSyncPhrases     = "syncPhrases"
	TypeLoadContextPack = "loadContextPack"
	TypeUpdatePhrases   = "updatePhrases"
	TypeSpeakMessage    = "speakMessage"
	TypeUpdateSettings  = "updateSettings"
	TypeEmergency       = "emergency"
)

// Instruction is a decoded instruction ready for processing.
type Instruction struct {
	Type       string
	Sender     string
	ReceivedAt time.Time
	Payload    Payload
}

// Payload is the sum of per-type instruction payloads. Types that carry no
// data have a nil Payload.
type Payload interface {
	isPayload()
}

// LoadContextPack asks for generated phrases for a scenario.
type LoadContextPack struct {
	Scenario string
}

// UpdatePhrases replaces the current non-favorite phrase set.
type UpdatePhrases struct {
	Phrases  []string
	Category string
}

// SpeakMessage forwards text to the speech backend.
type SpeakMessage struct {
	Text string
}

func (LoadContextPack) isPayload() {}
func (UpdatePhrases) isPayload()   {}
func (SpeakMessage) isPayload()    {}

// phraseListSeparator splits the flat "phrases" payload value into a list.
const phraseListSeparator = "\n"

// Decode turns a raw type tag plus flat key-value payload into a typed
// instruction. A missing or unknown type tag, or a payload missing a
// required key, returns an error wrapping ErrMalformed.
func Decode(typ string, payload map[string]string, sender string) (*Instruction, error) {
	inst := &Instruction{
		Type:       typ,
		Sender:     sender,
		ReceivedAt: time.Now().UTC(),
	}

	switch typ {
	case TypeSyncPhrases, TypeUpdateSettings, TypeEmergency:
		// No payload.

	case TypeLoadContextPack:
		scenario := strings.TrimSpace(payload["scenario"])
		if scenario == "" {
			return nil, fmt.Errorf("%w: %s without scenario", ErrMalformed, typ)
		}
		inst.Payload = LoadContextPack{Scenario: scenario}

	case TypeUpdatePhrases:
		phrases := splitPhraseList(payload["phrases"])
		if len(phrases) == 0 {
			return nil, fmt.Errorf("%w: %s without phrases", ErrMalformed, typ)
		}
		inst.Payload = UpdatePhrases{Phrases: phrases, Category: payload["category"]}

	case TypeSpeakMessage:
		text := strings.TrimSpace(payload["text"])
		if text == "" {
			return nil, fmt.Errorf("%w: %s without text", ErrMalformed, typ)
		}
		inst.Payload = SpeakMessage{Text: text}

	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrMalformed, typ)
	}

	return inst, nil
}

func splitPhraseList(raw string) []string {
	var phrases []string
	for _, line := range strings.Split(raw, phraseListSeparator) {
		if p := strings.TrimSpace(line); p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}

// JoinPhraseList is the inverse of the "phrases" payload decoding; senders
// use it to build an updatePhrases payload value.
func JoinPhraseList(phrases []string) string {
	return strings.Join(phrases, phraseListSeparator)
}
