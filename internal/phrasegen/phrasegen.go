// Package phrasegen produces scenario-relevant phrase sets.
//
// Two implementations: a Claude-backed generator for fresh context packs,
// and a static generator over the embedded packs for offline use. The
// emergency set is always served from the embedded data and never touches
// the network.
package phrasegen

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPackSize is how many phrases a context pack carries unless the
// caller asks otherwise.
const DefaultPackSize = 12

// Generator produces phrases for a scenario.
type Generator interface {
	Generate(ctx context.Context, scenario string, limit int) ([]string, error)
}

// StaticGenerator serves the embedded scenario packs. It is the zero-network
// fallback when no API key is configured.
type StaticGenerator struct{}

func (StaticGenerator) Generate(ctx context.Context, scenario string, limit int) ([]string, error) {
	phrases, ok := builtinPacks.Scenarios[normalizeScenario(scenario)]
	if !ok {
		phrases = builtinPacks.Starter
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("no phrases available for scenario %q", scenario)
	}
	if limit > 0 && len(phrases) > limit {
		phrases = phrases[:limit]
	}
	return append([]string(nil), phrases...), nil
}

func normalizeScenario(scenario string) string {
	return strings.ToLower(strings.TrimSpace(scenario))
}

// cleanPhrase strips list markers, numbering, and surrounding quotes from a
// generated line. Returns "" for lines that carry no phrase.
func cleanPhrase(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•")
	s = strings.TrimSpace(s)

	// "1. Hello" / "2) Hello"
	if i := strings.IndexAny(s, ".)"); i > 0 && i <= 3 {
		digits := true
		for _, r := range s[:i] {
			if r < '0' || r > '9' {
				digits = false
				break
			}
		}
		if digits {
			s = strings.TrimSpace(s[i+1:])
		}
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
