package phrasegen

import (
	"context"
	"testing"
)

func TestEmergencyPhrases_FixedSet(t *testing.T) {
	phrases := EmergencyPhrases()
	if len(phrases) != 8 {
		t.Fatalf("EmergencyPhrases() returned %d phrases, want 8", len(phrases))
	}
	if phrases[0] != "I need help now" {
		t.Errorf("first emergency phrase = %q, want %q", phrases[0], "I need help now")
	}

	// Returned slice is a copy; mutation must not leak into the pack.
	phrases[0] = "mutated"
	if EmergencyPhrases()[0] != "I need help now" {
		t.Error("EmergencyPhrases() shares backing storage with the embedded pack")
	}
}

func TestStaticGenerator_KnownScenario(t *testing.T) {
	phrases, err := StaticGenerator{}.Generate(context.Background(), "Restaurant", 4)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if len(phrases) != 4 {
		t.Errorf("Generate() returned %d phrases, want 4 (limit)", len(phrases))
	}
}

func TestStaticGenerator_UnknownScenarioFallsBackToStarter(t *testing.T) {
	phrases, err := StaticGenerator{}.Generate(context.Background(), "moon base", 0)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	starter := StarterPhrases()
	if len(phrases) != len(starter) {
		t.Fatalf("Generate() returned %d phrases, want the %d starter phrases", len(phrases), len(starter))
	}
	if phrases[0] != starter[0] {
		t.Errorf("first phrase = %q, want starter %q", phrases[0], starter[0])
	}
}

func TestParsePhrases_CleansModelOutput(t *testing.T) {
	raw := `Here are some phrases:
1. Table for two, please
- "Water, please"
2) Can I see the menu?

• I have a food allergy
1. Table for two, please
`
	got := parsePhrases(raw, 10)
	want := []string{
		"Here are some phrases:",
		"Table for two, please",
		"Water, please",
		"Can I see the menu?",
		"I have a food allergy",
	}
	if len(got) != len(want) {
		t.Fatalf("parsePhrases() returned %d phrases, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phrase %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParsePhrases_Limit(t *testing.T) {
	got := parsePhrases("a\nb\nc\nd", 2)
	if len(got) != 2 {
		t.Errorf("parsePhrases() returned %d phrases, want 2", len(got))
	}
}
