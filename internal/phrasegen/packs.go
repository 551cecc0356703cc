package phrasegen

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed packs.yaml
var packsYAML []byte

type packData struct {
	Emergency []string            `yaml:"emergency"`
	Starter   []string            `yaml:"starter"`
	Scenarios map[string][]string `yaml:"scenarios"`
}

var builtinPacks packData

func init() {
	if err := yaml.Unmarshal(packsYAML, &builtinPacks); err != nil {
		panic(fmt.Sprintf("phrasegen: embedded packs.yaml is invalid: %v", err))
	}
	if len(builtinPacks.Emergency) == 0 {
		panic("phrasegen: embedded packs.yaml has no emergency phrases")
	}
}

// EmergencyPhrases returns the fixed emergency phrase set. The slice is a
// copy; callers may mutate it.
func EmergencyPhrases() []string {
	return append([]string(nil), builtinPacks.Emergency...)
}

// StarterPhrases returns the default phrase set seeded on first run.
func StarterPhrases() []string {
	return append([]string(nil), builtinPacks.Starter...)
}

// Scenarios lists the scenario names the embedded packs cover.
func Scenarios() []string {
	names := make([]string, 0, len(builtinPacks.Scenarios))
	for name := range builtinPacks.Scenarios {
		names = append(names, name)
	}
	return names
}
