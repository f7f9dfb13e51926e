package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Persona describes who the agent is: the system prompt for decision
// requests, a display name, and the seed emotional state.
type Persona struct {
	Name         string             `yaml:"name"`
	SystemPrompt string             `yaml:"system_prompt"`
	// Emotions seeds the bounded emotional-state map sent with every
	// decision request.
	Emotions map[string]float64 `yaml:"emotions"`
}

const defaultSystemPrompt = "You are a small embodied companion living on the user's desktop. " +
	"You observe the environment and choose exactly one action per turn from the tools offered. " +
	"Prefer observing over acting. Never invent tools that were not offered."

// DefaultPersona returns the built-in persona used when no persona file
// exists.
func DefaultPersona() *Persona {
	return &Persona{
		Name:         "familiar",
		SystemPrompt: defaultSystemPrompt,
		Emotions: map[string]float64{
			"curiosity":  0.5,
			"confidence": 0.5,
			"concern":    0.1,
		},
	}
}

// LoadPersona reads .familiar/persona.yaml under workspace. A missing
// file yields the default persona.
func LoadPersona(workspace string) (*Persona, error) {
	path := filepath.Join(workspace, ".familiar", "persona.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPersona(), nil
		}
		return nil, fmt.Errorf("failed to read persona: %w", err)
	}

	p := DefaultPersona()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaultSystemPrompt
	}
	if p.Emotions == nil {
		p.Emotions = DefaultPersona().Emotions
	}
	return p, nil
}
