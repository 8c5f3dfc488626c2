package models

import (
	"fmt"
	"strings"
)

// Personality is a named system-prompt configuration that controls the tone
// and style of generated scripts.
type Personality struct {
	ID            string `json:"id" mapstructure:"id"`
	Name          string `json:"name" mapstructure:"name"`
	Description   string `json:"description" mapstructure:"description"`
	SystemPrompt  string `json:"system_prompt" mapstructure:"system_prompt"`
	ExampleScript string `json:"example_script,omitempty" mapstructure:"example_script"`
}

// NewPersonality validates and returns a personality.
func NewPersonality(id, name, description, systemPrompt, exampleScript string) (Personality, error) {
	p := Personality{
		ID:            id,
		Name:          name,
		Description:   description,
		SystemPrompt:  systemPrompt,
		ExampleScript: exampleScript,
	}
	return p, p.Validate()
}

// Validate checks the required fields.
func (p Personality) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrEmptyPersonalityID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return ErrEmptySystemPrompt
	}
	return nil
}

// PersonalityCatalog is an ordered, id-unique set of personalities.
type PersonalityCatalog struct {
	ordered []Personality
	byID    map[string]int
}

// NewPersonalityCatalog validates every entry and rejects duplicate ids.
func NewPersonalityCatalog(personalities ...Personality) (*PersonalityCatalog, error) {
	c := &PersonalityCatalog{byID: make(map[string]int, len(personalities))}
	for _, p := range personalities {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("personality %q: %w", p.ID, err)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate personality id %q", p.ID)
		}
		c.byID[p.ID] = len(c.ordered)
		c.ordered = append(c.ordered, p)
	}
	return c, nil
}

// Get looks up a personality by id.
func (c *PersonalityCatalog) Get(id string) (Personality, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Personality{}, false
	}
	return c.ordered[i], true
}

// All returns the personalities in configuration order.
func (c *PersonalityCatalog) All() []Personality {
	out := make([]Personality, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// DefaultPersonalities is the built-in catalog used when none is configured.
func DefaultPersonalities() []Personality {
	return []Personality{
		{
			ID:           "noir",
			Name:         "Hard-Boiled Detective",
			Description:  "Rain-soaked narration, clipped dialogue, everybody has a secret.",
			SystemPrompt: "You write short stage scripts in the voice of a 1940s noir detective story. Moody narration, terse lines, dramatic reveals.",
		},
		{
			ID:           "shakespeare",
			Name:         "The Bard",
			Description:  "Iambic flourishes, asides to the audience, tragic misunderstandings.",
			SystemPrompt: "You write short stage scripts as a Shakespearean playwright. Use archaic diction, asides and grand soliloquies.",
		},
		{
			ID:           "infomercial",
			Name:         "Late-Night Infomercial",
			Description:  "Overexcited hosts selling something nobody needs.",
			SystemPrompt: "You write short stage scripts as an overexcited late-night infomercial. Exaggerated enthusiasm, fake testimonials, 'but wait, there's more'.",
		},
		{
			ID:           "nature-doc",
			Name:         "Nature Documentary",
			Description:  "A hushed narrator observing humans as wildlife.",
			SystemPrompt: "You write short stage scripts as a hushed nature documentary that observes the characters as if they were wild animals.",
		},
	}
}
