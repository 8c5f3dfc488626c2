package models

import (
	"slices"
	"strings"
	"time"
)

// WordsPerSecond is the speaking rate used to estimate performance length
// (150 words per minute).
const WordsPerSecond = 150.0 / 60.0

// Role is a character in a generated script.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Lines       []string `json:"lines"`
}

// Script is an AI-generated performance for the acting team.
type Script struct {
	Content           string    `json:"content"`
	Roles             []Role    `json:"roles"`
	PersonalityID     string    `json:"personality_id"`
	WordCount         int       `json:"word_count"`
	EstimatedDuration int       `json:"estimated_duration"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// NewScript validates the role list and fills the derived fields. A zero
// wordCount is computed from content; a zero estimatedDuration is computed
// from the word count.
func NewScript(content string, roles []Role, personalityID string, wordCount, estimatedDuration int, generatedAt time.Time) (*Script, error) {
	if len(roles) == 0 {
		return nil, ErrNoRoles
	}
	if wordCount == 0 {
		wordCount = CountWords(content)
	}
	if estimatedDuration == 0 {
		estimatedDuration = EstimateDuration(wordCount)
	}
	copied := make([]Role, len(roles))
	for i, r := range roles {
		copied[i] = Role{Name: r.Name, Description: r.Description, Lines: slices.Clone(r.Lines)}
		if copied[i].Lines == nil {
			copied[i].Lines = []string{}
		}
	}
	return &Script{
		Content:           content,
		Roles:             copied,
		PersonalityID:     personalityID,
		WordCount:         wordCount,
		EstimatedDuration: estimatedDuration,
		GeneratedAt:       generatedAt.UTC(),
	}, nil
}

// CountWords counts whitespace-delimited tokens.
func CountWords(content string) int {
	return len(strings.Fields(content))
}

// EstimateDuration converts a word count to whole seconds of speech.
func EstimateDuration(wordCount int) int {
	return int(float64(wordCount) / WordsPerSecond)
}

// RoleCount returns the number of roles.
func (s *Script) RoleCount() int {
	return len(s.Roles)
}

func (s *Script) clone() *Script {
	if s == nil {
		return nil
	}
	c := *s
	c.Roles = make([]Role, len(s.Roles))
	for i, r := range s.Roles {
		c.Roles[i] = Role{Name: r.Name, Description: r.Description, Lines: slices.Clone(r.Lines)}
	}
	return &c
}
