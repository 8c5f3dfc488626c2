package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slopgame/slop/models"
)

var cannedCast = []string{"The Narrator", "The Skeptic", "The Enthusiast", "The Bystander", "The Expert", "The Villain"}

// Canned builds scripts locally without a provider. It backs development
// servers and tests.
type Canned struct {
	Now func() time.Time
}

// GenerateScript returns a short template script with numRoles roles.
func (c Canned) GenerateScript(ctx context.Context, prompt string, personality models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if numRoles <= 0 {
		return nil, &GenerationError{Err: models.ErrNoRoles}
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	roles := make([]models.Role, numRoles)
	var content strings.Builder
	fmt.Fprintf(&content, "[%s presents] ", personality.Name)
	for i := range roles {
		name := cannedCast[i%len(cannedCast)]
		if i >= len(cannedCast) {
			name = fmt.Sprintf("%s %d", name, i/len(cannedCast)+1)
		}
		line := fmt.Sprintf("You will never believe what happened today, and I was there for all of it, scene %d.", i+1)
		roles[i] = models.Role{Name: name, Description: "a performer in this scene", Lines: []string{line}}
		fmt.Fprintf(&content, "%s: %s ", name, line)
	}
	return models.NewScript(strings.TrimSpace(content.String()), roles, personality.ID, 0, 0, now())
}
