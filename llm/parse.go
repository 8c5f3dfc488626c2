package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slopgame/slop/models"
)

// ErrMalformedScript means the provider answered but the answer is not a
// usable script. Retrying the same request rarely helps.
var ErrMalformedScript = errors.New("llm: malformed script")

type scriptDoc struct {
	Content string `json:"content"`
	Roles   []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Lines       []string `json:"lines"`
	} `json:"roles"`
}

// ParseScript extracts the JSON script from a completion. Markdown code
// fences and chatter around the object are tolerated. The number of roles
// must equal numRoles.
func ParseScript(reply string, personalityID string, numRoles int, now time.Time) (*models.Script, error) {
	body := extractObject(reply)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedScript)
	}
	var doc scriptDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedScript)
	}
	if len(doc.Roles) != numRoles {
		return nil, fmt.Errorf("%w: got %d roles, want %d", ErrMalformedScript, len(doc.Roles), numRoles)
	}
	roles := make([]models.Role, len(doc.Roles))
	for i, r := range doc.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("%w: role %d has no name", ErrMalformedScript, i)
		}
		roles[i] = models.Role{Name: strings.TrimSpace(r.Name), Description: strings.TrimSpace(r.Description), Lines: r.Lines}
	}
	return models.NewScript(doc.Content, roles, personalityID, 0, 0, now)
}

func extractObject(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
