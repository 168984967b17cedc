package enrich

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ActionType is the agent's chosen next step for a round.
type ActionType string

const (
	ActionSearch ActionType = "search"
	ActionScrape ActionType = "scrape"
	ActionFinish ActionType = "finish"
)

// Action is one decoded agent step. Exactly one of Query, URL, or Profile is
// populated, matching the action type.
type Action struct {
	Type    ActionType      `json:"action"`
	Query   string          `json:"query,omitempty"`
	URL     string          `json:"url,omitempty"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// parseAction decodes and validates the model's action JSON. Anything that
// is not one of the three known actions with its required argument is an
// error; the caller decides whether to re-prompt or abort.
func parseAction(text string) (*Action, error) {
	cleaned := cleanJSON(text)

	var action Action
	if err := json.Unmarshal([]byte(cleaned), &action); err != nil {
		return nil, eris.Wrap(err, "enrich: parse action")
	}

	switch action.Type {
	case ActionSearch:
		if strings.TrimSpace(action.Query) == "" {
			return nil, eris.New("enrich: search action missing query")
		}
	case ActionScrape:
		if strings.TrimSpace(action.URL) == "" {
			return nil, eris.New("enrich: scrape action missing url")
		}
	case ActionFinish:
		if len(action.Profile) == 0 {
			return nil, eris.New("enrich: finish action missing profile")
		}
	default:
		return nil, eris.Errorf("enrich: unknown action %q", action.Type)
	}

	return &action, nil
}

// cleanJSON strips markdown code fences and surrounding prose so the response
// parses as a bare JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
