package turn

import (
	"encoding/json"

	"github.com/HassanFazal97/professor/internal/board"
)

// llmDocument mirrors §7's structured-response contract exactly.
type llmDocument struct {
	Speech         string           `json:"speech"`
	Mode           string           `json:"mode"`
	WaitForStudent bool             `json:"wait_for_student"`
	Actions        []actionDocument `json:"actions"`
}

type actionDocument struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Format  string `json:"format"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	W       int    `json:"w"`
	H       int    `json:"h"`
	Color   string `json:"color"`
}

// parseLLMResponse parses raw as the §7 structured document. It returns
// ok=false for anything that fails to parse as that shape or whose
// top-level speech is absent — per §7, both are treated identically to an
// empty response.
func parseLLMResponse(raw string) (llmDocument, bool) {
	var doc llmDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return llmDocument{}, false
	}
	if doc.Speech == "" {
		return llmDocument{}, false
	}
	return doc, true
}

// toBoardActions converts the document's actions into board.Action values,
// dropping unknown action types per §7 ("not fatal").
func toBoardActions(docs []actionDocument) []board.Action {
	actions := make([]board.Action, 0, len(docs))
	for _, d := range docs {
		switch d.Type {
		case "write":
			format := board.FormatText
			if d.Format == "latex" {
				format = board.FormatLatex
			}
			actions = append(actions, board.Action{
				Type:     board.ActionWrite,
				Content:  d.Content,
				Format:   format,
				Position: board.Point{X: float64(d.X), Y: float64(d.Y)},
				Color:    d.Color,
			})
		case "underline":
			actions = append(actions, board.Action{
				Type:  board.ActionUnderline,
				Area:  board.Rect{X: float64(d.X), Y: float64(d.Y), W: float64(d.W), H: float64(d.H)},
				Color: d.Color,
			})
		case "clear":
			actions = append(actions, board.Action{Type: board.ActionClear})
		default:
			// Unknown action type: dropped, not fatal (§7).
		}
	}
	return actions
}

// parseMode maps the document's mode string to a session.Mode, falling
// back to the session's current mode if it's unrecognized.
func parseMode(s string, fallback string) string {
	switch s {
	case "listening", "guiding", "demonstrating", "evaluating":
		return s
	default:
		return fallback
	}
}
