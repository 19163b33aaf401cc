package board

import (
	"math"
	"strings"

	"github.com/HassanFazal97/professor/internal/config"
)

// Layout holds the static geometry parameters used by Rebase, pulled from
// config.BoardConfig.
type Layout struct {
	WriteX0            float64
	WriteY0            float64
	MaxHeight          float64
	MarginBelowStudent float64
	InterlineMargin    float64
	FontHeight         float64
	LatexTargetHeightInline  float64
	LatexTargetHeightDisplay float64
}

// NewLayout builds a Layout from the board configuration. FontHeight is a
// fixed constant for the configured handwriting font, not itself
// environment-tunable.
func NewLayout(cfg config.BoardConfig) Layout {
	return Layout{
		WriteX0:                  cfg.WriteX,
		WriteY0:                  cfg.WriteY0,
		MaxHeight:                cfg.MaxHeight,
		MarginBelowStudent:       cfg.MarginBelowStudent,
		InterlineMargin:          cfg.InterlineMargin,
		FontHeight:               24,
		LatexTargetHeightInline:  cfg.LatexTargetHeightInline,
		LatexTargetHeightDisplay: cfg.LatexTargetHeightDisplay,
	}
}

// RebasedAction is an Action after position shifting, paired with its
// estimated vertical extent (0 for actions that don't occupy board height).
type RebasedAction struct {
	Action Action
	Extent float64
}

// Rebase applies §4.6's five-step algorithm to a turn's proposed actions,
// in list order, returning the final outbound sequence (with any
// overflow-triggered clear prepended) and the resulting boardCursorY.
func Rebase(actions []Action, boardCursorY, boardMaxY float64, l Layout) ([]RebasedAction, float64) {
	cursor := boardCursorY
	studentMaxY := boardMaxY
	var out []RebasedAction
	var lastWriteDelta float64
	var haveWrite bool

	for _, a := range actions {
		switch a.Type {
		case ActionWrite:
			shifted, extent, newCursor, overflowed := rebaseWrite(a, cursor, studentMaxY, l)
			if overflowed {
				out = append(out, RebasedAction{Action: Action{Type: ActionClear}})
				cursor = l.WriteY0
				// The redo starts from the cleared board, so the student's
				// previously reported extent no longer pushes writes down.
				studentMaxY = math.Inf(-1)
				shifted, extent, newCursor, _ = rebaseWrite(a, cursor, studentMaxY, l)
			}
			delta := shifted.Position.Y - a.Position.Y
			lastWriteDelta = delta
			haveWrite = true
			cursor = newCursor
			out = append(out, RebasedAction{Action: shifted, Extent: extent})

		case ActionUnderline:
			delta := 0.0
			if haveWrite {
				delta = lastWriteDelta
			}
			shifted := a
			shifted.Area.Y += delta
			out = append(out, RebasedAction{Action: shifted})

		case ActionClear:
			cursor = l.WriteY0
			haveWrite = false
			lastWriteDelta = 0
			out = append(out, RebasedAction{Action: a})
		}
	}

	return out, cursor
}

// rebaseWrite performs steps 1-4 of §4.6 for a single write action, and
// reports whether the resulting cursor would overflow MaxHeight (step 5
// condition), in which case the caller restarts from a cleared board.
func rebaseWrite(a Action, boardCursorY, boardMaxY float64, l Layout) (Action, float64, float64, bool) {
	yBase := boardCursorY
	if boardMaxY+l.MarginBelowStudent > yBase {
		yBase = boardMaxY + l.MarginBelowStudent
	}

	delta := yBase - l.WriteY0
	shifted := a
	shifted.Position.Y = a.Position.Y + delta

	extent := EstimateExtent(a, l)
	newCursor := shifted.Position.Y + extent + l.InterlineMargin

	return shifted, extent, newCursor, newCursor > l.MaxHeight
}

// EstimateExtent implements §9's resolved Open Question: a line-count ×
// font-height heuristic for text, a target-height constant for LaTeX.
func EstimateExtent(a Action, l Layout) float64 {
	if a.Type != ActionWrite {
		return 0
	}
	if a.Format == FormatLatex {
		if isDisplayLatex(a.Content) {
			return l.LatexTargetHeightDisplay
		}
		return l.LatexTargetHeightInline
	}
	lines := strings.Count(a.Content, "\n") + 1
	return float64(lines) * l.FontHeight
}

// isDisplayLatex treats content wrapped in \[ \] or $$ $$ delimiters, or
// containing a display-only environment, as display math; everything else
// is inline.
func isDisplayLatex(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, `\[`) || strings.HasPrefix(trimmed, "$$") {
		return true
	}
	return strings.Contains(content, `\begin{align`) || strings.Contains(content, `\begin{equation`)
}
