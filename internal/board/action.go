// Package board implements the Stroke Emitter and Board Layout component:
// rebasing LLM-proposed write positions onto the real board state, and
// synthesizing handwriting strokes for text and LaTeX content.
package board

// ActionType discriminates the Action tagged variant.
type ActionType string

const (
	ActionWrite     ActionType = "write"
	ActionUnderline ActionType = "underline"
	ActionClear     ActionType = "clear"
)

// Format selects how a Write action's Content is interpreted.
type Format string

const (
	FormatText  Format = "text"
	FormatLatex Format = "latex"
)

// Point is a board-space coordinate.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned board region.
type Rect struct {
	X, Y, W, H float64
}

// Action is one board mutation proposed by the LLM, before rebasing.
type Action struct {
	Type ActionType

	// Write fields.
	Content  string
	Format   Format
	Position Point
	Color    string

	// Underline fields.
	Area Rect

	// Underline and Write share Color.
}
