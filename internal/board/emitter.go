package board

import (
	"context"
	"fmt"
)

// EmittedItem pairs one rebased Action with its synthesized strokes, when
// applicable. Strokes is nil for Underline and Clear actions — those are
// sent to the client as a plain board_action, not a stroke batch.
type EmittedItem struct {
	Action  Action
	Strokes *StrokeBatch
}

// Emit runs the full Stroke Emitter pipeline for one turn's proposed
// actions: rebase (§4.6 steps 1-5), then dispatch every Write to the
// handwriting synthesizer (text or LaTeX path). It returns the outbound
// sequence in order and the resulting boardCursorY.
//
// seed must be unique per turn (the caller typically derives it from the
// turn epoch) so that repeated turns don't produce visually identical
// jitter, while remaining fully reproducible for a given epoch.
func Emit(ctx context.Context, actions []Action, boardCursorY, boardMaxY float64, l Layout, latex *LatexClient, seed int64) ([]EmittedItem, float64, error) {
	rebased, newCursor := Rebase(actions, boardCursorY, boardMaxY, l)

	items := make([]EmittedItem, 0, len(rebased))
	for i, r := range rebased {
		if r.Action.Type != ActionWrite {
			items = append(items, EmittedItem{Action: r.Action})
			continue
		}

		// Mix the per-write index into the seed so consecutive writes within
		// the same turn don't sample identical jitter.
		writeSeed := seed*1000003 + int64(i)

		var batch StrokeBatch
		var err error
		switch r.Action.Format {
		case FormatLatex:
			if latex == nil {
				return nil, 0, fmt.Errorf("board: latex write action with no latex client configured")
			}
			display := isDisplayLatex(r.Action.Content)
			var svg []byte
			svg, err = latex.Render(ctx, r.Action.Content, display)
			if err == nil {
				batch, err = SynthesizeLatex(r.Action, l, svg)
			}
		default:
			batch = SynthesizeText(r.Action, l, writeSeed)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("board: synthesize write %d: %w", i, err)
		}

		b := batch
		items = append(items, EmittedItem{Action: r.Action, Strokes: &b})
	}

	return items, newCursor, nil
}
