package board

import "math/rand"

// StrokePoint is one sample along a Stroke's polyline, with simulated pen
// pressure.
type StrokePoint struct {
	X, Y, Pressure float64
}

// Stroke is a single polyline.
type Stroke struct {
	Points []StrokePoint
	Color  string
	Width  float64
}

// StrokeBatch is one bundle of strokes emitted as a single outbound
// message, per §4.6.
type StrokeBatch struct {
	Strokes        []Stroke
	AnimationSpeed float64
}

// glyphWidth is the fixed advance width, in board pixels, of one character
// in the configured handwriting font. Paired with Layout.FontHeight this
// drives the deterministic text-path sampler.
const glyphWidth = 14.0

// defaultAnimationSpeed is the strokes-per-second playback rate the client
// uses to animate a batch; constant across batches so pacing feels uniform.
const defaultAnimationSpeed = 3.0

// SynthesizeText turns a Write action's text content into a StrokeBatch.
// It is a deterministic pure function of (a, l, seed): the same inputs
// always produce the same strokes, which is what makes stroke tests
// reproducible (§9).
//
// Each character becomes one short jittered polyline sampled across the
// line height, approximating cursive handwriting without needing real
// glyph outlines.
func SynthesizeText(a Action, l Layout, seed int64) StrokeBatch {
	rng := rand.New(rand.NewSource(seed))

	var strokes []Stroke
	x := a.Position.X
	y := a.Position.Y
	lineHeight := l.FontHeight

	for _, r := range a.Content {
		switch r {
		case '\n':
			x = a.Position.X
			y += lineHeight
			continue
		case ' ':
			x += glyphWidth
			continue
		}
		strokes = append(strokes, glyphStroke(x, y, lineHeight, a.Color, rng))
		x += glyphWidth
	}

	return StrokeBatch{Strokes: strokes, AnimationSpeed: defaultAnimationSpeed}
}

// glyphStroke samples one small jittered polyline standing in for a single
// character glyph, with a pressure envelope that rises then falls across
// the stroke — light at the stems, heavier in the middle.
func glyphStroke(x, y, lineHeight float64, color string, rng *rand.Rand) Stroke {
	const samples = 5
	jitter := func() float64 { return (rng.Float64() - 0.5) * 1.5 }

	points := make([]StrokePoint, 0, samples)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(samples-1)
		py := y + lineHeight*0.2 + t*lineHeight*0.6 + jitter()
		px := x + t*glyphWidth*0.7 + jitter()
		pressure := 0.3 + 0.5*(1-absDiff(t, 0.5)*2)
		points = append(points, StrokePoint{X: px, Y: py, Pressure: pressure})
	}

	return Stroke{Points: points, Color: color, Width: 2.0}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
