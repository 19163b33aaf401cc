package board

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="100" height="40">
  <g>
    <path d="M10 10L20 10L20 20Z"/>
    <g><path d="M0 0L5 5"/></g>
  </g>
</svg>`

func TestExtractPaths_WalksNestedGroups(t *testing.T) {
	var doc svgDoc
	require.NoError(t, xml.Unmarshal([]byte(sampleSVG), &doc))

	paths := extractPaths(doc)
	require.Len(t, paths, 2)
	assert.Equal(t, "M10 10L20 10L20 20Z", paths[0])
	assert.Equal(t, "M0 0L5 5", paths[1])
}

func TestTokenizePath(t *testing.T) {
	got := tokenizePath("M10 10L20,10L-5-5Z")
	want := []string{"M", "10", "10", "L", "20", "10", "L", "-5", "-5", "Z"}
	assert.Equal(t, want, got)
}

func TestSamplePathData_ProducesPointsAtOriginOffset(t *testing.T) {
	pts := samplePathData("M10 10L20 10", Point{X: 100, Y: 200}, 1.0)
	require.Len(t, pts, 2)
	assert.Equal(t, 110.0, pts[0].X)
	assert.Equal(t, 210.0, pts[0].Y)
	assert.Equal(t, 120.0, pts[1].X)
}

func TestSynthesizeLatex_ScalesToTargetHeight(t *testing.T) {
	l := testLayout()
	a := Action{Type: ActionWrite, Format: FormatLatex, Content: "x^2", Position: Point{X: 0, Y: 0}, Color: "black"}

	batch, err := SynthesizeLatex(a, l, []byte(sampleSVG))
	require.NoError(t, err)
	require.NotEmpty(t, batch.Strokes)

	// native height 40 scaled to LatexTargetHeightInline (40) => scale 1.0.
	assert.Equal(t, 10.0, batch.Strokes[0].Points[0].X)
}

func TestLatexClient_RenderAndHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mathjax":
			w.Header().Set("Content-Type", "image/svg+xml")
			_, _ = w.Write([]byte(sampleSVG))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewLatexClient(srv.URL)

	svg, err := c.Render(context.Background(), "x^2", false)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	require.NoError(t, c.Healthy(context.Background()))
}
