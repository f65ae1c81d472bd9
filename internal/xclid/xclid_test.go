package xclid

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCubicGetValue(t *testing.T) {
	// Linear curve: output equals input.
	lin := &cubic{curves: []float64{1.0 / 3, 1.0 / 3, 2.0 / 3, 2.0 / 3}}
	assert.InDelta(t, 0.5, lin.getValue(0.5), 0.001)
	assert.InDelta(t, 0.25, lin.getValue(0.25), 0.001)

	// Out-of-range inputs extrapolate along the edge gradients.
	assert.InDelta(t, -0.5, lin.getValue(-0.5), 0.001)
	assert.InDelta(t, 1.5, lin.getValue(1.5), 0.001)

	// Ease-in curve stays below the diagonal early on.
	ease := &cubic{curves: []float64{0.42, 0.0, 1.0, 1.0}}
	assert.Less(t, ease.getValue(0.25), 0.25)
}

func TestInterpolate(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, interpolate([]float64{0, 0}, []float64{10, 20}, 0))
	assert.Equal(t, []float64{10, 20}, interpolate([]float64{0, 0}, []float64{10, 20}, 1))
	assert.Equal(t, []float64{5, 10}, interpolate([]float64{0, 0}, []float64{10, 20}, 0.5))
}

func TestSolve(t *testing.T) {
	assert.Equal(t, 60.0, solve(0, 60, 360, true))
	assert.Equal(t, 360.0, solve(255, 60, 360, true))
	assert.Equal(t, 0.0, solve(0, 0, 1, false))
	assert.Equal(t, 1.0, solve(255, 0, 1, false))
	assert.Equal(t, 0.5, solve(127.5, 0, 1, false))
}

func TestFloatToHex(t *testing.T) {
	assert.Equal(t, "10", floatToHex(16))
	assert.Equal(t, "FF", floatToHex(255))
	assert.Equal(t, "A", floatToHex(10))
	assert.Equal(t, "", floatToHex(0))
	assert.Equal(t, ".8", floatToHex(0.5))
	assert.Equal(t, "1.4", floatToHex(1.25))
}

func TestCalcAnimKeyDeterministic(t *testing.T) {
	frames := []float64{
		120, 60, 30, 240, 180, 90, 128,
		64, 32, 200, 100, 50, 25, 210, 160,
	}
	k1 := calcAnimKey(frames, 0.5)
	k2 := calcAnimKey(frames, 0.5)
	assert.Equal(t, k1, k2)
	assert.NotEmpty(t, k1)
	assert.NotContains(t, k1, ".")
	assert.NotContains(t, k1, "-")

	// Different frame times produce different keys.
	assert.NotEqual(t, k1, calcAnimKey(frames, 0.9))
}

func TestScriptURLs(t *testing.T) {
	page := `...e=>e+"."+{"main":"abc123","ondemand.s":"def456"}[e]+"a.js"...`
	urls, err := scriptURLs(page)
	require.NoError(t, err)
	assert.Len(t, urls, 2)
	assert.Contains(t, urls, scriptBase+"ondemand.s.def456a.js")

	_, err = scriptURLs("no manifest here")
	assert.Error(t, err)
}

func TestParseVKBytes(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("verification-key"))
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><head><meta name="twitter-site-verification" content="` + key + `"/></head></html>`))
	require.NoError(t, err)

	b, err := parseVKBytes(doc)
	require.NoError(t, err)
	assert.Equal(t, []byte("verification-key"), b)

	empty, err := goquery.NewDocumentFromReader(strings.NewReader(`<html></html>`))
	require.NoError(t, err)
	_, err = parseVKBytes(empty)
	assert.Error(t, err)
}

func TestParseAnimArr(t *testing.T) {
	svg := `<html><body>
		<svg id="loading-x-anim-0"><g><path d="first"/><path d="M0 0h1V1C10 20 30 40 50 60C1 2 3 4 5 6"/></g></svg>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(svg))
	require.NoError(t, err)

	// Byte 5 of the key selects the SVG; one path means any value works.
	rows, err := parseAnimArr(doc, []byte{0, 0, 0, 0, 0, 7})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, rows[0])
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, rows[1])
}

func TestCalcShape(t *testing.T) {
	g := &Generator{vkBytes: []byte{1, 2, 3, 4, 5, 6}, animKey: "abc"}
	id, err := g.Calc("get", "/i/api/graphql/xyz/SearchTimeline")
	require.NoError(t, err)
	assert.NotContains(t, id, "=")

	// Undo the obfuscation: first byte is the XOR key.
	raw, err := base64.StdEncoding.DecodeString(id + strings.Repeat("=", (4-len(id)%4)%4))
	require.NoError(t, err)
	num := raw[0]
	plain := make([]byte, 0, len(raw)-1)
	for _, b := range raw[1:] {
		plain = append(plain, b^num)
	}

	// Layout: key bytes, 4 timestamp bytes, 16 hash bytes, fixed trailer.
	require.Len(t, plain, 6+4+16+1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, plain[:6])
	assert.Equal(t, byte(defaultRandNum), plain[len(plain)-1])
}
