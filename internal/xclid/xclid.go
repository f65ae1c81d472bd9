// Package xclid computes the per-request transaction id header. The
// ingredients are scraped from the public web page: a verification key from a
// meta tag, frame indices from an on-demand script, and an animation frame
// from an inline SVG. The id itself is an obfuscated hash over method, path,
// timestamp and the derived animation key.
package xclid

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"
)

const (
	defaultPageURL = "https://x.com/tesla"
	migrateURL     = "https://x.com/x/migrate"
	scriptBase     = "https://abs.twimg.com/responsive-web/client-web/"

	// epochOffset anchors the timestamp the remote validates against.
	epochOffset = 1682924400

	defaultKeyword = "obfiowerehiring"
	defaultRandNum = 3
)

var indicesRe = regexp.MustCompile(`(\(\w\[(\d{1,2})\],\s*16\))+`)

// Generator computes transaction ids from scraped key material.
type Generator struct {
	vkBytes []byte
	animKey string
}

// Option configures New.
type Option func(*settings)

type settings struct {
	pageURL string
	httpc   *http.Client
}

// WithPageURL scrapes a different page for the key material.
func WithPageURL(u string) Option {
	return func(s *settings) { s.pageURL = u }
}

// WithHTTPClient supplies the client used for scraping.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpc = c }
}

// New scrapes the key material and returns a ready generator.
func New(ctx context.Context, opts ...Option) (*Generator, error) {
	s := &settings{pageURL: defaultPageURL}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpc == nil {
		s.httpc = &http.Client{Timeout: 30 * time.Second}
	}

	text, err := pageText(ctx, s.httpc, s.pageURL)
	if err != nil {
		return nil, fmt.Errorf("xclid page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("xclid parse: %w", err)
	}

	vkBytes, err := parseVKBytes(doc)
	if err != nil {
		return nil, err
	}
	animIdx, err := parseAnimIdx(ctx, s.httpc, text)
	if err != nil {
		return nil, err
	}
	animArr, err := parseAnimArr(doc, vkBytes)
	if err != nil {
		return nil, err
	}

	frameTime := 1
	for _, x := range animIdx[1:] {
		frameTime *= int(vkBytes[x]) % 16
	}
	frameIdx := int(vkBytes[animIdx[0]]) % 16
	if frameIdx >= len(animArr) {
		return nil, errors.New("xclid: frame index out of range")
	}

	animKey := calcAnimKey(animArr[frameIdx], float64(frameTime)/4096)
	return &Generator{vkBytes: vkBytes, animKey: animKey}, nil
}

// Calc returns the transaction id for one request.
func (g *Generator) Calc(method, path string) (string, error) {
	ts := (time.Now().UnixMilli() - epochOffset*1000) / 1000
	tsBytes := []byte{byte(ts), byte(ts >> 8), byte(ts >> 16), byte(ts >> 24)}

	pld := fmt.Sprintf("%s!%s!%d%s%s", strings.ToUpper(method), path, ts, defaultKeyword, g.animKey)
	sum := sha256.Sum256([]byte(pld))

	buf := make([]byte, 0, len(g.vkBytes)+len(tsBytes)+17)
	buf = append(buf, g.vkBytes...)
	buf = append(buf, tsBytes...)
	buf = append(buf, sum[:16]...)
	buf = append(buf, defaultRandNum)

	num := byte(rand.IntN(256))
	out := make([]byte, 0, len(buf)+1)
	out = append(out, num)
	for _, b := range buf {
		out = append(out, b^num)
	}
	return strings.TrimRight(base64.StdEncoding.EncodeToString(out), "="), nil
}

// pageText fetches the page, following the javascript location bounce and the
// migration form interstitials when served.
func pageText(ctx context.Context, httpc *http.Client, pageURL string) (string, error) {
	text, err := fetch(ctx, httpc, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if !strings.Contains(text, ">document.location =") {
		return text, nil
	}

	_, rest, _ := strings.Cut(text, `document.location = "`)
	next, _, _ := strings.Cut(rest, `"`)
	text, err = fetch(ctx, httpc, http.MethodGet, next, nil)
	if err != nil {
		return "", err
	}
	if !strings.Contains(text, `action="https://x.com/x/migrate" method="post"`) {
		return text, nil
	}

	form := map[string]string{}
	for _, chunk := range strings.Split(text, "<input")[1:] {
		name := between(chunk, `name="`, `"`)
		value := between(chunk, `value="`, `"`)
		if name != "" {
			form[name] = value
		}
	}
	body, err := json.Marshal(form)
	if err != nil {
		return "", err
	}
	return fetch(ctx, httpc, http.MethodPost, migrateURL, body)
}

func fetch(ctx context.Context, httpc *http.Client, method, rawURL string, body []byte) (string, error) {
	var rd io.Reader
	if body != nil {
		rd = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return "", err
	}
	req.Header.Set("user-agent", uarand.GetRandom())
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	rep, err := httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer rep.Body.Close()
	if rep.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s %s: unexpected status %d", method, rawURL, rep.StatusCode)
	}
	b, err := io.ReadAll(rep.Body)
	return string(b), err
}

// scriptURLs extracts the client script manifest embedded in the page.
func scriptURLs(text string) ([]string, error) {
	_, rest, found := strings.Cut(text, `e=>e+"."+`)
	if !found {
		return nil, errors.New("xclid: script manifest not found")
	}
	manifest, _, found := strings.Cut(rest, `[e]+"a.js"`)
	if !found {
		return nil, errors.New("xclid: script manifest not found")
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(manifest), &m); err != nil {
		return nil, fmt.Errorf("xclid: parse script manifest: %w", err)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, scriptBase+k+"."+v+"a.js")
	}
	return out, nil
}

// parseAnimIdx fetches the on-demand script and pulls the byte indices used
// to pick the animation frame.
func parseAnimIdx(ctx context.Context, httpc *http.Client, text string) ([]int, error) {
	scripts, err := scriptURLs(text)
	if err != nil {
		return nil, err
	}
	var ondemand string
	for _, s := range scripts {
		if strings.Contains(s, "/ondemand.s.") {
			ondemand = s
			break
		}
	}
	if ondemand == "" {
		return nil, errors.New("xclid: ondemand script not found")
	}

	body, err := fetch(ctx, httpc, http.MethodGet, ondemand, nil)
	if err != nil {
		return nil, err
	}
	var items []int
	for _, m := range indicesRe.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		items = append(items, n)
	}
	if len(items) == 0 {
		return nil, errors.New("xclid: frame indices not found")
	}
	return items, nil
}

// parseVKBytes decodes the site verification key from the page's meta tag.
func parseVKBytes(doc *goquery.Document) ([]byte, error) {
	content, ok := doc.Find(`meta[name="twitter-site-verification"]`).Attr("content")
	if !ok || content == "" {
		return nil, errors.New("xclid: verification key not found")
	}
	b, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("xclid: decode verification key: %w", err)
	}
	return b, nil
}

// parseAnimArr reads the frame rows out of the loading animation SVGs. Which
// SVG is used depends on the verification key.
func parseAnimArr(doc *goquery.Document, vkBytes []byte) ([][]float64, error) {
	var paths []string
	doc.Find(`svg[id^='loading-x-anim'] g:first-child path:nth-child(2)`).Each(func(_ int, sel *goquery.Selection) {
		if d, ok := sel.Attr("d"); ok {
			paths = append(paths, strings.TrimSpace(d))
		}
	})
	if len(paths) == 0 {
		return nil, errors.New("xclid: animation paths not found")
	}
	if len(vkBytes) < 6 {
		return nil, errors.New("xclid: verification key too short")
	}

	nonDigit := regexp.MustCompile(`[^\d]+`)
	idx := int(vkBytes[5]) % len(paths)
	rows := strings.Split(paths[idx][9:], "C")
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		var vals []float64
		for _, f := range strings.Fields(nonDigit.ReplaceAllString(row, " ")) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("xclid: parse frame row: %w", err)
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return out, nil
}

func between(s, from, to string) string {
	_, rest, found := strings.Cut(s, from)
	if !found {
		return ""
	}
	val, _, _ := strings.Cut(rest, to)
	return val
}
