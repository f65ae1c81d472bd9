package gql

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/pool"
)

func newTestAPI(t *testing.T, handler http.Handler) (*API, *pool.AccountsPool) {
	t.Helper()
	t.Setenv("TWS_RAISE_WHEN_NO_ACCOUNT", "1")

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	p, err := pool.New(ctx, filepath.Join(t.TempDir(), "accounts.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.AddAccount(ctx, "alpha", "pass", "alpha@example.com", "epass", pool.AddOpts{
		UserAgent: "alpha",
		Cookies:   `{"ct0":"csrf-alpha"}`,
	}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(p, cfg, WithBaseURL(srv.URL)), p
}

// page renders a timeline page with n content entries and an optional Bottom
// cursor.
func page(n int, cursor string) string {
	entries := ""
	for i := 0; i < n; i++ {
		entries += fmt.Sprintf(`{"entryId":"tweet-%d"},`, i)
	}
	if cursor != "" {
		entries += fmt.Sprintf(`{"entryId":"cursor-bottom-0","content":{"cursorType":"Bottom","value":"%s"}},`, cursor)
	}
	entries += `{"entryId":"messageprompt-1"}`
	return fmt.Sprintf(`{"data":{"timeline":{"instructions":[{"type":"TimelineAddEntries","entries":[%s]}]}}}`, entries)
}

func collect(t *testing.T, pages Pages) []string {
	t.Helper()
	var out []string
	for rep, err := range pages {
		require.NoError(t, err)
		out = append(out, string(rep.Body))
	}
	return out
}

func TestItemsFollowsCursor(t *testing.T) {
	var cursors []string
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := gjson.Parse(r.URL.Query().Get("variables"))
		cur := vars.Get("cursor").String()
		cursors = append(cursors, cur)

		assert.Equal(t, "golang", vars.Get("rawQuery").String())
		assert.True(t, gjson.Parse(r.URL.Query().Get("features")).Get("responsive_web_edit_tweet_api_enabled").Bool())
		assert.Equal(t, `{"withArticleRichContentState":false}`, r.URL.Query().Get("fieldToggles"))

		switch cur {
		case "":
			fmt.Fprint(w, page(2, "cur-2"))
		case "cur-2":
			fmt.Fprint(w, page(2, "cur-3"))
		default:
			fmt.Fprint(w, page(0, ""))
		}
	}))

	got := collect(t, api.SearchRaw(context.Background(), "golang", -1, nil))

	// Two content pages; the empty third page stops without being yielded.
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"", "cur-2", "cur-3"}, cursors)
}

func TestItemsStopsWithoutCursor(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(3, ""))
	}))

	got := collect(t, api.SearchRaw(context.Background(), "q", -1, nil))
	assert.Len(t, got, 1)
}

func TestItemsLimit(t *testing.T) {
	reqs := 0
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs++
		fmt.Fprint(w, page(20, fmt.Sprintf("cur-%d", reqs)))
	}))

	// 20 entries per page; a limit of 25 stops after the second page.
	got := collect(t, api.SearchRaw(context.Background(), "q", 25, nil))
	assert.Len(t, got, 2)
	assert.Equal(t, 2, reqs)
}

func TestItemsLimitZero(t *testing.T) {
	reqs := 0
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs++
		fmt.Fprint(w, page(5, "cur-2"))
	}))

	// Zero limit issues the first request but yields nothing.
	got := collect(t, api.SearchRaw(context.Background(), "q", 0, nil))
	assert.Empty(t, got)
	assert.Equal(t, 1, reqs)
}

func TestItemsReleasesLeaseOnEarlyBreak(t *testing.T) {
	api, p := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(1, "more"))
	}))

	ctx := context.Background()
	for rep, err := range api.SearchRaw(ctx, "q", -1, nil) {
		require.NoError(t, err)
		require.NotNil(t, rep)
		break
	}

	acc, err := p.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.NotContains(t, acc.Locks, "SearchTimeline")
	assert.Equal(t, int64(1), acc.Stats["SearchTimeline"])
}

func TestItemsAbortStopsSilently(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"code":131,"message":"Dependency: Internal error."}]}`)
	}))

	got := collect(t, api.SearchRaw(context.Background(), "q", -1, nil))
	assert.Empty(t, got)
}

func TestTweetRepliesFollowsThreadCursor(t *testing.T) {
	var seen []string
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := gjson.Parse(r.URL.Query().Get("variables"))
		seen = append(seen, vars.Get("cursor").String())
		assert.Equal(t, "123", vars.Get("focalTweetId").String())

		if len(seen) == 1 {
			// Both cursor types present; replies must follow ShowMoreThreads.
			fmt.Fprint(w, `{"data":{"entries":[
				{"entryId":"tweet-1"},
				{"entryId":"cursor-b","content":{"cursorType":"Bottom","value":"wrong"}},
				{"entryId":"cursor-t","content":{"cursorType":"ShowMoreThreads","value":"thread-2"}}
			]}}`)
			return
		}
		fmt.Fprint(w, page(0, ""))
	}))

	got := collect(t, api.TweetRepliesRaw(context.Background(), 123, -1, nil))
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"", "thread-2"}, seen)
}

func TestSingleShotItem(t *testing.T) {
	api, p := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := gjson.Parse(r.URL.Query().Get("variables"))
		assert.Equal(t, "elonmusk", vars.Get("screen_name").String())
		fmt.Fprint(w, `{"data":{"user":{"result":{"rest_id":"44196397"}}}}`)
	}))

	ctx := context.Background()
	rep, err := api.UserByLoginRaw(ctx, "elonmusk", nil)
	require.NoError(t, err)
	assert.Equal(t, "44196397", rep.Get("data.user.result.rest_id").String())

	// Single-shot operations release their lease before returning.
	acc, err := p.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.NotContains(t, acc.Locks, "UserByScreenName")
	assert.Equal(t, int64(1), acc.Stats["UserByScreenName"])
}

func TestItemsContextCancelReleasesLease(t *testing.T) {
	api, p := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(1, "more"))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	for rep, err := range api.SearchRaw(ctx, "q", -1, nil) {
		if count == 0 {
			require.NoError(t, err)
			require.NotNil(t, rep)
			cancel()
		}
		count++
		if count > 1 {
			break
		}
	}
	cancel()

	// The lease is released even though the caller's context is cancelled.
	acc, err := p.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotContains(t, acc.Locks, "SearchTimeline")
}
