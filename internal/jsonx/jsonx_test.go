package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timelinePayload = `{
	"data": {
		"search_by_raw_query": {
			"search_timeline": {
				"timeline": {
					"instructions": [
						{"type": "TimelineClearCache"},
						{
							"type": "TimelineAddEntries",
							"entries": [
								{"entryId": "tweet-1", "content": {}},
								{"entryId": "cursor-bottom-1", "content": {
									"cursorType": "Bottom", "value": "scroll:abc"
								}}
							]
						}
					]
				}
			}
		}
	}
}`

func TestFindKeyNested(t *testing.T) {
	entries := FindKey([]byte(timelinePayload), "entries")
	require.True(t, entries.Exists())
	require.True(t, entries.IsArray())
	assert.Len(t, entries.Array(), 2)
	assert.Equal(t, "tweet-1", entries.Array()[0].Get("entryId").String())
}

func TestFindKeyMissing(t *testing.T) {
	assert.False(t, FindKey([]byte(timelinePayload), "nope").Exists())
}

func TestCursor(t *testing.T) {
	assert.Equal(t, "scroll:abc", Cursor([]byte(timelinePayload), "Bottom"))
	assert.Equal(t, "", Cursor([]byte(timelinePayload), "ShowMoreThreads"))
	assert.Equal(t, "", Cursor([]byte(`{}`), "Bottom"))
}
