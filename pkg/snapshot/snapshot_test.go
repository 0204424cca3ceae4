package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDate(t *testing.T) {
	ts := time.Date(2021, 3, 14, 15, 9, 26, 0, time.Local).Unix()
	assert.Equal(t, "2021-03-14 15:09:26", FormatDate(ts))
	assert.Equal(t, "", FormatDate(0))
	assert.Equal(t, "", FormatDate(-5))
}

func TestAuthorMarshalSelf(t *testing.T) {
	data, err := json.Marshal(SelfAuthor("some_club"))
	require.NoError(t, err)
	assert.Equal(t, `"some_club"`, string(data))
}

func TestAuthorMarshalProfile(t *testing.T) {
	author := ProfileAuthor(&ShortProfile{
		ID:        7,
		FirstName: "Anna",
		LastName:  "Ivanova",
		Sex:       1,
		City:      "Tver",
	})

	data, err := json.Marshal(author)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"first_name":"Anna","last_name":"Ivanova","sex":1,"city":"Tver"}`, string(data))
}

func TestAuthorMarshalEmpty(t *testing.T) {
	data, err := json.Marshal(Author{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestAuthorUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		author Author
	}{
		{"self", SelfAuthor("wall_owner")},
		{"profile", ProfileAuthor(&ShortProfile{ID: 3, FirstName: "A", LastName: "B", Sex: 2})},
		{"empty", Author{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.author)
			require.NoError(t, err)

			var got Author
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.author, got)
		})
	}
}

func TestShortProfileOmitsEmptyOptionals(t *testing.T) {
	data, err := json.Marshal(&ShortProfile{ID: 1, FirstName: "A", LastName: "B"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "city")
	assert.NotContains(t, fields, "bdate")
	assert.NotContains(t, fields, "home_town")
	// The always-present fields survive even when zero
	assert.Contains(t, fields, "sex")
}

func TestSnapshotShape(t *testing.T) {
	snap := New(NewGroupMeta(55, "Test Club", "testclub", 1200, "nl"))

	post := &Post{
		Date:     FormatDate(1600000000),
		Text:     "hello wall",
		Author:   SelfAuthor("testclub"),
		Comments: make(map[string]*Comment),
		Sort:     0,
	}
	post.AddComment(9, &Comment{
		Date:   FormatDate(1600000100),
		Text:   "first",
		Author: ProfileAuthor(&ShortProfile{ID: 2, FirstName: "A", LastName: "B"}),
		Sort:   0,
	})
	snap.AddPost(101, post)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded struct {
		Meta  map[string]interface{} `json:"meta"`
		Posts map[string]struct {
			Author   json.RawMessage `json:"author"`
			Comments map[string]struct {
				Text string `json:"text"`
			} `json:"comments"`
		} `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "testclub", decoded.Meta["screen_name"])
	assert.EqualValues(t, 1200, decoded.Meta["members_count"])
	assert.Equal(t, "nl", decoded.Meta["language"])
	assert.Contains(t, decoded.Meta, "date")

	require.Contains(t, decoded.Posts, "101")
	assert.Equal(t, `"testclub"`, string(decoded.Posts["101"].Author))
	require.Contains(t, decoded.Posts["101"].Comments, "9")
	assert.Equal(t, "first", decoded.Posts["101"].Comments["9"].Text)
}

func TestPostRepostFieldsOmittedForOriginals(t *testing.T) {
	post := &Post{
		Date:     FormatDate(1600000000),
		Text:     "original",
		Author:   SelfAuthor("x"),
		Comments: make(map[string]*Comment),
	}

	data, err := json.Marshal(post)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "copy_text")
	assert.NotContains(t, fields, "copy_id")
	assert.NotContains(t, fields, "post_src_owner")
}

func TestUserMetaCarriesFullProfile(t *testing.T) {
	meta := NewUserMeta(map[string]interface{}{
		"id":              float64(77),
		"screen_name":     "someone",
		"first_name":      "S",
		"followers_count": float64(10),
	}, "kv")

	assert.EqualValues(t, 77, meta.ID())
	assert.Equal(t, "someone", meta.ScreenName())
	assert.Equal(t, "kv", meta["language"])
	assert.Contains(t, meta, "followers_count")
	assert.Contains(t, meta, "date")
}
