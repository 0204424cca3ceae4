package vk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFieldAccess(t *testing.T) {
	raw := `{
		"id": 42,
		"first_name": "Ivan",
		"last_name": "Petrov",
		"sex": 2,
		"screen_name": "ivan42",
		"city": {"id": 2, "title": "Saint Petersburg"},
		"bdate": "1.1.1990"
	}`

	var p Profile
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.EqualValues(t, 42, p.ID())
	assert.Equal(t, "Ivan", p.Str("first_name"))
	assert.EqualValues(t, 2, p.Int("sex"))
	assert.Equal(t, "ivan42", p.ScreenName())
	assert.Equal(t, "Saint Petersburg", p.CityTitle())
	assert.False(t, p.Inaccessible())
}

func TestProfileMissingFields(t *testing.T) {
	p := Profile{}
	assert.EqualValues(t, 0, p.ID())
	assert.Equal(t, "", p.Str("first_name"))
	assert.EqualValues(t, 0, p.Int("sex"))
	assert.Equal(t, "", p.CityTitle())
}

func TestProfileInaccessible(t *testing.T) {
	assert.True(t, Profile{"id": float64(1), "deactivated": "banned"}.Inaccessible())
	assert.True(t, Profile{"id": float64(1), "hidden": float64(1)}.Inaccessible())
	assert.False(t, Profile{"id": float64(1)}.Inaccessible())
}

func TestWallPostDecoding(t *testing.T) {
	raw := `{
		"id": 7,
		"owner_id": -100,
		"from_id": -100,
		"date": 1600000000,
		"text": "hi",
		"comments": {"count": 3},
		"copy_history": [{"id": 9, "owner_id": -55, "text": "source"}]
	}`

	var post WallPost
	require.NoError(t, json.Unmarshal([]byte(raw), &post))

	assert.EqualValues(t, 7, post.ID)
	assert.EqualValues(t, -100, post.FromID)
	require.NotNil(t, post.Comments)
	assert.Equal(t, 3, post.Comments.Count)
	require.Len(t, post.CopyHistory, 1)
	assert.EqualValues(t, -55, post.CopyHistory[0].OwnerID)
}

func TestWallPostWithoutOptionals(t *testing.T) {
	var post WallPost
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"from_id":2,"date":3,"text":""}`), &post))

	assert.Nil(t, post.Comments)
	assert.Empty(t, post.CopyHistory)
}
