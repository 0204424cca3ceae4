package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/snapshot"
	"vkharvest/pkg/vk"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(&config.OutputConfig{
		Language:      "nl",
		BaseDirectory: dir,
	}, logger.NewTestLogger())
	require.NoError(t, err)
	return store, dir
}

func TestNewStoreCreatesLayout(t *testing.T) {
	_, dir := newTestStore(t)

	info, err := os.Stat(filepath.Join(dir, "nl"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = os.Stat(filepath.Join(dir, "nl", "users"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSnapshotPathByKind(t *testing.T) {
	store, dir := newTestStore(t)

	assert.Equal(t,
		filepath.Join(dir, "nl", "someclub.json"),
		store.SnapshotPath("someclub", snapshot.KindGroup))
	assert.Equal(t,
		filepath.Join(dir, "nl", "users", "someone.json"),
		store.SnapshotPath("someone", snapshot.KindIndividual))
}

func TestShouldSkip(t *testing.T) {
	store, _ := newTestStore(t)

	assert.False(t, store.ShouldSkip("fresh", snapshot.KindGroup, false))

	snap := snapshot.New(snapshot.NewGroupMeta(1, "n", "fresh", 0, "nl"))
	require.NoError(t, store.WriteSnapshot("fresh", snapshot.KindGroup, snap))

	assert.True(t, store.ShouldSkip("fresh", snapshot.KindGroup, false))
	assert.False(t, store.ShouldSkip("fresh", snapshot.KindGroup, true))

	// Kinds do not shadow each other
	assert.False(t, store.ShouldSkip("fresh", snapshot.KindIndividual, false))
}

func TestWriteSnapshotContent(t *testing.T) {
	store, _ := newTestStore(t)

	snap := snapshot.New(snapshot.NewGroupMeta(5, "Club", "club5", 100, "nl"))
	snap.AddPost(1, &snapshot.Post{
		Date:     "2021-01-01 10:00:00",
		Text:     "a < b & c",
		Author:   snapshot.SelfAuthor("club5"),
		Comments: make(map[string]*snapshot.Comment),
	})
	require.NoError(t, store.WriteSnapshot("club5", snapshot.KindGroup, snap))

	data, err := os.ReadFile(store.SnapshotPath("club5", snapshot.KindGroup))
	require.NoError(t, err)

	// Indented and with HTML escaping off
	assert.Contains(t, string(data), "\n  \"meta\"")
	assert.Contains(t, string(data), "a < b & c")

	var decoded snapshot.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "club5", decoded.Meta.ScreenName())
	assert.Contains(t, decoded.Posts, "1")
}

func TestWriteSnapshotLeavesNoTempFiles(t *testing.T) {
	store, dir := newTestStore(t)

	snap := snapshot.New(snapshot.NewGroupMeta(1, "n", "sn", 0, "nl"))
	require.NoError(t, store.WriteSnapshot("sn", snapshot.KindGroup, snap))

	entries, err := os.ReadDir(filepath.Join(dir, "nl"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp-")
	}
}

func TestCachesRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	profiles := map[string]vk.Profile{
		"42": {"id": float64(42), "first_name": "Ivan"},
	}
	mentions := map[string][]string{
		"id42":   {"ivan", "vanya"},
		"club77": {"some club"},
	}
	require.NoError(t, store.SaveCaches(profiles, mentions))

	gotProfiles, gotMentions := store.LoadCaches()
	require.Contains(t, gotProfiles, "42")
	assert.Equal(t, "Ivan", gotProfiles["42"].Str("first_name"))
	assert.Equal(t, []string{"ivan", "vanya"}, gotMentions["id42"])
	assert.Equal(t, []string{"some club"}, gotMentions["club77"])
}

func TestLoadCachesMissingFiles(t *testing.T) {
	store, _ := newTestStore(t)

	profiles, mentions := store.LoadCaches()
	assert.NotNil(t, profiles)
	assert.NotNil(t, mentions)
	assert.Empty(t, profiles)
	assert.Empty(t, mentions)
}

func TestLoadCachesCorruptFile(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "userData.json"), []byte("{broken"), 0o644))

	profiles, mentions := store.LoadCaches()
	assert.Empty(t, profiles)
	assert.Empty(t, mentions)
}
