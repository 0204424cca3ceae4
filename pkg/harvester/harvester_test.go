package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/mentions"
	"vkharvest/pkg/pager"
	"vkharvest/pkg/profiles"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/snapshot"
	"vkharvest/pkg/state"
	"vkharvest/pkg/vk"
)

var (
	ownerRx = regexp.MustCompile(`"owner_id": (-?\d+)`)
	postRx  = regexp.MustCompile(`"post_id": (\d+)`)
)

// fakeVK simulates the subset of the VK API the harvester touches:
// bulk lookups, count probes and scripted batch fetches.
type fakeVK struct {
	mu       sync.Mutex
	groups   string
	users    map[string]string // id or screen name -> profile JSON
	wall     map[string][]string
	comments map[string][]string
	hits     map[string]int

	// when set, every scripted comment batch fails with a runtime error
	failComments bool
}

func (f *fakeVK) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.hits[r.URL.Path]++
		f.mu.Unlock()

		switch r.URL.Path {
		case "/groups.getById":
			fmt.Fprintf(w, `{"response":%s}`, f.groups)
		case "/users.get":
			var found []string
			for _, id := range strings.Split(r.FormValue("user_ids"), ",") {
				if p, ok := f.users[id]; ok {
					found = append(found, p)
				}
			}
			fmt.Fprintf(w, `{"response":[%s]}`, strings.Join(found, ","))
		case "/wall.get":
			owner := r.FormValue("owner_id")
			fmt.Fprintf(w, `{"response":{"count":%d}}`, len(f.wall[owner]))
		case "/wall.getComments":
			key := r.FormValue("owner_id") + ":" + r.FormValue("post_id")
			fmt.Fprintf(w, `{"response":{"count":%d}}`, len(f.comments[key]))
		case "/execute":
			code := r.FormValue("code")
			owner := ownerRx.FindStringSubmatch(code)
			require.NotNil(t, owner, "script without owner_id: %s", code)
			var items []string
			if strings.Contains(code, "wall.getComments") {
				if f.failComments {
					fmt.Fprint(w, `{"error":{"error_code":13,"error_msg":"runtime error occurred"}}`)
					return
				}
				post := postRx.FindStringSubmatch(code)
				require.NotNil(t, post)
				items = f.comments[owner[1]+":"+post[1]]
			} else {
				items = f.wall[owner[1]]
			}
			fmt.Fprintf(w, `{"response":[%s]}`, strings.Join(items, ","))
		default:
			t.Errorf("unexpected API path %s", r.URL.Path)
		}
	}
}

func (f *fakeVK) pathHits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func newFixture() *fakeVK {
	return &fakeVK{
		groups: `[
			{"id":1,"name":"Test Club","screen_name":"testclub","is_closed":0,"members_count":300},
			{"id":2,"name":"Closed Club","screen_name":"closedclub","is_closed":1,"members_count":50}
		]`,
		users: map[string]string{
			"someone": `{"id":500,"first_name":"Some","last_name":"One","sex":1,"screen_name":"someone"}`,
			"500":     `{"id":500,"first_name":"Some","last_name":"One","sex":1,"screen_name":"someone"}`,
			"42":      `{"id":42,"first_name":"Ivan","last_name":"Petrov","sex":2,"screen_name":"ivan42"}`,
		},
		wall: map[string][]string{
			"-1": {
				`{"id":10,"owner_id":-1,"from_id":-1,"date":1600000000,"text":"hello [id42|Ivan]","comments":{"count":1}}`,
				`{"id":11,"owner_id":-1,"from_id":42,"date":1600000100,"text":"guest post"}`,
				`{"id":12,"owner_id":-1,"from_id":-99,"date":1600000200,"text":"crossposted by [id44|Olga]","copy_history":[{"id":77,"owner_id":-8,"text":"see [club10|Club Ten]"}]}`,
				`{"id":13,"owner_id":-1,"from_id":-1,"date":1600000300,"text":"","copy_history":[{"id":500,"owner_id":-7,"text":"[id43|Petr] built a bridge"}]}`,
				`{"id":14,"owner_id":-1,"from_id":77,"date":1600000400,"text":"ghost author"}`,
			},
			"500": {
				`{"id":20,"owner_id":500,"from_id":500,"date":1700000000,"text":"my post"}`,
				`{"id":21,"owner_id":500,"from_id":500,"date":1700000100,"text":"look at this","copy_history":[{"id":9,"owner_id":-7,"text":"from [club9|The C]"}]}`,
			},
		},
		comments: map[string][]string{
			"-1:10": {
				`{"id":100,"from_id":42,"date":1600000500,"text":"nice [club9|C]"}`,
			},
		},
		hits: make(map[string]int),
	}
}

func newTestHarvester(t *testing.T, fake *fakeVK, dir string) (*Harvester, *state.Store) {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.VK.AccessToken = "test-token"
	cfg.VK.BaseURL = server.URL
	cfg.VK.RequestTimeout = 5 * time.Second
	cfg.Harvest.BatchPause = 0
	cfg.Output.Language = "nl"
	cfg.Output.BaseDirectory = dir

	log := logger.NewTestLogger()
	gate := ratelimit.NewGate(0, 0, 0)
	client := vk.NewClient(&cfg.VK, gate, log)
	store, err := state.NewStore(&cfg.Output, log)
	require.NoError(t, err)

	h := New(
		client,
		pager.New(&cfg.Harvest, log),
		profiles.NewCache(client, cfg.Harvest.ProfileBatchSize, log),
		mentions.NewRegistry(),
		store,
		cfg,
		log,
	)
	return h, store
}

func loadSnapshot(t *testing.T, store *state.Store, screenName string, kind snapshot.Kind) *snapshot.Snapshot {
	t.Helper()
	data, err := os.ReadFile(store.SnapshotPath(screenName, kind))
	require.NoError(t, err)
	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return &snap
}

func TestRunClassifiesTargets(t *testing.T) {
	fake := newFixture()
	h, _ := newTestHarvester(t, fake, t.TempDir())

	stats, err := h.Run(context.Background(), []string{"closedclub", "ghosty", "someone", "testclub"})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 1, stats.Nonexistent)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
}

func TestRunGroupSnapshot(t *testing.T) {
	fake := newFixture()
	h, store := newTestHarvester(t, fake, t.TempDir())

	_, err := h.Run(context.Background(), []string{"someone", "testclub"})
	require.NoError(t, err)

	snap := loadSnapshot(t, store, "testclub", snapshot.KindGroup)
	assert.EqualValues(t, 1, snap.Meta.ID())
	assert.Equal(t, "testclub", snap.Meta.ScreenName())

	// Posts 12 (another community) and 14 (unresolvable author) are dropped
	require.Len(t, snap.Posts, 3)
	require.Contains(t, snap.Posts, "10")
	require.Contains(t, snap.Posts, "11")
	require.Contains(t, snap.Posts, "13")

	// The account's own posts store the short name as author
	assert.Equal(t, "testclub", snap.Posts["10"].Author.Self)

	// Sort keys carry the item's own timestamp
	assert.EqualValues(t, 1600000000, snap.Posts["10"].Sort)
	assert.EqualValues(t, 1600000500, snap.Posts["10"].Comments["100"].Sort)

	// Individual authors store the shortened profile
	author := snap.Posts["11"].Author
	require.NotNil(t, author.Profile)
	assert.EqualValues(t, 42, author.Profile.ID)
	assert.Equal(t, "Ivan", author.Profile.FirstName)

	// Comment thread of post 10
	comments := snap.Posts["10"].Comments
	require.Contains(t, comments, "100")
	assert.Equal(t, "nice [club9|C]", comments["100"].Text)
	require.NotNil(t, comments["100"].Author.Profile)
	assert.EqualValues(t, 42, comments["100"].Author.Profile.ID)
}

func TestRunRepostPolicy(t *testing.T) {
	fake := newFixture()
	h, store := newTestHarvester(t, fake, t.TempDir())

	_, err := h.Run(context.Background(), []string{"someone", "testclub"})
	require.NoError(t, err)

	// Group walls keep the repost body
	groupSnap := loadSnapshot(t, store, "testclub", snapshot.KindGroup)
	repost := groupSnap.Posts["13"]
	require.NotNil(t, repost)
	assert.Equal(t, "[id43|Petr] built a bridge", repost.CopyText)
	assert.EqualValues(t, 500, repost.CopyID)
	assert.EqualValues(t, -7, repost.PostSrcOwner)

	// User walls drop the body but keep the source ids
	userSnap := loadSnapshot(t, store, "someone", snapshot.KindIndividual)
	require.Contains(t, userSnap.Posts, "21")
	assert.Empty(t, userSnap.Posts["21"].CopyText)
	assert.EqualValues(t, 9, userSnap.Posts["21"].CopyID)
	assert.EqualValues(t, -7, userSnap.Posts["21"].PostSrcOwner)
	assert.Equal(t, "someone", userSnap.Posts["21"].Author.Self)
}

func TestRunPersistsCaches(t *testing.T) {
	fake := newFixture()
	h, store := newTestHarvester(t, fake, t.TempDir())

	_, err := h.Run(context.Background(), []string{"someone", "testclub"})
	require.NoError(t, err)

	savedProfiles, savedMentions := store.LoadCaches()

	// Resolved individual authors are cached; the failed lookup is not
	assert.Contains(t, savedProfiles, "42")
	assert.NotContains(t, savedProfiles, "77")

	// Mentions from posts, comments and repost bodies all land in the
	// registry, including repost text the user policy did not store.
	assert.Equal(t, []string{"ivan"}, savedMentions["id42"])
	assert.Equal(t, []string{"petr"}, savedMentions["id43"])
	assert.ElementsMatch(t, []string{"c", "the c"}, savedMentions["club9"])

	// Posts dropped for their author still contribute their markup,
	// from the body and from the repost text alike.
	assert.Equal(t, []string{"olga"}, savedMentions["id44"])
	assert.Equal(t, []string{"club ten"}, savedMentions["club10"])
}

func TestRunFailedAccountStillFlushesCaches(t *testing.T) {
	fake := newFixture()
	fake.failComments = true
	h, store := newTestHarvester(t, fake, t.TempDir())

	stats, err := h.Run(context.Background(), []string{"testclub"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.NoFileExists(t, store.SnapshotPath("testclub", snapshot.KindGroup))

	// The wall fetch resolved author 42 and registered the mentions
	// before the comment thread died, so both caches keep them.
	savedProfiles, savedMentions := store.LoadCaches()
	assert.Contains(t, savedProfiles, "42")
	assert.Equal(t, []string{"ivan"}, savedMentions["id42"])
}

func TestRunUserWithoutScreenName(t *testing.T) {
	fake := newFixture()
	fake.groups = "[]"
	fake.users["id600"] = `{"id":600,"first_name":"No","last_name":"Name"}`
	fake.users["id601"] = `{"id":601,"first_name":"Gone","deactivated":"banned"}`
	h, store := newTestHarvester(t, fake, t.TempDir())

	stats, err := h.Run(context.Background(), []string{"id600", "id601"})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Nonexistent)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 0, stats.Completed)
	assert.NoFileExists(t, store.SnapshotPath("id600", snapshot.KindIndividual))
	assert.Equal(t, 0, fake.pathHits("/wall.get"))
}

func TestRunResumesWithoutRefetching(t *testing.T) {
	dir := t.TempDir()

	fake := newFixture()
	h, _ := newTestHarvester(t, fake, dir)
	stats, err := h.Run(context.Background(), []string{"someone", "testclub"})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Completed)

	// A fresh process over the same output directory skips both accounts
	fake2 := newFixture()
	h2, _ := newTestHarvester(t, fake2, dir)
	stats, err = h2.Run(context.Background(), []string{"someone", "testclub"})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 0, fake2.pathHits("/wall.get"))
	assert.Equal(t, 0, fake2.pathHits("/execute"))
}

func TestRunOverwriteRefetches(t *testing.T) {
	dir := t.TempDir()

	fake := newFixture()
	h, _ := newTestHarvester(t, fake, dir)
	_, err := h.Run(context.Background(), []string{"testclub"})
	require.NoError(t, err)

	fake2 := newFixture()
	h2, _ := newTestHarvester(t, fake2, dir)
	h2.cfg.Harvest.Overwrite = true
	stats, err := h2.Run(context.Background(), []string{"testclub"})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Completed)
	assert.Greater(t, fake2.pathHits("/execute"), 0)
}

func TestRunMergesPriorCaches(t *testing.T) {
	dir := t.TempDir()

	fake := newFixture()
	h, store := newTestHarvester(t, fake, dir)
	require.NoError(t, store.SaveCaches(
		map[string]vk.Profile{"900": {"id": float64(900), "first_name": "Old"}},
		map[string][]string{"id900": {"old name"}},
	))

	_, err := h.Run(context.Background(), []string{"testclub"})
	require.NoError(t, err)

	savedProfiles, savedMentions := store.LoadCaches()
	assert.Contains(t, savedProfiles, "900")
	assert.Contains(t, savedProfiles, "42")
	assert.Equal(t, []string{"old name"}, savedMentions["id900"])
}

func TestRunCancellation(t *testing.T) {
	fake := newFixture()
	h, _ := newTestHarvester(t, fake, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Run(ctx, []string{"someone", "testclub"})
	assert.Error(t, err)
}

func TestClaimGroupNamesAliases(t *testing.T) {
	groups := []vk.Group{
		{ID: 12345, ScreenName: "renamed_wall"},
	}

	claimed := claimGroupNames([]string{"club12345", "renamed_wall", "someone"}, groups)
	assert.True(t, claimed["club12345"])
	assert.True(t, claimed["renamed_wall"])
	assert.False(t, claimed["someone"])
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "skipped", StatusSkipped.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "nonexistent", StatusNonexistent.String())
	assert.Equal(t, "failed", StatusFailed.String())
}
