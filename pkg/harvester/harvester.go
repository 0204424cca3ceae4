package harvester

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/mentions"
	"vkharvest/pkg/pager"
	"vkharvest/pkg/profiles"
	"vkharvest/pkg/snapshot"
	"vkharvest/pkg/state"
	"vkharvest/pkg/vk"
)

// Status is the outcome of one target account
type Status int

const (
	StatusCompleted Status = iota
	StatusSkipped
	StatusClosed
	StatusNonexistent
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusClosed:
		return "closed"
	case StatusNonexistent:
		return "nonexistent"
	default:
		return "failed"
	}
}

// Stats summarizes a run across all targets
type Stats struct {
	Completed   int
	Skipped     int
	Closed      int
	Nonexistent int
	Failed      int
}

func (st *Stats) record(s Status) {
	switch s {
	case StatusCompleted:
		st.Completed++
	case StatusSkipped:
		st.Skipped++
	case StatusClosed:
		st.Closed++
	case StatusNonexistent:
		st.Nonexistent++
	case StatusFailed:
		st.Failed++
	}
}

// Harvester walks a target list account by account, pulling each wall
// and its comment threads through the adaptive pager and writing one
// snapshot per account. Accounts run strictly sequentially; the shared
// rate gate inside the client is the only concurrency control needed.
type Harvester struct {
	client   *vk.Client
	pager    *pager.Pager
	profiles *profiles.Cache
	mentions *mentions.Registry
	store    *state.Store
	cfg      *config.Config
	logger   logger.Logger
}

// New wires a harvester from its collaborators
func New(client *vk.Client, pg *pager.Pager, cache *profiles.Cache, registry *mentions.Registry, store *state.Store, cfg *config.Config, log logger.Logger) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Harvester{
		client:   client,
		pager:    pg,
		profiles: cache,
		mentions: registry,
		store:    store,
		cfg:      cfg,
		logger:   log,
	}
}

// Run harvests every screen name in the target list. Targets are first
// classified in bulk: one pass of group lookups claims the community
// walls, everything unclaimed is looked up as a personal account. Both
// caches are persisted after every account, finished or not, so an interrupted
// run resumes with at most one account of lost work.
func (h *Harvester) Run(ctx context.Context, names []string) (*Stats, error) {
	savedProfiles, savedMentions := h.store.LoadCaches()
	h.profiles.Merge(savedProfiles)
	h.mentions.Merge(savedMentions)

	// Flushed once more on the way out so a cancelled or aborted run
	// keeps everything resolved up to that point.
	defer h.saveCaches()

	stats := &Stats{}

	groups, err := h.client.GetGroups(ctx, names)
	if err != nil {
		return stats, err
	}
	claimed := claimGroupNames(names, groups)

	for _, g := range groups {
		status, err := h.runGroup(ctx, g)
		stats.record(status)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			h.logger.ErrorWithFields("group harvest failed", map[string]interface{}{
				"account": g.ScreenName,
				"error":   err.Error(),
			})
		}
	}

	var personal []string
	for _, name := range names {
		if !claimed[name] {
			personal = append(personal, name)
		}
	}
	if len(personal) > 0 {
		users, err := h.client.GetUsers(ctx, personal)
		if err != nil {
			return stats, err
		}
		found := indexUsers(users)

		for _, name := range personal {
			profile, ok := found[strings.ToLower(name)]
			if !ok {
				h.logger.WarnWithFields("target does not resolve to any account", map[string]interface{}{
					"target": name,
				})
				stats.record(StatusNonexistent)
				continue
			}
			status, err := h.runUser(ctx, profile)
			stats.record(status)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				h.logger.ErrorWithFields("user harvest failed", map[string]interface{}{
					"account": name,
					"error":   err.Error(),
				})
			}
		}
	}

	h.logger.InfoWithFields("run finished", map[string]interface{}{
		"targets":     len(names),
		"completed":   stats.Completed,
		"skipped":     stats.Skipped,
		"closed":      stats.Closed,
		"nonexistent": stats.Nonexistent,
		"failed":      stats.Failed,
	})
	return stats, nil
}

// claimGroupNames marks which requested names resolved to communities.
// A name matches a group by its canonical screen name or by any of the
// numeric aliases communities answer to.
func claimGroupNames(names []string, groups []vk.Group) map[string]bool {
	byAlias := make(map[string]bool, len(groups)*4)
	for _, g := range groups {
		id := strconv.FormatInt(g.ID, 10)
		byAlias[strings.ToLower(g.ScreenName)] = true
		byAlias["club"+id] = true
		byAlias["public"+id] = true
		byAlias["event"+id] = true
	}

	claimed := make(map[string]bool, len(names))
	for _, name := range names {
		if byAlias[strings.ToLower(name)] {
			claimed[name] = true
		}
	}
	return claimed
}

func indexUsers(users []vk.Profile) map[string]vk.Profile {
	found := make(map[string]vk.Profile, len(users))
	for _, p := range users {
		if sn := p.ScreenName(); sn != "" {
			found[strings.ToLower(sn)] = p
		}
		if id := p.ID(); id != 0 {
			found["id"+strconv.FormatInt(id, 10)] = p
		}
	}
	return found
}

func (h *Harvester) runGroup(ctx context.Context, g vk.Group) (Status, error) {
	log := h.logger.WithFields(map[string]interface{}{
		"account": g.ScreenName,
		"kind":    snapshot.KindGroup.String(),
	})

	if g.Deactivated != "" {
		log.Warn("community is deactivated, skipping")
		return StatusNonexistent, nil
	}
	if g.IsClosed != vk.GroupOpen {
		log.Warn("community wall is not open, skipping")
		return StatusClosed, nil
	}
	if h.store.ShouldSkip(g.ScreenName, snapshot.KindGroup, h.cfg.Harvest.Overwrite) {
		log.Info("snapshot already exists, skipping")
		return StatusSkipped, nil
	}

	start := time.Now()
	snap := snapshot.New(snapshot.NewGroupMeta(g.ID, g.Name, g.ScreenName, g.MembersCount, h.cfg.Output.Language))
	if err := h.harvestWall(ctx, -g.ID, g.ID, g.ScreenName, h.cfg.Harvest.GroupRepostText, snap); err != nil {
		h.saveCaches()
		return StatusFailed, err
	}
	if err := h.store.WriteSnapshot(g.ScreenName, snapshot.KindGroup, snap); err != nil {
		h.saveCaches()
		return StatusFailed, err
	}
	h.saveCaches()

	log.WithFields(map[string]interface{}{
		"posts":   len(snap.Posts),
		"elapsed": time.Since(start).Round(time.Second).String(),
	}).Info("account harvested")
	return StatusCompleted, nil
}

func (h *Harvester) runUser(ctx context.Context, profile vk.Profile) (Status, error) {
	screenName := profile.ScreenName()
	if screenName == "" {
		if profile.Inaccessible() {
			h.logger.WarnWithFields("account is deactivated or hidden, skipping", map[string]interface{}{
				"id": profile.ID(),
			})
			return StatusClosed, nil
		}
		h.logger.WarnWithFields("account has no screen name, skipping", map[string]interface{}{
			"id": profile.ID(),
		})
		return StatusNonexistent, nil
	}
	log := h.logger.WithFields(map[string]interface{}{
		"account": screenName,
		"kind":    snapshot.KindIndividual.String(),
	})

	if profile.Inaccessible() {
		log.Warn("account is deactivated or hidden, skipping")
		return StatusClosed, nil
	}
	if h.store.ShouldSkip(screenName, snapshot.KindIndividual, h.cfg.Harvest.Overwrite) {
		log.Info("snapshot already exists, skipping")
		return StatusSkipped, nil
	}

	start := time.Now()
	snap := snapshot.New(snapshot.NewUserMeta(profile, h.cfg.Output.Language))
	if err := h.harvestWall(ctx, profile.ID(), profile.ID(), screenName, h.cfg.Harvest.UserRepostText, snap); err != nil {
		h.saveCaches()
		return StatusFailed, err
	}
	if err := h.store.WriteSnapshot(screenName, snapshot.KindIndividual, snap); err != nil {
		h.saveCaches()
		return StatusFailed, err
	}
	h.saveCaches()

	log.WithFields(map[string]interface{}{
		"posts":   len(snap.Posts),
		"elapsed": time.Since(start).Round(time.Second).String(),
	}).Info("account harvested")
	return StatusCompleted, nil
}

// harvestWall pulls a complete wall and the comment thread of every post
// that has one. selfID is the positive account id; posts whose from_id
// matches it in either sign are attributed to the account itself.
func (h *Harvester) harvestWall(ctx context.Context, ownerID, selfID int64, screenName string, keepRepostText bool, snap *snapshot.Snapshot) error {
	raws, err := h.pager.FetchAll(ctx, h.client.Wall(ownerID))
	if err != nil {
		return err
	}

	posts := make([]*vk.WallPost, 0, len(raws))
	var authorIDs []int64
	for _, raw := range raws {
		var post vk.WallPost
		if err := json.Unmarshal(raw, &post); err != nil {
			h.logger.WarnWithFields("malformed post record, dropping", map[string]interface{}{
				"account": screenName,
				"error":   err.Error(),
			})
			continue
		}
		posts = append(posts, &post)
		if post.FromID > 0 && post.FromID != selfID {
			authorIDs = append(authorIDs, post.FromID)
		}
	}
	h.profiles.Prefetch(ctx, authorIDs)

	for _, post := range posts {
		if err := h.addPost(ctx, snap, post, ownerID, selfID, screenName, keepRepostText); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) addPost(ctx context.Context, snap *snapshot.Snapshot, post *vk.WallPost, ownerID, selfID int64, screenName string, keepRepostText bool) error {
	// Mention markup is registered before any author filtering, so
	// dropped posts still feed the registry.
	h.mentions.Extract(post.Text)
	if len(post.CopyHistory) > 0 {
		h.mentions.Extract(post.CopyHistory[0].Text)
	}

	author, err := h.resolveAuthor(ctx, post.FromID, selfID, screenName)
	if err != nil {
		return err
	}
	if author.IsEmpty() {
		h.logger.DebugWithFields("post author unresolvable, dropping", map[string]interface{}{
			"account": screenName,
			"post_id": post.ID,
			"from_id": post.FromID,
		})
		return nil
	}

	p := &snapshot.Post{
		Date:     snapshot.FormatDate(post.Date),
		Text:     post.Text,
		Author:   author,
		Comments: make(map[string]*snapshot.Comment),
		Sort:     post.Date,
	}

	if len(post.CopyHistory) > 0 {
		src := post.CopyHistory[0]
		p.CopyID = src.ID
		p.PostSrcOwner = src.OwnerID
		if keepRepostText {
			p.CopyText = src.Text
		}
	}

	if post.Comments != nil && post.Comments.Count > 0 {
		if err := h.harvestComments(ctx, p, ownerID, post.ID, selfID, screenName); err != nil {
			return err
		}
	}

	snap.AddPost(post.ID, p)
	return nil
}

func (h *Harvester) harvestComments(ctx context.Context, p *snapshot.Post, ownerID, postID, selfID int64, screenName string) error {
	raws, err := h.pager.FetchAll(ctx, h.client.Comments(ownerID, postID))
	if err != nil {
		return err
	}

	parsed := make([]*vk.WallComment, 0, len(raws))
	var authorIDs []int64
	for _, raw := range raws {
		var comment vk.WallComment
		if err := json.Unmarshal(raw, &comment); err != nil {
			h.logger.WarnWithFields("malformed comment record, dropping", map[string]interface{}{
				"account": screenName,
				"post_id": postID,
				"error":   err.Error(),
			})
			continue
		}
		parsed = append(parsed, &comment)
		if comment.FromID > 0 && comment.FromID != selfID {
			authorIDs = append(authorIDs, comment.FromID)
		}
	}
	h.profiles.Prefetch(ctx, authorIDs)

	for _, comment := range parsed {
		author, err := h.resolveAuthor(ctx, comment.FromID, selfID, screenName)
		if err != nil {
			return err
		}
		if author.IsEmpty() {
			continue
		}
		h.mentions.Extract(comment.Text)
		p.AddComment(comment.ID, &snapshot.Comment{
			Date:   snapshot.FormatDate(comment.Date),
			Text:   comment.Text,
			Author: author,
			Sort:   comment.Date,
		})
	}
	return nil
}

// resolveAuthor maps a from_id to a stored author reference. The
// harvested account wins over any cache state; positive ids resolve
// through the profile cache; everything else (other communities,
// unresolvable users) comes back empty and the caller drops the item.
func (h *Harvester) resolveAuthor(ctx context.Context, fromID, selfID int64, screenName string) (snapshot.Author, error) {
	if fromID == selfID || fromID == -selfID {
		return snapshot.SelfAuthor(screenName), nil
	}
	if fromID > 0 {
		profile, err := h.profiles.Resolve(ctx, fromID)
		if err != nil {
			return snapshot.Author{}, err
		}
		if len(profile) == 0 {
			return snapshot.Author{}, nil
		}
		return snapshot.ProfileAuthor(profiles.Shorten(profile)), nil
	}
	return snapshot.Author{}, nil
}

func (h *Harvester) saveCaches() {
	if err := h.store.SaveCaches(h.profiles.Export(), h.mentions.Export()); err != nil {
		h.logger.WithError(err).Error("failed to persist caches")
	}
}
