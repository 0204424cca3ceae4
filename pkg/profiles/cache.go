package profiles

import (
	"context"
	"strconv"
	"sync"

	"vkharvest/pkg/logger"
	"vkharvest/pkg/snapshot"
	"vkharvest/pkg/vk"
)

// Fetcher issues remote user lookups. *vk.Client satisfies it.
type Fetcher interface {
	GetUsers(ctx context.Context, ids []string) ([]vk.Profile, error)
}

// Cache is the cross-run account metadata cache: numeric user id (as a
// decimal string) to the full profile record. An id is resolved remotely
// at most once per process lifetime on top of whatever a prior run left
// behind; failed lookups are not cached so a later run may retry them.
// Entries are only ever added, never overwritten, which keeps concurrent
// reads safe under the single mutex.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]vk.Profile
	fetcher   Fetcher
	batchSize int
	logger    logger.Logger
}

// NewCache creates an empty metadata cache
func NewCache(fetcher Fetcher, batchSize int, log logger.Logger) *Cache {
	if log == nil {
		log = logger.GetLogger()
	}
	if batchSize <= 0 || batchSize > 200 {
		batchSize = 200
	}
	return &Cache{
		entries:   make(map[string]vk.Profile),
		fetcher:   fetcher,
		batchSize: batchSize,
		logger:    log,
	}
}

// Resolve returns the profile for a user id, fetching it remotely on the
// first miss. A lookup that returns nothing yields an empty profile and
// caches nothing.
func (c *Cache) Resolve(ctx context.Context, id int64) (vk.Profile, error) {
	key := strconv.FormatInt(id, 10)

	c.mu.RLock()
	profile, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return profile, nil
	}

	fetched, err := c.fetcher.GetUsers(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		c.logger.WarnWithFields("user lookup returned nothing", map[string]interface{}{
			"user_id": id,
		})
		return vk.Profile{}, nil
	}

	c.mu.Lock()
	c.entries[key] = fetched[0]
	c.mu.Unlock()

	return fetched[0], nil
}

// Prefetch resolves all not-yet-seen ids in batched lookups, so author
// resolution within one pagination pass costs a handful of round trips
// instead of one per author. Failed batches are logged and skipped.
func (c *Cache) Prefetch(ctx context.Context, ids []int64) {
	var missing []string
	seen := make(map[string]bool)

	c.mu.RLock()
	for _, id := range ids {
		key := strconv.FormatInt(id, 10)
		if _, ok := c.entries[key]; !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	c.mu.RUnlock()

	for start := 0; start < len(missing); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missing) {
			end = len(missing)
		}

		fetched, err := c.fetcher.GetUsers(ctx, missing[start:end])
		if err != nil {
			c.logger.WarnWithFields("profile prefetch failed", map[string]interface{}{
				"ids":   len(missing[start:end]),
				"error": err.Error(),
			})
			continue
		}

		c.mu.Lock()
		for _, profile := range fetched {
			if id := profile.ID(); id != 0 {
				key := strconv.FormatInt(id, 10)
				if _, ok := c.entries[key]; !ok {
					c.entries[key] = profile
				}
			}
		}
		c.mu.Unlock()
	}
}

// Contains reports whether an id is already cached
func (c *Cache) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[strconv.FormatInt(id, 10)]
	return ok
}

// Len returns the number of cached profiles
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Export returns the persisted form of the cache
func (c *Cache) Export() map[string]vk.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]vk.Profile, len(c.entries))
	for key, profile := range c.entries {
		out[key] = profile
	}
	return out
}

// Merge folds a previously persisted cache into this one. Existing
// entries win; the cache is append-only within a run.
func (c *Cache) Merge(saved map[string]vk.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, profile := range saved {
		if _, ok := c.entries[key]; !ok {
			c.entries[key] = profile
		}
	}
}

// Shorten projects a full profile down to the author fields stored in
// snapshots, tolerating absent optional fields.
func Shorten(p vk.Profile) *snapshot.ShortProfile {
	return &snapshot.ShortProfile{
		ID:        p.ID(),
		FirstName: p.Str("first_name"),
		LastName:  p.Str("last_name"),
		Sex:       p.Int("sex"),
		City:      p.CityTitle(),
		BirthDate: p.Str("bdate"),
		HomeTown:  p.Str("home_town"),
	}
}
