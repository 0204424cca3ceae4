package mentions

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// mentionRx matches VK inline mention markup: [id123|Ivan Petrov] or
// [club45|Some Club]. The reference id carries the group/individual
// discriminator in its prefix.
var mentionRx = regexp.MustCompile(`\[((?:id|club)[0-9]+)\|([^\r\n\[\]]+)\]`)

// Registry accumulates, per mentioned entity, the set of distinct display
// strings observed referring to it. It only ever grows: extraction is
// idempotent and entries are never removed, so merging a prior run's
// state and re-scanning the same texts is safe. Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	refs map[string]map[string]struct{}
}

// NewRegistry creates an empty mention registry
func NewRegistry() *Registry {
	return &Registry{
		refs: make(map[string]map[string]struct{}),
	}
}

// Extract scans a post or comment body for mention markup and records
// every display string under its reference id.
func (r *Registry) Extract(text string) {
	matches := mentionRx.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range matches {
		r.add(m[1], m[2])
	}
}

// Add records one display string for a reference id
func (r *Registry) Add(ref, display string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(ref, display)
}

func (r *Registry) add(ref, display string) {
	display = strings.ToLower(strings.TrimSpace(display))
	if display == "" {
		return
	}
	set, ok := r.refs[ref]
	if !ok {
		set = make(map[string]struct{})
		r.refs[ref] = set
	}
	set[display] = struct{}{}
}

// Names returns the display strings recorded for a reference id, sorted
func (r *Registry) Names(ref string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.refs[ref]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of distinct referenced entities
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

// Export returns the persisted form: reference id to sorted display
// strings. Sorting happens only here, for deterministic output.
func (r *Registry) Export() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.refs))
	for ref, set := range r.refs {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		out[ref] = names
	}
	return out
}

// Merge folds a previously persisted registry into this one
func (r *Registry) Merge(saved map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ref, names := range saved {
		for _, name := range names {
			r.add(ref, name)
		}
	}
}
