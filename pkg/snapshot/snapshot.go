package snapshot

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind distinguishes community walls from personal walls. Groups have
// negative owner ids on the wire and their snapshots live in the corpus
// root; user snapshots live under users/.
type Kind int

const (
	KindGroup Kind = iota
	KindIndividual
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "individual"
}

// dateFormat is the human-readable timestamp format used in snapshots
const dateFormat = "2006-01-02 15:04:05"

// FormatDate renders a unix timestamp the way snapshots store dates.
// Zero or negative timestamps render as the empty string.
func FormatDate(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).Format(dateFormat)
}

// Snapshot is the complete harvested output for one account. It is held
// in memory for the whole account and written once, so a snapshot file on
// disk is always complete.
type Snapshot struct {
	Meta  Meta             `json:"meta"`
	Posts map[string]*Post `json:"posts"`
}

// New creates an empty snapshot with the given meta block
func New(meta Meta) *Snapshot {
	return &Snapshot{
		Meta:  meta,
		Posts: make(map[string]*Post),
	}
}

// AddPost stores a post under its id
func (s *Snapshot) AddPost(id int64, post *Post) {
	s.Posts[strconv.FormatInt(id, 10)] = post
}

// Meta is the account description block of a snapshot. Group meta holds
// the community fields; user meta holds the full resolved profile. Both
// get the corpus language and the harvest date attached.
type Meta map[string]interface{}

// NewGroupMeta builds the meta block for a community snapshot
func NewGroupMeta(id int64, name, screenName string, membersCount int, language string) Meta {
	return Meta{
		"id":            id,
		"name":          name,
		"screen_name":   screenName,
		"members_count": membersCount,
		"language":      language,
		"date":          time.Now().Format(dateFormat),
	}
}

// NewUserMeta builds the meta block for a personal snapshot from the
// user's full profile record.
func NewUserMeta(profile map[string]interface{}, language string) Meta {
	meta := make(Meta, len(profile)+2)
	for k, v := range profile {
		meta[k] = v
	}
	meta["language"] = language
	meta["date"] = time.Now().Format(dateFormat)
	return meta
}

// ID returns the numeric account id from the meta block
func (m Meta) ID() int64 {
	switch v := m["id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// ScreenName returns the account's canonical short name
func (m Meta) ScreenName() string {
	if s, ok := m["screen_name"].(string); ok {
		return s
	}
	return ""
}

// Post is one harvested wall post with its comments
type Post struct {
	Date     string              `json:"date"`
	Text     string              `json:"text"`
	Author   Author              `json:"author"`
	Comments map[string]*Comment `json:"comments"`
	Sort     int64               `json:"sort"`

	// Repost fields. The source ids are stored whenever the post is a
	// repost; the body only when the harvester is configured to keep it.
	CopyText     string `json:"copy_text,omitempty"`
	CopyID       int64  `json:"copy_id,omitempty"`
	PostSrcOwner int64  `json:"post_src_owner,omitempty"`
}

// AddComment stores a comment under its id
func (p *Post) AddComment(id int64, comment *Comment) {
	p.Comments[strconv.FormatInt(id, 10)] = comment
}

// Comment is one harvested comment
type Comment struct {
	Date   string `json:"date"`
	Text   string `json:"text"`
	Author Author `json:"author"`
	Sort   int64  `json:"sort"`
}

// ShortProfile is the projection of a full user record stored as a
// post/comment author. Optional fields stay absent when the user never
// filled them in.
type ShortProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Sex       int64  `json:"sex"`
	City      string `json:"city,omitempty"`
	BirthDate string `json:"bdate,omitempty"`
	HomeTown  string `json:"home_town,omitempty"`
}

// Author is the resolved author reference of a post or comment: the
// harvested account's own short name, a shortened profile record, or
// empty when resolution failed.
type Author struct {
	// Self holds the account's short name when the item's origin is the
	// account itself.
	Self string
	// Profile holds the shortened record of an individual author.
	Profile *ShortProfile
}

// SelfAuthor builds an author reference to the harvested account itself
func SelfAuthor(screenName string) Author {
	return Author{Self: screenName}
}

// ProfileAuthor builds an author reference from a shortened profile
func ProfileAuthor(p *ShortProfile) Author {
	return Author{Profile: p}
}

// IsEmpty reports whether author resolution failed
func (a Author) IsEmpty() bool {
	return a.Self == "" && a.Profile == nil
}

// MarshalJSON writes the author the way snapshots store it: a bare string
// for the account itself, an object for a resolved individual, and an
// empty object when resolution failed.
func (a Author) MarshalJSON() ([]byte, error) {
	if a.Self != "" {
		return json.Marshal(a.Self)
	}
	if a.Profile != nil {
		return json.Marshal(a.Profile)
	}
	return []byte("{}"), nil
}

// UnmarshalJSON accepts both stored author forms
func (a *Author) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.Self)
	}
	var profile ShortProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return err
	}
	if profile != (ShortProfile{}) {
		a.Profile = &profile
	}
	return nil
}
