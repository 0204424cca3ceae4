package vk

import (
	"encoding/json"
	"strconv"
)

// apiEnvelope is the outer shape of every VK API response: exactly one of
// Response or Error is present.
type apiEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// APIError is the error object the VK API returns inside an HTTP 200 body
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// VK API error codes the crawl loop needs to distinguish
const (
	apiErrAuth           = 5  // invalid access token
	apiErrTooManyActions = 6  // too many requests per second
	apiErrCompileScript  = 12 // execute script failed to compile
	apiErrRuntimeScript  = 13 // execute script failed at runtime (too heavy)
	apiErrRateLimit      = 29 // method rate limit reached
)

// countEnvelope is the response to a zero-count probe call
type countEnvelope struct {
	Count int `json:"count"`
}

// CommentInfo carries the comment counter attached to a wall post
type CommentInfo struct {
	Count int `json:"count"`
}

// RepostSource is one entry of a post's copy_history
type RepostSource struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Text    string `json:"text"`
}

// WallPost is a single post as returned by wall.get
type WallPost struct {
	ID          int64          `json:"id"`
	OwnerID     int64          `json:"owner_id"`
	FromID      int64          `json:"from_id"`
	Date        int64          `json:"date"`
	Text        string         `json:"text"`
	Comments    *CommentInfo   `json:"comments,omitempty"`
	CopyHistory []RepostSource `json:"copy_history,omitempty"`
}

// WallComment is a single comment as returned by wall.getComments
type WallComment struct {
	ID     int64  `json:"id"`
	FromID int64  `json:"from_id"`
	Date   int64  `json:"date"`
	Text   string `json:"text"`
}

// Group is a community record as returned by groups.getById
type Group struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ScreenName   string `json:"screen_name"`
	IsClosed     int    `json:"is_closed"`
	MembersCount int    `json:"members_count"`
	Deactivated  string `json:"deactivated,omitempty"`
}

// Group closed-state values
const (
	GroupOpen        = 0
	GroupClosed      = 1
	GroupNonexistent = 2
)

// Profile is a raw user record as returned by users.get. It is kept
// schema-less so the metadata cache persists exactly what the API
// returned, whatever fields the request asked for.
type Profile map[string]interface{}

// ID returns the numeric user id, or 0 if absent
func (p Profile) ID() int64 {
	switch v := p["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		id, _ := v.Int64()
		return id
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

// Str returns a string field, or "" if absent or not a string
func (p Profile) Str(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Int returns a numeric field, or 0 if absent
func (p Profile) Int(key string) int64 {
	if f, ok := p[key].(float64); ok {
		return int64(f)
	}
	return 0
}

// ScreenName returns the user's short name, or "" if absent
func (p Profile) ScreenName() string {
	return p.Str("screen_name")
}

// CityTitle digs the city name out of the nested city object
func (p Profile) CityTitle() string {
	if city, ok := p["city"].(map[string]interface{}); ok {
		if title, ok := city["title"].(string); ok {
			return title
		}
	}
	return ""
}

// Inaccessible reports whether the user account cannot be harvested:
// deactivated (banned or deleted) or hidden from non-friends.
func (p Profile) Inaccessible() bool {
	if _, ok := p["deactivated"]; ok {
		return true
	}
	if _, ok := p["hidden"]; ok {
		return true
	}
	return false
}

// UserFields is the field list requested for every user lookup.
// The metadata cache stores the full records, so widening this list
// only affects newly resolved users.
const UserFields = "sex, bdate, city, country, home_town, " +
	"career, domain, education, " +
	"followers_count, occupation, " +
	"schools, screen_name, universities"

// GroupFields is the field list requested for group lookups
const GroupFields = "members_count"
