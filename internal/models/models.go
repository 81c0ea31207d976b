package models

import (
	"fmt"
	"sort"
	"time"
)

const (
	// UntitledPlaceholder replaces a missing cached title
	UntitledPlaceholder = "Untitled"
	// NoTextPlaceholder replaces a missing cached body
	NoTextPlaceholder = "No text"
)

// Post represents the original post structure from the API
type Post struct {
	UserID int    `json:"userId"`
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// CachedPost is the persisted form of a post
type CachedPost struct {
	ID        int    `json:"id" db:"id"`
	UserID    int    `json:"userId" db:"user_id"`
	Title     string `json:"title" db:"title"`
	Body      string `json:"body" db:"body"`
	AvatarURL string `json:"avatarUrl" db:"avatar_url"`
}

// DisplayPost is the shape handed to the presentation layer
type DisplayPost struct {
	ID        int    `json:"id"`
	UserID    int    `json:"userId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	AvatarURL string `json:"avatarUrl"`
}

// User represents a user record from the API
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FeedStatus tracks the outcome of feed loads
type FeedStatus struct {
	Loading     bool      `json:"loading"`
	LastLoadID  string    `json:"last_load_id,omitempty"`
	LastSource  string    `json:"last_source,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	LastWarning string    `json:"last_warning,omitempty"`
	PostCount   int       `json:"post_count"`
}

// AvatarURL derives the avatar image URL for a user
func AvatarURL(userID int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%d/100/100", userID)
}

// ToCached converts a fetched post into its persisted form
func (p Post) ToCached() CachedPost {
	return CachedPost{
		ID:        p.ID,
		UserID:    p.UserID,
		Title:     p.Title,
		Body:      p.Body,
		AvatarURL: AvatarURL(p.UserID),
	}
}

// ToDisplay converts a fetched post into a display post
func (p Post) ToDisplay() DisplayPost {
	return DisplayPost{
		ID:        p.ID,
		UserID:    p.UserID,
		Title:     p.Title,
		Body:      p.Body,
		AvatarURL: AvatarURL(p.UserID),
	}
}

// ToDisplay converts a cached row into a display post, filling in placeholders
// for a missing title or body and deriving the avatar when none was stored.
func (c CachedPost) ToDisplay() DisplayPost {
	d := DisplayPost{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Body:      c.Body,
		AvatarURL: c.AvatarURL,
	}
	if d.Title == "" {
		d.Title = UntitledPlaceholder
	}
	if d.Body == "" {
		d.Body = NoTextPlaceholder
	}
	if d.AvatarURL == "" {
		d.AvatarURL = AvatarURL(c.UserID)
	}
	return d
}

// CachePosts converts a fetched batch into cache rows, preserving order
func CachePosts(posts []Post) []CachedPost {
	cached := make([]CachedPost, len(posts))
	for i, post := range posts {
		cached[i] = post.ToCached()
	}
	return cached
}

// DisplayFromPosts maps a fetched batch to display posts
func DisplayFromPosts(posts []Post) []DisplayPost {
	display := make([]DisplayPost, len(posts))
	for i, post := range posts {
		display[i] = post.ToDisplay()
	}
	return display
}

// DisplayFromCache maps cache rows to display posts
func DisplayFromCache(rows []CachedPost) []DisplayPost {
	display := make([]DisplayPost, len(rows))
	for i, row := range rows {
		display[i] = row.ToDisplay()
	}
	return display
}

// NormalizeCached returns rows sorted by ID with one row per ID; for
// duplicate IDs the last occurrence wins. The input slice is not modified.
func NormalizeCached(rows []CachedPost) []CachedPost {
	byID := make(map[int]CachedPost, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	out := make([]CachedPost, 0, len(byID))
	for _, row := range byID {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
