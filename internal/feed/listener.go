package feed

import "github.com/cyderes/social-feed/internal/models"

// Listener receives feed state changes. Within one load, calls arrive in
// order: LoadingStateChanged(true), then LoadingStateChanged(false), then
// Error and PostsUpdated. Warning follows PostsUpdated when the cache could
// not be written.
type Listener interface {
	LoadingStateChanged(loading bool)
	PostsUpdated(posts []models.DisplayPost)
	Error(message string)
	Warning(message string)
}

// Hooks adapts optional callbacks to a Listener. Nil fields are skipped.
type Hooks struct {
	OnLoadingStateChanged func(loading bool)
	OnPostsUpdated        func(posts []models.DisplayPost)
	OnError               func(message string)
	OnWarning             func(message string)
}

var _ Listener = Hooks{}

func (h Hooks) LoadingStateChanged(loading bool) {
	if h.OnLoadingStateChanged != nil {
		h.OnLoadingStateChanged(loading)
	}
}

func (h Hooks) PostsUpdated(posts []models.DisplayPost) {
	if h.OnPostsUpdated != nil {
		h.OnPostsUpdated(posts)
	}
}

func (h Hooks) Error(message string) {
	if h.OnError != nil {
		h.OnError(message)
	}
}

func (h Hooks) Warning(message string) {
	if h.OnWarning != nil {
		h.OnWarning(message)
	}
}

// Listeners fans every notification out to each listener in order
type Listeners []Listener

var _ Listener = Listeners{}

func (ls Listeners) LoadingStateChanged(loading bool) {
	for _, l := range ls {
		l.LoadingStateChanged(loading)
	}
}

func (ls Listeners) PostsUpdated(posts []models.DisplayPost) {
	for _, l := range ls {
		l.PostsUpdated(posts)
	}
}

func (ls Listeners) Error(message string) {
	for _, l := range ls {
		l.Error(message)
	}
}

func (ls Listeners) Warning(message string) {
	for _, l := range ls {
		l.Warning(message)
	}
}
