// Package feed orchestrates loading the post feed from the local cache and
// the remote API.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cyderes/social-feed/internal/logging"
	"github.com/cyderes/social-feed/internal/metrics"
	"github.com/cyderes/social-feed/internal/models"
	"github.com/cyderes/social-feed/internal/remote"
)

// Source names where the posts of a load came from
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Cache is the part of storage.Storage the controller uses
type Cache interface {
	ReplaceAll(ctx context.Context, posts []models.CachedPost) error
	FetchAll(ctx context.Context) ([]models.CachedPost, error)
}

// ErrLoadCanceled is returned when a load stops because its callers gave up
var ErrLoadCanceled = errors.New("load canceled")

// Result describes a finished load
type Result struct {
	LoadID  string
	Source  Source
	Posts   []models.DisplayPost
	Warning string
}

// Outcome is delivered by LoadAsync
type Outcome struct {
	Result Result
	Err    error
}

// Controller loads the feed. Loads run one at a time; concurrent loads with
// the same forceRefresh value share a single execution.
type Controller struct {
	source   remote.Source
	cache    Cache
	listener Listener
	logger   *slog.Logger
	metrics  *metrics.Collector

	group    singleflight.Group
	loadMu   sync.Mutex
	flightMu sync.Mutex
	flights  map[string]*flight

	mu     sync.RWMutex
	posts  []models.DisplayPost
	status models.FeedStatus
}

// flight is the context shared by the callers of one coalesced load. It is
// canceled once every caller has stopped waiting.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Controller
type Option func(*Controller)

// WithListener sets the listener notified of state changes
func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listener = l
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.OrDefault(logger)
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a controller over the given source and cache
func NewController(source remote.Source, cache Cache, opts ...Option) *Controller {
	c := &Controller{
		source:   source,
		cache:    cache,
		listener: Hooks{},
		logger:   slog.Default(),
		posts:    []models.DisplayPost{},
		flights:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "feed")
	return c
}

// Load runs one feed load. Without forceRefresh a non-empty cache is served
// as is; otherwise, or when the cache is empty, posts are fetched from the
// API and written to the cache. A failed fetch reports an error to the
// listener and falls back to the cache contents; in that case the returned
// Result holds the fallback posts and the error is the fetch failure.
//
// A caller whose ctx is done stops waiting; the load itself is canceled only
// when no caller is left waiting for it.
func (c *Controller) Load(ctx context.Context, forceRefresh bool) (Result, error) {
	key := "cached"
	if forceRefresh {
		key = "refresh"
	}

	for {
		c.flightMu.Lock()
		fl := c.flights[key]
		if fl == nil {
			flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			fl = &flight{ctx: flightCtx, cancel: cancel}
			c.flights[key] = fl
		}
		fl.waiters++
		ch := c.group.DoChan(key, func() (interface{}, error) {
			c.loadMu.Lock()
			defer c.loadMu.Unlock()
			return c.load(fl.ctx, forceRefresh)
		})
		c.flightMu.Unlock()

		select {
		case r := <-ch:
			c.leave(key, fl)
			// Joined a load that its own callers abandoned; start a fresh one
			if errors.Is(r.Err, ErrLoadCanceled) && ctx.Err() == nil {
				continue
			}
			return sharedResult(r)
		case <-ctx.Done():
			if c.leave(key, fl) {
				// Last waiter: wait for the canceled load to wind down
				return sharedResult(<-ch)
			}
			return Result{}, fmt.Errorf("%w: %w", ErrLoadCanceled, ctx.Err())
		}
	}
}

// leave drops one waiter from fl and reports whether it was the last
func (c *Controller) leave(key string, fl *flight) bool {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return false
	}
	fl.cancel()
	if c.flights[key] == fl {
		delete(c.flights, key)
	}
	return true
}

func sharedResult(r singleflight.Result) (Result, error) {
	res, _ := r.Val.(Result)
	res.Posts = clonePosts(res.Posts)
	return res, r.Err
}

// LoadAsync starts Load in a goroutine and delivers its outcome on the
// returned channel, which is closed afterwards.
func (c *Controller) LoadAsync(ctx context.Context, forceRefresh bool) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := c.Load(ctx, forceRefresh)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// Run performs an initial load and then, when interval is positive, a forced
// refresh every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if _, err := c.Load(ctx, false); err != nil {
		c.logger.Warn("initial load failed", "error", err)
	}

	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Load(ctx, true); err != nil {
				c.logger.Warn("periodic refresh failed", "error", err)
			}
		}
	}
}

// Posts returns a copy of the current feed
func (c *Controller) Posts() []models.DisplayPost {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePosts(c.posts)
}

// Loading reports whether a load is in flight
func (c *Controller) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Loading
}

// Status returns a snapshot of the last load
func (c *Controller) Status() models.FeedStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) load(ctx context.Context, forceRefresh bool) (Result, error) {
	loadID := uuid.NewString()
	logger := c.logger.With("load_id", loadID, "force_refresh", forceRefresh)

	c.mu.Lock()
	c.status.Loading = true
	c.status.LastLoadID = loadID
	c.status.LastAttempt = time.Now().UTC()
	c.mu.Unlock()
	c.listener.LoadingStateChanged(true)

	if !forceRefresh {
		if rows := c.readCache(ctx, logger); len(rows) > 0 {
			posts := models.DisplayFromCache(rows)
			c.finish(SourceCache, posts, "", "")
			c.listener.LoadingStateChanged(false)
			c.listener.PostsUpdated(clonePosts(posts))
			logger.Info("served feed from cache", "count", len(posts))
			return Result{LoadID: loadID, Source: SourceCache, Posts: posts}, nil
		}
		logger.Debug("cache empty, fetching from network")
	}

	start := time.Now()
	fetched, err := c.source.FetchPosts(ctx)
	c.metrics.ObserveRemoteFetch(time.Since(start), err)
	if err != nil {
		return c.fallback(ctx, logger, loadID, err)
	}

	rows := models.NormalizeCached(models.CachePosts(fetched))

	var warning string
	if err := c.cache.ReplaceAll(ctx, rows); err != nil {
		c.metrics.IncCacheWriteErrors()
		logger.Warn("failed to store posts", "error", err)
		warning = fmt.Sprintf("Posts could not be saved for offline use: %v", err)
	}

	// Same rows the cache now holds, so a later cache read shows the same feed
	posts := models.DisplayFromCache(rows)
	c.finish(SourceNetwork, posts, "", warning)
	c.listener.LoadingStateChanged(false)
	c.listener.PostsUpdated(clonePosts(posts))
	if warning != "" {
		c.listener.Warning(warning)
	}
	logger.Info("loaded feed from network", "count", len(posts))
	return Result{LoadID: loadID, Source: SourceNetwork, Posts: posts, Warning: warning}, nil
}

// fallback handles a failed fetch by serving whatever the cache holds. It
// never fetches again, so an empty cache yields an empty feed.
func (c *Controller) fallback(ctx context.Context, logger *slog.Logger, loadID string, fetchErr error) (Result, error) {
	if ctx.Err() != nil {
		// Canceled by the caller; the feed keeps its previous posts
		c.mu.Lock()
		c.status.Loading = false
		c.mu.Unlock()
		c.listener.LoadingStateChanged(false)
		logger.Info("load canceled", "error", fetchErr)
		return Result{LoadID: loadID}, fmt.Errorf("%w: %w", ErrLoadCanceled, ctx.Err())
	}

	logger.Error("failed to fetch posts", "error", fetchErr)
	message := fmt.Sprintf("Failed to load posts: %v", fetchErr)

	c.mu.Lock()
	c.status.Loading = false
	c.mu.Unlock()
	c.listener.LoadingStateChanged(false)
	c.listener.Error(message)

	posts := models.DisplayFromCache(c.readCache(ctx, logger))
	c.finish(SourceFallback, posts, message, "")
	c.listener.PostsUpdated(clonePosts(posts))
	logger.Info("served feed from cache after fetch failure", "count", len(posts))

	return Result{LoadID: loadID, Source: SourceFallback, Posts: posts},
		fmt.Errorf("failed to fetch posts: %w", fetchErr)
}

// readCache treats a read failure as an empty cache
func (c *Controller) readCache(ctx context.Context, logger *slog.Logger) []models.CachedPost {
	rows, err := c.cache.FetchAll(ctx)
	if err != nil {
		logger.Warn("failed to read cache", "error", err)
		return nil
	}
	return rows
}

func (c *Controller) finish(source Source, posts []models.DisplayPost, errMessage, warning string) {
	c.mu.Lock()
	c.posts = posts
	c.status.Loading = false
	c.status.LastSource = string(source)
	c.status.LastError = errMessage
	c.status.LastWarning = warning
	c.status.PostCount = len(posts)
	if errMessage == "" {
		c.status.LastSuccess = time.Now().UTC()
	}
	c.mu.Unlock()

	c.metrics.ObserveLoad(string(source), len(posts))
}

func clonePosts(posts []models.DisplayPost) []models.DisplayPost {
	if posts == nil {
		return nil
	}
	out := make([]models.DisplayPost, len(posts))
	copy(out, posts)
	return out
}
