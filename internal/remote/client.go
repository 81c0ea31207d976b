package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/cyderes/social-feed/internal/apperr"
	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/logging"
	"github.com/cyderes/social-feed/internal/models"
)

var errNotArray = errors.New("response body is not a JSON array")

// Source is the contract the feed controller depends on
type Source interface {
	FetchPosts(ctx context.Context) ([]models.Post, error)
}

// Client fetches posts and users from the JSON API
type Client struct {
	config config.RemoteConfig
	http   *resty.Client
	logger *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a new API client
func NewClient(cfg config.RemoteConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		config: cfg,
		http:   httpClient,
		logger: logging.OrDefault(logger).With("component", "remote"),
	}
}

// FetchPosts performs one GET against the posts endpoint and decodes the
// response as a JSON array. Posts are returned in server order.
func (c *Client) FetchPosts(ctx context.Context) ([]models.Post, error) {
	resp, err := c.get(ctx, c.config.PostsPath)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := json.Unmarshal(resp.Body(), &posts); err != nil {
		return nil, apperr.New(apperr.ErrDecode, "failed to unmarshal response", err)
	}
	// A null body unmarshals without error but is not a post array
	if posts == nil {
		return nil, apperr.New(apperr.ErrDecode, "failed to unmarshal response", errNotArray)
	}

	c.logger.Debug("fetched posts", "count", len(posts))
	return posts, nil
}

// FetchUser retrieves a single user by ID
func (c *Client) FetchUser(ctx context.Context, id int) (*models.User, error) {
	if id <= 0 {
		return nil, apperr.New(apperr.ErrInvalidInput, fmt.Sprintf("invalid user ID %d", id), nil)
	}

	resp, err := c.get(ctx, strings.TrimRight(c.config.UsersPath, "/")+"/"+strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("user %d not found", id), nil)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(resp.Body(), &user); err != nil {
		return nil, apperr.New(apperr.ErrDecode, "failed to unmarshal response", err)
	}
	return &user, nil
}

func (c *Client) get(ctx context.Context, path string) (*resty.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		c.logger.Warn("request failed", "path", path, "error", err)
		return nil, apperr.New(apperr.ErrTransport, "failed to make request", err)
	}
	if !resp.IsSuccess() {
		c.logger.Warn("unexpected status", "path", path, "status", resp.StatusCode())
	}
	return resp, nil
}

func checkStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return apperr.New(apperr.ErrBadStatus, fmt.Sprintf("API returned status %d", resp.StatusCode()), nil)
}
