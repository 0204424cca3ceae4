package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vkharvest/pkg/config"
	"vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/ratelimit"
)

// Client represents a VK API client. Every call passes through the shared
// rate gate before hitting the wire, so one Client (or several sharing a
// gate) never exceeds the per-token request budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	token      string
	gate       ratelimit.Limiter
	script     ScriptBuilder
	logger     logger.Logger
}

// NewClient creates a new VK API client
func NewClient(cfg *config.VKConfig, gate ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: cfg.APIVersion,
		token:   cfg.AccessToken,
		gate:    gate,
		script:  NewScriptBuilder(),
		logger:  log,
	}
}

// call performs one gated API method call and returns the raw response
// payload from inside the VK envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	for key, values := range params {
		form[key] = values
	}
	if form.Get("v") == "" {
		form.Set("v", c.version)
	}
	if form.Get("access_token") == "" {
		form.Set("access_token", c.token)
	}

	endpoint := c.baseURL + "/" + method

	c.logger.DebugWithFields("sending API request", map[string]interface{}{
		"method": method,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Covers transport failures and the per-round-trip timeout; both
		// are recovered upstream by narrowing, not by retrying as-is.
		c.logger.WarnWithFields("API request failed", map[string]interface{}{
			"method": method,
			"error":  err.Error(),
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
		}
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp, method); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.WarnWithFields("failed to parse API response", map[string]interface{}{
			"method":       method,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if envelope.Error != nil {
		return nil, mapAPIError(envelope.Error)
	}
	if envelope.Response == nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "response envelope missing both response and error",
			Code:    resp.StatusCode,
		}
	}

	return envelope.Response, nil
}

// checkResponseStatus maps HTTP-level failures onto the error taxonomy
func (c *Client) checkResponseStatus(resp *http.Response, method string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errors.Error{
			Type:    errors.ErrorTypeAuth,
			Message: "authentication required",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return &errors.Error{
			Type:    errors.ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"method": method,
			"status": resp.StatusCode,
		})
		return &errors.Error{
			Type:    errors.ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case errors.IsRetryableStatusCode(resp.StatusCode):
		return &errors.Error{
			Type:    errors.ErrorTypeServerError,
			Message: "server error",
			Code:    resp.StatusCode,
		}
	default:
		return &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}

// mapAPIError converts a VK error object into a typed error
func mapAPIError(apiErr *APIError) *errors.Error {
	var errType errors.ErrorType
	switch apiErr.Code {
	case apiErrAuth:
		errType = errors.ErrorTypeAuth
	case apiErrCompileScript, apiErrRuntimeScript:
		errType = errors.ErrorTypeScript
	case apiErrTooManyActions, apiErrRateLimit:
		errType = errors.ErrorTypeRateLimit
	default:
		errType = errors.ErrorTypeAPI
	}
	return &errors.Error{
		Type:    errType,
		Message: apiErr.Message,
		Code:    apiErr.Code,
	}
}

// ProbeCount issues a zero-count call and returns only the collection
// total, without fetching any items.
func (c *Client) ProbeCount(ctx context.Context, method string, params url.Values) (int, error) {
	probe := url.Values{}
	for key, values := range params {
		probe[key] = values
	}
	probe.Set("count", "0")

	raw, err := c.call(ctx, method, probe)
	if err != nil {
		return 0, err
	}

	var count countEnvelope
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse count probe: %v", err),
			Code:    0,
		}
	}

	return count.Count, nil
}

// Execute runs a VKScript payload through the execute method and returns
// the accumulated items in the order the server emitted them.
func (c *Client) Execute(ctx context.Context, code string) ([]json.RawMessage, error) {
	raw, err := c.call(ctx, "execute", url.Values{"code": {code}})
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse script result: %v", err),
			Code:    0,
		}
	}

	return items, nil
}

// lookupChunk is the hard VK cap on ids per users.get / groups.getById call
const lookupChunk = 200

// GetUsers retrieves full user records for the given ids or short names.
// Lookups are chunked; a failed chunk is logged and skipped so one bad
// range does not lose the rest.
func (c *Client) GetUsers(ctx context.Context, ids []string) ([]Profile, error) {
	var result []Profile

	for start := 0; start < len(ids); start += lookupChunk {
		end := start + lookupChunk
		if end > len(ids) {
			end = len(ids)
		}

		params := url.Values{
			"user_ids": {strings.Join(ids[start:end], ",")},
			"fields":   {UserFields},
		}

		raw, err := c.call(ctx, "users.get", params)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.WarnWithFields("user lookup failed", map[string]interface{}{
				"ids":   len(ids[start:end]),
				"error": err.Error(),
			})
			continue
		}

		var chunk []Profile
		if err := json.Unmarshal(raw, &chunk); err != nil {
			c.logger.WarnWithFields("failed to parse user records", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		result = append(result, chunk...)
	}

	return result, nil
}

// GetGroups retrieves community records for the given short names
func (c *Client) GetGroups(ctx context.Context, names []string) ([]Group, error) {
	var result []Group

	for start := 0; start < len(names); start += lookupChunk {
		end := start + lookupChunk
		if end > len(names) {
			end = len(names)
		}

		params := url.Values{
			"group_ids": {strings.Join(names[start:end], ",")},
			"fields":    {GroupFields},
		}

		raw, err := c.call(ctx, "groups.getById", params)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.WarnWithFields("group lookup failed", map[string]interface{}{
				"names": len(names[start:end]),
				"error": err.Error(),
			})
			continue
		}

		var chunk []Group
		if err := json.Unmarshal(raw, &chunk); err != nil {
			c.logger.WarnWithFields("failed to parse group records", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		result = append(result, chunk...)
	}

	return result, nil
}

// Wall returns a paginated source over the posts of the given owner.
// Group owners use negative ids.
func (c *Client) Wall(ownerID int64) *WallSource {
	return &WallSource{client: c, ownerID: ownerID}
}

// WallSource walks one account's post collection
type WallSource struct {
	client  *Client
	ownerID int64
}

// Total probes the number of posts on the wall
func (s *WallSource) Total(ctx context.Context) (int, error) {
	return s.client.ProbeCount(ctx, "wall.get", url.Values{
		"owner_id": {fmt.Sprintf("%d", s.ownerID)},
	})
}

// FetchBatch executes one scripted round trip over the wall
func (s *WallSource) FetchBatch(ctx context.Context, offset, width, total int) ([]json.RawMessage, error) {
	code := s.client.script.Build(PageCall{
		Method: "wall.get",
		Args:   map[string]int64{"owner_id": s.ownerID},
	}, offset, total, width)
	return s.client.Execute(ctx, code)
}

// Comments returns a paginated source over the comments of one post
func (c *Client) Comments(ownerID, postID int64) *CommentSource {
	return &CommentSource{client: c, ownerID: ownerID, postID: postID}
}

// CommentSource walks one post's comment collection
type CommentSource struct {
	client  *Client
	ownerID int64
	postID  int64
}

// Total probes the number of comments under the post
func (s *CommentSource) Total(ctx context.Context) (int, error) {
	return s.client.ProbeCount(ctx, "wall.getComments", url.Values{
		"owner_id": {fmt.Sprintf("%d", s.ownerID)},
		"post_id":  {fmt.Sprintf("%d", s.postID)},
	})
}

// FetchBatch executes one scripted round trip over the comments
func (s *CommentSource) FetchBatch(ctx context.Context, offset, width, total int) ([]json.RawMessage, error) {
	code := s.client.script.Build(PageCall{
		Method: "wall.getComments",
		Args:   map[string]int64{"owner_id": s.ownerID, "post_id": s.postID},
	}, offset, total, width)
	return s.client.Execute(ctx, code)
}
