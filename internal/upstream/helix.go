package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/version"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HelixClient talks to the Twitch Helix API through a Colly collector.
// Requests are synchronous; a shared rate limiter spaces them out.
type HelixClient struct {
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
	collector    *colly.Collector
	limiter      *rate.Limiter

	tokenMu sync.Mutex
	token   string
}

// NewHelixClient creates a client from the runtime configuration
func NewHelixClient(cfg *config.Config) *HelixClient {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent("stream-weaver/"+version.Version),
	)
	collector.SetRequestTimeout(cfg.RequestTimeout())

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HelixClient{
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		authURL:      cfg.AuthURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		collector:    collector,
		limiter:      rate.NewLimiter(limit, 1),
	}
}

type helixUsersResponse struct {
	Data []User `json:"data"`
}

type helixChannelsResponse struct {
	Data []Channel `json:"data"`
}

type helixFollowsResponse struct {
	Total int64 `json:"total"`
	Data  []struct {
		FromID string `json:"from_id"`
		ToID   string `json:"to_id"`
	} `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Users looks up accounts by identifier and/or login
func (h *HelixClient) Users(ctx context.Context, ids, logins []string) ([]User, error) {
	if len(ids)+len(logins) > MaxBatchSize {
		return nil, fmt.Errorf("users lookup of %d entries exceeds batch size %d", len(ids)+len(logins), MaxBatchSize)
	}
	params := url.Values{}
	for _, id := range ids {
		params.Add("id", id)
	}
	for _, login := range logins {
		params.Add("login", login)
	}

	var resp helixUsersResponse
	if err := h.get(ctx, "users", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Channels looks up channel information by broadcaster identifier
func (h *HelixClient) Channels(ctx context.Context, ids []string) ([]Channel, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("channels lookup of %d entries exceeds batch size %d", len(ids), MaxBatchSize)
	}
	params := url.Values{}
	for _, id := range ids {
		params.Add("broadcaster_id", id)
	}

	var resp helixChannelsResponse
	if err := h.get(ctx, "channels", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Follows returns one page of the accounts fromID follows
func (h *HelixClient) Follows(ctx context.Context, fromID, cursor string) (FollowPage, error) {
	params := url.Values{}
	params.Set("from_id", fromID)
	params.Set("first", strconv.Itoa(PageSize))
	if cursor != "" {
		params.Set("after", cursor)
	}

	var resp helixFollowsResponse
	if err := h.get(ctx, "users/follows", params, &resp); err != nil {
		return FollowPage{}, err
	}

	page := FollowPage{
		Targets:    make([]string, 0, len(resp.Data)),
		NextCursor: resp.Pagination.Cursor,
	}
	for _, f := range resp.Data {
		page.Targets = append(page.Targets, f.ToID)
	}
	return page, nil
}

// FollowerCount returns the total number of followers of toID
func (h *HelixClient) FollowerCount(ctx context.Context, toID string) (int64, error) {
	params := url.Values{}
	params.Set("to_id", toID)
	params.Set("first", "1")

	var resp helixFollowsResponse
	if err := h.get(ctx, "users/follows", params, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// get performs an authenticated GET and decodes the JSON body into out
func (h *HelixClient) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return &ApiError{Endpoint: endpoint, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	token, err := h.accessToken()
	if err != nil {
		return err
	}

	hdr := http.Header{}
	hdr.Set("Client-Id", h.clientID)
	hdr.Set("Authorization", "Bearer "+token)

	target := h.baseURL + "/" + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	body, status, err := h.do(http.MethodGet, target, hdr)
	if err != nil {
		if status == http.StatusUnauthorized {
			// Token expired or revoked: fetch a new one on the next call
			h.resetToken()
		}
		return &ApiError{Endpoint: endpoint, StatusCode: status, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ApiError{Endpoint: endpoint, StatusCode: status, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

// accessToken returns the cached app access token, requesting one if needed
func (h *HelixClient) accessToken() (string, error) {
	h.tokenMu.Lock()
	defer h.tokenMu.Unlock()

	if h.token != "" {
		return h.token, nil
	}

	params := url.Values{}
	params.Set("client_id", h.clientID)
	params.Set("client_secret", h.clientSecret)
	params.Set("grant_type", "client_credentials")

	body, status, err := h.do(http.MethodPost, h.authURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", &ApiError{Endpoint: "oauth2/token", StatusCode: status, Err: err}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ApiError{Endpoint: "oauth2/token", StatusCode: status, Err: fmt.Errorf("failed to parse token: %w", err)}
	}
	if resp.AccessToken == "" {
		return "", &ApiError{Endpoint: "oauth2/token", StatusCode: status, Err: errors.New("empty access token")}
	}

	logrus.Debug("Obtained app access token")
	h.token = resp.AccessToken
	return h.token, nil
}

func (h *HelixClient) resetToken() {
	h.tokenMu.Lock()
	defer h.tokenMu.Unlock()
	h.token = ""
}

// do runs one synchronous request on a clone of the collector so that
// concurrent calls do not share callbacks
func (h *HelixClient) do(method, target string, hdr http.Header) ([]byte, int, error) {
	c := h.collector.Clone()

	var (
		body   []byte
		status int
	)

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			logrus.Debugf("Request to %s failed: %v (status: %d)", r.Request.URL, err, r.StatusCode)
		}
	})

	if err := c.Request(method, target, nil, nil, hdr); err != nil {
		return nil, status, err
	}
	return body, status, nil
}
