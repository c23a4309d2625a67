// Package spotify implements the playback port on top of the Spotify Web API.
package spotify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/playback"
)

const (
	tokenRefreshBuffer = 5 * time.Minute
	playlistPageSize   = 50
)

// Config holds the credentials and endpoints of the Web API.
type Config struct {
	ClientID     string
	ClientSecret string
	// RefreshToken seeds the token store on first use.
	RefreshToken string
	APIURL       string
	AccountsURL  string
	// RatePerSec limits outgoing API calls. Zero disables limiting.
	RatePerSec float64
}

// StartDelays are the pauses between the calls of a start. Some devices
// drop a play request that arrives right after a volume change, and
// shuffle only sticks once playback has begun.
type StartDelays struct {
	AfterVolume   time.Duration
	BeforeShuffle time.Duration
}

// DefaultStartDelays are used unless overridden.
var DefaultStartDelays = StartDelays{
	AfterVolume:   500 * time.Millisecond,
	BeforeShuffle: 1500 * time.Millisecond,
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithStartDelays overrides DefaultStartDelays.
func WithStartDelays(d StartDelays) Option {
	return func(c *Client) { c.delays = d }
}

// Client talks to the Spotify Web API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	repo       *Repository
	limiter    *rate.Limiter
	delays     StartDelays
	logger     zerolog.Logger
	mu         sync.Mutex
}

var (
	_ playback.Port   = (*Client)(nil)
	_ playback.Lister = (*Client)(nil)
)

// NewClient creates a new Spotify client.
func NewClient(cfg Config, repo *Repository, logger zerolog.Logger, opts ...Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = DefaultAccountsURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.AccountsURL = strings.TrimRight(cfg.AccountsURL, "/")

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		repo:    repo,
		limiter: rate.NewLimiter(limit, 1),
		delays:  DefaultStartDelays,
		logger:  logx.Component(logger, "spotify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ==========================================================================
// Playback port
// ==========================================================================

// Start sets the volume, starts the source on the device, then applies
// shuffle. A failed volume change fails the start; a failed shuffle does not.
func (c *Client) Start(ctx context.Context, deviceID, sourceURI string, opts playback.StartOptions) error {
	if opts.Volume != nil {
		q := url.Values{}
		q.Set("volume_percent", strconv.Itoa(*opts.Volume))
		q.Set("device_id", deviceID)
		if _, err := c.apiRequest(ctx, http.MethodPut, "/me/player/volume", q, nil, nil); err != nil {
			return err
		}
		if err := sleepCtx(ctx, c.delays.AfterVolume); err != nil {
			return playback.Classify(err)
		}
	}

	body := playRequest{}
	if strings.HasPrefix(sourceURI, "spotify:track:") {
		body.URIs = []string{sourceURI}
	} else {
		body.ContextURI = sourceURI
		if !opts.Shuffle {
			body.Offset = &playOffset{Position: 0}
		}
	}
	q := url.Values{}
	q.Set("device_id", deviceID)
	if _, err := c.apiRequest(ctx, http.MethodPut, "/me/player/play", q, body, nil); err != nil {
		return err
	}

	if err := sleepCtx(ctx, c.delays.BeforeShuffle); err != nil {
		// Playback already started.
		return nil
	}
	q = url.Values{}
	q.Set("state", strconv.FormatBool(opts.Shuffle))
	q.Set("device_id", deviceID)
	if _, err := c.apiRequest(ctx, http.MethodPut, "/me/player/shuffle", q, nil, nil); err != nil {
		c.logger.Warn().Err(err).Str("device_id", deviceID).Bool("shuffle", opts.Shuffle).Msg("set shuffle failed")
	}

	c.logger.Info().
		Str("device_id", deviceID).
		Str("source_uri", sourceURI).
		Bool("shuffle", opts.Shuffle).
		Msg("playback started")
	return nil
}

// Stop pauses the device if it is the active player. With OnlyIfSource set,
// playback of another context is left alone.
func (c *Client) Stop(ctx context.Context, deviceID string, opts playback.StopOptions) error {
	state, err := c.CurrentPlayback(ctx)
	if err != nil {
		return err
	}

	log := c.logger.With().Str("device_id", deviceID).Logger()
	switch {
	case state == nil || !state.IsPlaying:
		log.Debug().Msg("nothing playing, stop skipped")
		return nil
	case state.Device.ID != deviceID:
		log.Info().Str("active_device", state.Device.ID).Msg("device not active, stop skipped")
		return nil
	case opts.OnlyIfSource != "" && state.Context != nil && state.Context.URI != opts.OnlyIfSource:
		log.Info().Str("playing", state.Context.URI).Str("expected", opts.OnlyIfSource).Msg("other source playing, stop skipped")
		return nil
	}

	q := url.Values{}
	q.Set("device_id", deviceID)
	if _, err := c.apiRequest(ctx, http.MethodPut, "/me/player/pause", q, nil, nil); err != nil {
		return err
	}
	log.Info().Msg("playback paused")
	return nil
}

// CurrentPlayback returns the player state, or nil when nothing is active.
func (c *Client) CurrentPlayback(ctx context.Context) (*PlaybackState, error) {
	var state PlaybackState
	status, err := c.apiRequest(ctx, http.MethodGet, "/me/player", nil, nil, &state)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &state, nil
}

// ListDevices returns the devices currently visible to the account.
func (c *Client) ListDevices(ctx context.Context) ([]playback.Device, error) {
	var resp devicesResponse
	if _, err := c.apiRequest(ctx, http.MethodGet, "/me/player/devices", nil, nil, &resp); err != nil {
		return nil, err
	}

	devices := make([]playback.Device, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		if d.ID == "" {
			continue
		}
		devices = append(devices, playback.Device{
			ID:            d.ID,
			Name:          d.Name,
			Type:          d.Type,
			IsActive:      d.IsActive,
			VolumePercent: d.VolumePercent,
		})
	}
	return devices, nil
}

// ListPlaylists pages through the user's playlists.
func (c *Client) ListPlaylists(ctx context.Context) ([]playback.Playlist, error) {
	var playlists []playback.Playlist
	offset := 0
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(playlistPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page playlistsPage
		if _, err := c.apiRequest(ctx, http.MethodGet, "/me/playlists", q, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Items {
			pl := playback.Playlist{
				URI:        p.URI,
				Name:       p.Name,
				Owner:      p.Owner.DisplayName,
				TrackCount: p.Tracks.Total,
			}
			if len(p.Images) > 0 {
				pl.ImageURL = p.Images[0].URL
			}
			playlists = append(playlists, pl)
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}
	return playlists, nil
}

// ==========================================================================
// Tokens
// ==========================================================================

// GetStatus returns the current connection status.
func (c *Client) GetStatus(ctx context.Context) (*ConnectionStatus, error) {
	token, err := c.repo.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &ConnectionStatus{Connected: false}, nil
	}

	return &ConnectionStatus{
		Connected:   !token.IsExpired(),
		ExpiresAt:   &token.ExpiresAt,
		ConnectedAt: &token.CreatedAt,
		Scope:       token.Scope,
	}, nil
}

// Disconnect removes the stored tokens.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.repo.DeleteToken(ctx)
}

// GetValidToken returns a valid access token, refreshing if necessary.
// With no stored token, the configured refresh token is exchanged.
func (c *Client) GetValidToken(ctx context.Context) (*TokenPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.repo.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if token == nil {
		if c.cfg.RefreshToken == "" {
			return nil, playback.NewError(playback.ReasonNotConfigured, "not connected to Spotify")
		}
		token = &TokenPair{RefreshToken: c.cfg.RefreshToken, CreatedAt: time.Now().UTC()}
	}

	// Refresh if token expires within 5 minutes
	if token.ExpiresWithin(tokenRefreshBuffer) {
		refreshed, err := c.refreshTokenLocked(ctx, token)
		if err != nil {
			// If refresh fails but token is still valid, use existing
			if token.AccessToken != "" && !token.IsExpired() {
				c.logger.Warn().Err(err).Msg("token refresh failed, using current token")
				return token, nil
			}
			return nil, err
		}
		return refreshed, nil
	}

	return token, nil
}

func (c *Client) refreshTokenLocked(ctx context.Context, existing *TokenPair) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", existing.RefreshToken)

	token, err := c.tokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}

	token.CreatedAt = existing.CreatedAt
	if token.RefreshToken == "" {
		token.RefreshToken = existing.RefreshToken
	}

	if err := c.repo.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	c.logger.Debug().Time("expires_at", token.ExpiresAt).Msg("access token refreshed")

	return token, nil
}

func (c *Client) tokenRequest(ctx context.Context, data url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AccountsURL+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+c.basicAuth())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, playback.Classify(fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		var tokErr tokenError
		if json.Unmarshal(body, &tokErr) == nil && tokErr.Error != "" {
			msg = tokErr.Error
			if tokErr.ErrorDescription != "" {
				msg += ": " + tokErr.ErrorDescription
			}
		}
		reason := playback.ReasonAuthExpired
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			reason = playback.ReasonRateLimited
		case resp.StatusCode >= 500:
			reason = playback.ReasonUnknown
		}
		return nil, &playback.Error{Reason: reason, Message: "token refresh failed: " + msg, Status: resp.StatusCode}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	now := time.Now()
	return &TokenPair{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		CreatedAt:    now.UTC(),
	}, nil
}

func (c *Client) basicAuth() string {
	auth := c.cfg.ClientID + ":" + c.cfg.ClientSecret
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

// ==========================================================================
// Transport
// ==========================================================================

// apiRequest performs an authenticated call and decodes the JSON response
// into result. It returns the HTTP status so callers can tell 204 apart.
func (c *Client) apiRequest(ctx context.Context, method, path string, query url.Values, body any, result any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, playback.Classify(err)
	}

	token, err := c.GetValidToken(ctx)
	if err != nil {
		return 0, playback.Classify(err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	u := c.cfg.APIURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, playback.Classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, playback.Classify(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, apiError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 && resp.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func apiError(resp *http.Response, body []byte) error {
	msg := resp.Status
	var envelope apiErrorBody
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	reason := playback.ReasonUnknown
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		reason = playback.ReasonAuthExpired
	case http.StatusNotFound:
		reason = playback.ReasonDeviceOffline
	case http.StatusTooManyRequests:
		reason = playback.ReasonRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg += " (retry after " + ra + "s)"
		}
	}
	return &playback.Error{Reason: reason, Message: msg, Status: resp.StatusCode}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsNotConnected reports whether err means no credentials are stored.
func IsNotConnected(err error) bool {
	var pe *playback.Error
	return errors.As(err, &pe) && pe.Reason == playback.ReasonNotConfigured
}
