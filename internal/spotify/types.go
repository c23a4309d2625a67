package spotify

import "time"

// Spotify Web API constants
const (
	DefaultAPIURL      = "https://api.spotify.com/v1"
	DefaultAccountsURL = "https://accounts.spotify.com"
	// Scopes needed to read devices and playlists and control playback.
	DefaultScope = "user-read-playback-state user-modify-playback-state playlist-read-private playlist-read-collaborative"
)

// TokenPair holds OAuth access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// IsExpired returns true if the token has expired
func (t *TokenPair) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// ExpiresWithin returns true if the token expires within the given duration
func (t *TokenPair) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(t.ExpiresAt)
}

// tokenResponse is the internal response from the OAuth token endpoint.
// Refresh grants usually omit refresh_token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// tokenError is the accounts service error body.
type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// apiErrorBody is the Web API error envelope.
type apiErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason,omitempty"`
	} `json:"error"`
}

// ==========================================================================
// Player
// ==========================================================================

type deviceJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent *int   `json:"volume_percent"`
}

type devicesResponse struct {
	Devices []deviceJSON `json:"devices"`
}

// PlaybackState is the subset of GET /me/player the stop path needs.
type PlaybackState struct {
	Device       deviceJSON   `json:"device"`
	IsPlaying    bool         `json:"is_playing"`
	ShuffleState bool         `json:"shuffle_state"`
	Context      *PlayContext `json:"context"`
}

// PlayContext identifies the playlist, album or artist being played.
type PlayContext struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

type playOffset struct {
	Position int `json:"position"`
}

type playRequest struct {
	ContextURI string      `json:"context_uri,omitempty"`
	URIs       []string    `json:"uris,omitempty"`
	Offset     *playOffset `json:"offset,omitempty"`
}

// ==========================================================================
// Playlists
// ==========================================================================

type playlistJSON struct {
	URI    string      `json:"uri"`
	Name   string      `json:"name"`
	Owner  ownerJSON   `json:"owner"`
	Tracks tracksRef   `json:"tracks"`
	Images []imageJSON `json:"images"`
}

type ownerJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type tracksRef struct {
	Total int `json:"total"`
}

type imageJSON struct {
	URL string `json:"url"`
}

type playlistsPage struct {
	Items  []playlistJSON `json:"items"`
	Next   *string        `json:"next"`
	Offset int            `json:"offset"`
	Total  int            `json:"total"`
}

// ConnectionStatus describes the stored credentials.
type ConnectionStatus struct {
	Connected   bool       `json:"connected"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Scope       string     `json:"scope,omitempty"`
}
