// Package calendar publishes canonical events to the Google Calendar API and
// refreshes OAuth credentials.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

const (
	// DefaultBaseURL is the Calendar API root.
	DefaultBaseURL = "https://www.googleapis.com/calendar/v3"
	// DefaultTokenURL is the OAuth token endpoint used for refresh grants.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// CreateResult identifies the remotely created event.
type CreateResult struct {
	EventID string `json:"event_id"`
	Link    string `json:"link"`
}

// Client is a Google Calendar API client.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a calendar client. Empty baseURL/tokenURL fall back to
// the Google endpoints; tests point them at a local server.
func NewClient(clientID, clientSecret, baseURL, tokenURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Client{
		baseURL:      baseURL,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateEvent creates the event in the user's calendar and returns the
// remote id and link. A 401 from the API surfaces as
// apperr.ErrCredentialExpired so the caller can refresh and retry once; any
// other rejection surfaces as *apperr.RemoteError with the response body.
func (c *Client) CreateEvent(ctx context.Context, cred *models.Credential, event *models.CanonicalEvent, calendarID string) (*CreateResult, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	body, err := json.Marshal(ToGoogleEvent(event))
	if err != nil {
		return nil, fmt.Errorf("calendar: marshal event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperr.ErrCredentialExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.RemoteError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var created struct {
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("calendar: decode response: %w", err)
	}
	return &CreateResult{EventID: created.ID, Link: created.HTMLLink}, nil
}

// Refresh exchanges the credential's refresh token for a new access token.
// When the token endpoint issues a new refresh token it replaces the stored
// one; otherwise the prior refresh token is retained, since providers do not
// always rotate them. Persisting the returned credential is the caller's
// responsibility.
func (c *Client) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("calendar: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: refresh request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.RemoteError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, fmt.Errorf("calendar: decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("calendar: refresh response has no access token")
	}

	refreshed := &models.Credential{
		UserID:       cred.UserID,
		AccessToken:  token.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	return refreshed, nil
}
