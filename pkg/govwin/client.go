// Package govwin is a minimal client for the GovWin IQ opportunity search
// API: OAuth2 password-grant auth with refresh, plus opportunity search.
package govwin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/resilience"
)

// Client defines the GovWin operations used by the match search.
type Client interface {
	Search(ctx context.Context, q SearchQuery) ([]Opportunity, error)
}

// SearchQuery holds the parameters for one opportunity search.
type SearchQuery struct {
	Keyword            string `json:"q,omitempty"`
	ClassificationCode string `json:"classification_code,omitempty"`
	MaxResults         int    `json:"max,omitempty"`
}

// Opportunity is a GovWin search result.
type Opportunity struct {
	ID                 string     `json:"id"`
	IQOppID            string     `json:"iqOppId"`
	Title              string     `json:"title"`
	GovEntity          GovEntity  `json:"govEntity"`
	ClassificationCode string     `json:"primaryProductServiceCode"`
	Description        string     `json:"description"`
	Value              float64    `json:"oppValue"`
	PostedDate         *time.Time `json:"solicitationDate"`
	AwardDate          *time.Time `json:"awardDate"`
}

// GovEntity is the issuing agency of a GovWin opportunity.
type GovEntity struct {
	Name string `json:"name"`
}

// ExternalID returns the stable identifier for the record; the API reports
// iqOppId on some endpoints and id on others.
func (o *Opportunity) ExternalID() string {
	if o.IQOppID != "" {
		return o.IQOppID
	}
	return o.ID
}

// Config holds connection and credential settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

type httpClient struct {
	cfg Config
	hc  *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// New creates a GovWin client. Authentication is lazy; the first request
// performs the password grant.
func New(cfg Config) Client {
	return &httpClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// token returns a valid access token, authenticating or refreshing as needed.
// Tokens are refreshed 60 seconds before expiry.
func (c *httpClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-60*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	if c.refreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", c.refreshToken)
	} else {
		form.Set("grant_type", "password")
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
	}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	tok, err := c.requestToken(ctx, form)
	if err != nil && c.refreshToken != "" {
		// Refresh token expired too; fall back to a fresh password grant.
		zap.L().Debug("govwin token refresh failed, re-authenticating", zap.Error(err))
		form.Set("grant_type", "password")
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
		form.Del("refresh_token")
		tok, err = c.requestToken(ctx, form)
	}
	if err != nil {
		return "", err
	}

	c.accessToken = tok.AccessToken
	c.refreshToken = tok.RefreshToken
	c.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *httpClient) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "govwin: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "govwin: token request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "govwin: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("govwin: token request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, eris.Wrap(err, "govwin: parse token response")
	}
	if tok.AccessToken == "" {
		return nil, eris.New("govwin: token response missing access_token")
	}
	return &tok, nil
}

type searchResponse struct {
	Opportunities []Opportunity `json:"opportunities"`
}

// Search queries the opportunities endpoint. A 401 invalidates the cached
// token and retries once.
func (c *httpClient) Search(ctx context.Context, q SearchQuery) ([]Opportunity, error) {
	results, err := c.search(ctx, q)
	if err == nil || !isUnauthorized(err) {
		return results, err
	}

	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	return c.search(ctx, q)
}

func (c *httpClient) search(ctx context.Context, q SearchQuery) ([]Opportunity, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if q.Keyword != "" {
		params.Set("q", q.Keyword)
	}
	if q.ClassificationCode != "" {
		params.Set("primaryProductServiceCode", q.ClassificationCode)
	}
	if q.MaxResults > 0 {
		params.Set("max", strconv.Itoa(q.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/opportunities?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "govwin: build search request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "govwin: search request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, eris.Wrap(err, "govwin: read search response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to parse
	case resp.StatusCode == http.StatusNotFound:
		// GovWin reports an empty result set as 404.
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("govwin: search failed: %d", resp.StatusCode), resp.StatusCode)
	default:
		return nil, eris.Errorf("govwin: search failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "govwin: parse search response")
	}
	return sr.Opportunities, nil
}

var errUnauthorized = fmt.Errorf("govwin: unauthorized")

func isUnauthorized(err error) bool {
	return eris.Is(err, errUnauthorized)
}
