package ion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Credentials holds the fields of an Infor .ionapi credentials file.
// Field names follow the file format's abbreviated keys.
type Credentials struct {
	TenantID     string `json:"ti"`
	ClientID     string `json:"ci"`
	ClientSecret string `json:"cs"`
	IONURL       string `json:"iu"`
	TokenURL     string `json:"pu"`
	TokenPath    string `json:"ot"`
	AccessKey    string `json:"saak"`
	SecretKey    string `json:"sask"`
}

// LoadCredentials reads credentials from a .ionapi JSON file, with
// environment variables taking precedence over file contents.
// Parameters:
//   - path: path to the .ionapi file; may be empty if env vars are set.
//
// Returns:
//   - *Credentials: resolved credentials.
//   - error: non-nil if neither file nor env vars yield a usable set.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, creds); err != nil {
				return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
		}
	}

	// Env vars override file values
	if v := os.Getenv("ION_TENANT_ID"); v != "" {
		creds.TenantID = v
	}
	if v := os.Getenv("ION_CLIENT_ID"); v != "" {
		creds.ClientID = v
	}
	if v := os.Getenv("ION_CLIENT_SECRET"); v != "" {
		creds.ClientSecret = v
	}
	if v := os.Getenv("ION_URL"); v != "" {
		creds.IONURL = v
	}
	if v := os.Getenv("ION_TOKEN_URL"); v != "" {
		creds.TokenURL = v
	}
	if v := os.Getenv("ION_ACCESS_KEY"); v != "" {
		creds.AccessKey = v
	}
	if v := os.Getenv("ION_SECRET_KEY"); v != "" {
		creds.SecretKey = v
	}

	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("incomplete ION credentials: client id/secret missing")
	}

	return creds, nil
}

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenSource fetches and caches OAuth2 access tokens for the ION API.
// Tokens are refreshed shortly before expiry.
type TokenSource struct {
	client *resty.Client
	creds  *Credentials

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a token source for the given credentials.
func NewTokenSource(creds *Credentials, timeout time.Duration) *TokenSource {
	client := resty.New()
	client.SetTimeout(timeout)
	return &TokenSource{
		client: client,
		creds:  creds,
	}
}

// Token returns a valid access token, fetching a fresh one when the cached
// token is missing or within a minute of expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expires) > time.Minute {
		return ts.token, nil
	}

	var tok tokenResponse
	resp, err := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "password",
			"client_id":     ts.creds.ClientID,
			"client_secret": ts.creds.ClientSecret,
			"username":      ts.creds.AccessKey,
			"password":      ts.creds.SecretKey,
		}).
		SetResult(&tok).
		Post(ts.creds.TokenURL + ts.creds.TokenPath)

	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	ts.token = tok.AccessToken
	ts.expires = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	return ts.token, nil
}
