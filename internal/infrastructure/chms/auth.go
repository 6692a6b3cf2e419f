package chms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// AuthStrategy produces the headers that authenticate one provider request
type AuthStrategy interface {
	AuthHeaders(ctx context.Context) (http.Header, error)
}

// ---------------------------------------------------------------------------
// Static key
// ---------------------------------------------------------------------------

// StaticKeyAuth injects a stored API key into a fixed header. It never expires.
type StaticKeyAuth struct {
	header string
	key    string
}

// NewStaticKeyAuth creates a static key strategy
func NewStaticKeyAuth(header, key string) *StaticKeyAuth {
	return &StaticKeyAuth{header: header, key: key}
}

// AuthHeaders implements AuthStrategy
func (a *StaticKeyAuth) AuthHeaders(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set(a.header, a.key)
	return h, nil
}

// ---------------------------------------------------------------------------
// Basic
// ---------------------------------------------------------------------------

// BasicAuth base64-encodes id:secret into an Authorization header with no network round-trip
type BasicAuth struct {
	encoded string
}

// NewBasicAuth creates a basic credentials strategy
func NewBasicAuth(id, secret string) *BasicAuth {
	return &BasicAuth{encoded: base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))}
}

// AuthHeaders implements AuthStrategy
func (a *BasicAuth) AuthHeaders(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Basic "+a.encoded)
	return h, nil
}

// ---------------------------------------------------------------------------
// OAuth
// ---------------------------------------------------------------------------

// OAuthGrant is the OAuth2 grant used to obtain a bearer token
type OAuthGrant string

const (
	GrantClientCredentials OAuthGrant = "client_credentials"
	GrantPassword          OAuthGrant = "password"
)

// defaultTokenLifetime is used when the token endpoint reports no lifetime and
// the token carries no exp claim
const defaultTokenLifetime = time.Hour

// OAuthConfig describes a token endpoint exchange
type OAuthConfig struct {
	TokenURL     string
	Grant        OAuthGrant
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
}

// tokenResponse is the standard OAuth2 token payload
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OAuthAuth exchanges stored credentials for a bearer token and caches it
// until expiry. The cache belongs to this instance only.
type OAuthAuth struct {
	provider   string
	cfg        OAuthConfig
	httpClient *http.Client
	retrier    *Retrier
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
	group  singleflight.Group
}

// NewOAuthAuth creates an OAuth strategy
func NewOAuthAuth(provider string, cfg OAuthConfig, httpClient *http.Client, retrier *Retrier) *OAuthAuth {
	return &OAuthAuth{
		provider:   provider,
		cfg:        cfg,
		httpClient: httpClient,
		retrier:    retrier,
		now:        time.Now,
	}
}

// AuthHeaders implements AuthStrategy. A token is fetched lazily on first use
// and again only once the cached one has expired.
func (a *OAuthAuth) AuthHeaders(ctx context.Context) (http.Header, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (a *OAuthAuth) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token != "" && a.now().Before(a.expiry) {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	v, err, _ := a.group.Do("token", func() (any, error) {
		resp, err := Retry(ctx, a.retrier, a.fetchToken)
		if err != nil {
			if integration.KindOf(err) == integration.ErrorKindAuthentication {
				return "", err
			}
			return "", integration.NewAuthenticationError(a.provider, "failed to obtain access token", err)
		}

		a.mu.Lock()
		a.token = resp.AccessToken
		a.expiry = a.now().Add(tokenLifetime(resp))
		a.mu.Unlock()
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchToken performs one token endpoint request
func (a *OAuthAuth) fetchToken(ctx context.Context) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", string(a.cfg.Grant))
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	if a.cfg.Grant == GrantPassword {
		form.Set("username", a.cfg.Username)
		form.Set("password", a.cfg.Password)
	}
	if a.cfg.Scope != "" {
		form.Set("scope", a.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, integration.NewConfigurationError(a.provider, "invalid token URL", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := doHTTP(a.httpClient, req, a.provider)
	if err != nil {
		// A rejected grant is a credential problem, not a malformed request.
		if integration.KindOf(err) == integration.ErrorKindValidation {
			return nil, integration.NewAuthenticationError(a.provider, "token request rejected", err)
		}
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, integration.NewAuthenticationError(a.provider, "malformed token response", err)
	}
	if resp.AccessToken == "" {
		return nil, integration.NewAuthenticationError(a.provider, "token response missing access_token", nil)
	}
	return &resp, nil
}

// tokenLifetime prefers expires_in, then the JWT exp claim, then a default
func tokenLifetime(resp *tokenResponse) time.Duration {
	if resp.ExpiresIn > 0 {
		return time.Duration(resp.ExpiresIn) * time.Second
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if d := time.Until(exp.Time); d > 0 {
				return d
			}
		}
	}
	return defaultTokenLifetime
}

var _ tokenRefresher = (*OAuthAuth)(nil)

// Invalidate drops the cached token so the next call fetches a new one.
// The API client calls it when the provider answers 401 to a cached token.
func (a *OAuthAuth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.expiry = time.Time{}
}
