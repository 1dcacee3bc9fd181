package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/paperscroll/backend/internal/domain"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// AuthUsecase runs the OAuth authorization-code flow and issues signed
// session tokens.
type AuthUsecase struct {
	users domain.UserStore

	httpClient   *http.Client
	clientID     string
	clientSecret string
	redirectURL  string

	sessionSecret []byte
	sessionMaxAge time.Duration

	authURL     string
	tokenURL    string
	userinfoURL string
}

type AuthOption func(*AuthUsecase)

// WithProviderEndpoints overrides the identity provider's endpoints, used
// by tests to point at a fake provider.
func WithProviderEndpoints(authURL, tokenURL, userinfoURL string) AuthOption {
	return func(u *AuthUsecase) {
		u.authURL = authURL
		u.tokenURL = tokenURL
		u.userinfoURL = userinfoURL
	}
}

func WithAuthHTTPClient(client *http.Client) AuthOption {
	return func(u *AuthUsecase) { u.httpClient = client }
}

func NewAuthUsecase(users domain.UserStore, clientID, clientSecret, baseURL, sessionSecret string, sessionMaxAge time.Duration, opts ...AuthOption) *AuthUsecase {
	u := &AuthUsecase{
		users:         users,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		clientID:      clientID,
		clientSecret:  clientSecret,
		redirectURL:   strings.TrimSuffix(baseURL, "/") + "/api/auth/callback",
		sessionSecret: []byte(sessionSecret),
		sessionMaxAge: sessionMaxAge,
		authURL:       googleAuthURL,
		tokenURL:      googleTokenURL,
		userinfoURL:   googleUserinfoURL,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NewState mints the random state value bound to one login attempt.
func (u *AuthUsecase) NewState() string { return uuid.NewString() }

// AuthorizeURL builds the provider's authorization URL for the given state.
func (u *AuthUsecase) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", u.clientID)
	params.Set("redirect_uri", u.redirectURL)
	params.Set("response_type", "code")
	params.Set("scope", "openid email profile")
	params.Set("state", state)
	params.Set("access_type", "online")
	return u.authURL + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type userinfoResponse struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// HandleCallback exchanges the authorization code, fetches the user's
// identity, and upserts the user record.
func (u *AuthUsecase) HandleCallback(ctx context.Context, code string) (*domain.User, error) {
	if code == "" {
		return nil, domain.Validationf("authorization code is required")
	}

	token, err := u.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	info, err := u.fetchUserinfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("identity provider returned no subject: %w", domain.ErrUnauthenticated)
	}

	return u.users.UpsertUser(ctx, &domain.User{
		ID:         info.Sub,
		Email:      info.Email,
		Name:       info.Name,
		PictureURL: info.Picture,
	})
}

func (u *AuthUsecase) exchangeCode(ctx context.Context, code string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", u.clientID)
	form.Set("client_secret", u.clientSecret)
	form.Set("redirect_uri", u.redirectURL)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange returned status %d: %w", resp.StatusCode, domain.ErrUnauthenticated)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token exchange returned no access token: %w", domain.ErrUnauthenticated)
	}
	return &token, nil
}

func (u *AuthUsecase) fetchUserinfo(ctx context.Context, accessToken string) (*userinfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d: %w", resp.StatusCode, domain.ErrUnauthenticated)
	}

	var info userinfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return &info, nil
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueSession mints the signed session token carried by the cookie.
func (u *AuthUsecase) IssueSession(user *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.sessionMaxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.sessionSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// VerifySession validates a session token and returns the principal's user
// id. Any parse or signature failure maps to ErrUnauthenticated.
func (u *AuthUsecase) VerifySession(tokenString string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return u.sessionSecret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.Subject, nil
}

// CurrentUser resolves the authenticated user's record.
func (u *AuthUsecase) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	return u.users.GetUser(ctx, userID)
}

// SessionMaxAge exposes the configured session lifetime for cookie expiry.
func (u *AuthUsecase) SessionMaxAge() time.Duration { return u.sessionMaxAge }
