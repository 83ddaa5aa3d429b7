package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// TokenSource supplies bearer tokens for the FHIR service.
// Implementations must tolerate concurrent callers.
type TokenSource interface {
	// Token returns a currently valid bearer token
	Token(ctx context.Context) (string, error)
	// Invalidate discards any cached token so the next Token call refreshes.
	// Used by clients after a 401/403 response.
	Invalidate()
}

// fetchFunc acquires a fresh token and its expiry from the credential provider
type fetchFunc func(ctx context.Context) (string, time.Time, error)

// CachedTokenSource caches tokens until shortly before expiry. Refresh is
// mutually exclusive: concurrent callers wait on the in-flight refresh
// instead of triggering redundant ones.
type CachedTokenSource struct {
	mu     sync.Mutex
	fetch  fetchFunc
	token  string
	expiry time.Time
	margin time.Duration
	logger *lib.Logger
}

// NewCachedTokenSource wraps a fetch function with caching
func NewCachedTokenSource(fetch fetchFunc, logger *lib.Logger) *CachedTokenSource {
	return &CachedTokenSource{
		fetch:  fetch,
		margin: 2 * time.Minute,
		logger: logger,
	}
}

// Token returns the cached token, refreshing when expired or invalidated
func (s *CachedTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiry) > s.margin {
		return s.token, nil
	}

	token, expiry, err := s.fetch(ctx)
	if err != nil {
		return "", lib.ErrTokenAcquisition(err)
	}

	s.logger.Debug("Access token refreshed", "expires_at", expiry)
	s.token = token
	s.expiry = expiry
	return s.token, nil
}

// Invalidate discards the cached token
func (s *CachedTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

// NewClientCredentialsSource builds a token source performing the OAuth2
// client-credentials flow against the configured token endpoint, requesting
// the FHIR service audience scope.
func NewClientCredentialsSource(auth models.AuthConfig, fhirBaseURL string, logger *lib.Logger) *CachedTokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       []string{auth.TokenScope(fhirBaseURL)},
	}

	return NewCachedTokenSource(func(ctx context.Context) (string, time.Time, error) {
		tok, err := cfg.Token(ctx)
		if err != nil {
			return "", time.Time{}, err
		}
		return tok.AccessToken, tok.Expiry, nil
	}, logger)
}

// StaticTokenSource returns a fixed token, for tests and pre-issued tokens
type StaticTokenSource struct {
	Value string
}

// Token returns the fixed token
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.Value, nil
}

// Invalidate is a no-op for static tokens
func (s *StaticTokenSource) Invalidate() {}
