package githubapp

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/clintrovert/praxis/internal/dynconfig"
)

const (
	defaultAppTokenTTL = 10 * time.Minute
	appTokenTTLKey     = "github.app_token_ttl"

	// Issued-at is backdated to tolerate clock drift between us and GitHub.
	issuedAtDrift = 60 * time.Second
)

// AppIdentity identifies which app context a token is minted for. JiraHost
// selects per-host TTL overrides from dynamic settings.
type AppIdentity struct {
	AppID    int64
	JiraHost string
}

// PrivateKeyLocator resolves the signing key for an app. It fails when no key
// is configured for the given app.
type PrivateKeyLocator func(appID int64) (*rsa.PrivateKey, error)

// PrivateKeyFromFile returns a locator that loads a single PEM key from disk,
// serving every app id.
func PrivateKeyFromFile(path string) PrivateKeyLocator {
	return func(appID int64) (*rsa.PrivateKey, error) {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key for app %d: %w", appID, err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key for app %d: %w", appID, err)
		}
		return key, nil
	}
}

// AppTokenHolder caches signed app assertions, one per app identity, shared
// by every in-flight job in the process.
type AppTokenHolder struct {
	locate   PrivateKeyLocator
	settings dynconfig.Provider
	clock    Clock

	mu     sync.Mutex
	tokens map[string]AuthToken
}

// NewAppTokenHolder creates a holder. A nil clock means the system clock.
func NewAppTokenHolder(locate PrivateKeyLocator, settings dynconfig.Provider, clock Clock) *AppTokenHolder {
	if clock == nil {
		clock = SystemClock
	}
	return &AppTokenHolder{
		locate:   locate,
		settings: settings,
		clock:    clock,
		tokens:   make(map[string]AuthToken),
	}
}

// GetAppToken returns a cached app token, minting a fresh one when the cached
// token is missing or about to expire.
func (h *AppTokenHolder) GetAppToken(app AppIdentity) (AuthToken, error) {
	key := strconv.FormatInt(app.AppID, 10) + ":" + app.JiraHost

	h.mu.Lock()
	defer h.mu.Unlock()

	if token, ok := h.tokens[key]; ok && !token.AboutToExpire(h.clock.Now()) {
		return token, nil
	}

	privateKey, err := h.locate(app.AppID)
	if err != nil {
		return AuthToken{}, err
	}

	now := h.clock.Now()
	ttl := h.settings.GetDurationForHost(appTokenTTLKey, app.JiraHost, defaultAppTokenTTL)
	expiresAt := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-issuedAtDrift)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    strconv.FormatInt(app.AppID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return AuthToken{}, fmt.Errorf("failed to sign app token: %w", err)
	}

	token := AuthToken{Token: signed, ExpiresAt: expiresAt}
	h.tokens[key] = token
	return token, nil
}
