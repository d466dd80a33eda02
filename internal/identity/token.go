package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSource supplies the bearer token attached to remote calls.
// An empty token means no Authorization header is sent.
type TokenSource interface {
	Token() (string, error)
}

// defaultTokenTTL applies when DeviceTokenOptions.TTL is not positive.
const defaultTokenTTL = 5 * time.Minute

// tokenRefreshMargin renews a cached token this long before it expires so a
// token never lapses mid-request.
const tokenRefreshMargin = 30 * time.Second

// DeviceClaims is the JWT payload asserting which kiosk is calling.
type DeviceClaims struct {
	jwt.RegisteredClaims
	DeviceName string `json:"device_name,omitempty"`
}

// DeviceTokenOptions configures a DeviceTokenSource.
type DeviceTokenOptions struct {
	Secret     string
	DeviceID   string
	DeviceName string
	Issuer     string
	Audience   string
	TTL        time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DeviceTokenSource signs short-lived HS256 device assertions and caches the
// current one until shortly before it expires.
type DeviceTokenSource struct {
	opts DeviceTokenOptions

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewDeviceTokenSource creates a token source. A nil source is returned when
// no secret is configured, which disables the Authorization header.
func NewDeviceTokenSource(opts DeviceTokenOptions) *DeviceTokenSource {
	if opts.Secret == "" {
		return nil
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DeviceTokenSource{opts: opts}
}

// Token returns a valid signed device token, minting a new one when the
// cached token is missing or about to expire. A nil receiver yields "".
func (s *DeviceTokenSource) Token() (string, error) {
	if s == nil {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	if s.cached != "" && now.Add(tokenRefreshMargin).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.opts.TTL)
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.opts.DeviceID,
			Issuer:    s.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		DeviceName: s.opts.DeviceName,
	}
	if s.opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.opts.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
	if err != nil {
		return "", fmt.Errorf("signing device token: %w", err)
	}

	s.cached = signed
	s.expires = expires
	return signed, nil
}
