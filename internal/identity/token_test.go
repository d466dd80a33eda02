package identity

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "kiosk-device-secret-at-least-32-chars"

var errTokenInvalid = errors.New("invalid device token")

// parseDeviceToken verifies a token the way the identity service does.
func parseDeviceToken(tokenString, secret string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, errTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing device subject", errTokenInvalid)
	}
	return claims, nil
}

func TestDeviceTokenSource_NilWithoutSecret(t *testing.T) {
	src := NewDeviceTokenSource(DeviceTokenOptions{DeviceID: "dev-1"})
	if src != nil {
		t.Fatal("NewDeviceTokenSource() without secret should return nil")
	}

	token, err := src.Token()
	if err != nil || token != "" {
		t.Errorf("nil source Token() = (%q, %v), want (\"\", nil)", token, err)
	}
}

func TestDeviceTokenSource_Claims(t *testing.T) {
	src := NewDeviceTokenSource(DeviceTokenOptions{
		Secret:     testSecret,
		DeviceID:   "dev-1",
		DeviceName: "Library entrance",
		Issuer:     "attendance-kiosk",
		Audience:   "identity-service",
		TTL:        time.Minute,
	})

	token, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	claims, err := parseDeviceToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if claims.Subject != "dev-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dev-1")
	}
	if claims.Issuer != "attendance-kiosk" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "attendance-kiosk")
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "identity-service" {
		t.Errorf("Audience = %v, want [identity-service]", claims.Audience)
	}
	if claims.DeviceName != "Library entrance" {
		t.Errorf("DeviceName = %q, want %q", claims.DeviceName, "Library entrance")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestDeviceTokenSource_CachesUntilNearExpiry(t *testing.T) {
	now := time.Now()
	src := NewDeviceTokenSource(DeviceTokenOptions{
		Secret:   testSecret,
		DeviceID: "dev-1",
		TTL:      5 * time.Minute,
		Now:      func() time.Time { return now },
	})

	first, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	now = now.Add(time.Minute)
	second, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first != second {
		t.Error("Token() minted a new token while the cached one was still fresh")
	}

	// Inside the refresh margin a fresh token is minted.
	now = now.Add(4*time.Minute - tokenRefreshMargin/2)
	third, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if third == second {
		t.Error("Token() reused a token inside the refresh margin")
	}
}

func TestDeviceToken_RejectedWithWrongSecret(t *testing.T) {
	src := NewDeviceTokenSource(DeviceTokenOptions{Secret: testSecret, DeviceID: "dev-1"})
	token, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	_, err = parseDeviceToken(token, "another-secret-that-is-32-chars-long!")
	if !errors.Is(err, errTokenInvalid) {
		t.Errorf("parse error = %v, want invalid token", err)
	}
}

func TestDeviceToken_ExpiresAfterTTL(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	src := NewDeviceTokenSource(DeviceTokenOptions{
		Secret:   testSecret,
		DeviceID: "dev-1",
		TTL:      time.Minute,
		Now:      func() time.Time { return past },
	})
	token, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if _, err := parseDeviceToken(token, testSecret); !errors.Is(err, errTokenInvalid) {
		t.Errorf("parse error = %v, want invalid token", err)
	}
}

func TestDeviceToken_RequiresSubject(t *testing.T) {
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := parseDeviceToken(token, testSecret); !errors.Is(err, errTokenInvalid) {
		t.Errorf("parse error = %v, want invalid token", err)
	}
}
