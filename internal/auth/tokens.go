package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultAccessMinutes      = 60
	defaultRefreshMinutes     = 7 * 24 * 60  // 7 days
	defaultRefreshLongMinutes = 30 * 24 * 60 // 30 days, "stay signed in"
)

// ErrInvalidToken indicates a token failed signature or claim validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenConfig holds the signing secrets and duration policy. All durations
// are expressed in minutes at this boundary; the issuer converts them to
// milliseconds before computing absolute expiries.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string

	AccessMinutes      int
	RefreshMinutes     int
	RefreshLongMinutes int
}

// Claims are the signed JWT claims shared by access and refresh tokens.
type Claims struct {
	Email     string `json:"email"`
	DeviceID  string `json:"device_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer produces signed access/refresh token pairs. It is a pure
// function of (user, email, device, policy) apart from the clock.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// SessionTokens is one freshly issued pair bound to a device.
type SessionTokens struct {
	DeviceID string
	Access   Token
	Refresh  Token
}

// NewTokenIssuer validates the config and applies duration defaults. Access
// and refresh secrets must be distinct so one leaked key cannot forge both.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	cfg.AccessSecret = strings.TrimSpace(cfg.AccessSecret)
	cfg.RefreshSecret = strings.TrimSpace(cfg.RefreshSecret)
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: both token secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessMinutes <= 0 {
		cfg.AccessMinutes = defaultAccessMinutes
	}
	if cfg.RefreshMinutes <= 0 {
		cfg.RefreshMinutes = defaultRefreshMinutes
	}
	if cfg.RefreshLongMinutes <= 0 {
		cfg.RefreshLongMinutes = defaultRefreshLongMinutes
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// NewDeviceID generates the opaque per-session device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// Issue signs a fresh access/refresh pair for the device. staySignedIn
// selects the long refresh lifetime.
func (ti *TokenIssuer) Issue(userID, email, deviceID string, staySignedIn bool) (SessionTokens, error) {
	refreshMinutes := ti.cfg.RefreshMinutes
	if staySignedIn {
		refreshMinutes = ti.cfg.RefreshLongMinutes
	}

	access, err := ti.sign(userID, email, deviceID, tokenTypeAccess, ti.cfg.AccessMinutes, ti.cfg.AccessSecret)
	if err != nil {
		return SessionTokens{}, err
	}
	refresh, err := ti.sign(userID, email, deviceID, tokenTypeRefresh, refreshMinutes, ti.cfg.RefreshSecret)
	if err != nil {
		return SessionTokens{}, err
	}
	return SessionTokens{DeviceID: deviceID, Access: access, Refresh: refresh}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (ti *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return ti.parse(token, tokenTypeAccess, ti.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (ti *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return ti.parse(token, tokenTypeRefresh, ti.cfg.RefreshSecret)
}

func (ti *TokenIssuer) sign(userID, email, deviceID, tokenType string, minutes int, secret string) (Token, error) {
	now := ti.now().UTC()
	// minutes -> milliseconds; TotalDuration feeds cookie max-age.
	total := int64(minutes) * 60_000
	expiresAt := now.Add(time.Duration(total) * time.Millisecond)

	claims := Claims{
		Email:     email,
		DeviceID:  deviceID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt, TotalDuration: total}, nil
}

func (ti *TokenIssuer) parse(token, wantType, secret string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return ti.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if ti.cfg.Issuer != "" && claims.Issuer != ti.cfg.Issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.DeviceID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
