package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrWrongTokenKind  = errors.New("token kind mismatch")
	ErrRevokedToken    = errors.New("token has been revoked")
	ErrSecretTooShort  = fmt.Errorf("JWT secret key must be at least %d bytes", config.MinSecretKeyLength)
	ErrRevocationCheck = errors.New("failed to check token revocation")
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	ClaimSessionID = "sid"
	ClaimDeviceID  = "did"
)

// registered claims are owned by the codec and never carried over as extras.
var registered = map[string]bool{
	"token_type": true,
	"user_id":    true,
	"sub":        true,
	"jti":        true,
	"iat":        true,
	"exp":        true,
	"nbf":        true,
	"iss":        true,
	"aud":        true,
}

type Claims struct {
	UserID    string
	Kind      Kind
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

func (c *Claims) SessionID() string {
	return c.stringClaim(ClaimSessionID)
}

func (c *Claims) DeviceID() string {
	return c.stringClaim(ClaimDeviceID)
}

func (c *Claims) stringClaim(key string) string {
	if c == nil || c.Extra == nil {
		return ""
	}
	v, _ := c.Extra[key].(string)
	return v
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type RevocationChecker interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	config            *config.Config
	secret            []byte
	logger            *logging.Service
	revocationChecker RevocationChecker
	now               func() time.Time
}

func NewService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	if len(cfg.JWT.SecretKey) < config.MinSecretKeyLength {
		logger.Error("refusing to start token codec with a short secret key",
			zap.Int("length", len(cfg.JWT.SecretKey)),
			zap.Int("min_required", config.MinSecretKeyLength))
		return nil, ErrSecretTooShort
	}

	return &Service{
		config: cfg,
		secret: []byte(cfg.JWT.SecretKey),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Service) SetRevocationChecker(checker RevocationChecker) {
	s.revocationChecker = checker
}

// SetClock replaces the time source used for issuing and validating tokens.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) AccessExpiry() time.Duration {
	return s.config.JWT.AccessExpiry
}

func (s *Service) RefreshExpiry() time.Duration {
	return s.config.JWT.RefreshExpiry
}

func (s *Service) expiryFor(kind Kind) time.Duration {
	if kind == KindRefresh {
		return s.config.JWT.RefreshExpiry
	}
	return s.config.JWT.AccessExpiry
}

// Issue signs a token for subjectID with a fresh jti.
func (s *Service) Issue(subjectID string, kind Kind, ttl time.Duration, extra map[string]any) (string, error) {
	now := s.now()
	jti := uuid.NewString()

	claims := jwt.MapClaims{}
	for k, v := range extra {
		if !registered[k] {
			claims[k] = v
		}
	}

	claims["token_type"] = string(kind)
	claims["user_id"] = subjectID
	claims["sub"] = subjectID
	claims["jti"] = jti
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	if s.config.JWT.Issuer != "" {
		claims["iss"] = s.config.JWT.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign token", zap.String("kind", string(kind)), zap.Error(err))
		return "", fmt.Errorf("failed to generate %s token: %w", kind, err)
	}

	return tokenString, nil
}

func (s *Service) IssuePair(subjectID string, extra map[string]any) (*TokenPair, error) {
	access, err := s.Issue(subjectID, KindAccess, s.expiryFor(KindAccess), extra)
	if err != nil {
		return nil, err
	}

	refresh, err := s.Issue(subjectID, KindRefresh, s.expiryFor(KindRefresh), extra)
	if err != nil {
		return nil, err
	}

	return s.pair(access, refresh), nil
}

func (s *Service) pair(access, refresh string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.config.JWT.AccessExpiry.Seconds()),
	}
}

func (s *Service) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() == "none" {
		return nil, errors.New("'none' algorithm is not allowed")
	}

	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
	}

	return s.secret, nil
}

// Verify checks signature, expiry and kind and, for refresh tokens, the blacklist.
func (s *Service) Verify(ctx context.Context, tokenString string, expected Kind) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	mapClaims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, mapClaims, s.keyFunc)
	if err != nil {
		s.logger.Debug("token validation failed", zap.Error(err))

		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, err := fromMapClaims(mapClaims)
	if err != nil {
		return nil, err
	}

	if claims.Kind != expected {
		s.logger.Warn("token kind mismatch",
			zap.String("expected", string(expected)),
			zap.String("got", string(claims.Kind)),
			zap.String("jti", claims.JTI))
		return nil, ErrWrongTokenKind
	}

	if expected == KindRefresh && s.revocationChecker != nil {
		revoked, err := s.revocationChecker.IsBlacklisted(ctx, claims.JTI)
		if err != nil {
			s.logger.Error("failed to check token revocation status",
				zap.String("jti", claims.JTI),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrRevocationCheck, err)
		}
		if revoked {
			s.logger.Warn("rejected revoked refresh token", zap.String("jti", claims.JTI))
			return nil, ErrRevokedToken
		}
	}

	return claims, nil
}

// VerifyIgnoringExpiry checks the signature and kind but accepts an expired
// token. The blacklist is not consulted.
func (s *Service) VerifyIgnoringExpiry(tokenString string, expected Kind) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	mapClaims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, mapClaims, s.keyFunc)
	if err != nil || !token.Valid {
		s.logger.Debug("token signature check failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, err := fromMapClaims(mapClaims)
	if err != nil {
		return nil, err
	}
	if claims.Kind != expected {
		s.logger.Warn("token kind mismatch",
			zap.String("expected", string(expected)),
			zap.String("got", string(claims.Kind)),
			zap.String("jti", claims.JTI))
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// Rotate mints a new access token from a valid refresh token, carrying its
// extra claims. The refresh token is replaced only when rotateRefresh is set.
func (s *Service) Rotate(ctx context.Context, refreshToken string, rotateRefresh bool) (*TokenPair, error) {
	claims, err := s.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}
	return s.Reissue(claims, refreshToken, rotateRefresh)
}

// Reissue mints from claims the caller has already verified.
func (s *Service) Reissue(claims *Claims, refreshToken string, rotateRefresh bool) (*TokenPair, error) {
	access, err := s.Issue(claims.UserID, KindAccess, s.expiryFor(KindAccess), claims.Extra)
	if err != nil {
		return nil, err
	}

	refresh := refreshToken
	if rotateRefresh {
		refresh, err = s.Issue(claims.UserID, KindRefresh, s.expiryFor(KindRefresh), claims.Extra)
		if err != nil {
			return nil, err
		}
	}

	return s.pair(access, refresh), nil
}

// ParseUnverified decodes claims without checking the signature or expiry.
// Callers must not trust the result for authorization.
func (s *Service) ParseUnverified(tokenString string) (*Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, mapClaims); err != nil {
		return nil, ErrInvalidToken
	}
	return fromMapClaims(mapClaims)
}

func (s *Service) ExtractJTI(tokenString string) (string, error) {
	claims, err := s.ParseUnverified(tokenString)
	if err != nil {
		return "", err
	}
	return claims.JTI, nil
}

// RemainingLifetime is zero once the token has expired.
func (s *Service) RemainingLifetime(claims *Claims) time.Duration {
	remaining := claims.ExpiresAt.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func fromMapClaims(m jwt.MapClaims) (*Claims, error) {
	jti, _ := m["jti"].(string)
	if jti == "" {
		return nil, ErrInvalidToken
	}

	userID, _ := m["user_id"].(string)
	if userID == "" {
		userID, _ = m["sub"].(string)
	}
	kind, _ := m["token_type"].(string)

	claims := &Claims{
		UserID: userID,
		Kind:   Kind(kind),
		JTI:    jti,
		Extra:  make(map[string]any),
	}

	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	for k, v := range m {
		if !registered[k] {
			claims.Extra[k] = v
		}
	}

	return claims, nil
}
