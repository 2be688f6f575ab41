package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

const (
	headerAuthorization = "Authorization"
	headerBearer        = "Bearer"
	queryToken          = "token"
	anonymousSubject    = "anonymous"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type Config struct {
	// JWTSecret signs HS256 tokens. Empty disables authentication.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(config Config) *Service {
	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{secret: []byte(config.JWTSecret), ttl: ttl}
}

func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// Generate issues a token for subject, valid for the configured TTL.
func (s *Service) Generate(subject, name string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, fmt.Errorf("authentication is disabled")
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *Service) Validate(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return anonymous(), nil
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRequest reads the token from the Authorization header or, for websocket upgrades
// from browsers, the token query parameter.
func (s *Service) ValidateRequest(ctx *fasthttp.RequestCtx) (*Claims, error) {
	if !s.Enabled() {
		return anonymous(), nil
	}

	tokenString := string(ctx.QueryArgs().Peek(queryToken))
	if tokenString == "" {
		header := string(ctx.Request.Header.Peek(headerAuthorization))
		if header == "" {
			return nil, ErrMissingToken
		}
		parsed, err := bearerToken(header)
		if err != nil {
			return nil, err
		}
		tokenString = parsed
	}
	return s.Validate(tokenString)
}

func bearerToken(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != headerBearer {
		return "", fmt.Errorf("%w: invalid Authorization header format", ErrInvalidToken)
	}
	return parts[1], nil
}

func anonymous() *Claims {
	return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: anonymousSubject}}
}
