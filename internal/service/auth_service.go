package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"water_monitor/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = time.Hour
	tokenIssuer     = "water_monitor"
)

var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrNoSigningKey     = errors.New("auth signing key is not configured")
	ErrEmptyUsername    = errors.New("username is empty")
)

// AuthConfig carries the token settings.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// AuthService registers operators and issues the tokens that guard the
// command endpoints.
type AuthService struct {
	operators repository.Authorization
	key       []byte
	ttl       time.Duration
	parser    *jwt.Parser
}

func NewAuthService(repo repository.Authorization, cfg AuthConfig) *AuthService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &AuthService{
		operators: repo,
		key:       []byte(cfg.SigningKey),
		ttl:       ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Claims is the operator access token payload.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID int `json:"operator_id"`
}

func (s *AuthService) SignUp(username, password string) (int, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, ErrEmptyUsername
	}
	if strings.TrimSpace(password) == "" {
		return 0, fmt.Errorf("%w: password is empty", ErrInvalidPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt rejects passwords over 72 bytes
		return 0, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return s.operators.Create(username, string(hash))
}

// GenerateToken checks the credentials and returns a signed access token.
func (s *AuthService) GenerateToken(username, password string) (string, error) {
	op, err := s.operators.GetByUsername(strings.TrimSpace(username))
	switch {
	case err != nil:
		return "", err
	case op == nil:
		return "", ErrOperatorNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidPassword
	}
	return s.issueToken(op.ID)
}

// ParseToken returns the operator id carried by a valid access token.
func (s *AuthService) ParseToken(accessToken string) (int, error) {
	if len(s.key) == 0 {
		return 0, ErrNoSigningKey
	}
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.OperatorID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.OperatorID, nil
}

func (s *AuthService) issueToken(operatorID int) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoSigningKey
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OperatorID: operatorID,
	}).SignedString(s.key)
}
