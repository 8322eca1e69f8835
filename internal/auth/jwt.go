package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
)

const (
	RolePatient  = "patient"
	RoleOperator = "operator"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrUnknownRole  = errors.New("unknown role")
)

type bookingClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTManager struct {
	cfg config.JWTConfig
	now func() time.Time
}

func NewJWTManager(cfg config.JWTConfig) *JWTManager {
	return &JWTManager{cfg: cfg, now: time.Now}
}

// Issue signs an HS256 token for the actor. bookingctl uses it to mint
// tokens for operators and the load simulator.
func (m *JWTManager) Issue(actor booking.Actor) (string, time.Time, error) {
	if actor.Role != RolePatient && actor.Role != RoleOperator {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRole, actor.Role)
	}

	now := m.now()
	expiresAt := now.Add(m.cfg.TTL)

	claims := bookingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Role: actor.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) Validate(tokenString string) (booking.Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&bookingClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(m.cfg.Secret), nil
		},
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return booking.Actor{}, ErrTokenExpired
		}
		return booking.Actor{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*bookingClaims)
	if !ok || !token.Valid {
		return booking.Actor{}, ErrTokenInvalid
	}
	if claims.Role != RolePatient && claims.Role != RoleOperator {
		return booking.Actor{}, ErrTokenInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return booking.Actor{}, ErrTokenInvalid
	}

	return booking.Actor{ID: id, Role: claims.Role}, nil
}

// RoleAuthorizer grants operator rights to actors whose token carries the
// operator role.
type RoleAuthorizer struct{}

func (RoleAuthorizer) IsOperator(actor booking.Actor) bool {
	return actor.Role == RoleOperator
}
