package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	apperrors "bankcards/internal/errors"
)

const (
	// AccessTokenExpiry is the duration for which access tokens are valid.
	AccessTokenExpiry = 15 * time.Minute

	contextKey = "user"
)

// ErrNoIdentity is returned when a request carries no usable token.
var ErrNoIdentity = errors.New("no authenticated user")

// Claims represents JWT claims. Tokens are issued by an external identity service; the
// service here only needs the username.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateAccessToken issues a signed access token for username. Used by the seeder and tests.
func (s *JWTService) GenerateAccessToken(username string, ttl time.Duration) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	if ttl <= 0 {
		ttl = AccessTokenExpiry
	}
	now := s.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware returns the bearer-token middleware for secured routes.
func (s *JWTService) Middleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ContextKey:  contextKey,
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return s.ValidateToken(auth)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, apperrors.ErrorResponse{
				Error: "missing or invalid token",
				Code:  "UNAUTHORIZED",
			})
		},
	})
}

// UsernameFromContext returns the username of the authenticated caller. Middleware stores
// the validated *Claims under the context key.
func UsernameFromContext(c echo.Context) (string, error) {
	claims, ok := c.Get(contextKey).(*Claims)
	if !ok || claims == nil || claims.Username == "" {
		return "", ErrNoIdentity
	}
	return claims.Username, nil
}
