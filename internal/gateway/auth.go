package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/store"
)

// Claims is the JWT payload binding a token to an actor.
type Claims struct {
	ActorID string `json:"actorId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Auth issues and validates bearer tokens for the gateway.
type Auth struct {
	secret []byte
	ttl    time.Duration
	store  *store.ChatStore
}

// NewAuth creates an authenticator with the given signing secret and token
// lifetime.
func NewAuth(secret string, ttl time.Duration, s *store.ChatStore) *Auth {
	return &Auth{secret: []byte(secret), ttl: ttl, store: s}
}

// Authenticate verifies credentials and returns the user with a signed
// token. Invalid email and invalid password produce the same error.
func (a *Auth) Authenticate(email, password string) (store.User, string, error) {
	u, err := a.store.UserByEmail(email)
	if err != nil {
		return store.User{}, "", errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return store.User{}, "", errors.New("invalid credentials")
	}

	token, err := a.GenerateToken(u.ID, u.Role)
	if err != nil {
		return store.User{}, "", err
	}
	return u, token, nil
}

// GenerateToken signs a token for the given actor.
func (a *Auth) GenerateToken(actorID string, role domain.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		ActorID: actorID,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "finchat-gateway",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken parses and verifies a token string.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor identity on the request context.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("actorID", claims.ActorID)
		c.Set("role", domain.Role(claims.Role))
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header, falling
// back to the "token" query parameter for websocket upgrades from browsers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
