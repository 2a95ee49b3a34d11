// Package auth turns the access token presented on a websocket handshake into a user identity.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrUnauthenticated is returned when a connection carries no resolvable identity
var ErrUnauthenticated = errors.New("unauthenticated")

// claim names issued by ASP.NET style identity providers for the user name
const (
	claimUniqueName = "unique_name"
	claimSOAPName   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
)

// Resolver maps an opaque token to a user id. Implementations must be side-effect free.
type Resolver interface {
	Resolve(token string) (string, error)
}

// JWTResolver verifies HMAC signed JWTs and reads the user id from a claim
type JWTResolver struct {
	secret []byte
	claims []string
}

// NewJWTResolver creates a resolver verifying tokens with secret. userClaim is tried first,
// then the common name claims.
func NewJWTResolver(secret, userClaim string) *JWTResolver {
	claims := []string{}
	if userClaim != "" {
		claims = append(claims, userClaim)
	}
	claims = append(claims, claimUniqueName, claimSOAPName, "name", "sub")

	return &JWTResolver{secret: []byte(secret), claims: claims}
}

func (r *JWTResolver) Resolve(token string) (string, error) {
	if token == "" {
		return "", errors.Wrap(ErrUnauthenticated, "missing access token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", errors.Wrapf(ErrUnauthenticated, "invalid access token: %s", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.Wrap(ErrUnauthenticated, "unexpected claims type")
	}

	for _, name := range r.claims {
		if userID, ok := claims[name].(string); ok && userID != "" {
			return userID, nil
		}
	}
	return "", errors.Wrap(ErrUnauthenticated, "no user claim in access token")
}

// ResolverFunc adapts a plain function to a Resolver
type ResolverFunc func(token string) (string, error)

func (f ResolverFunc) Resolve(token string) (string, error) { return f(token) }

// BearerToken returns the token of an Authorization header using the Bearer scheme. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// TokenFromRequest pulls the access token from the Authorization header or, since browsers
// cannot set headers on a websocket handshake, from the access_token or token query params
func TokenFromRequest(r *http.Request) string {
	if token, ok := BearerToken(r); ok {
		return token
	}

	query := r.URL.Query()
	if token := query.Get("access_token"); token != "" {
		return token
	}
	return query.Get("token")
}
