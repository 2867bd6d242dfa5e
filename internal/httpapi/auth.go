package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hireloop/voiceroom/internal/room"
)

// Context key for candidate data
type contextKey string

const identityContextKey contextKey = "identity"

// JWTClaims represents the claims in the JWT token issued by the
// platform backend.
type JWTClaims struct {
	jwt.RegisteredClaims
	CandidateID string `json:"candidate_id"`
	Email       string `json:"email"`
}

// parseToken validates a bearer token string and returns the identity
// it carries.
func (r *Router) parseToken(tokenString string) (*room.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	id := claims.CandidateID
	if id == "" {
		id = claims.Subject
	}
	return &room.Identity{CandidateID: id, Email: claims.Email}, nil
}

// identityFromRequest resolves the optional bearer token. A missing
// header is a guest, not an error; a present-but-invalid token is an
// error so a candidate never silently falls back to the guest exit.
func (r *Router) identityFromRequest(req *http.Request) (*room.Identity, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, fmt.Errorf("invalid authorization format")
	}
	return r.parseToken(parts[1])
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		identity, err := r.identityFromRequest(req)
		if err != nil {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}
		if identity == nil {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(req.Context(), identityContextKey, identity)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getIdentity extracts the authenticated candidate from context
func getIdentity(ctx context.Context) *room.Identity {
	identity, _ := ctx.Value(identityContextKey).(*room.Identity)
	return identity
}

// handleGetMe returns the authenticated candidate.
func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	identity := getIdentity(req.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"candidateId": identity.CandidateID,
		"email":       identity.Email,
	})
}
