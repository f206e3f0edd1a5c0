package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"golang.org/x/crypto/bcrypt"
)

// Context keys
const (
	ContextKeyUserID      = "user_id"
	ContextKeyPhoneNumber = "phone_number"
	ContextKeyRole        = "role"
	ContextKeyAuthMethod  = "auth_method"
)

// Auth methods
const (
	AuthMethodJWT    = "jwt"
	AuthMethodAPIKey = "api_key"
)

// RoleAdmin is granted to API key callers and to allow-listed admin numbers.
const RoleAdmin = "admin"

// JWTClaims represents JWT claims
type JWTClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
	Role        string    `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for a verified phone number.
func NewToken(secret string, userID uuid.UUID, phoneNumber, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := JWTClaims{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequestLogger logs incoming requests
func RequestLogger(log logf.Logger) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		start := time.Now()

		// Store start time for later use
		r.RequestCtx.SetUserValue("request_start", start)
		log.Debug("Request",
			"method", string(r.RequestCtx.Method()),
			"path", string(r.RequestCtx.Path()),
			"remote", r.RequestCtx.RemoteIP().String())

		return r
	}
}

// CORS handles Cross-Origin Resource Sharing
func CORS() fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		origin := string(r.RequestCtx.Request.Header.Peek("Origin"))
		if origin == "" {
			origin = "*"
		}

		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Origin", origin)
		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Hub-Signature-256")
		r.RequestCtx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
		r.RequestCtx.Response.Header.Set("Access-Control-Max-Age", "86400")

		return r
	}
}

// PanicHandler logs a panic raised by a route handler and answers with a
// 500 error envelope. Install it as the router's PanicHandler; fastglue
// Before hooks return before the handler runs and cannot recover from it.
func PanicHandler(log logf.Logger) func(*fasthttp.RequestCtx, interface{}) {
	return func(ctx *fasthttp.RequestCtx, rcv interface{}) {
		log.Error("Panic recovered", "error", rcv, "method", string(ctx.Method()), "path", string(ctx.Path()))
		ctx.Response.Reset()
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"error","message":"Internal server error"}`)
	}
}

// Auth accepts either an X-API-Key matching one of the bcrypt hashes or a
// Bearer JWT signed with secret.
func Auth(secret string, apiKeyHashes []string) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		authHeader := string(r.RequestCtx.Request.Header.Peek("Authorization"))
		apiKey := string(r.RequestCtx.Request.Header.Peek("X-API-Key"))

		// Try API key authentication first
		if apiKey != "" {
			if validateAPIKey(apiKey, apiKeyHashes) {
				r.RequestCtx.SetUserValue(ContextKeyRole, RoleAdmin)
				r.RequestCtx.SetUserValue(ContextKeyAuthMethod, AuthMethodAPIKey)
				return r
			}
			// API key was provided but invalid
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid API key", nil, "")
			return nil
		}

		// Fall back to JWT authentication
		if authHeader == "" {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Missing authorization header", nil, "")
			return nil
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid authorization header format", nil, "")
			return nil
		}

		claims, err := ParseToken(secret, parts[1])
		if err != nil {
			_ = r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid or expired token", nil, "")
			return nil
		}

		// Store claims in context
		SetClaims(r, claims)
		return r
	}
}

// SetClaims stores token claims on the request.
func SetClaims(r *fastglue.Request, claims *JWTClaims) {
	r.RequestCtx.SetUserValue(ContextKeyUserID, claims.UserID)
	r.RequestCtx.SetUserValue(ContextKeyPhoneNumber, claims.PhoneNumber)
	r.RequestCtx.SetUserValue(ContextKeyRole, claims.Role)
	r.RequestCtx.SetUserValue(ContextKeyAuthMethod, AuthMethodJWT)
}

// validateAPIKey checks key against each configured bcrypt hash
func validateAPIKey(key string, hashes []string) bool {
	for _, hash := range hashes {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err == nil {
			return true
		}
	}
	return false
}

// RequireRole checks if user has required role
func RequireRole(roles ...string) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		role, ok := r.RequestCtx.UserValue(ContextKeyRole).(string)
		if !ok {
			_ = r.SendErrorEnvelope(fasthttp.StatusForbidden, "Role not found", nil, "")
			return nil
		}

		for _, allowedRole := range roles {
			if role == allowedRole {
				return r
			}
		}

		_ = r.SendErrorEnvelope(fasthttp.StatusForbidden, "Insufficient permissions", nil, "")
		return nil
	}
}

// Chain runs middlewares in order and stops at the first one that rejects.
func Chain(mws ...fastglue.FastMiddleware) fastglue.FastMiddleware {
	return func(r *fastglue.Request) *fastglue.Request {
		for _, mw := range mws {
			if r = mw(r); r == nil {
				return nil
			}
		}
		return r
	}
}

// GetUserID extracts user ID from request context
func GetUserID(r *fastglue.Request) (uuid.UUID, bool) {
	userID, ok := r.RequestCtx.UserValue(ContextKeyUserID).(uuid.UUID)
	return userID, ok
}

// GetPhoneNumber extracts the caller's phone number from request context
func GetPhoneNumber(r *fastglue.Request) (string, bool) {
	p, ok := r.RequestCtx.UserValue(ContextKeyPhoneNumber).(string)
	return p, ok
}

// GetRole extracts the caller's role from request context
func GetRole(r *fastglue.Request) (string, bool) {
	role, ok := r.RequestCtx.UserValue(ContextKeyRole).(string)
	return role, ok
}
