package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/halagel/prodtrack/internal/prodtrack"
)

const tokenAudience = "prodtrack"

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type tokenClaims struct {
	UserID   string
	Name     string
	Username string
	Role     string
	Scopes   map[string]struct{}
	Exp      int64
}

// roleScopes maps a dashboard role to the API scopes its token carries.
func roleScopes(role prodtrack.Role) []string {
	switch role {
	case prodtrack.RoleAdmin:
		return []string{
			"users:read", "users:write",
			"production:read", "production:write", "production:actual",
			"offdays:read", "offdays:write",
			"logs:read", "logs:write",
			"stats:read",
			"sync:read", "sync:trigger",
			"session:read", "session:write",
		}
	case prodtrack.RoleManager:
		return []string{
			"users:read",
			"production:read", "production:write", "production:actual",
			"offdays:read", "offdays:write",
			"logs:read", "logs:write",
			"stats:read",
			"sync:read", "sync:trigger",
			"session:read", "session:write",
		}
	case prodtrack.RolePlanner:
		return []string{
			"production:read", "production:write",
			"offdays:read", "offdays:write",
			"logs:read", "logs:write",
			"stats:read",
			"sync:read", "sync:trigger",
			"session:read", "session:write",
		}
	case prodtrack.RoleOperator:
		return []string{
			"production:read", "production:actual",
			"offdays:read",
			"logs:read", "logs:write",
			"stats:read",
			"sync:read",
			"session:read", "session:write",
		}
	default:
		return nil
	}
}

func issueToken(secret string, user prodtrack.User, ttl time.Duration, now time.Time) (string, int64, error) {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	exp := now.Add(ttl).Unix()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", 0, err
	}
	payload, err := json.Marshal(map[string]any{
		"sub":      user.ID,
		"name":     user.Name,
		"username": user.Username,
		"role":     user.Role,
		"scopes":   roleScopes(user.Role),
		"aud":      tokenAudience,
		"iat":      now.Unix(),
		"exp":      exp,
	})
	if err != nil {
		return "", 0, err
	}
	signing := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), exp, nil
}

func authorizeBearer(authHeader, secret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return authorizeToken(raw, secret, requiredScope, now)
}

// authorizeToken verifies a raw token string. The websocket feed passes the
// token through a query parameter, so this is split out of the header path.
func authorizeToken(raw, secret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseToken(raw, secret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if requiredScope != "" {
		if _, ok := claims.Scopes[requiredScope]; !ok {
			return tokenClaims{}, &authError{
				status:  403,
				code:    "forbidden",
				message: "missing required scope: " + requiredScope,
			}
		}
	}
	return claims, nil
}

func parseToken(raw, secret string, now time.Time) (tokenClaims, *authError) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token format"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	if header.Alg != "HS256" {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "unsupported token algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token signature"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "token signature mismatch"}
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}

	userID, ok := payload["sub"].(string)
	if !ok || userID == "" {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing sub claim"}
	}
	username, ok := payload["username"].(string)
	if !ok || username == "" {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing username claim"}
	}
	name, _ := payload["name"].(string)
	role, _ := payload["role"].(string)

	exp, expErr := parseExp(payload["exp"])
	if expErr != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid exp claim"}
	}
	if now.Unix() >= exp {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "token expired"}
	}
	if aud, ok := payload["aud"].(string); !ok || aud != tokenAudience {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid aud claim"}
	}

	scopes := parseScopes(payload["scopes"])
	if len(scopes) == 0 {
		return tokenClaims{}, &authError{status: 403, code: "forbidden", message: "no scopes granted"}
	}

	return tokenClaims{
		UserID:   userID,
		Name:     name,
		Username: username,
		Role:     role,
		Scopes:   scopes,
		Exp:      exp,
	}, nil
}

func parseScopes(v any) map[string]struct{} {
	out := map[string]struct{}{}
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if scope, ok := item.(string); ok && scope != "" {
				out[scope] = struct{}{}
			}
		}
	case []string:
		for _, scope := range typed {
			if scope != "" {
				out[scope] = struct{}{}
			}
		}
	case string:
		for _, scope := range strings.Fields(typed) {
			out[scope] = struct{}{}
		}
	}
	return out
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), nil
	case int64:
		return typed, nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("unsupported exp type")
	}
}
