package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params holds the claims used to mint an unsigned operator token for local runs and CI.
// Nothing is read from the environment; callers pass every value explicitly.
type Params struct {
	ProjectID     string
	OperatorID    string
	Email         string
	Name          string
	EmailVerified bool
	IsAdmin       bool
	Roles         []string
	ExpiresIn     time.Duration // default 1h
}

// BuildUnsignedOperatorToken returns an alg "none" JWT accepted by auth.UnsignedTokenVerifier
// when the API runs with AUTH_PROVIDER=dev.
func BuildUnsignedOperatorToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return "", errors.New("projectID is required")
	}
	if strings.TrimSpace(p.OperatorID) == "" {
		return "", errors.New("operatorID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	payload := map[string]interface{}{
		"iss":            fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID),
		"aud":            p.ProjectID,
		"auth_time":      now.Unix(),
		"user_id":        p.OperatorID,
		"sub":            p.OperatorID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"isAdmin":        p.IsAdmin,
		"firebase": map[string]interface{}{
			"identities":       map[string]interface{}{"email": []string{p.Email}},
			"sign_in_provider": "password",
		},
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if len(p.Roles) > 0 {
		payload["palmyraRoles"] = p.Roles
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return headerSegment + "." + payloadSegment + ".", nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
