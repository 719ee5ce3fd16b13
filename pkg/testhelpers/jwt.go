// Package testhelpers provides utilities for testing inplace-engine components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
)

// GenerateTestJWT creates an unsigned (alg: none) JWT accepted when signature
// verification is disabled. It carries the engine audience, the project id
// and the given roles.
func GenerateTestJWT(sub, projectID string, roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := map[string]any{
		"sub": sub,
		"aud": "inplace-engine",
	}
	if projectID != "" {
		payload["pid"] = projectID
	}
	if len(roles) > 0 {
		payload["roles"] = roles
	}
	body, _ := json.Marshal(payload)

	return header + "." + base64.RawURLEncoding.EncodeToString(body) + "."
}

// GenerateTestJWTWithBearer returns the token with a "Bearer " prefix for the Authorization header.
func GenerateTestJWTWithBearer(sub, projectID string, roles ...string) string {
	return "Bearer " + GenerateTestJWT(sub, projectID, roles...)
}
