// Package common holds small helpers shared across services.
package common

import (
	"encoding/base64"
	"fmt"
)

// EncodePageToken wraps opaque paging state as a URL-safe token for
// list responses.
func EncodePageToken(state []byte) string {
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken unwraps a token back into paging state.
func DecodePageToken(token string) ([]byte, error) {
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	return state, nil
}
