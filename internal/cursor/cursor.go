// Package cursor provides opaque page token encoding for item lists.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the decoded state of a page token: the list position of the
// last item on the previous page.
type Cursor struct {
	// UpdatedAt is the last item's update time in Unix milliseconds.
	UpdatedAt int64 `json:"u"`
	// ID is the last item's id.
	ID string `json:"id"`
	// FilterHash invalidates the token when the query changes.
	FilterHash string `json:"f,omitempty"`
}

// Encode encodes a cursor to an opaque base64 string.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode decodes an opaque token produced by Encode.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	if c.ID == "" {
		return Cursor{}, fmt.Errorf("cursor has no id")
	}
	return c, nil
}

// HashFilter computes a short hash of the query parts a token is bound to.
func HashFilter(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:8])
}
