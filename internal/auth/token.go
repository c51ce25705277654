// Package auth implements credential acquisition and token handling:
// parsing the service's structured token format, checking expiry
// locally before spending a network round trip, and driving the
// interactive password and two-factor login flow.
package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notevault/notevault/internal/remote"
)

// Token is the parsed form of an authentication token. The wire format
// is colon-separated key=value fields:
//
//	S=<shard>:U=<hex user id>:E=<hex expiry ms>:C=<hex created ms>:P=<perms>:A=<agent>:V=<version>:H=<hex hash>
//
// All eight fields are required. Parse failures surface as
// remote.ErrTokenMalformed so callers handle a locally unreadable
// token and a server-rejected one identically.
type Token struct {
	ShardID     string
	UserID      int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
	Permissions string
	Agent       string
	Version     string
	Hash        string
}

// ParseToken parses a raw token string.
func ParseToken(raw string) (Token, error) {
	var (
		tok  Token
		seen = make(map[string]bool, 8)
	)

	if strings.TrimSpace(raw) == "" {
		return Token{}, fmt.Errorf("%w: empty token", remote.ErrTokenMalformed)
	}

	for _, part := range strings.Split(raw, ":") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return Token{}, fmt.Errorf("%w: field %q is not key=value", remote.ErrTokenMalformed, part)
		}
		if seen[key] {
			return Token{}, fmt.Errorf("%w: duplicate field %q", remote.ErrTokenMalformed, key)
		}
		seen[key] = true

		switch key {
		case "S":
			tok.ShardID = value
		case "U":
			uid, err := strconv.ParseInt(value, 16, 64)
			if err != nil {
				return Token{}, fmt.Errorf("%w: user id %q is not hex", remote.ErrTokenMalformed, value)
			}
			tok.UserID = uid
		case "E":
			ts, err := parseHexMillis(value)
			if err != nil {
				return Token{}, fmt.Errorf("%w: expiry %q is not a hex timestamp", remote.ErrTokenMalformed, value)
			}
			tok.ExpiresAt = ts
		case "C":
			ts, err := parseHexMillis(value)
			if err != nil {
				return Token{}, fmt.Errorf("%w: creation time %q is not a hex timestamp", remote.ErrTokenMalformed, value)
			}
			tok.CreatedAt = ts
		case "P":
			tok.Permissions = value
		case "A":
			tok.Agent = value
		case "V":
			tok.Version = value
		case "H":
			tok.Hash = value
		default:
			return Token{}, fmt.Errorf("%w: unknown field %q", remote.ErrTokenMalformed, key)
		}
	}

	for _, required := range []string{"S", "U", "E", "C", "P", "A", "V", "H"} {
		if !seen[required] {
			return Token{}, fmt.Errorf("%w: missing field %q", remote.ErrTokenMalformed, required)
		}
	}

	return tok, nil
}

// parseHexMillis converts a hex millisecond timestamp to UTC time.
func parseHexMillis(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 16, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// IsExpired reports whether the token's expiry has passed at the given
// instant.
func (t Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TTL returns how long the token remains valid from the given instant.
// Negative values mean the token already expired.
func (t Token) TTL(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}
