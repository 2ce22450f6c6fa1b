// Package keyspace derives the per-iteration cache key, its value encoding
// and the sampling policy that decides which simulated clients delete.
package keyspace

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "hello"

// ErrDecode is returned when a value read back from the cache is not a
// valid encoding.
var ErrDecode = errors.New("keyspace: value is not valid base64")

// ClientContext identifies one iteration of one simulated client.
// ClientID starts at 1, IterationID at 0.
type ClientContext struct {
	ClientID    int
	IterationID int64
}

func (cc ClientContext) String() string {
	return fmt.Sprintf("vu=%d iter=%d", cc.ClientID, cc.IterationID)
}

// DeriveKey returns "<prefix>-<clientId>-<iterationId>". The '-' separator
// never occurs in the decimal ids, so distinct pairs give distinct keys.
func DeriveKey(prefix string, cc ClientContext) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%d-%d", prefix, cc.ClientID, cc.IterationID)
}

// Encode turns a key into the text carried as the cache value.
func Encode(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// Decode reverses Encode.
func Decode(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(raw), nil
}
