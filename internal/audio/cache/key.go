package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key returns the content fingerprint for a synthesis request.
//
// The inputs are encoded as one JSON array, so field boundaries are unambiguous
// and map keys (at every nesting level) come out sorted. Two settings maps that
// are equal as maps always produce the same key, whatever their insertion order.
func Key(text, engine, voiceID string, settings map[string]interface{}) string {
	if settings == nil {
		settings = map[string]interface{}{}
	}
	payload, err := json.Marshal([]interface{}{text, engine, voiceID, settings})
	if err != nil {
		// Settings that JSON cannot encode (channels, funcs) still need a stable key.
		payload = []byte(fmt.Sprintf("%q|%q|%q|%#v", text, engine, voiceID, settings))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
