// Package signal encodes and decodes the messages an external process uses to raise a
// hypercall in a running simulation.
//
// A message is a JSON object {"id": <handler id>, "payload": {"key": "value", ...}}.
// Keys must be identifiers, values are always strings, and the encoded message must fit
// in MaxMessageSize bytes (the size of the shared buffer it travels through).
package signal

import (
	"errors"
	"fmt"
	"math"
	"unicode"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

// MaxMessageSize is the exclusive upper bound on an encoded message.
const MaxMessageSize = 4096

// ErrInvalidMessage is returned for any malformed message or payload.
var ErrInvalidMessage = errors.New("invalid signal message")

// Message is a decoded hypercall signal.
type Message struct {
	ID      uint32            `json:"id"`
	Payload map[string]string `json:"payload"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode builds a message for id from a JSON object payload. Non-string values are
// stored as their raw JSON text.
func Encode(id uint32, payload []byte) ([]byte, error) {
	fields, err := stringFields(gjson.ParseBytes(payload), payload)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(Message{ID: id, Payload: fields})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(out) >= MaxMessageSize {
		return nil, fmt.Errorf("%w: encoded size %d must be < %d bytes", ErrInvalidMessage, len(out), MaxMessageSize)
	}
	return out, nil
}

// Decode parses a message. A missing payload decodes to an empty map.
func Decode(raw []byte) (Message, error) {
	if len(raw) >= MaxMessageSize {
		return Message{}, fmt.Errorf("%w: size %d must be < %d bytes", ErrInvalidMessage, len(raw), MaxMessageSize)
	}
	if !gjson.ValidBytes(raw) {
		return Message{}, fmt.Errorf("%w: not valid JSON", ErrInvalidMessage)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrInvalidMessage)
	}
	id := root.Get("id")
	if id.Type != gjson.Number || id.Num < 0 || id.Num > math.MaxUint32 || id.Num != math.Trunc(id.Num) {
		return Message{}, fmt.Errorf("%w: id must be a non-negative integer, got %q", ErrInvalidMessage, id.Raw)
	}
	msg := Message{ID: uint32(id.Uint()), Payload: map[string]string{}}
	payload := root.Get("payload")
	if !payload.Exists() {
		return msg, nil
	}
	fields, err := stringFields(payload, []byte(payload.Raw))
	if err != nil {
		return Message{}, err
	}
	msg.Payload = fields
	return msg, nil
}

func stringFields(obj gjson.Result, raw []byte) (map[string]string, error) {
	if !gjson.ValidBytes(raw) || !obj.IsObject() {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidMessage)
	}
	fields := make(map[string]string)
	var keyErr error
	obj.ForEach(func(key, value gjson.Result) bool {
		if !ValidKey(key.Str) {
			keyErr = fmt.Errorf("%w: invalid key format %q", ErrInvalidMessage, key.Str)
			return false
		}
		if value.Type == gjson.String {
			fields[key.Str] = value.Str
		} else {
			fields[key.Str] = value.Raw
		}
		return true
	})
	if keyErr != nil {
		return nil, keyErr
	}
	return fields, nil
}

// ValidKey reports whether key is an identifier: a letter or underscore followed by
// letters, digits or underscores.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}
