// Package payload normalises loosely encoded JSON node payloads.
//
// Canvas clients sometimes store a node's data as a JSON object, sometimes as a
// string holding that object, and occasionally as a string holding such a
// string. Normalize unwraps those layers up to MaxAttempts and reports why it
// gave up instead of returning a bare nil.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// MaxAttempts bounds how many string-encoded layers are unwrapped.
const MaxAttempts = 3

// Reason explains the outcome of a normalisation.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonEmpty       Reason = "empty"
	ReasonInvalidJSON Reason = "invalid_json"
	ReasonTooDeep     Reason = "too_deep"
	ReasonNotObject   Reason = "not_object"
	ReasonShape       Reason = "shape_mismatch"
)

// Result is either a parsed object or a malformed payload with a reason.
type Result struct {
	Value    map[string]any
	Attempts int
	Reason   Reason
}

// Parsed reports whether Value holds a decoded object.
func (r Result) Parsed() bool {
	return r.Reason == ReasonOK
}

// Error returns nil for a parsed result.
func (r Result) Error() error {
	if r.Parsed() {
		return nil
	}
	return fmt.Errorf("payload %s after %d attempt(s)", r.Reason, r.Attempts)
}

// Normalize decodes raw into an object, unwrapping string layers.
func Normalize(raw []byte) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{Reason: ReasonEmpty}
	}
	return normalize(trimmed, 1)
}

func normalize(raw []byte, attempt int) Result {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Result{Attempts: attempt, Reason: ReasonInvalidJSON}
	}

	switch v := value.(type) {
	case map[string]any:
		return Result{Value: v, Attempts: attempt, Reason: ReasonOK}
	case string:
		inner := bytes.TrimSpace([]byte(v))
		if len(inner) == 0 {
			return Result{Attempts: attempt, Reason: ReasonEmpty}
		}
		if attempt >= MaxAttempts {
			return Result{Attempts: attempt, Reason: ReasonTooDeep}
		}
		return normalize(inner, attempt+1)
	case nil:
		return Result{Attempts: attempt, Reason: ReasonEmpty}
	default:
		return Result{Attempts: attempt, Reason: ReasonNotObject}
	}
}

// Decode normalises raw and decodes the object into target, which must be a
// pointer to a struct with mapstructure tags. The returned Result carries the
// reason when the payload could not be normalised; target is left untouched.
func Decode(raw []byte, target any) (Result, error) {
	result := Normalize(raw)
	if !result.Parsed() {
		return result, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return result, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(result.Value); err != nil {
		return Result{Value: result.Value, Attempts: result.Attempts, Reason: ReasonShape}, nil
	}
	return result, nil
}
