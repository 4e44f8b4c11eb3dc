// Package codec converts message fields to and from the URL-encoded form
// bytes that travel over the datagram channel. The wire format is exactly
// an HTML form body, so the ingress handler can forward bodies untouched.
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"
)

var ErrDecode = errors.New("payload decode failed")

// DecodeError describes a payload that could not be parsed. It matches
// ErrDecode with errors.Is.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payload: %s: %v", e.Reason, e.Err)
	}
	return "decode payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Encode serializes fields as a form body with keys in sorted order.
func Encode(fields map[string]string) []byte {
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}

// Decode parses a form body into field name -> values, in the order the
// values appeared.
func Decode(payload []byte) (map[string][]string, error) {
	if !utf8.Valid(payload) {
		return nil, &DecodeError{Reason: "payload is not valid UTF-8"}
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed form encoding", Err: err}
	}

	// Percent escapes can smuggle in bytes that are not UTF-8 on their own.
	for k, vs := range values {
		if !utf8.ValidString(k) {
			return nil, &DecodeError{Reason: fmt.Sprintf("field name %q is not valid UTF-8", k)}
		}
		for _, v := range vs {
			if !utf8.ValidString(v) {
				return nil, &DecodeError{Reason: fmt.Sprintf("value of %q is not valid UTF-8", k)}
			}
		}
	}
	return values, nil
}
