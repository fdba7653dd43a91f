package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotStructured is returned when model output cannot be read as a JSON
// object or array. Callers fall back to the raw text.
var ErrNotStructured = errors.New("output is not structured data")

const fence = "```"

// StripFence removes a leading fence line (optionally language tagged) and a
// trailing fence when both are the first and last non-whitespace tokens.
// Text without a complete fence pair is returned trimmed and unchanged.
func StripFence(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if len(text) < 2*len(fence) || !strings.HasPrefix(text, fence) || !strings.HasSuffix(text, fence) {
		return text, false
	}

	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return text, false
	}

	tag := strings.TrimSpace(text[len(fence):nl])
	if strings.ContainsAny(tag, "` \t{[") {
		return text, false
	}

	body := text[nl+1 : len(text)-len(fence)]
	if strings.HasSuffix(strings.TrimRight(body, " \t"), "`") {
		return text, false
	}

	return strings.TrimSpace(body), true
}

// CleanAndParse strips an optional fence and strictly decodes the remainder.
// Numbers are kept as json.Number. The result is a map[string]any or []any.
func CleanAndParse(raw string) (any, error) {
	var v any
	if err := decode(raw, &v); err != nil {
		return nil, err
	}

	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: top level value is %T", ErrNotStructured, v)
	}
}

// DecodeInto strips an optional fence and strictly decodes into target.
func DecodeInto(raw string, target any) error {
	return decode(raw, target)
}

// Normalize returns the canonical indented JSON form of raw. Feeding the
// result back into CleanAndParse yields the same value.
func Normalize(raw string) (string, error) {
	v, err := CleanAndParse(raw)
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotStructured, err)
	}
	return string(out), nil
}

// CleanMarkdown strips a surrounding fence from a markdown answer.
func CleanMarkdown(raw string) string {
	body, _ := StripFence(raw)
	return body
}

func decode(raw string, target any) error {
	body, _ := StripFence(raw)
	if body == "" {
		return fmt.Errorf("%w: empty output", ErrNotStructured)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrNotStructured, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON value", ErrNotStructured)
	}

	return nil
}
