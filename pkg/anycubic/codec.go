// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// BuildFrame joins command tokens with the delimiter and appends a trailing
// delimiter. Tokens must not contain the delimiter themselves.
func BuildFrame(commands ...string) []byte {
	size := len(commands)
	for _, c := range commands {
		size += len(c)
	}
	frame := make([]byte, 0, size)
	for _, c := range commands {
		frame = append(frame, c...)
		frame = append(frame, Delimiter)
	}
	return frame
}

// SplitTokens splits a raw response on the delimiter, drops the first
// commandCount tokens (the echoed command) and the final token (the empty
// remainder of a trailing delimiter, or "end" from the sentinel), and decodes
// each remaining token from GBK. A token that is not valid GBK is a
// *MalformedResponseError.
//
// Splitting before decoding is safe: GBK trail bytes are never below 0x40,
// so a multi-byte character cannot contain the delimiter.
func SplitTokens(raw []byte, commandCount int) ([]string, error) {
	return splitTokens(raw, commandCount, DecodeText)
}

func splitTokens(raw []byte, commandCount int, decode func([]byte) (string, error)) ([]string, error) {
	parts := bytes.Split(raw, []byte{Delimiter})
	if commandCount < 0 {
		commandCount = 0
	}
	if len(parts)-1 <= commandCount {
		return []string{}, nil
	}
	parts = parts[commandCount : len(parts)-1]

	tokens := make([]string, len(parts))
	for i, p := range parts {
		s, err := decode(p)
		if err != nil {
			return nil, &MalformedResponseError{
				Reason: fmt.Sprintf("token %d: %v", i, err),
				Raw:    raw,
			}
		}
		tokens[i] = s
	}
	return tokens, nil
}

// CheckError returns a *ProtocolError when the first token is an ERROR token.
// It runs before any shape parser.
func CheckError(command string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if perr, ok := ParseErrorToken(tokens[0]); ok {
		perr.Command = command
		return perr
	}
	return nil
}

// DecodeResponse splits raw into payload tokens for the given request and
// fails with a *ProtocolError when the printer reported an error.
func DecodeResponse(raw []byte, commands ...string) ([]string, error) {
	return decodeResponse(raw, DecodeText, commands)
}

// DecodeLabelResponse is DecodeResponse for replies carrying a user-set label
// (getname, getwifi). Tokens are decoded with DecodeLabel.
func DecodeLabelResponse(raw []byte, commands ...string) ([]string, error) {
	return decodeResponse(raw, DecodeLabel, commands)
}

func decodeResponse(raw []byte, decode func([]byte) (string, error), commands []string) ([]string, error) {
	tokens, err := splitTokens(raw, len(commands), decode)
	if err != nil {
		if merr, ok := err.(*MalformedResponseError); ok {
			merr.Command = commandName(commands)
		}
		return nil, err
	}
	if err := CheckError(commandName(commands), tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Scalar flattens the reply of a single-value command. No tokens yields an
// empty string; more than one is a shape error.
func Scalar(command string, tokens []string) (string, error) {
	switch len(tokens) {
	case 0:
		return "", nil
	case 1:
		return tokens[0], nil
	default:
		return "", malformed(command, tokens, "expected 1 token, got %d", len(tokens))
	}
}

// DecodeText converts device text (GBK) to a Go string. Bytes that are not
// valid GBK are an error.
func DecodeText(b []byte) (string, error) {
	if isASCII(b) {
		return string(b), nil
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("gbk decode: %w", err)
	}
	// The decoder substitutes U+FFFD for invalid input, and GBK has no
	// encoding of U+FFFD itself.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("gbk decode: invalid byte sequence % X", b)
	}
	return string(out), nil
}

// DecodeLabel converts a label the printer stores as it was given, such as
// its name or Wi-Fi SSID. Those are usually UTF-8 written by the vendor app;
// anything that is not valid UTF-8 is read as GBK.
func DecodeLabel(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	return DecodeText(b)
}

// EncodeText converts s to the printer's GBK encoding. Characters with no GBK
// representation are an ErrInvalidText error.
func EncodeText(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidText)
	}
	if isASCII([]byte(s)) {
		return []byte(s), nil
	}
	out, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no GBK encoding: %v", ErrInvalidText, s, err)
	}
	return out, nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func commandName(commands []string) string {
	if len(commands) == 0 {
		return ""
	}
	return commands[0]
}

// FormatFrame renders a frame or raw reply for logs, escaping non-printable bytes.
func FormatFrame(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "\\x%02X", c)
		}
	}
	return sb.String()
}
