// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidText is returned before anything is sent when an argument cannot
// be put on the wire: it contains the delimiter or has no GBK encoding.
var ErrInvalidText = errors.New("invalid printer text")

// ConnectError is returned when the TCP connection could not be established
type ConnectError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to printer at %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReadTimeoutError is returned when a sentinel-terminated response went idle
// before ",end" arrived. Partial holds whatever was read.
type ReadTimeoutError struct {
	Addr    string
	Partial []byte
}

// Error implements the error interface
func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("read from %s timed out after %d bytes without %q", e.Addr, len(e.Partial), Sentinel)
}

// Timeout reports true so callers checking net.Error-like behaviour treat it as a timeout
func (e *ReadTimeoutError) Timeout() bool {
	return true
}

// ProtocolError is reported by the printer through an ERROR token in place of a payload
type ProtocolError struct {
	Command string
	Token   string
	Code    int
	HasCode bool
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("failed to run command %q", e.Command)
	if e.HasCode {
		msg += fmt.Sprintf(" (error %d)", e.Code)
	}
	return msg
}

// Is matches another *ProtocolError with the same code, so callers can test
// errors.Is(err, &ProtocolError{Code: ErrCodeNoMedia, HasCode: true}).
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.HasCode == e.HasCode && t.Code == e.Code
}

// ParseErrorToken parses an ERROR token. The numeric code is the run of digits
// at the end of the token; "ERROR" alone carries no code. It returns false
// when token is not an error token.
func ParseErrorToken(token string) (*ProtocolError, bool) {
	if !strings.HasPrefix(token, ErrorPrefix) {
		return nil, false
	}
	perr := &ProtocolError{Token: token}

	rest := token[len(ErrorPrefix):]
	i := len(rest)
	for i > 0 && rest[i-1] >= '0' && rest[i-1] <= '9' {
		i--
	}
	if digits := rest[i:]; digits != "" {
		if code, err := strconv.Atoi(digits); err == nil {
			perr.Code = code
			perr.HasCode = true
		}
	}
	return perr, true
}

// MalformedResponseError is returned when a reply does not have the shape
// expected for its command
type MalformedResponseError struct {
	Command string
	Reason  string
	Tokens  []string
	Raw     []byte
}

// Error implements the error interface
func (e *MalformedResponseError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("malformed response: %s", e.Reason)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Command, e.Reason)
}

func malformed(command string, tokens []string, format string, args ...interface{}) *MalformedResponseError {
	return &MalformedResponseError{
		Command: command,
		Reason:  fmt.Sprintf(format, args...),
		Tokens:  tokens,
	}
}
