// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
)

// Statistics counts request outcomes by error kind
type Statistics struct {
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`

	// Counters
	Total         uint64 `json:"total"`
	Succeeded     uint64 `json:"succeeded"`
	ConnectErrors uint64 `json:"connect_errors"`
	Timeouts      uint64 `json:"timeouts"`
	Rejected      uint64 `json:"rejected"`
	Malformed     uint64 `json:"malformed"`
	OtherErrors   uint64 `json:"other_errors"`

	// Rates (calculated)
	RequestRate float64 `json:"request_rate"` // requests/min
	ErrorRate   float64 `json:"error_rate"`   // errors/min
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one request
func (s *Statistics) Update(err error) {
	s.Total++
	s.LastUpdateTime = time.Now()

	var (
		cerr *anycubic.ConnectError
		terr *anycubic.ReadTimeoutError
		perr *anycubic.ProtocolError
		merr *anycubic.MalformedResponseError
	)
	switch {
	case err == nil:
		s.Succeeded++
	case errors.As(err, &cerr):
		s.ConnectErrors++
	case errors.As(err, &terr), errors.Is(err, context.DeadlineExceeded):
		s.Timeouts++
	case errors.As(err, &perr), errors.Is(err, ErrRejected):
		s.Rejected++
	case errors.As(err, &merr):
		s.Malformed++
	default:
		s.OtherErrors++
	}
}

// Errors returns the number of failed requests
func (s *Statistics) Errors() uint64 {
	return s.Total - s.Succeeded
}

// CalculateRates calculates request and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Minutes()
	if elapsed > 0 {
		s.RequestRate = float64(s.Total) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var successPercent float64
	if s.Total > 0 {
		successPercent = float64(s.Succeeded) * 100.0 / float64(s.Total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests:        %8d\n", s.Total)
	result += fmt.Sprintf("Succeeded:       %8d (%.1f%%)\n", s.Succeeded, successPercent)

	if s.ConnectErrors > 0 {
		result += fmt.Sprintf("Connect Errors:  %8d\n", s.ConnectErrors)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.Rejected > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.Rejected)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.Malformed)
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}

	result += fmt.Sprintf("Request Rate:    %8.1f req/min\n", s.RequestRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/min\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
