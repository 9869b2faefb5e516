// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coordinator

import (
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
)

// Snapshot is the result of one successful refresh. Snapshots are never
// modified after they are published.
type Snapshot struct {
	Info     *anycubic.SystemInfo `json:"info"`
	Status   *anycubic.Status     `json:"status"`
	Name     string               `json:"name"`
	Files    []anycubic.File      `json:"files"`
	LastRead time.Time            `json:"last_read_time"`
}

// Code returns the status code, or "" when no status was read
func (s *Snapshot) Code() anycubic.StatusCode {
	if s == nil || s.Status == nil {
		return ""
	}
	return s.Status.Code
}

// StateLabel returns the display label of the printer state
func (s *Snapshot) StateLabel() string {
	return s.Code().Label()
}

// IsPrinting reports whether a print is running (not paused)
func (s *Snapshot) IsPrinting() bool {
	return s.Code() == anycubic.StatusPrinting
}

// JobPercentage returns the job progress. A finished job is 100%; there is no
// value unless printing, paused or finished.
func (s *Snapshot) JobPercentage() (int, bool) {
	switch s.Code() {
	case anycubic.StatusFinished:
		return 100, true
	case anycubic.StatusPrinting, anycubic.StatusPaused:
		if s.Status.Job == nil {
			return 0, true
		}
		return s.Status.Job.Progress, true
	}
	return 0, false
}

// EstimatedFinish returns when the current job should end, based on the
// remaining time reported at LastRead
func (s *Snapshot) EstimatedFinish() (time.Time, bool) {
	if !s.Code().HasJob() {
		return time.Time{}, false
	}
	var remaining time.Duration
	if s.Status.Job != nil {
		remaining = s.Status.Job.Remaining()
	}
	return s.LastRead.Add(remaining), true
}

// FileNumber looks up the device file number for a display name
func (s *Snapshot) FileNumber(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, f := range s.Files {
		if f.Name == name {
			return f.Number, true
		}
	}
	return "", false
}

// FileNames returns the display names of all files
func (s *Snapshot) FileNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		names = append(names, f.Name)
	}
	return names
}
