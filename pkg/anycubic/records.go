// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"strconv"
	"strings"
	"time"
)

// jobTokenCount is the number of getstatus tokens after the status code while
// a job is printing or paused.
const jobTokenCount = 11

// sysInfoTokenCount is the number of getsysinfo tokens
const sysInfoTokenCount = 4

// Status is a decoded getstatus reply. Job is nil unless the code is print or pause.
type Status struct {
	Code StatusCode `json:"code"`
	*Job
}

// Job holds the details of the current print
type Job struct {
	FileName      string  `json:"file_name"`
	FileNumber    string  `json:"file_number"`
	Progress      int     `json:"progress"`
	CurrentLayer  int     `json:"current_layer"`
	TotalLayers   int     `json:"total_layers"`
	TimeTotal     int     `json:"time_total"`
	TimeRemaining int     `json:"time_remaining"`
	ResinLabel    string  `json:"resin_label"`
	Material      string  `json:"type"`
	Resin         string  `json:"resin"`
	LayerHeight   float64 `json:"layer_height"`
	Other         string  `json:"other"`
}

// Remaining returns the remaining print time
func (j *Job) Remaining() time.Duration {
	return time.Duration(j.TimeRemaining) * time.Second
}

// Total returns the total print time
func (j *Job) Total() time.Duration {
	return time.Duration(j.TimeTotal) * time.Second
}

// SystemInfo is a decoded getsysinfo reply
type SystemInfo struct {
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
	Identifier      string `json:"identifier"`
	WifiSSID        string `json:"wifi_ssid"`
}

// File is one entry of the getfile listing. Number is what gostart expects.
type File struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// ParseStatus builds a Status from getstatus tokens.
//
// Job token layout after the code:
//
//	file/number, progress, current layer, total layers, total time,
//	remaining time, resin label, material, resin volume, layer height, other
func ParseStatus(tokens []string) (*Status, error) {
	if len(tokens) == 0 {
		return nil, malformed(CmdGetStatus, tokens, "empty status")
	}
	status := &Status{Code: StatusCode(tokens[0])}
	if !status.Code.HasJob() {
		return status, nil
	}

	extra := tokens[1:]
	if len(extra) != jobTokenCount {
		return nil, malformed(CmdGetStatus, tokens, "expected %d job tokens, got %d", jobTokenCount, len(extra))
	}

	name, number, ok := strings.Cut(extra[0], FileSeparator)
	if !ok {
		return nil, malformed(CmdGetStatus, tokens, "file token %q has no %q separator", extra[0], FileSeparator)
	}

	job := &Job{
		FileName:   name,
		FileNumber: number,
		ResinLabel: extra[6],
		Material:   extra[7],
		Resin:      extra[8] + "mL",
		Other:      extra[10],
	}

	ints := []struct {
		field string
		token string
		dst   *int
	}{
		{"progress", extra[1], &job.Progress},
		{"current layer", extra[2], &job.CurrentLayer},
		{"total layers", extra[3], &job.TotalLayers},
		{"total time", extra[4], &job.TimeTotal},
		{"remaining time", extra[5], &job.TimeRemaining},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(f.token)
		if err != nil {
			return nil, malformed(CmdGetStatus, tokens, "%s %q is not an integer", f.field, f.token)
		}
		*f.dst = v
	}

	height, err := strconv.ParseFloat(extra[9], 64)
	if err != nil {
		return nil, malformed(CmdGetStatus, tokens, "layer height %q is not a number", extra[9])
	}
	job.LayerHeight = height

	status.Job = job
	return status, nil
}

// ParseSystemInfo builds a SystemInfo from exactly four getsysinfo tokens
func ParseSystemInfo(tokens []string) (*SystemInfo, error) {
	if len(tokens) != sysInfoTokenCount {
		return nil, malformed(CmdGetSysInfo, tokens, "expected %d tokens, got %d", sysInfoTokenCount, len(tokens))
	}
	return &SystemInfo{
		Model:           tokens[0],
		FirmwareVersion: tokens[1],
		Identifier:      tokens[2],
		WifiSSID:        tokens[3],
	}, nil
}

// ParseFiles builds the file listing from "<name>/<number>" tokens
func ParseFiles(tokens []string) ([]File, error) {
	files := make([]File, 0, len(tokens))
	for _, t := range tokens {
		parts := strings.Split(t, FileSeparator)
		if len(parts) != 2 {
			return nil, malformed(CmdGetFile, tokens, "file token %q does not have 2 parts", t)
		}
		files = append(files, File{Name: parts[0], Number: parts[1]})
	}
	return files, nil
}

// ParseMode parses the single integer returned by getmode
func ParseMode(tokens []string) (int, error) {
	s, err := Scalar(CmdGetMode, tokens)
	if err != nil {
		return 0, err
	}
	mode, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed(CmdGetMode, tokens, "mode %q is not an integer", s)
	}
	return mode, nil
}
