// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package anycubic implements a client for the text protocol spoken by
// Wi-Fi enabled Anycubic resin printers on TCP port 6000.
//
// A request is one or more comma-joined command tokens with a trailing comma.
// The printer echoes the command, appends its comma-separated payload and
// terminates the reply with ",end". The preview command is the exception: it
// streams binary data and never sends the terminator, so it is collected
// until the connection goes idle.
package anycubic

import "time"

// Framing
const (
	Delimiter = ','
	Sentinel  = ",end"

	// FileSeparator splits "<name>/<number>" file tokens.
	FileSeparator = "/"
)

// Network defaults
const (
	DefaultPort           = 6000
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 1 * time.Second

	readBufferSize = 8192
)

// Command names
const (
	CmdGetStatus  = "getstatus"
	CmdGetName    = "getname"
	CmdSetName    = "setname"
	CmdGetWifi    = "getwifi"
	CmdGetSysInfo = "getsysinfo"
	CmdGetFile    = "getfile"
	CmdGetPara    = "getpara"
	CmdGetMode    = "getmode"
	CmdGetPreview = "getPreview2"
	CmdGoStart    = "gostart"
	CmdGoPause    = "gopause"
	CmdGoResume   = "goresume"
	CmdGoStop     = "gostop"
)

// ErrorPrefix marks the first payload token of a failed command.
const ErrorPrefix = "ERROR"

// ErrCodeNoMedia is reported by getfile when no USB drive is inserted.
const ErrCodeNoMedia = 1

// StatusCode is the first token of a getstatus reply
type StatusCode string

// Status codes reported by the printer
const (
	StatusPrinting StatusCode = "print"
	StatusPaused   StatusCode = "pause"
	StatusFinished StatusCode = "finish"
	StatusStopped  StatusCode = "stop"
)

var statusLabels = map[StatusCode]string{
	StatusPrinting: "Printing",
	StatusPaused:   "Paused",
	StatusFinished: "Finished",
	StatusStopped:  "Stopped",
}

// Label returns a display label for the code. Unknown codes are returned as-is.
func (c StatusCode) Label() string {
	if label, ok := statusLabels[c]; ok {
		return label
	}
	return string(c)
}

// HasJob reports whether the printer sends job details with this code.
func (c StatusCode) HasJob() bool {
	return c == StatusPrinting || c == StatusPaused
}

// Action is a job transition accepted by SetStatus.
type Action string

// Job transitions. The wire command is "go" + action.
const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// Command returns the wire command for the action.
func (a Action) Command() string {
	return "go" + string(a)
}

// Valid reports whether a is one of the known transitions.
func (a Action) Valid() bool {
	switch a {
	case ActionPause, ActionResume, ActionStop:
		return true
	}
	return false
}
