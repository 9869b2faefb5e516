package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
)

type fakeClient struct {
	mu sync.Mutex

	info     *anycubic.SystemInfo
	status   *anycubic.Status
	name     string
	files    []anycubic.File
	infoErr  error
	filesErr error
	accept   bool
	callErr  error

	started []string
	actions []anycubic.Action
	renamed []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		info:   &anycubic.SystemInfo{Model: "Photon", FirmwareVersion: "1.0", Identifier: "ABC.12 3", WifiSSID: "home"},
		status: &anycubic.Status{Code: anycubic.StatusStopped},
		name:   "Printer",
		files:  []anycubic.File{{Name: "cube.pwms", Number: "0.pwms"}, {Name: "ring.pwms", Number: "1.pwms"}},
		accept: true,
	}
}

func (f *fakeClient) SystemInfo(ctx context.Context) (*anycubic.SystemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeClient) Status(ctx context.Context) (*anycubic.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeClient) Name(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, nil
}

func (f *fakeClient) Files(ctx context.Context) ([]anycubic.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files, f.filesErr
}

func (f *fakeClient) SetName(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, name)
	return f.accept, f.callErr
}

func (f *fakeClient) StartPrint(ctx context.Context, fileNumber string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, fileNumber)
	return f.accept, f.callErr
}

func (f *fakeClient) SetStatus(ctx context.Context, action anycubic.Action) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return f.accept, f.callErr
}

func (f *fakeClient) Preview(ctx context.Context, file string) ([]byte, error) {
	return []byte("getPreview2," + file + ","), nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func printingStatus(progress, remaining int) *anycubic.Status {
	return &anycubic.Status{
		Code: anycubic.StatusPrinting,
		Job: &anycubic.Job{
			FileName:      "cube.pwms",
			FileNumber:    "0.pwms",
			Progress:      progress,
			TimeRemaining: remaining,
		},
	}
}

func TestRefresh(t *testing.T) {
	client := newFakeClient()
	pub := &fakePublisher{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(client, WithPublisher(pub), WithClock(func() time.Time { return now }))

	if c.Available() {
		t.Error("Available() before first refresh")
	}

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap.Name != "Printer" || snap.Info.Model != "Photon" || len(snap.Files) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.LastRead.Equal(now) {
		t.Errorf("LastRead = %v, want %v", snap.LastRead, now)
	}
	if c.Snapshot() != snap || !c.Available() {
		t.Error("snapshot not stored")
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != "resinstat.ABC_12_3.snapshot" {
		t.Fatalf("published subjects = %q", pub.subjects)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["name"] != "Printer" {
		t.Errorf("payload = %s", pub.payloads[0])
	}
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	client := newFakeClient()
	c := New(client)

	first, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	cause := &anycubic.ReadTimeoutError{Addr: "printer:6000"}
	client.mu.Lock()
	client.infoErr = cause
	client.mu.Unlock()

	_, err = c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed", err)
	}
	var terr *anycubic.ReadTimeoutError
	if !errors.As(err, &terr) {
		t.Errorf("Refresh() error %v does not wrap the cause", err)
	}
	if c.Snapshot() != first {
		t.Error("failed refresh replaced the snapshot")
	}
	if c.Available() {
		t.Error("Available() after failed refresh")
	}
}

func TestRefresh_FileErrorKeepsPreviousListing(t *testing.T) {
	client := newFakeClient()
	c := New(client)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	client.mu.Lock()
	client.files = nil
	client.filesErr = errors.New("boom")
	client.mu.Unlock()

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(snap.Files) != 2 {
		t.Errorf("Files = %+v, want previous listing", snap.Files)
	}
}

func TestSubscribe(t *testing.T) {
	c := New(newFakeClient())
	ch, unsubscribe := c.Subscribe()

	// Two refreshes without reading: only the latest is kept
	c.Refresh(context.Background())
	second, _ := c.Refresh(context.Background())

	select {
	case got := <-ch:
		if got != second {
			t.Error("subscriber did not receive the latest snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
	}

	unsubscribe()
	unsubscribe()
	c.Refresh(context.Background())
	select {
	case <-ch:
		t.Error("received snapshot after unsubscribe")
	default:
	}
}

func TestRun(t *testing.T) {
	c := New(newFakeClient(), WithInterval(10*time.Millisecond))
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("refresh %d did not happen", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name    string
		status  *anycubic.Status
		command string
		file    string
		accept  bool
		wantErr error
		started string
		action  anycubic.Action
	}{
		{
			name:    "print by display name",
			status:  &anycubic.Status{Code: anycubic.StatusStopped},
			command: CommandPrint,
			file:    "ring.pwms",
			accept:  true,
			started: "1.pwms",
		},
		{
			name:    "print by device number",
			status:  &anycubic.Status{Code: anycubic.StatusFinished},
			command: CommandPrint,
			file:    "12.pwms",
			accept:  true,
			started: "12.pwms",
		},
		{
			name:    "print without file",
			status:  &anycubic.Status{Code: anycubic.StatusStopped},
			command: CommandPrint,
			wantErr: ErrFileNameRequired,
		},
		{
			name:    "print unknown file",
			status:  &anycubic.Status{Code: anycubic.StatusStopped},
			command: CommandPrint,
			file:    "missing.pwms",
			wantErr: ErrUnknownFile,
		},
		{
			name:    "print while printing",
			status:  printingStatus(10, 100),
			command: CommandPrint,
			file:    "cube.pwms",
			wantErr: ErrAlreadyInState,
		},
		{
			name:    "pause while printing",
			status:  printingStatus(10, 100),
			command: CommandPause,
			accept:  true,
			action:  anycubic.ActionPause,
		},
		{
			name:    "pause while paused",
			status:  &anycubic.Status{Code: anycubic.StatusPaused, Job: &anycubic.Job{}},
			command: CommandPause,
			wantErr: ErrAlreadyInState,
		},
		{
			name:    "resume is never already in state",
			status:  printingStatus(10, 100),
			command: CommandResume,
			accept:  true,
			action:  anycubic.ActionResume,
		},
		{
			name:    "stop while stopped",
			status:  &anycubic.Status{Code: anycubic.StatusStopped},
			command: CommandStop,
			wantErr: ErrAlreadyInState,
		},
		{
			name:    "rejected",
			status:  printingStatus(10, 100),
			command: CommandStop,
			accept:  false,
			wantErr: ErrRejected,
			action:  anycubic.ActionStop,
		},
		{
			name:    "unknown command",
			status:  &anycubic.Status{Code: anycubic.StatusStopped},
			command: "explode",
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.status = tt.status
			client.accept = tt.accept
			c := New(client)
			if _, err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}

			err := c.SendCommand(context.Background(), tt.command, tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SendCommand() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}

			if tt.started != "" && (len(client.started) != 1 || client.started[0] != tt.started) {
				t.Errorf("started = %q, want %q", client.started, tt.started)
			}
			if tt.action != "" && (len(client.actions) != 1 || client.actions[0] != tt.action) {
				t.Errorf("actions = %q, want %q", client.actions, tt.action)
			}
			if tt.wantErr != nil && !errors.Is(tt.wantErr, ErrRejected) && (len(client.started)+len(client.actions)) != 0 {
				t.Error("printer was called despite a failed precondition")
			}
		})
	}
}

func TestSendCommand_TransportError(t *testing.T) {
	client := newFakeClient()
	client.status = printingStatus(10, 100)
	cause := &anycubic.ConnectError{Addr: "printer:6000", Err: errors.New("refused")}
	client.callErr = cause
	c := New(client)
	c.Refresh(context.Background())

	err := c.SendCommand(context.Background(), CommandPause, "")
	var cerr *anycubic.ConnectError
	if !errors.As(err, &cerr) {
		t.Errorf("SendCommand() error = %v, want *ConnectError", err)
	}
}

func TestSetPrinterName(t *testing.T) {
	client := newFakeClient()
	c := New(client)

	if err := c.SetPrinterName(context.Background(), "Lab"); err != nil {
		t.Fatalf("SetPrinterName() error = %v", err)
	}
	if len(client.renamed) != 1 || client.renamed[0] != "Lab" {
		t.Errorf("renamed = %q", client.renamed)
	}

	client.accept = false
	if err := c.SetPrinterName(context.Background(), "Lab"); !errors.Is(err, ErrRejected) {
		t.Errorf("SetPrinterName() error = %v, want ErrRejected", err)
	}
}

func TestSnapshotDerivedValues(t *testing.T) {
	read := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		status     *anycubic.Status
		label      string
		percent    int
		hasPercent bool
		finish     time.Time
		hasFinish  bool
		printing   bool
	}{
		{
			name:       "printing",
			status:     printingStatus(40, 1800),
			label:      "Printing",
			percent:    40,
			hasPercent: true,
			finish:     read.Add(30 * time.Minute),
			hasFinish:  true,
			printing:   true,
		},
		{
			name:       "paused",
			status:     &anycubic.Status{Code: anycubic.StatusPaused, Job: &anycubic.Job{Progress: 70, TimeRemaining: 60}},
			label:      "Paused",
			percent:    70,
			hasPercent: true,
			finish:     read.Add(time.Minute),
			hasFinish:  true,
		},
		{
			name:       "finished",
			status:     &anycubic.Status{Code: anycubic.StatusFinished},
			label:      "Finished",
			percent:    100,
			hasPercent: true,
		},
		{
			name:   "stopped",
			status: &anycubic.Status{Code: anycubic.StatusStopped},
			label:  "Stopped",
		},
		{
			name: "no status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{Status: tt.status, LastRead: read}
			if got := s.StateLabel(); got != tt.label {
				t.Errorf("StateLabel() = %q, want %q", got, tt.label)
			}
			percent, ok := s.JobPercentage()
			if percent != tt.percent || ok != tt.hasPercent {
				t.Errorf("JobPercentage() = %d, %v", percent, ok)
			}
			finish, ok := s.EstimatedFinish()
			if !finish.Equal(tt.finish) || ok != tt.hasFinish {
				t.Errorf("EstimatedFinish() = %v, %v", finish, ok)
			}
			if s.IsPrinting() != tt.printing {
				t.Errorf("IsPrinting() = %v", s.IsPrinting())
			}
		})
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(nil); got != "resinstat.unknown.snapshot" {
		t.Errorf("Subject(nil) = %q", got)
	}
	snap := &Snapshot{Info: &anycubic.SystemInfo{Identifier: "a.b c"}}
	if got := Subject(snap); got != "resinstat.a_b_c.snapshot" {
		t.Errorf("Subject() = %q", got)
	}
}
