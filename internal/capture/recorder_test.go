package capture

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	chunks  chan Chunk
	mu      sync.Mutex
	stopped bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{chunks: make(chan Chunk, 16)}
}

func (d *fakeDevice) Start(ctx context.Context) (<-chan Chunk, error) {
	return d.chunks, nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDevice) wasStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) find(typ EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == typ {
			return e, true
		}
	}
	return Event{}, false
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := l.find(typ); ok {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event", typ)
	return Event{}
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeDevice, *eventLog) {
	t.Helper()
	staging, err := NewFileStaging(t.TempDir())
	if err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	device := newFakeDevice()
	events := &eventLog{}
	return NewRecorder(device, staging, events.sink, nil), device, events
}

func TestRecorderLifecycle(t *testing.T) {
	rec, device, events := newTestRecorder(t)
	ctx := context.Background()

	if rec.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", rec.State())
	}
	if err := rec.Start(ctx, "sess-1", 30*time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if rec.State() != StateRecording {
		t.Errorf("state = %s, want recording", rec.State())
	}

	device.chunks <- Chunk{Samples: []float32{0.5, -0.5, 0.25, -0.25}}
	events.waitFor(t, EventLevel)

	path, err := rec.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rec.State() != StateIdle {
		t.Errorf("state after stop = %s, want idle", rec.State())
	}
	if !device.wasStopped() {
		t.Error("device not stopped")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if info.Size() != 16 {
		t.Errorf("saved file size = %d, want 16 bytes for 4 samples", info.Size())
	}

	saved, ok := events.find(EventSaved)
	if !ok {
		t.Fatal("no saved event")
	}
	if saved.AudioPath != path {
		t.Errorf("saved event path = %s, want %s", saved.AudioPath, path)
	}
}

func TestRecorderElapsedExcludesPauses(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	base := time.Now()
	current := base
	rec.now = func() time.Time { return current }

	if err := rec.Start(context.Background(), "sess-1", 30*time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	current = base.Add(10 * time.Second)
	if err := rec.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	current = base.Add(15 * time.Second)
	if got := rec.Elapsed(); got != 10*time.Second {
		t.Errorf("elapsed while paused = %s, want 10s", got)
	}
	if err := rec.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	current = base.Add(18 * time.Second)
	if got := rec.Elapsed(); got != 13*time.Second {
		t.Errorf("elapsed after resume = %s, want 13s", got)
	}

	// Stopping while paused freezes elapsed time at the pause point
	if err := rec.Pause(); err != nil {
		t.Fatalf("second pause failed: %v", err)
	}
	current = base.Add(60 * time.Second)
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestRecorderTimeWarningsFireOnce(t *testing.T) {
	rec, _, events := newTestRecorder(t)

	base := time.Now()
	current := base
	rec.now = func() time.Time { return current }

	// Planned 10 minutes plus the buffer gives a 15 minute limit
	if err := rec.Start(context.Background(), "sess-1", 10*time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// 11 minutes in: 4 minutes remain, inside the 5 minute threshold
	current = base.Add(11 * time.Minute)
	if stopped := rec.checkDeadline(); stopped {
		t.Fatal("recorder stopped early")
	}
	warning, ok := events.find(EventTimeWarning)
	if !ok {
		t.Fatal("no warning event")
	}
	if warning.Remaining != 5*time.Minute {
		t.Errorf("warning threshold = %s, want 5m", warning.Remaining)
	}

	// Re-checking the same window must not repeat the warning
	rec.checkDeadline()
	if got := events.count(EventTimeWarning); got != 1 {
		t.Errorf("warning count = %d, want 1", got)
	}

	// 14m30s in: 30 seconds remain, inside the 1 minute threshold
	current = base.Add(14*time.Minute + 30*time.Second)
	rec.checkDeadline()
	if got := events.count(EventTimeWarning); got != 2 {
		t.Errorf("warning count = %d, want both thresholds", got)
	}

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestRecorderAutoStops(t *testing.T) {
	rec, _, events := newTestRecorder(t)

	base := time.Now()
	current := base
	rec.now = func() time.Time { return current }

	if err := rec.Start(context.Background(), "sess-1", time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	current = base.Add(time.Minute + ExtraTimeBuffer + time.Second)
	if stopped := rec.checkDeadline(); !stopped {
		t.Fatal("recorder should stop past the limit")
	}
	if rec.State() != StateIdle {
		t.Errorf("state = %s, want idle after auto-stop", rec.State())
	}
	if _, ok := events.find(EventAutoStopped); !ok {
		t.Error("no auto-stopped event")
	}
	if _, ok := events.find(EventSaved); !ok {
		t.Error("auto-stop must still save the recording")
	}
}

func TestRecorderAutoStopDisabled(t *testing.T) {
	rec, _, events := newTestRecorder(t)

	base := time.Now()
	current := base
	rec.now = func() time.Time { return current }

	if err := rec.Start(context.Background(), "sess-1", time.Minute, WithoutAutoStop()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	current = base.Add(time.Minute + ExtraTimeBuffer + time.Second)
	if stopped := rec.checkDeadline(); stopped {
		t.Fatal("recorder must keep running with auto-stop disabled")
	}
	if rec.State() != StateRecording {
		t.Errorf("state = %s, want recording past the limit", rec.State())
	}
	if _, ok := events.find(EventAutoStopped); ok {
		t.Error("unexpected auto-stopped event")
	}
	// Warnings are unaffected by the auto-stop setting
	if got := events.count(EventTimeWarning); got != 2 {
		t.Errorf("warning count = %d, want both thresholds", got)
	}

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestRecorderInvalidTransitions(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	ctx := context.Background()

	if err := rec.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause from idle = %v", err)
	}
	if err := rec.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume from idle = %v", err)
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop from idle = %v", err)
	}
	if err := rec.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reset from idle = %v", err)
	}

	if err := rec.Start(ctx, "sess-1", time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := rec.Start(ctx, "sess-2", time.Minute); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start while recording = %v", err)
	}
	if err := rec.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume while recording = %v", err)
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestRecorderDropsChunksWhilePaused(t *testing.T) {
	rec, device, events := newTestRecorder(t)
	ctx := context.Background()

	if err := rec.Start(ctx, "sess-1", time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	device.chunks <- Chunk{Samples: []float32{0.5, 0.5}}
	events.waitFor(t, EventLevel)

	if err := rec.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	device.chunks <- Chunk{Samples: []float32{0.5, 0.5}}
	// Give the capture loop a beat to drain the paused chunk
	time.Sleep(50 * time.Millisecond)

	if err := rec.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	path, err := rec.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if info.Size() != 8 {
		t.Errorf("saved file size = %d, paused chunk should be dropped", info.Size())
	}
}

func TestStagedFileFinalizePromotes(t *testing.T) {
	staging, err := NewFileStaging(t.TempDir())
	if err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	staged, err := staging.Begin("sess-1")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := staged.Write([]byte("audio")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := os.Stat(staged.partial); err != nil {
		t.Fatalf("partial file missing during capture: %v", err)
	}

	path, err := staged.Finalize()
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if _, err := os.Stat(staged.partial); !os.IsNotExist(err) {
		t.Error("partial file still present after finalize")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("final content = %q", data)
	}
}

func TestStagedFileDiscard(t *testing.T) {
	staging, err := NewFileStaging(t.TempDir())
	if err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	staged, err := staging.Begin("sess-1")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if _, err := os.Stat(staged.partial); !os.IsNotExist(err) {
		t.Error("partial file still present after discard")
	}
}
