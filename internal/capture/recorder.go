package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dkessler/classpulse/internal/logger"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StatePaused     State = "paused"
	StateStopping   State = "stopping"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Warning thresholds on remaining time, emitted once each per recording.
var warningThresholds = []time.Duration{5 * time.Minute, time.Minute}

// ExtraTimeBuffer is added on top of the planned lesson length before the
// recorder force-stops, so a lesson running slightly long is not cut off.
const ExtraTimeBuffer = 5 * time.Minute

// ErrInvalidTransition is returned when an operation is not legal in the
// recorder's current state.
var ErrInvalidTransition = errors.New("invalid recorder state transition")

// Chunk is one batch of captured audio samples in the range [-1, 1].
type Chunk struct {
	Samples []float32
}

// Device abstracts the audio input so the recorder can be tested without
// hardware.
type Device interface {
	Start(ctx context.Context) (<-chan Chunk, error)
	Stop() error
}

// Event is emitted by the recorder on state changes and capture milestones.
type Event struct {
	Type      EventType
	State     State
	Remaining time.Duration // set on warning events
	Level     float64       // set on level events, RMS in [0, 1]
	AudioPath string        // set on saved events
	Err       error         // set on error events
}

// EventType names a recorder event.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventTimeWarning  EventType = "time_warning"
	EventLevel        EventType = "level"
	EventAutoStopped  EventType = "auto_stopped"
	EventSaved        EventType = "saved"
	EventError        EventType = "error"
)

// EventSink consumes recorder events. Called from the recorder's goroutine;
// implementations must not block.
type EventSink func(Event)

// Recorder captures classroom audio through a device, tracks elapsed time
// excluding pauses, warns as the planned lesson length approaches, and
// force-stops once the extra-time buffer is used up. Audio is staged to
// durable storage before the saved event fires.
type Recorder struct {
	device  Device
	staging *FileStaging
	sink    EventSink
	log     *logger.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       State
	sessionID   string
	autoStop    bool
	maxDuration time.Duration
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	warned      map[time.Duration]bool
	staged      *StagedFile

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewRecorder creates an idle recorder.
// Parameters:
//   - device: audio input.
//   - staging: durable staging area for captured audio.
//   - sink: event consumer; nil discards events.
//   - log: logger; nil uses the default.
// Returns:
//   - *Recorder: initialized recorder in StateIdle.
func NewRecorder(device Device, staging *FileStaging, sink EventSink, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.GetDefault()
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Recorder{
		device:  device,
		staging: staging,
		sink:    sink,
		log:     log,
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns recording time excluding pauses.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

func (r *Recorder) elapsedLocked() time.Duration {
	if r.startedAt.IsZero() {
		return 0
	}
	elapsed := r.now().Sub(r.startedAt) - r.pausedTotal
	if r.state == StatePaused {
		elapsed -= r.now().Sub(r.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

// Remaining returns time left before the forced stop.
func (r *Recorder) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.maxDuration - r.elapsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// StartOption adjusts one recording session.
type StartOption func(*startOptions)

type startOptions struct {
	autoStop bool
}

// WithoutAutoStop disables the forced stop at the time limit for this
// session. Time warnings still fire.
func WithoutAutoStop() StartOption {
	return func(o *startOptions) { o.autoStop = false }
}

// Start begins capturing for a session.
// Parameters:
//   - ctx: context bounding the capture goroutines.
//   - sessionID: session the recording belongs to.
//   - plannedDuration: expected lesson length; the recorder allows this plus
//     the extra-time buffer before force-stopping.
//   - opts: per-session options such as WithoutAutoStop.
// Returns:
//   - error: ErrInvalidTransition unless idle; device or staging errors.
func (r *Recorder) Start(ctx context.Context, sessionID string, plannedDuration time.Duration, opts ...StartOption) error {
	options := startOptions{autoStop: true}
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, r.state)
	}

	staged, err := r.staging.Begin(sessionID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	chunks, err := r.device.Start(runCtx)
	if err != nil {
		cancel()
		staged.Discard()
		return fmt.Errorf("failed to start audio device: %w", err)
	}

	r.sessionID = sessionID
	r.autoStop = options.autoStop
	r.maxDuration = plannedDuration + ExtraTimeBuffer
	r.startedAt = r.now()
	r.pausedTotal = 0
	r.pausedAt = time.Time{}
	r.warned = make(map[time.Duration]bool)
	r.staged = staged
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	r.setStateLocked(StateRecording)

	go r.captureLoop(runCtx, chunks)
	go r.tickLoop(runCtx)
	return nil
}

// Pause suspends capture; paused time does not count toward elapsed time.
// Parameters: none.
// Returns:
//   - error: ErrInvalidTransition unless recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, r.state)
	}
	r.pausedAt = r.now()
	r.setStateLocked(StatePaused)
	return nil
}

// Resume continues capture after a pause.
// Parameters: none.
// Returns:
//   - error: ErrInvalidTransition unless paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, r.state)
	}
	r.pausedTotal += r.now().Sub(r.pausedAt)
	r.pausedAt = time.Time{}
	r.setStateLocked(StateRecording)
	return nil
}

// Stop ends the recording, finalizes the staged audio, and emits the saved
// event. The recorder passes through stopping and processing before
// returning to idle.
// Parameters: none.
// Returns:
//   - string: path of the durable staged recording.
//   - error: ErrInvalidTransition unless recording or paused; staging errors.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return "", fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, state)
	}
	if r.state == StatePaused {
		// Close out the open pause so elapsed time stays fixed
		r.pausedTotal += r.now().Sub(r.pausedAt)
		r.pausedAt = time.Time{}
	}
	r.setStateLocked(StateStopping)
	cancel := r.cancel
	done := r.doneCh
	r.mu.Unlock()

	cancel()
	<-done
	if err := r.device.Stop(); err != nil {
		r.log.WithError(err).Warn("Audio device stop reported error")
	}

	r.mu.Lock()
	r.setStateLocked(StateProcessing)
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()

	path, err := staged.Finalize()
	if err != nil {
		r.mu.Lock()
		r.setStateLocked(StateError)
		r.mu.Unlock()
		r.sink(Event{Type: EventError, State: StateError, Err: err})
		return "", err
	}

	// The audio is durable on disk before anyone hears about it
	r.sink(Event{Type: EventSaved, State: StateProcessing, AudioPath: path})

	r.mu.Lock()
	r.setStateLocked(StateIdle)
	r.mu.Unlock()
	return path, nil
}

// Reset returns an errored recorder to idle so a new recording can start.
// Parameters: none.
// Returns:
//   - error: ErrInvalidTransition unless in the error state.
func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateError {
		return fmt.Errorf("%w: cannot reset from %s", ErrInvalidTransition, r.state)
	}
	r.setStateLocked(StateIdle)
	return nil
}

func (r *Recorder) setStateLocked(s State) {
	r.state = s
	r.sink(Event{Type: EventStateChanged, State: s})
}

// captureLoop drains device chunks, meters level, and appends raw samples to
// the staging file. Chunks arriving while paused are dropped.
func (r *Recorder) captureLoop(ctx context.Context, chunks <-chan Chunk) {
	defer close(r.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			r.mu.Lock()
			recording := r.state == StateRecording
			staged := r.staged
			r.mu.Unlock()
			if !recording || staged == nil {
				continue
			}

			r.sink(Event{Type: EventLevel, State: StateRecording, Level: rms(chunk.Samples)})
			if err := writeSamples(staged, chunk.Samples); err != nil {
				r.log.WithError(err).Error("Failed to stage audio chunk")
			}
		}
	}
}

// tickLoop checks remaining time once per second for warnings and the
// forced stop.
func (r *Recorder) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.checkDeadline() {
				return
			}
		}
	}
}

// checkDeadline emits pending time warnings and force-stops at the limit,
// unless auto-stop was disabled for the session. Returns true once the
// recorder auto-stopped.
func (r *Recorder) checkDeadline() bool {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		r.mu.Unlock()
		return true
	}
	remaining := r.maxDuration - r.elapsedLocked()
	var warnings []time.Duration
	for _, threshold := range warningThresholds {
		if remaining <= threshold && !r.warned[threshold] {
			r.warned[threshold] = true
			warnings = append(warnings, threshold)
		}
	}
	expired := remaining <= 0
	autoStop := r.autoStop
	sessionID := r.sessionID
	r.mu.Unlock()

	for _, threshold := range warnings {
		r.sink(Event{Type: EventTimeWarning, State: StateRecording, Remaining: threshold})
	}
	if !expired || !autoStop {
		return false
	}

	r.log.WithField(logger.FieldSessionID, sessionID).Warn("Recording hit the time limit, stopping")
	r.sink(Event{Type: EventAutoStopped, State: StateStopping})
	if _, err := r.Stop(); err != nil {
		r.log.WithError(err).Error("Auto-stop failed")
	}
	return true
}

// rms computes the root mean square level of a sample batch.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// writeSamples appends samples as little-endian float32 PCM.
func writeSamples(w *StagedFile, samples []float32) error {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	_, err := w.Write(buf)
	return err
}
