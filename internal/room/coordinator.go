// Package room implements the interview session lifecycle: the
// coordinator that drives media devices and the live provider session,
// and the controller that guarantees the candidate's terminal
// transition out of the room.
package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/voiceroom/internal/convai"
	"github.com/hireloop/voiceroom/internal/eventlog"
	"github.com/hireloop/voiceroom/internal/media"
)

// Status is the coordinator's connection state.
type Status string

const (
	StatusReady        Status = "ready"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ErrSessionActive guards against starting a second session while one
// is connecting or connected.
var ErrSessionActive = errors.New("room: a session is already active")

// Snapshot is the coordinator's full state surface as the UI sees it.
type Snapshot struct {
	Status          Status                   `json:"status"`
	IsConnected     bool                     `json:"isConnected"`
	IsMuted         bool                     `json:"isMuted"`
	IsCameraOff     bool                     `json:"isCameraOff"`
	IsScreenSharing bool                     `json:"isScreenSharing"`
	AudioLevel      float64                  `json:"audioLevel"`
	SessionID       string                   `json:"sessionId,omitempty"`
	SessionEnded    bool                     `json:"sessionEnded"`
	ErrorMessage    string                   `json:"errorMessage,omitempty"`
	Transcript      []convai.TranscriptEntry `json:"transcript,omitempty"`
}

// StartForm is what the candidate submits to begin the interview.
type StartForm struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	JobOffer string `json:"jobOffer"`
	Language string `json:"language"`
}

// ProviderSession is the live session handle the coordinator owns,
// exactly one per attempt.
type ProviderSession interface {
	ID() string
	Events() <-chan convai.Event
	Close() error
}

// SessionOpener opens provider sessions.
type SessionOpener interface {
	Open(ctx context.Context, cfg convai.SessionConfig) (ProviderSession, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context, cfg convai.SessionConfig) (ProviderSession, error)

func (f OpenerFunc) Open(ctx context.Context, cfg convai.SessionConfig) (ProviderSession, error) {
	return f(ctx, cfg)
}

// TranscriptSource fetches the finalized transcript after session end.
type TranscriptSource interface {
	Fetch(ctx context.Context, sessionID string) ([]convai.TranscriptEntry, error)
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	// LevelInterval is the audio level sampling cadence.
	LevelInterval time.Duration
	// Overrides are forwarded to every session this coordinator opens.
	Overrides convai.Overrides
}

// Coordinator owns the media handles and the provider session for one
// interview attempt and exposes a unified state surface. All methods
// are safe for concurrent use.
type Coordinator struct {
	mediaDevices media.Acquirer
	opener       SessionOpener
	transcripts  TranscriptSource
	ctxStore     *ContextStore
	journal      *eventlog.Logger
	logger       *log.Logger
	cfg          CoordinatorConfig

	mu        sync.Mutex
	snap      Snapshot
	session   ProviderSession
	mic       media.Handle
	cam       media.Handle
	endOnce   *sync.Once
	attemptID string
	levelDone chan struct{}
	subs      map[int]chan Snapshot
	nextSub   int
	closed    bool
}

func NewCoordinator(
	mediaDevices media.Acquirer,
	opener SessionOpener,
	transcripts TranscriptSource,
	ctxStore *ContextStore,
	journal *eventlog.Logger,
	logger *log.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		mediaDevices: mediaDevices,
		opener:       opener,
		transcripts:  transcripts,
		ctxStore:     ctxStore,
		journal:      journal,
		logger:       logger,
		cfg:          cfg,
		// Camera starts off until the candidate turns it on.
		snap: Snapshot{Status: StatusReady, IsCameraOff: true},
		subs: map[int]chan Snapshot{},
	}
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe returns a channel of state snapshots and a cancel func.
// Slow consumers get the latest state, not every intermediate one.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 16)
	ch <- c.snap
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (c *Coordinator) publishLocked() {
	for _, ch := range c.subs {
		select {
		case ch <- c.snap:
		default:
			// Drop the oldest pending snapshot so the consumer always
			// converges on the latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.snap:
			default:
			}
		}
	}
}

// Start begins a fresh interview attempt. Valid from Ready,
// Disconnected or Error; a Connecting/Connected coordinator rejects a
// second start. Media denial degrades to muted/camera-off defaults and
// never aborts the attempt.
func (c *Coordinator) Start(ctx context.Context, form StartForm) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("room: coordinator closed")
	}
	if c.snap.Status == StatusConnecting || c.snap.Status == StatusConnected {
		c.mu.Unlock()
		return ErrSessionActive
	}

	// Claim the attempt before releasing the lock so a racing second
	// Start sees Connecting and is rejected.
	c.endOnce = &sync.Once{}
	c.attemptID = uuid.NewString()
	attemptID := c.attemptID
	c.snap = Snapshot{
		Status:      StatusConnecting,
		IsCameraOff: c.snap.IsCameraOff,
	}
	c.publishLocked()
	c.mu.Unlock()

	// Best-effort microphone. Denial means the candidate starts muted;
	// the session itself still proceeds.
	mic, err := c.mediaDevices.Acquire(ctx, media.KindAudio)
	muted := false
	if err != nil {
		muted = true
		if media.IsPermissionDenied(err) {
			c.logger.Printf("room: microphone denied, starting muted: %v", err)
		} else {
			c.logger.Printf("room: microphone unavailable, starting muted: %v", err)
		}
	}

	c.mu.Lock()
	if c.staleAttemptLocked(attemptID) {
		// Stopped or closed while the microphone was being acquired.
		c.mu.Unlock()
		media.Release(mic)
		return nil
	}
	c.mic = mic
	c.snap.IsMuted = muted
	c.publishLocked()
	c.mu.Unlock()

	c.journal.LogAsync(attemptID, eventlog.EventSessionStarted, map[string]any{
		"candidate": form.FullName,
		"job_offer": form.JobOffer,
		"muted":     muted,
	})

	session, err := c.opener.Open(ctx, c.sessionConfig(form))

	// Stop or Close may have finalized this attempt while Open was in
	// flight. A late session then has no owner: close it and keep the
	// ended snapshot instead of resurrecting a connected state.
	c.mu.Lock()
	stale := c.staleAttemptLocked(attemptID)
	if err != nil {
		if !stale {
			c.snap.Status = StatusError
			c.snap.ErrorMessage = err.Error()
			c.snap.IsConnected = false
			c.releaseMediaLocked()
			c.publishLocked()
		}
		c.mu.Unlock()

		if !stale {
			c.journal.LogAsync(attemptID, eventlog.EventProviderError, map[string]any{"error": err.Error()})
		}
		return err
	}
	if stale {
		c.mu.Unlock()
		_ = session.Close()
		return nil
	}
	c.session = session
	c.mu.Unlock()

	go c.consumeEvents(session, attemptID)
	return nil
}

func (c *Coordinator) sessionConfig(form StartForm) convai.SessionConfig {
	ic := c.ctxStore.Load()

	jobOffer := form.JobOffer
	if jobOffer == "" {
		jobOffer = ic.JobTitle
	}
	overrides := c.cfg.Overrides
	if form.Language != "" {
		overrides.Language = form.Language
	}

	return convai.SessionConfig{
		CandidateName:     form.FullName,
		JobOfferText:      jobOffer,
		CandidateSummary:  ic.CandidateSummary,
		CompanyName:       ic.CompanyName,
		TargetCompanyName: "",
		Questions:         ic.Questions,
		Overrides:         overrides,
	}
}

// consumeEvents is the single event loop per attempt. Provider events
// are handled strictly in delivery order.
func (c *Coordinator) consumeEvents(session ProviderSession, attemptID string) {
	for ev := range session.Events() {
		switch ev.Type {
		case convai.EventConnected:
			c.mu.Lock()
			if c.staleAttemptLocked(attemptID) {
				c.mu.Unlock()
				continue
			}
			c.snap.Status = StatusConnected
			c.snap.IsConnected = true
			c.snap.SessionID = session.ID()
			c.startSamplerLocked()
			c.publishLocked()
			c.mu.Unlock()

			// Persisted immediately so a reload before the terminal
			// transition can still recover the transcript.
			c.ctxStore.SetSessionID(session.ID())
			c.journal.LogAsync(attemptID, eventlog.EventProviderConnected, map[string]any{
				"session_id": session.ID(),
			})

		case convai.EventTranscript:
			c.mu.Lock()
			if c.staleAttemptLocked(attemptID) {
				c.mu.Unlock()
				continue
			}
			c.snap.Transcript = append(c.snap.Transcript, ev.Entry)
			c.publishLocked()
			c.mu.Unlock()

		case convai.EventError:
			msg := "session error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			c.mu.Lock()
			if c.staleAttemptLocked(attemptID) {
				c.mu.Unlock()
				continue
			}
			c.snap.Status = StatusError
			c.snap.ErrorMessage = msg
			c.snap.IsConnected = false
			c.snap.AudioLevel = 0
			c.stopSamplerLocked()
			c.releaseMediaLocked()
			c.session = nil
			c.publishLocked()
			c.mu.Unlock()

			c.journal.LogAsync(attemptID, eventlog.EventProviderError, map[string]any{"error": msg})
			_ = session.Close()

		case convai.EventDisconnected:
			// Remote hangup or the tail of a local close: same
			// finalize path as Stop, guarded by the attempt latch.
			c.finalize(context.Background(), session, attemptID)
		}
	}
}

// staleAttemptLocked reports whether events for attemptID may no longer
// touch the snapshot: the coordinator closed, a newer attempt took
// over, or this attempt was already finalized.
func (c *Coordinator) staleAttemptLocked(attemptID string) bool {
	return c.closed || c.attemptID != attemptID || c.snap.SessionEnded
}

// Stop ends the attempt: close the session, best-effort transcript
// fetch, flip the sessionEnded latch and release media. Idempotent,
// including after a remote disconnect already ran the same cleanup.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	attemptID := c.attemptID
	c.mu.Unlock()
	c.finalize(ctx, session, attemptID)
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, session ProviderSession, attemptID string) {
	c.mu.Lock()
	once := c.endOnce
	if c.attemptID != attemptID || c.closed {
		// A newer attempt owns the latch now, or Close already tore
		// everything down; this attempt's cleanup has nothing to do.
		once = nil
	}
	c.mu.Unlock()
	if once == nil {
		return
	}

	once.Do(func() {
		if session != nil {
			// Safe even if the remote side already disconnected.
			_ = session.Close()
		}

		// Only after the session has fully closed is the transcript
		// finalized server-side.
		var transcript []convai.TranscriptEntry
		c.mu.Lock()
		sessionID := c.snap.SessionID
		c.mu.Unlock()
		if sessionID != "" && c.transcripts != nil {
			entries, err := c.transcripts.Fetch(ctx, sessionID)
			if err != nil {
				c.logger.Printf("room: transcript fetch failed: %v", err)
			}
			transcript = entries
		}

		c.mu.Lock()
		if c.attemptID == attemptID && !c.closed {
			if transcript != nil {
				c.snap.Transcript = transcript
			}
			if c.snap.Status != StatusError {
				c.snap.Status = StatusDisconnected
			}
			c.snap.IsConnected = false
			c.snap.AudioLevel = 0
			c.snap.SessionEnded = true
			c.stopSamplerLocked()
			c.releaseMediaLocked()
			c.session = nil
			c.publishLocked()
		}
		c.mu.Unlock()

		c.journal.LogAsync(attemptID, eventlog.EventSessionEnded, map[string]any{
			"session_id":      sessionID,
			"transcript_rows": len(transcript),
		})
	})
}

// ToggleMute flips the microphone flag. Purely local: the mic handle
// stays acquired, only the level reporting stops.
func (c *Coordinator) ToggleMute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.IsMuted = !c.snap.IsMuted
	if c.snap.IsMuted {
		c.snap.AudioLevel = 0
	}
	c.publishLocked()
}

// ToggleCamera acquires or releases the camera without disturbing the
// microphone handle. A denied camera stays off.
func (c *Coordinator) ToggleCamera(ctx context.Context) {
	c.mu.Lock()
	turningOn := c.snap.IsCameraOff
	c.mu.Unlock()

	if turningOn {
		cam, err := c.mediaDevices.Acquire(ctx, media.KindVideo)
		if err != nil {
			c.logger.Printf("room: camera unavailable, staying off: %v", err)
			return
		}
		c.mu.Lock()
		media.Release(c.cam)
		c.cam = cam
		c.snap.IsCameraOff = false
		c.publishLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	media.Release(c.cam)
	c.cam = nil
	c.snap.IsCameraOff = true
	c.publishLocked()
	c.mu.Unlock()
}

// ToggleScreenShare flips the local screen-share flag.
func (c *Coordinator) ToggleScreenShare() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.IsScreenSharing = !c.snap.IsScreenSharing
	c.publishLocked()
}

// Close releases every resource regardless of connection state: the
// unmount/navigation-away path. It does not flip the sessionEnded
// latch; the controller decides the terminal transition.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	session := c.session
	c.session = nil
	c.stopSamplerLocked()
	c.releaseMediaLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
}

// startSamplerLocked begins audio level sampling for the attempt.
func (c *Coordinator) startSamplerLocked() {
	if c.levelDone != nil {
		return
	}
	done := make(chan struct{})
	c.levelDone = done
	go c.sampleLevels(done)
}

func (c *Coordinator) stopSamplerLocked() {
	if c.levelDone != nil {
		close(c.levelDone)
		c.levelDone = nil
	}
}

// sampleLevels recomputes the audio level on a fixed cadence while
// connected and unmuted. Visualization only; never drives control
// decisions.
func (c *Coordinator) sampleLevels(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			var level float64
			if c.snap.IsConnected && !c.snap.IsMuted && c.mic != nil {
				level = c.mic.Level()
			}
			if level != c.snap.AudioLevel {
				c.snap.AudioLevel = level
				c.publishLocked()
			}
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) releaseMediaLocked() {
	media.Release(c.mic)
	media.Release(c.cam)
	c.mic = nil
	c.cam = nil
}
