package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FFmpegAcquirer captures host devices through an ffmpeg child process.
// Used for kiosk deployments where the room service owns the physical
// microphone/camera instead of a browser.
type FFmpegAcquirer struct {
	Command string // defaults to "ffmpeg"

	AudioInputFormat string // e.g. "pulse"
	AudioDevice      string // e.g. "default"
	SampleRate       int
	Channels         int

	VideoInputFormat string // e.g. "v4l2"
	VideoDevice      string // e.g. "/dev/video0"
}

func (a *FFmpegAcquirer) Acquire(ctx context.Context, kind Kind) (Handle, error) {
	command := a.Command
	if command == "" {
		command = "ffmpeg"
	}

	var args []string
	switch kind {
	case KindAudio:
		sampleRate := a.SampleRate
		if sampleRate <= 0 {
			sampleRate = 16000
		}
		channels := a.Channels
		if channels <= 0 {
			channels = 1
		}
		format := a.AudioInputFormat
		if format == "" {
			format = "pulse"
		}
		device := a.AudioDevice
		if device == "" {
			device = "default"
		}
		args = []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-f", format,
			"-i", device,
			"-ac", strconv.Itoa(channels),
			"-ar", strconv.Itoa(sampleRate),
			"-f", "s16le",
			"-",
		}
	case KindVideo:
		format := a.VideoInputFormat
		if format == "" {
			format = "v4l2"
		}
		device := a.VideoDevice
		if device == "" {
			device = "/dev/video0"
		}
		args = []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-f", format,
			"-i", device,
			"-f", "null",
			"-",
		}
	default:
		return nil, fmt.Errorf("media: unknown device kind %q", kind)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg fails fast on a missing or refused device; give it a
	// moment so denial surfaces here instead of on first read.
	select {
	case err := <-waitErr:
		startupErr := fmt.Errorf("media: ffmpeg exited before capture started: %w: %s",
			orExitedEarly(err), strings.TrimSpace(stderr.String()))
		if looksLikeDenial(stderr.String()) {
			return nil, &PermissionError{Kind: kind, Cause: startupErr}
		}
		return nil, startupErr
	case <-time.After(250 * time.Millisecond):
	}

	h := &ffmpegHandle{
		kind:    kind,
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}
	h.live.Store(true)
	if kind == KindAudio {
		go h.levelLoop()
	} else {
		go h.drainLoop()
	}
	return h, nil
}

func orExitedEarly(err error) error {
	if err != nil {
		return err
	}
	return errors.New("exited early")
}

func looksLikeDenial(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "operation not permitted") ||
		strings.Contains(lower, "access denied")
}

type ffmpegHandle struct {
	kind   Kind
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	live      atomic.Bool
	levelBits atomic.Uint64

	stopOnce sync.Once
	stopErr  error
}

func (h *ffmpegHandle) Kind() Kind { return h.kind }

func (h *ffmpegHandle) Live() bool { return h.live.Load() }

func (h *ffmpegHandle) Level() float64 {
	if h.kind != KindAudio || !h.live.Load() {
		return 0
	}
	return math.Float64frombits(h.levelBits.Load())
}

// levelLoop keeps a rolling RMS of the s16le stream so the UI can draw
// an input meter. The value is visualization only.
func (h *ffmpegHandle) levelLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.stdout.Read(buf)
		if n > 1 {
			h.levelBits.Store(math.Float64bits(rmsS16(buf[:n])))
		}
		if err != nil {
			h.live.Store(false)
			h.levelBits.Store(0)
			return
		}
	}
}

// drainLoop consumes video output so ffmpeg never blocks on a full pipe.
func (h *ffmpegHandle) drainLoop() {
	buf := make([]byte, 4096)
	for {
		if _, err := h.stdout.Read(buf); err != nil {
			h.live.Store(false)
			return
		}
	}
}

func rmsS16(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(chunk); i += 2 {
		s := int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8)
		v := float64(s) / 32768
		sum += v * v
	}
	level := math.Sqrt(sum / float64(samples))
	if level > 1 {
		level = 1
	}
	return level
}

func (h *ffmpegHandle) Stop() error {
	h.stopOnce.Do(func() {
		h.live.Store(false)
		h.levelBits.Store(0)

		if h.process != nil {
			_ = h.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-h.waitErr:
			if ok {
				h.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if h.process != nil {
				_ = h.process.Kill()
			}
			if err, ok := <-h.waitErr; ok {
				h.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := h.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if h.stopErr == nil {
				h.stopErr = closeErr
			}
		}
	})
	return h.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	// Interrupting capture makes ffmpeg exit non-zero; that is the
	// expected shutdown path, not a failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
