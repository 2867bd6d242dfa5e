package media

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDeniedAcquirer(t *testing.T) {
	var a Denied

	for _, kind := range []Kind{KindAudio, KindVideo} {
		t.Run(string(kind), func(t *testing.T) {
			h, err := a.Acquire(context.Background(), kind)
			if h != nil {
				t.Error("denied acquire should not return a handle")
			}
			if !IsPermissionDenied(err) {
				t.Errorf("err = %v, want permission denial", err)
			}

			var pe *PermissionError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %T, want *PermissionError", err)
			}
			if pe.Kind != kind {
				t.Errorf("PermissionError.Kind = %q, want %q", pe.Kind, kind)
			}
		})
	}
}

func TestIsPermissionDeniedOnWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("start attempt: %w", &PermissionError{Kind: KindAudio})
	if !IsPermissionDenied(wrapped) {
		t.Error("IsPermissionDenied should see through wrapping")
	}
	if IsPermissionDenied(errors.New("network down")) {
		t.Error("IsPermissionDenied should reject unrelated errors")
	}
}

func TestReleaseIsNilSafeAndIdempotent(t *testing.T) {
	Release(nil) // must not panic

	h := &stubHandle{kind: KindVideo, live: true}
	Release(h)
	Release(h)

	if h.stops != 2 {
		t.Errorf("stops = %d, want 2 calls recorded", h.stops)
	}
	if h.live {
		t.Error("handle should not be live after Release")
	}
}

func TestRMSLevel(t *testing.T) {
	if got := rmsS16(nil); got != 0 {
		t.Errorf("rmsS16(nil) = %f, want 0", got)
	}

	silence := make([]byte, 64)
	if got := rmsS16(silence); got != 0 {
		t.Errorf("rmsS16(silence) = %f, want 0", got)
	}

	// Full-scale square wave: alternating +32767/-32768 samples.
	loud := make([]byte, 64)
	for i := 0; i+3 < len(loud); i += 4 {
		loud[i], loud[i+1] = 0xFF, 0x7F // 32767
		loud[i+2], loud[i+3] = 0x00, 0x80 // -32768
	}
	got := rmsS16(loud)
	if got < 0.9 || got > 1.0 {
		t.Errorf("rmsS16(full scale) = %f, want close to 1", got)
	}
}

func TestLooksLikeDenial(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"/dev/video0: Permission denied", true},
		{"ALSA: Operation not permitted", true},
		{"default: Access denied by policy", true},
		{"Connection refused", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeDenial(tt.stderr); got != tt.want {
			t.Errorf("looksLikeDenial(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

type stubHandle struct {
	kind  Kind
	live  bool
	stops int
}

func (s *stubHandle) Kind() Kind     { return s.kind }
func (s *stubHandle) Live() bool     { return s.live }
func (s *stubHandle) Level() float64 { return 0 }
func (s *stubHandle) Stop() error {
	s.stops++
	s.live = false
	return nil
}
