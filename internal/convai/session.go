package convai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWSBaseURL = "wss://api.elevenlabs.io"

// EventType classifies session lifecycle events.
type EventType string

const (
	// EventConnected is delivered exactly once, before any other event.
	EventConnected EventType = "connected"
	// EventTranscript carries one utterance from either side.
	EventTranscript EventType = "transcript"
	// EventDisconnected is terminal; nothing follows it.
	EventDisconnected EventType = "disconnected"
	// EventError is terminal and replaces EventDisconnected.
	EventError EventType = "error"
)

// Event is one session lifecycle or transcript event. Events arrive in
// the order the provider emitted them.
type Event struct {
	Type  EventType
	Entry TranscriptEntry
	Err   error
}

// TranscriptEntry is one utterance of the interview conversation.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SpeakerCandidate = "candidate"
	SpeakerAgent     = "agent"
)

// ClientConfig configures the provider client.
type ClientConfig struct {
	APIKey  string
	AgentID string

	// WSBaseURL overrides the provider endpoint, used in tests.
	WSBaseURL        string
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Logger           *log.Logger
}

// Client opens conversational sessions with the voice-AI provider.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{cfg: cfg, dialer: dialer, logger: logger}
}

// serverMessage is the provider's frame envelope. Only the event kinds
// the room cares about are decoded; everything else is skipped.
type serverMessage struct {
	Type string `json:"type"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`
}

// Open dials the provider, sends the initiation payload and waits for
// the metadata frame carrying the session id. Any failure surfaces as
// a single error; Open never leaves a half-open session behind.
func (c *Client) Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s/v1/convai/conversation?agent_id=%s",
		c.cfg.WSBaseURL, url.QueryEscape(c.cfg.AgentID))

	headers := http.Header{}
	headers.Set("xi-api-key", c.cfg.APIKey)

	conn, _, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("convai: dial: %w", err)
	}

	if err := conn.WriteJSON(cfg.initiation()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("convai: send initiation: %w", err)
	}

	id, err := c.awaitMetadata(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		conn:   conn,
		id:     id,
		logger: c.logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	s.events <- Event{Type: EventConnected}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (c *Client) awaitMetadata(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("convai: waiting for session metadata: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Printf("convai: unparseable frame during handshake: %v", err)
			continue
		}
		if msg.Type != "conversation_initiation_metadata" || msg.InitiationMetadata == nil {
			continue
		}
		if msg.InitiationMetadata.ConversationID == "" {
			return "", fmt.Errorf("convai: provider sent empty conversation id")
		}
		return msg.InitiationMetadata.ConversationID, nil
	}
}

// Session is one live conversational session. Exactly one exists per
// interview attempt.
type Session struct {
	conn   *websocket.Conn
	id     string
	logger *log.Logger

	events chan Event
	done   chan struct{}

	writeMu      sync.Mutex
	closeOnce    sync.Once
	terminalOnce sync.Once
	wg           sync.WaitGroup
}

// ID returns the provider-assigned session identifier, stable from the
// moment Open returns.
func (s *Session) ID() string { return s.id }

// Events returns the ordered event stream. The channel is closed after
// the terminal event.
func (s *Session) Events() <-chan Event { return s.events }

// Close requests graceful termination. Idempotent and safe after a
// remote disconnect; it never fails even if the transport is gone.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		deadline := time.Now().Add(2 * time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()

		_ = s.conn.Close()
		s.wg.Wait()
	})
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Local close already ran; this is the graceful path.
				s.terminal(Event{Type: EventDisconnected})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.terminal(Event{Type: EventDisconnected})
				} else {
					s.terminal(Event{Type: EventError, Err: fmt.Errorf("convai: session read: %w", err)})
				}
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Printf("convai: failed to parse frame: %v", err)
			continue
		}

		switch {
		case msg.Ping != nil:
			s.pong(msg.Ping.EventID)
		case msg.UserTranscription != nil:
			s.emit(Event{Type: EventTranscript, Entry: TranscriptEntry{
				Speaker:   SpeakerCandidate,
				Text:      msg.UserTranscription.UserTranscript,
				Timestamp: time.Now().UTC(),
			}})
		case msg.AgentResponse != nil:
			s.emit(Event{Type: EventTranscript, Entry: TranscriptEntry{
				Speaker:   SpeakerAgent,
				Text:      msg.AgentResponse.AgentResponse,
				Timestamp: time.Now().UTC(),
			}})
		}
	}
}

func (s *Session) pong(eventID int) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.conn.WriteJSON(map[string]any{"type": "pong", "event_id": eventID})
	if err != nil {
		s.logger.Printf("convai: pong failed: %v", err)
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// terminal delivers the final event exactly once and closes the stream.
// The send blocks until the consumer catches up: the terminal event is
// what drives session cleanup and must never be lost to a full buffer.
func (s *Session) terminal(ev Event) {
	s.terminalOnce.Do(func() {
		select {
		case s.events <- ev:
		case <-s.done:
			// Local Close already ran; the consumer may be gone.
			select {
			case s.events <- ev:
			default:
			}
		}
		close(s.events)
	})
}
