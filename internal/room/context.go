package room

import (
	"encoding/json"
	"log"

	"github.com/hireloop/voiceroom/internal/kvstore"
)

// InterviewContext is the cross-navigation state for one interview:
// written by the upstream application/invitation flow, read here.
// Exactly one of an authenticated candidate identity or a guest
// interview id decides the terminal-transition branch; neither present
// is the generic thank-you fallback, never an error.
type InterviewContext struct {
	JobID            string
	JobTitle         string
	CompanyName      string
	Requirements     []string
	CandidateSummary string
	Questions        []string
	GuestInterviewID string
	ApplicationID    string
}

// Identity is the authenticated candidate, when there is one.
type Identity struct {
	CandidateID string
	Email       string
}

// ContextStore adapts the durable key-value store to the typed
// InterviewContext, so the session core never touches raw keys.
type ContextStore struct {
	kv     kvstore.Store
	logger *log.Logger
}

func NewContextStore(kv kvstore.Store, logger *log.Logger) *ContextStore {
	if logger == nil {
		logger = log.Default()
	}
	return &ContextStore{kv: kv, logger: logger}
}

// Load reads the interview context. Missing or malformed keys degrade
// to zero values; metadata gaps never block an interview.
func (s *ContextStore) Load() InterviewContext {
	get := func(key string) string {
		v, _ := s.kv.Get(key)
		return v
	}
	return InterviewContext{
		JobID:            get(kvstore.KeyJobID),
		JobTitle:         get(kvstore.KeyJobTitle),
		CompanyName:      get(kvstore.KeyCompanyName),
		Requirements:     s.stringArray(kvstore.KeyJobRequirements),
		CandidateSummary: get(kvstore.KeyCandidateSummary),
		Questions:        s.stringArray(kvstore.KeyJobOfferQuestions),
		GuestInterviewID: get(kvstore.KeyGuestInterviewID),
		ApplicationID:    get(kvstore.KeyApplicationID),
	}
}

// Save writes the interview context back for downstream pages.
func (s *ContextStore) Save(ic InterviewContext) {
	set := func(key, value string) {
		if err := s.kv.Set(key, value); err != nil {
			s.logger.Printf("context: persist %s: %v", key, err)
		}
	}
	set(kvstore.KeyJobID, ic.JobID)
	set(kvstore.KeyJobTitle, ic.JobTitle)
	set(kvstore.KeyCompanyName, ic.CompanyName)
	set(kvstore.KeyJobRequirements, encodeArray(ic.Requirements))
	set(kvstore.KeyCandidateSummary, ic.CandidateSummary)
	set(kvstore.KeyJobOfferQuestions, encodeArray(ic.Questions))
	if ic.GuestInterviewID != "" {
		set(kvstore.KeyGuestInterviewID, ic.GuestInterviewID)
	}
	if ic.ApplicationID != "" {
		set(kvstore.KeyApplicationID, ic.ApplicationID)
	}
}

// SetSessionID persists the provider session id the moment it is
// known, so a page reload before the terminal transition can still
// find the transcript.
func (s *ContextStore) SetSessionID(id string) {
	if err := s.kv.Set(kvstore.KeyDebugSessionID, id); err != nil {
		s.logger.Printf("context: persist session id: %v", err)
	}
}

func (s *ContextStore) SessionID() string {
	v, _ := s.kv.Get(kvstore.KeyDebugSessionID)
	return v
}

// ClearStaleSession drops the session identifier left by a previous
// attempt so a new attempt never reuses it.
func (s *ContextStore) ClearStaleSession() {
	if err := s.kv.Delete(kvstore.KeyDebugSessionID); err != nil {
		s.logger.Printf("context: clear stale session id: %v", err)
	}
}

// AuthToken returns the stored bearer token, empty for guests.
func (s *ContextStore) AuthToken() string {
	v, _ := s.kv.Get(kvstore.KeyAuthToken)
	return v
}

func (s *ContextStore) stringArray(key string) []string {
	raw, ok := s.kv.Get(key)
	if !ok || raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Printf("context: malformed array in %s: %v", key, err)
		return nil
	}
	return out
}

func encodeArray(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
