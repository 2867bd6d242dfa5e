package convai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const defaultAPIBaseURL = "https://api.elevenlabs.io"

// TranscriptFetcher retrieves the finalized transcript for an ended
// session from the provider's REST API. Retrieval is best-effort: a
// missing transcript must never block the interview's terminal
// transition, so every non-2xx outcome (401 included) yields a nil
// transcript and a nil error.
type TranscriptFetcher struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

type TranscriptFetcherConfig struct {
	APIKey     string
	BaseURL    string // overrides the provider endpoint, used in tests
	HTTPClient *http.Client
	Logger     *log.Logger
}

func NewTranscriptFetcher(cfg TranscriptFetcherConfig) *TranscriptFetcher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &TranscriptFetcher{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// conversationResponse is the subset of the provider's conversation
// detail payload the room needs.
type conversationResponse struct {
	Transcript []struct {
		Role           string  `json:"role"`
		Message        string  `json:"message"`
		TimeInCallSecs float64 `json:"time_in_call_secs"`
	} `json:"transcript"`
	Metadata struct {
		StartTimeUnixSecs int64 `json:"start_time_unix_secs"`
	} `json:"metadata"`
}

// Fetch retrieves the transcript for sessionID. Call only after the
// session has fully closed; before that the provider has not finalized
// it. Returns (nil, nil) on any non-2xx response.
func (f *TranscriptFetcher) Fetch(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	reqURL := fmt.Sprintf("%s/v1/convai/conversations/%s", f.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("convai: transcript request: %w", err)
	}
	req.Header.Set("xi-api-key", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convai: transcript fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Printf("convai: transcript for %s unavailable: status %d", sessionID, resp.StatusCode)
		return nil, nil
	}

	var body conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		f.logger.Printf("convai: transcript for %s unparseable: %v", sessionID, err)
		return nil, nil
	}

	start := time.Unix(body.Metadata.StartTimeUnixSecs, 0).UTC()
	entries := make([]TranscriptEntry, 0, len(body.Transcript))
	for _, turn := range body.Transcript {
		speaker := SpeakerAgent
		if turn.Role == "user" {
			speaker = SpeakerCandidate
		}
		var ts time.Time
		if body.Metadata.StartTimeUnixSecs > 0 {
			ts = start.Add(time.Duration(turn.TimeInCallSecs * float64(time.Second)))
		}
		entries = append(entries, TranscriptEntry{
			Speaker:   speaker,
			Text:      turn.Message,
			Timestamp: ts,
		})
	}
	return entries, nil
}
