// Package convai is the client for the conversational voice-AI
// provider: a bidirectional WebSocket session per interview attempt
// plus a companion REST endpoint for finalized transcripts.
package convai

import "encoding/json"

// SessionConfig carries everything the agent needs for one interview.
// Every dynamic variable is always sent, with empty-string/empty-array
// defaults: the provider treats a missing key differently from an
// empty one for some fields.
type SessionConfig struct {
	CandidateName     string
	JobOfferText      string
	CandidateSummary  string
	CompanyName       string
	TargetCompanyName string
	Questions         []string

	Overrides Overrides
}

// Overrides tunes voice synthesis and generation for this session.
// Zero values fall back to the agent's configured defaults.
type Overrides struct {
	Language        string
	Temperature     float64
	Stability       float64
	Speed           float64
	SimilarityBoost float64
}

func (o Overrides) withDefaults() Overrides {
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.Stability == 0 {
		o.Stability = 0.5
	}
	if o.Speed == 0 {
		o.Speed = 1.0
	}
	if o.SimilarityBoost == 0 {
		o.SimilarityBoost = 0.75
	}
	return o
}

// dynamicVariables serializes the prompt variables. Keys are always
// present; the questions array is JSON-encoded, "[]" when empty.
func (c SessionConfig) dynamicVariables() map[string]string {
	questions := c.Questions
	if questions == nil {
		questions = []string{}
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		questionsJSON = []byte("[]")
	}

	return map[string]string{
		"candidate_name":      c.CandidateName,
		"job_offer":           c.JobOfferText,
		"candidate_summary":   c.CandidateSummary,
		"company_name":        c.CompanyName,
		"target_company_name": c.TargetCompanyName,
		"job_offer_questions": string(questionsJSON),
	}
}

// initiationPayload is the first client frame on the session socket.
type initiationPayload struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
	ConfigOverride   configOverride    `json:"conversation_config_override"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
	TTS   ttsOverride   `json:"tts"`
}

type agentOverride struct {
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

type ttsOverride struct {
	Stability       float64 `json:"stability"`
	Speed           float64 `json:"speed"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c SessionConfig) initiation() initiationPayload {
	o := c.Overrides.withDefaults()
	return initiationPayload{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: c.dynamicVariables(),
		ConfigOverride: configOverride{
			Agent: agentOverride{
				Language:    o.Language,
				Temperature: o.Temperature,
			},
			TTS: ttsOverride{
				Stability:       o.Stability,
				Speed:           o.Speed,
				SimilarityBoost: o.SimilarityBoost,
			},
		},
	}
}
