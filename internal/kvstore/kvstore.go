// Package kvstore is the durable key-value storage the interview flow
// uses to carry context across page loads and service restarts. Other
// parts of the platform read several of these keys too, so the key
// names are fixed and must not be repurposed.
package kvstore

// Keys shared with the rest of the platform. Values are strings; the
// requirements and questions keys hold JSON-encoded string arrays.
const (
	KeyJobID             = "jobId"
	KeyJobTitle          = "jobTitle"
	KeyCompanyName       = "companyName"
	KeyJobRequirements   = "jobRequirements"
	KeyJobOfferQuestions = "jobOfferQuestions"
	KeyCandidateSummary  = "candidateSummary"
	KeyGuestInterviewID  = "guestInterviewId"
	KeyApplicationID     = "applicationId"
	KeyDebugSessionID    = "debugSessionId"
	KeyAuthToken         = "authToken"
)

// Store is a string key-value store. Implementations must be safe for
// concurrent use. There is a single UI actor per interview attempt, so
// no transactional semantics are needed: keys are overwrite-only.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}
