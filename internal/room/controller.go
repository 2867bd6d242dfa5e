package room

import (
	"context"
	"log"
	"net/url"
	"sync"

	"github.com/hireloop/voiceroom/internal/backend"
	"github.com/hireloop/voiceroom/internal/eventlog"
)

// DestinationKind names where the candidate lands after the room.
type DestinationKind string

const (
	DestinationReview        DestinationKind = "review"
	DestinationGuestThankYou DestinationKind = "guest-thank-you"
	DestinationThankYou      DestinationKind = "thank-you"
)

// Destination is the route the candidate is sent to when the interview
// is over.
type Destination struct {
	Kind  DestinationKind
	JobID string
}

// Path renders the destination as a front-end route.
func (d Destination) Path() string {
	switch d.Kind {
	case DestinationReview:
		return "/interview/review?" + url.Values{"jobOfferId": {d.JobID}}.Encode()
	case DestinationGuestThankYou:
		return "/interview/guest/thank-you"
	default:
		return "/interview/thank-you"
	}
}

// Navigator receives the terminal destination. The HTTP layer exposes
// it to the front-end; tests record it.
type Navigator interface {
	Navigate(dest Destination)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(dest Destination)

func (f NavigatorFunc) Navigate(dest Destination) { f(dest) }

// BackendAPI is the slice of the platform API the controller needs.
// *backend.Client satisfies it.
type BackendAPI interface {
	JobOffer(ctx context.Context, id string) (*backend.JobOffer, error)
	CompleteGuestInterview(ctx context.Context, id string) error
	CreateReport(ctx context.Context, jobID string) error
}

// Notifier announces interview outcomes to the team channel.
type Notifier interface {
	NotifyInterviewCompleted(ctx context.Context, jobTitle, candidate, sessionID string)
	NotifyProviderError(ctx context.Context, sessionID, detail string)
}

// Controller owns the room around the coordinator: preparing interview
// context before the session and guaranteeing the candidate's exit
// transition after it. The exit runs exactly once no matter how many
// triggers race (explicit end, remote disconnect, duplicate clicks).
type Controller struct {
	coord    *Coordinator
	api      BackendAPI
	ctxStore *ContextStore
	identity *Identity
	nav      Navigator
	notifier Notifier
	journal  *eventlog.Logger
	logger   *log.Logger

	finishOnce sync.Once
	errorOnce  sync.Once

	mu   sync.Mutex
	dest *Destination
}

type ControllerConfig struct {
	Coordinator  *Coordinator
	Backend      BackendAPI
	ContextStore *ContextStore
	// Identity is nil for guest candidates.
	Identity  *Identity
	Navigator Navigator
	Notifier  Notifier
	Journal   *eventlog.Logger
	Logger    *log.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(Destination) {})
	}
	return &Controller{
		coord:    cfg.Coordinator,
		api:      cfg.Backend,
		ctxStore: cfg.ContextStore,
		identity: cfg.Identity,
		nav:      nav,
		notifier: cfg.Notifier,
		journal:  cfg.Journal,
		logger:   logger,
	}
}

// Coordinator exposes the session state machine to the HTTP layer.
func (c *Controller) Coordinator() *Coordinator { return c.coord }

// Destination returns the terminal destination once decided, nil
// before the interview has ended.
func (c *Controller) Destination() *Destination {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dest == nil {
		return nil
	}
	d := *c.dest
	return &d
}

// Prepare resolves interview metadata before the candidate enters the
// room. Stored context wins; a backend lookup fills gaps when a job id
// is known; hardcoded fallbacks cover the rest. Nothing here ever
// blocks the interview from starting.
func (c *Controller) Prepare(ctx context.Context) InterviewContext {
	c.ctxStore.ClearStaleSession()

	ic := c.ctxStore.Load()

	if ic.JobTitle == "" && ic.JobID != "" && c.api != nil {
		offer, err := c.api.JobOffer(ctx, ic.JobID)
		if err != nil {
			c.logger.Printf("controller: job offer lookup: %v", err)
		} else {
			ic.JobTitle = offer.Title
			if ic.CompanyName == "" {
				ic.CompanyName = offer.CompanyName
			}
			if len(ic.Requirements) == 0 {
				ic.Requirements = offer.Requirements
			}
			if len(ic.Questions) == 0 {
				ic.Questions = offer.Questions
			}
			c.ctxStore.Save(ic)
		}
	}

	if ic.JobTitle == "" {
		ic.JobTitle = "Software Engineer"
	}
	if ic.CompanyName == "" {
		ic.CompanyName = "the company"
	}
	return ic
}

// Watch runs the terminal transition as soon as the coordinator
// reports the session ended, covering remote disconnects where the
// candidate never clicks anything. It also pings the team the first
// time a session drops into the error state. Returns a cancel func for
// teardown.
func (c *Controller) Watch() func() {
	ch, cancel := c.coord.Subscribe()
	go func() {
		for snap := range ch {
			if snap.Status == StatusError && c.notifier != nil {
				c.errorOnce.Do(func() {
					c.notifier.NotifyProviderError(context.Background(), snap.SessionID, snap.ErrorMessage)
				})
			}
			if snap.SessionEnded {
				c.finish(context.Background(), snap)
				cancel()
				return
			}
		}
	}()
	return cancel
}

// EndInterview is the explicit stop: end the session, then run the
// same once-guarded exit as a remote disconnect would.
func (c *Controller) EndInterview(ctx context.Context) Destination {
	if err := c.coord.Stop(ctx); err != nil {
		c.logger.Printf("controller: stop session: %v", err)
	}
	c.finish(ctx, c.coord.Snapshot())
	if d := c.Destination(); d != nil {
		return *d
	}
	return Destination{Kind: DestinationThankYou}
}

// finish decides and records the exit branch. The once latch is the
// tie-break between explicit end and remote disconnect: whichever
// trigger arrives first runs the branch, every later one no-ops.
func (c *Controller) finish(ctx context.Context, snap Snapshot) {
	c.finishOnce.Do(func() {
		ic := c.ctxStore.Load()

		var dest Destination
		switch {
		case ic.GuestInterviewID != "" && c.identity == nil:
			// Best effort: a backend hiccup must not trap the guest in
			// the room.
			if c.api != nil {
				if err := c.api.CompleteGuestInterview(ctx, ic.GuestInterviewID); err != nil {
					c.logger.Printf("controller: complete guest interview %s: %v", ic.GuestInterviewID, err)
				}
			}
			dest = Destination{Kind: DestinationGuestThankYou}

		case c.identity != nil && ic.JobID != "":
			if c.api != nil {
				if err := c.api.CreateReport(ctx, ic.JobID); err != nil {
					c.logger.Printf("controller: create report for job %s: %v", ic.JobID, err)
				}
			}
			c.journal.LogAsync(snap.SessionID, eventlog.EventReportRequested, map[string]any{
				"job_id": ic.JobID,
			})
			dest = Destination{Kind: DestinationReview, JobID: ic.JobID}

		default:
			dest = Destination{Kind: DestinationThankYou}
		}

		c.mu.Lock()
		c.dest = &dest
		c.mu.Unlock()
		c.nav.Navigate(dest)

		c.journal.LogAsync(snap.SessionID, eventlog.EventRoomCompleted, map[string]any{
			"destination": string(dest.Kind),
			"job_id":      ic.JobID,
			"guest":       ic.GuestInterviewID != "",
		})

		if c.notifier != nil {
			candidate := "guest"
			if c.identity != nil {
				candidate = c.identity.Email
			}
			c.notifier.NotifyInterviewCompleted(ctx, ic.JobTitle, candidate, snap.SessionID)
		}
	})
}
