package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireloop/voiceroom/internal/backend"
	"github.com/hireloop/voiceroom/internal/convai"
	"github.com/hireloop/voiceroom/internal/eventlog"
	"github.com/hireloop/voiceroom/internal/httpapi"
	"github.com/hireloop/voiceroom/internal/kvstore"
	"github.com/hireloop/voiceroom/internal/media"
	"github.com/hireloop/voiceroom/internal/notifications"
	"github.com/hireloop/voiceroom/internal/room"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	kv         kvstore.Store
	eventLog   *eventlog.Logger
	discord    *notifications.Discord
	sessions   *convai.Client
	fetcher    *convai.TranscriptFetcher
	media      media.Acquirer
	httpClient *http.Client // Shared HTTP client with connection pooling for the platform backend
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsAgentID == "" {
		return nil, errors.New("ELEVENLABS_API_KEY and ELEVENLABS_AGENT_ID are required")
	}

	// The event journal is optional: without DATABASE_URL it silently
	// skips every write.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db = pool
	}

	var kv kvstore.Store
	if cfg.StateFilePath != "" {
		fileStore, err := kvstore.OpenFile(cfg.StateFilePath)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, err
		}
		kv = fileStore
	} else {
		kv = kvstore.NewMemStore()
	}

	// Shared HTTP client with connection pooling. Keeps TCP connections
	// alive for repeated calls to the platform backend and ElevenLabs.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	var acquirer media.Acquirer
	if cfg.MediaBackend == "ffmpeg" {
		acquirer = &media.FFmpegAcquirer{
			AudioDevice: cfg.AudioDevice,
			VideoDevice: cfg.VideoDevice,
		}
	} else {
		acquirer = media.Denied{}
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		kv:       kv,
		eventLog: eventlog.New(db),
		discord:  notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		sessions: convai.NewClient(convai.ClientConfig{
			APIKey:    cfg.ElevenLabsAPIKey,
			AgentID:   cfg.ElevenLabsAgentID,
			WSBaseURL: cfg.ElevenLabsWSURL,
			Logger:    logger,
		}),
		fetcher: convai.NewTranscriptFetcher(convai.TranscriptFetcherConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsAPIURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
		media:      acquirer,
		httpClient: httpClient,
	}, nil
}

// newRoom wires one interview room: a coordinator over the shared
// provider client plus a controller owning the exit transition.
func (a *App) newRoom(identity *room.Identity) *room.Controller {
	ctxStore := room.NewContextStore(a.kv, a.logger)

	api := backend.NewClient(backend.ClientConfig{
		BaseURL:    a.cfg.BackendBaseURL,
		Token:      ctxStore.AuthToken,
		HTTPClient: a.httpClient,
		Logger:     a.logger,
	})

	coord := room.NewCoordinator(
		a.media,
		room.OpenerFunc(func(ctx context.Context, cfg convai.SessionConfig) (room.ProviderSession, error) {
			return a.sessions.Open(ctx, cfg)
		}),
		a.fetcher,
		ctxStore,
		a.eventLog,
		a.logger,
		room.CoordinatorConfig{
			LevelInterval: a.cfg.LevelInterval,
			Overrides: convai.Overrides{
				Language:        a.cfg.AgentLanguage,
				Temperature:     a.cfg.AgentTemperature,
				Stability:       a.cfg.TTSStability,
				Speed:           a.cfg.TTSSpeed,
				SimilarityBoost: a.cfg.TTSSimilarity,
			},
		},
	)

	return room.NewController(room.ControllerConfig{
		Coordinator:  coord,
		Backend:      api,
		ContextStore: ctxStore,
		Identity:     identity,
		Notifier:     a.discord,
		Journal:      a.eventLog,
		Logger:       a.logger,
	})
}

func (a *App) Router(rooms *httpapi.RoomRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
	}
	return httpapi.NewRouter(routerCfg, a.logger, rooms, a.newRoom)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
