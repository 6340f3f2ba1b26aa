package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"

	"github.com/Vovarama1992/chatcrm-relay/internal/ai"
	"github.com/Vovarama1992/chatcrm-relay/internal/config"
	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
	"github.com/Vovarama1992/chatcrm-relay/internal/salesforce"
	"github.com/Vovarama1992/chatcrm-relay/internal/store"
	"github.com/Vovarama1992/chatcrm-relay/internal/telegram"
	"github.com/Vovarama1992/chatcrm-relay/internal/transcript"
)

// app holds the wired relay and everything that needs closing.
type app struct {
	bot     *telegram.Client
	crm     *salesforce.Client
	svc     relay.Service
	handler http.Handler
	closers []func() error
}

func buildApp(ctx context.Context, cfg config.Config, log *logging.Logger) (*app, error) {
	a := &app{}

	st, err := openStore(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	tr, err := openTranscript(ctx, cfg, log, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.crm = salesforce.NewClient(salesforce.Config{
		InstanceURL:  cfg.SFInstanceURL,
		ClientID:     cfg.SFClientID,
		ClientSecret: cfg.SFClientSecret,
		APIVersion:   cfg.SFAPIVersion,
		IntakeQueue:  cfg.SFIntakeQueue,
		Timeout:      cfg.HTTPTimeout,
	}, log)
	a.bot = telegram.NewClient(cfg.TelegramAPIURL, cfg.BotToken, cfg.HTTPTimeout, log)
	a.bot.SetSendRate(cfg.SendRate)

	router := relay.NewRouter(a.crm, st, relay.Options{
		StrictPhone: cfg.StrictPhone,
		Poll: relay.PollConfig{
			Attempts:     cfg.SessionPollAttempts,
			InitialDelay: cfg.SessionPollDelay,
			Multiplier:   2,
		},
		Policy: buildPolicy(cfg, log),
	}, log)
	a.svc = relay.NewService(router, a.crm, a.bot, tr, log)

	h := telegram.NewHandler(a.svc, a.bot, telegram.HandlerConfig{
		WebhookSecret:  cfg.WebhookSecret,
		APIKey:         cfg.RelayAPIKey,
		DefaultGroupID: cfg.GroupID,
	}, log)
	a.handler = newHTTPHandler(h)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config, log *logging.Logger, a *app) (relay.Store, error) {
	if cfg.StateBackend != "redis" {
		log.Info().Dur("ttl", cfg.StateTTL).Msg("using in-memory state store")
		return store.NewMemory(cfg.StateTTL), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := store.DialRedis(dialCtx, store.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
		TTL:      cfg.StateTTL,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rs.Close)
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	return rs, nil
}

func openTranscript(ctx context.Context, cfg config.Config, log *logging.Logger, a *app) (relay.Transcript, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("DATABASE_URL not set, transcript disabled")
		return transcript.Nop(), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := transcript.Migrate(pingCtx, db); err != nil {
		return nil, err
	}
	log.Info().Msg("transcript stored in postgres")
	return transcript.NewRepo(db), nil
}

func buildPolicy(cfg config.Config, log *logging.Logger) relay.SupportPolicy {
	switch cfg.SupportPolicy {
	case "off":
		return relay.DisabledPolicy{}
	case "openai":
		llm := ai.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, log)
		return ai.NewPolicy(llm, relay.DefaultHeuristic(), log)
	default:
		return relay.DefaultHeuristic()
	}
}

func newHTTPHandler(h *telegram.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Api-Key", "X-Telegram-Bot-Api-Secret-Token"},
	}))

	telegram.RegisterRoutes(r, h)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	return r
}
