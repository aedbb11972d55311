// Package engine wires the entitlement subsystem together: local SQLite
// storage, the backend ledger client, the provider client, the cache, the
// quota tracker, the purchase coordinator and the access controller.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pressly/goose/v3"

	"github.com/zadahmed/everwith-entitlements/internal/access"
	"github.com/zadahmed/everwith-entitlements/internal/config"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/ledger"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/migrations"
	"github.com/zadahmed/everwith-entitlements/internal/notifier"
	"github.com/zadahmed/everwith-entitlements/internal/pipeline"
	"github.com/zadahmed/everwith-entitlements/internal/provider"
	"github.com/zadahmed/everwith-entitlements/internal/purchase"
	"github.com/zadahmed/everwith-entitlements/internal/quota"
	"github.com/zadahmed/everwith-entitlements/internal/repositories/metadata"
	"github.com/zadahmed/everwith-entitlements/internal/repositories/outbox"
	"github.com/zadahmed/everwith-entitlements/internal/storekit"

	_ "modernc.org/sqlite"
)

// Metadata keys for the persisted session.
const (
	keyAuthToken = "auth.token"
	keyUserID    = "auth.user_id"
)

// RunMigrations applies the embedded goose migrations to the local database.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Engine is the composition root. The exported fields are the subsystem's
// public surface; everything behind them shares the same DB and session.
type Engine struct {
	Ledger    ledger.Client
	Provider  provider.Provider
	Cache     *entitlement.Cache
	Quota     quota.Tracker
	Purchases *purchase.Coordinator
	Access    *access.Controller
	Pipeline  pipeline.Client

	cfg *config.Config
	log logging.Logger

	db       *sql.DB
	metadata metadata.Repository
	outbox   outbox.Repository
	session  *sessionTokens

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New opens the local database, runs migrations and builds the whole graph.
// prov and store are the platform-facing halves (entitlement provider and
// native purchase API); the caller supplies platform bindings or fakes.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, prov provider.Provider, store storekit.Store) (*Engine, error) {
	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	meta := metadata.NewSQLiteRepository(db)
	ob := outbox.NewSQLiteRepository(db)

	session := &sessionTokens{}
	if tok, err := meta.Get(ctx, keyAuthToken); err == nil && tok != nil {
		uid, _ := meta.Get(ctx, keyUserID)
		session.set(string(tok), string(uid))
	}

	lc := ledger.NewHTTPClient(cfg.APIBaseURL, session)
	tracker := quota.NewTracker(meta)

	var tiers entitlement.TierSource
	if prov != nil {
		tiers = providerTiers{prov}
	} else {
		tiers = statusTiers{lc}
	}

	cache := entitlement.NewCache(
		tiers,
		ledgerBalance{lc},
		trackerQuota{tracker},
		log,
		entitlement.WithRefreshCooldown(cfg.RefreshCooldown),
		entitlement.WithForegroundThreshold(cfg.ForegroundThreshold),
	)

	e := &Engine{
		Ledger:   lc,
		Provider: prov,
		Cache:    cache,
		Quota:    tracker,
		Pipeline: pipeline.NewHTTPClient(cfg.PipelineBaseURL),

		cfg:      cfg,
		log:      log,
		db:       db,
		metadata: meta,
		outbox:   ob,
		session:  session,
	}
	e.Purchases = purchase.NewCoordinator(prov, store, cache, backendNotify{e}, log)
	e.Access = access.NewController(cache, tracker, lc, log)
	return e, nil
}

// notifier builds a BackendNotifier bound to the current session's user.
func (e *Engine) notifier() *notifier.BackendNotifier {
	return notifier.New(e.Ledger, e.outbox, e.session.user(), e.log)
}

// SignedIn reports whether a session token is held.
func (e *Engine) SignedIn() bool {
	return e.session.user() != "" || e.session.get() != ""
}

// UserID returns the signed-in user's id, empty when anonymous.
func (e *Engine) UserID() string {
	return e.session.user()
}

// SignIn installs the bearer token, persists the session and pulls a fresh
// entitlement snapshot. A refresh failure does not fail the sign-in; the
// ledger stays the authoritative gate either way.
func (e *Engine) SignIn(ctx context.Context, token string) error {
	userID := subjectFromToken(token)

	if err := e.metadata.Set(ctx, keyAuthToken, []byte(token)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := e.metadata.Set(ctx, keyUserID, []byte(userID)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	e.session.set(token, userID)

	if _, err := e.Cache.ForceRefresh(ctx); err != nil {
		e.log.Warn(ctx, "entitlement refresh after sign-in failed", "error", err)
	}
	if err := e.notifier().Flush(ctx); err != nil {
		e.log.Warn(ctx, "purchase outbox flush after sign-in failed", "error", err)
	}
	return nil
}

// SignOut drops the session and every trace of the previous user: the cache
// reverts to the anonymous default (cancelling any in-flight refresh), the
// quota counter and session metadata are cleared, and undelivered purchase
// notifications are discarded rather than replayed for the next user.
func (e *Engine) SignOut(ctx context.Context) error {
	e.Cache.Reset()
	e.session.clear()

	if err := e.Quota.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset quota: %w", err)
	}
	if err := e.metadata.Delete(ctx, keyAuthToken); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := e.metadata.Delete(ctx, keyUserID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := e.outbox.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear purchase outbox: %w", err)
	}
	return nil
}

// Start launches the reconciliation watcher: a periodic tick that refreshes
// the entitlement snapshot (subject to the cache's cooldown) and retries
// undelivered purchase notifications.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.cfg.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := e.Cache.Refresh(tickCtx); err != nil {
					e.log.Debug(tickCtx, "reconciliation refresh failed", "error", err)
				}
				if err := e.notifier().Flush(tickCtx); err != nil {
					e.log.Debug(tickCtx, "reconciliation outbox flush failed", "error", err)
				}
				cancel()

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the watcher and shuts the database.
func (e *Engine) Close() error {
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.wg.Wait()
	return e.db.Close()
}

// subjectFromToken extracts the sub claim from a JWT without verifying it.
// Opaque tokens yield an empty id; the backend resolves the user itself.
func subjectFromToken(token string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
