// Command wotd runs the Web-of-Trust score engine as a single-operator
// daemon: an ops-only HTTP surface (/healthz, /metrics, a change-event
// WebSocket), the fetch-eligibility sweep, and periodic integrity checks.
// Grounded on the teacher's cmd/server/main.go startup sequence (godotenv,
// config load, store connect, graceful shutdown on SIGINT/SIGTERM) with the
// AIM HTTP router replaced by this daemon's much smaller ops surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opena2a/wot/internal/application"
	"github.com/opena2a/wot/internal/config"
	"github.com/opena2a/wot/internal/crypto"
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/importer"
	"github.com/opena2a/wot/internal/infrastructure/cache"
	"github.com/opena2a/wot/internal/infrastructure/metrics"
	"github.com/opena2a/wot/internal/infrastructure/pubsub"
	"github.com/opena2a/wot/internal/infrastructure/repository"
	"github.com/opena2a/wot/internal/store"
	"github.com/opena2a/wot/internal/worker"
)

// unconfiguredFetcher is the default Fetcher until an operator wires a real
// network fetcher behind this interface (spec §1: the content-addressed
// network, its key generation, and its insert/fetch mechanics are an
// external collaborator this core never implements).
type unconfiguredFetcher struct{}

func (unconfiguredFetcher) Fetch(ctx context.Context, identity *domain.Identity) (domain.IdentityFileImport, error) {
	return domain.IdentityFileImport{}, fmt.Errorf("no fetcher configured for identity %s", identity.ID)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisCache.Close()

	baseStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	holderID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lockedStore, err := repository.OpenLocked(ctx, baseStore, redisCache, holderID)
	if err != nil {
		log.Fatalf("acquire store lock: %v", err)
	}
	defer lockedStore.Close()
	metrics.SetStoreLockHeld(true)

	limits := cfg.Engine.Limits.ToDomain()
	eng := engine.New(domain.SystemClock{}, limits, engine.WithMetrics(metrics.Engine{}), engine.WithRankCache(cfg.Engine.RankCacheTTL))

	vault, err := crypto.NewKeyVault(cfg.Engine.KeyVaultMasterKey)
	if err != nil {
		log.Fatalf("init key vault: %v", err)
	}
	lifecycle := application.NewIdentityLifecycleService(eng, vault, domain.SystemClock{}, limits)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	publisher := pubsub.NewRedisPublisher(redisClient)

	// Local user actions (create_own, set_trust, ...) enter through C5/C3
	// directly from the operator's terminal (spec §1 excludes a UI/API
	// surface, so this is the only entrypoint for them); `wotd create-own
	// <nickname>` runs one lifecycle operation against the locked store and
	// exits instead of starting the daemon loop.
	if len(os.Args) > 1 {
		if err := runCLI(ctx, os.Args[1:], lockedStore, lifecycle, eng, publisher, limits); err != nil {
			log.Fatalf("%s: %v", os.Args[1], err)
		}
		return
	}

	imp := importer.New(eng, domain.SystemClock{}, limits)

	fetchWorker := worker.NewFetchWorker(eng, imp, unconfiguredFetcher{}, redisCache, publisher, 5.0, 10)
	go fetchWorker.Run(ctx, lockedStore.Begin, 30*time.Second)

	hub := pubsub.NewWebSocketHub()
	go pubsub.SubscribeRedis(ctx, redisClient, hub)

	go runLockRenewal(ctx, lockedStore, 10*time.Second)
	go runIntegritySweep(ctx, eng, lockedStore, 5*time.Minute)

	app := fiber.New()
	app.Use(metrics.PrometheusMiddleware())
	app.Get(cfg.Metrics.Path, metrics.PrometheusHandler())
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "holder_id": holderID})
	})

	wsHandler := otelhttp.NewHandler(http.HandlerFunc(hub.ServeHTTP), "wot.pubsub.ws")
	mux := http.NewServeMux()
	mux.Handle("/changes", wsHandler)
	wsServer := &http.Server{Addr: ":9091", Handler: mux}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("pubsub server error: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Printf("ops server error: %v", err)
		}
	}()

	waitForShutdown()
	log.Println("shutting down")
	cancel()
	_ = wsServer.Shutdown(context.Background())
	_ = app.Shutdown()
	metrics.SetStoreLockHeld(false)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "neo4j":
		uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)
		return repository.OpenNeo4jStore(context.Background(), uri, cfg.User, cfg.Password)
	default:
		return repository.OpenPostgresStore(repository.PostgresConfig{
			Host:            cfg.Host,
			Port:            strconv.Itoa(cfg.Port),
			Database:        cfg.Database,
			User:            cfg.User,
			Password:        cfg.Password,
			SSLMode:         cfg.SSLMode,
			MaxConnections:  cfg.MaxConnections,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	}
}

// runLockRenewal keeps the store lock alive for as long as this process
// runs (spec §4.6); a crashed instance's lock simply expires, letting a
// replacement acquire it.
func runLockRenewal(ctx context.Context, locked *repository.LockedStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locked.Renew(ctx); err != nil {
				log.Printf("store lock renewal failed: %v", err)
			}
		}
	}
}

// runIntegritySweep periodically runs VerifyDatabaseIntegrity and repairs
// what it safely can (spec §4.6, C6).
func runIntegritySweep(ctx context.Context, eng *engine.Engine, st store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tx, err := st.Begin(ctx)
			if err != nil {
				log.Printf("integrity sweep: begin tx: %v", err)
				continue
			}
			report, err := eng.VerifyDatabaseIntegrity(tx)
			if err != nil {
				metrics.RecordIntegrityViolations("duplicate_identity", len(report.DuplicateIdentities))
				metrics.RecordIntegrityViolations("duplicate_own", len(report.DuplicateOwn))
				metrics.RecordIntegrityViolations("duplicate_trust", len(report.DuplicateTrusts))
				metrics.RecordIntegrityViolations("duplicate_score", len(report.DuplicateScores))
				metrics.RecordIntegrityViolations("dangling_trust", len(report.DanglingTrusts))
				metrics.RecordIntegrityViolations("missing_self_score", len(report.MissingSelfScores))
				if repairErr := eng.DeleteDuplicateObjects(tx, report); repairErr != nil {
					log.Printf("integrity sweep: repair failed: %v", repairErr)
					tx.Rollback()
					continue
				}
			}
			if err := tx.Commit(); err != nil {
				log.Printf("integrity sweep: commit: %v", err)
			}
		}
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// runCLI dispatches the operator's one-shot local user actions (spec §4.5,
// §1 "local user actions ... enter through C5"). Each subcommand opens its
// own transaction and commits before returning, publishing one coarse
// ChangeEvent naming the kind of row the subcommand touched — row-level
// before/after diffing is left to a future refinement, since the lifecycle
// and engine methods here don't currently return enough detail to populate
// Before/After precisely for every case.
func runCLI(ctx context.Context, args []string, st store.Store, lifecycle *application.IdentityLifecycleService, eng *engine.Engine, publisher *pubsub.RedisPublisher, limits domain.Limits) error {
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}

	switch args[0] {
	case "get-rank":
		if len(args) != 3 {
			tx.Rollback()
			return fmt.Errorf("usage: wotd get-rank <owner-id> <target-id>")
		}
		rank, err := eng.RankOf(tx, args[1], args[2])
		tx.Rollback()
		if err != nil {
			return err
		}
		log.Printf("rank(%s -> %s) = %d", args[1], args[2], rank)
		return nil

	case "export-identity":
		if len(args) < 2 {
			tx.Rollback()
			return fmt.Errorf("usage: wotd export-identity <own-id> [context...]")
		}
		own, err := tx.GetOwnByID(args[1])
		if err != nil {
			tx.Rollback()
			return err
		}
		entries, err := engine.ExportContexts(tx, own, args[2:])
		tx.Rollback()
		if err != nil {
			return err
		}
		export, err := (engine.DefaultProducer{}).Produce(own, entries, limits)
		if err != nil {
			return err
		}
		log.Printf("export-identity %s: nickname=%q contexts=%v %d trust(s) (filter=%v)",
			own.ID, export.Nickname, export.Contexts, len(export.Trusts), args[2:])
		for _, e := range export.Trusts {
			log.Printf("  -> %s value=%d comment=%q", e.TrusteeRequestURI, e.Value, e.Comment)
		}
		return nil

	case "explain-score":
		if len(args) != 3 {
			tx.Rollback()
			return fmt.Errorf("usage: wotd explain-score <owner-id> <target-id>")
		}
		steps, err := eng.ExplainScore(tx, args[1], args[2])
		tx.Rollback()
		if err != nil {
			return err
		}
		if steps == nil {
			log.Printf("%s has no positive-capacity path to %s", args[1], args[2])
			return nil
		}
		for _, s := range steps {
			log.Printf("%s --(%d)--> %s [capacity %d]", s.From, s.Value, s.To, s.Capacity)
		}
		return nil
	}

	var runErr error
	kind := domain.ChangeKindIdentity
	switch args[0] {
	case "create-own":
		if len(args) < 2 {
			runErr = fmt.Errorf("usage: wotd create-own <nickname> [context...]")
			break
		}
		own, encryptedInsert, err := lifecycle.CreateOwn(tx, args[1], true, args[2:])
		if err != nil {
			runErr = err
			break
		}
		log.Printf("created own identity %s; encrypted insert uri (save this, shown once): %s", own.ID, encryptedInsert)

	case "add-identity":
		if len(args) != 2 {
			runErr = fmt.Errorf("usage: wotd add-identity <request-uri>")
			break
		}
		ident, err := lifecycle.AddIdentity(tx, args[1])
		if err != nil {
			runErr = err
			break
		}
		log.Printf("added identity %s", ident.ID)

	case "restore-own":
		if len(args) != 2 {
			runErr = fmt.Errorf("usage: wotd restore-own <insert-uri>")
			break
		}
		own, err := lifecycle.RestoreOwn(tx, args[1])
		if err != nil {
			runErr = err
			break
		}
		log.Printf("restored own identity %s", own.ID)

	case "delete-own":
		if len(args) != 2 {
			runErr = fmt.Errorf("usage: wotd delete-own <id>")
			break
		}
		runErr = lifecycle.DeleteOwn(tx, args[1])

	case "set-trust":
		if len(args) != 4 {
			runErr = fmt.Errorf("usage: wotd set-trust <truster-id> <trustee-id> <value>")
			break
		}
		value, perr := strconv.Atoi(args[3])
		if perr != nil {
			runErr = fmt.Errorf("value must be an integer in [-100,100]: %w", perr)
			break
		}
		kind = domain.ChangeKindTrust
		_, runErr = eng.SetTrust(tx, args[1], args[2], value, "")

	default:
		runErr = fmt.Errorf("unknown subcommand %q (want create-own, add-identity, restore-own, delete-own, set-trust, get-rank, explain-score, export-identity)", args[0])
	}

	if runErr != nil {
		tx.Rollback()
		return runErr
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	publisher.Publish(ctx, domain.ChangeEvent{Kind: kind, After: args[0]})
	return nil
}
