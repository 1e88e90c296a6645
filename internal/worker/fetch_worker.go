// Package worker runs the fetch-eligibility sweep that decides which
// Identities are worth re-fetching from the (out-of-scope, externally
// supplied) content-addressed network, grounded on bhmortim-quidnug's
// per-key golang.org/x/time/rate limiter shape
// (src/core/middleware.go's IPRateLimiter), keyed here by identity ID
// instead of client IP.
package worker

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/infrastructure/cache"
	"github.com/opena2a/wot/internal/infrastructure/metrics"
	"github.com/opena2a/wot/internal/infrastructure/pubsub"
	"github.com/opena2a/wot/internal/store"
)

// Fetcher retrieves and parses one Identity's current-edition document.
// Production wires an out-of-scope network fetcher + domain.IdentityFileConsumer
// pair; this interface is the only contract the worker depends on (spec §1
// "consumes only narrow interfaces from these").
type Fetcher interface {
	Fetch(ctx context.Context, identity *domain.Identity) (domain.IdentityFileImport, error)
}

// Applier applies one fetched document under a transaction (C4).
type Applier interface {
	Import(tx store.Tx, doc domain.IdentityFileImport) error
}

// FetchWorker periodically scans for fetch-eligible Identities (spec §1
// fetch-eligibility policy) and paces fetch attempts both in-process (a
// token bucket per sweep) and cross-replica (Redis-backed RateLimitFetch).
type FetchWorker struct {
	eng       *engine.Engine
	applier   Applier
	fetcher   Fetcher
	redis     *cache.RedisCache
	publisher *pubsub.RedisPublisher
	limiter   *rate.Limiter

	// perIdentityLimit bounds how often any single identity may be
	// re-fetched across all replicas sharing one Redis instance.
	perIdentityLimit  int64
	perIdentityWindow time.Duration
}

// NewFetchWorker constructs a worker pacing at most ratePerSecond fetch
// attempts per second in this process (burst allows one sweep to start
// several fetches at once), in addition to the cross-replica bound.
func NewFetchWorker(eng *engine.Engine, applier Applier, fetcher Fetcher, redis *cache.RedisCache, publisher *pubsub.RedisPublisher, ratePerSecond float64, burst int) *FetchWorker {
	return &FetchWorker{
		eng:               eng,
		applier:           applier,
		fetcher:           fetcher,
		redis:             redis,
		publisher:         publisher,
		limiter:           rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		perIdentityLimit:  1,
		perIdentityWindow: time.Hour,
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (w *FetchWorker) Run(ctx context.Context, beginTx func(context.Context) (store.Tx, error), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweepOnce(ctx, beginTx); err != nil {
				log.Printf("fetch worker: sweep failed: %v", err)
			}
		}
	}
}

func (w *FetchWorker) sweepOnce(ctx context.Context, beginTx func(context.Context) (store.Tx, error)) error {
	readTx, err := beginTx(ctx)
	if err != nil {
		return err
	}
	eligible, err := w.eng.FetchEligibleIdentities(readTx)
	readTx.Rollback()
	if err != nil {
		return err
	}

	for _, ident := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.limiter.Allow() {
			continue
		}
		allowed, err := w.redis.RateLimitFetch(ctx, ident.ID, w.perIdentityLimit, w.perIdentityWindow)
		if err != nil || !allowed {
			continue
		}
		w.fetchAndApply(ctx, beginTx, ident)
	}
	return nil
}

func (w *FetchWorker) fetchAndApply(ctx context.Context, beginTx func(context.Context) (store.Tx, error), ident *domain.Identity) {
	doc, err := w.fetcher.Fetch(ctx, ident)
	if err != nil {
		metrics.RecordTrustListImport("fetch_error")
		return
	}

	tx, err := beginTx(ctx)
	if err != nil {
		metrics.RecordTrustListImport("begin_error")
		return
	}
	if err := w.applier.Import(tx, doc); err != nil {
		tx.Rollback()
		metrics.RecordTrustListImport("import_error")
		return
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordTrustListImport("commit_error")
		return
	}
	metrics.RecordTrustListImport("success")
	w.publisher.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeKindTrust, After: ident.ID})
}
