// Package scheduler drives the fetch-and-republish cycle: one ticker
// per enabled feed, a shared dispatcher for outbound sends, and the
// ledger writes that make republication exactly-once per destination.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/logging"
	"github.com/ppiankov/crosspost/internal/oauth"
	"github.com/ppiankov/crosspost/internal/publish"
	"github.com/ppiankov/crosspost/internal/retry"
	"github.com/ppiankov/crosspost/internal/store"
)

const (
	// maxPostsPerCycle caps how many new posts one cycle may publish
	// per feed, newest first. A backlog drains over several cycles
	// instead of flooding every destination at once.
	maxPostsPerCycle = 2

	// maxConcurrentSends bounds in-flight sends across all feeds.
	maxConcurrentSends = 4

	// Outbound calls are additionally smoothed to sendsPerSecond.
	sendsPerSecond = 2
)

// Options control a run.
type Options struct {
	// Once runs a single pass over every enabled feed and returns.
	Once bool
	// DryRun fetches and selects but performs no sends, no ledger
	// writes, and no cache commits.
	DryRun bool
}

// Scheduler owns the per-feed loops and the shared send budget.
type Scheduler struct {
	cfg      *config.Config
	fetcher  *feed.Fetcher
	store    *store.Store
	registry *publish.Registry
	opts     Options

	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func New(cfg *config.Config, fetcher *feed.Fetcher, st *store.Store, reg *publish.Registry, opts Options) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    st,
		registry: reg,
		opts:     opts,
		sem:      semaphore.NewWeighted(maxConcurrentSends),
		limiter:  rate.NewLimiter(rate.Limit(sendsPerSecond), maxConcurrentSends),
	}
}

// Run blocks until the context is cancelled (continuous mode) or one
// pass completes (once mode). Feed cycle failures are logged, not
// fatal: a broken feed must not take down the others.
func (s *Scheduler) Run(ctx context.Context) error {
	feeds := enabledFeeds(s.cfg)
	if len(feeds) == 0 {
		return errors.New("no enabled feeds")
	}

	if s.opts.Once {
		for _, fd := range feeds {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.runCycle(ctx, fd)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, fd := range feeds {
		g.Go(func() error {
			return s.feedLoop(ctx, fd)
		})
	}
	return g.Wait()
}

func (s *Scheduler) feedLoop(ctx context.Context, fd config.Feed) error {
	interval := fd.CheckInterval.Duration

	// Spread feed start times so a restart does not hit every remote
	// at the same instant.
	delay := initialDelay(interval)
	logging.Logger.Debug("feed loop starting", "feed", fd.ID, "interval", interval, "initial_delay", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	s.runCycle(ctx, fd)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx, fd)
		}
	}
}

// runCycle performs one fetch-select-dispatch pass for a feed.
func (s *Scheduler) runCycle(ctx context.Context, fd config.Feed) {
	log := logging.Logger.With("feed", fd.ID)

	cache, err := s.store.GetCache(ctx, fd.ID)
	if err != nil {
		log.Error("read feed cache", "err", err)
		return
	}

	out, err := s.fetcher.Fetch(ctx, fd, cache)
	if err != nil {
		log.Error("fetch failed", "err", err)
		return
	}

	if out.Status != feed.Changed {
		log.Debug("feed unchanged", "status", out.Status.String())
		if !s.opts.DryRun {
			if err := s.store.TouchCache(ctx, fd.ID, time.Now()); err != nil {
				log.Error("touch feed cache", "err", err)
			}
		}
		return
	}

	selected, err := s.selectPending(ctx, fd, out.Posts)
	if err != nil {
		log.Error("select pending posts", "err", err)
		return
	}

	if s.opts.DryRun {
		for _, sel := range selected {
			log.Info("dry-run: would publish", "post", sel.post.ExternalID, "title", sel.post.Title, "publishers", sel.publishers)
		}
		return
	}

	for _, sel := range selected {
		s.dispatch(ctx, fd, sel.post, sel.publishers)
	}

	// The cache commits after dispatch no matter how the sends went:
	// the content has been seen, and the ledger alone decides what is
	// still owed to each destination.
	if err := s.store.PutCache(ctx, fd.ID, out.Cache); err != nil {
		log.Error("commit feed cache", "err", err)
	}
}

// selection pairs a post with the publishers that have not yet
// received it.
type selection struct {
	post       feed.Post
	publishers []string
}

// selectPending filters already-published work out of the fetched
// posts and caps the remainder to the newest maxPostsPerCycle. Posts
// arrive newest first; equal timestamps keep their feed order.
func (s *Scheduler) selectPending(ctx context.Context, fd config.Feed, posts []feed.Post) ([]selection, error) {
	var selected []selection
	for _, post := range posts {
		if len(selected) == maxPostsPerCycle {
			break
		}

		var pending []string
		for _, pid := range fd.Publishers {
			done, err := s.store.IsPublished(ctx, post.FeedID, post.ExternalID, pid)
			if err != nil {
				return nil, err
			}
			if !done {
				pending = append(pending, pid)
			}
		}
		if len(pending) > 0 {
			selected = append(selected, selection{post: post, publishers: pending})
		}
	}
	return selected, nil
}

// dispatch fans one post out to its pending publishers concurrently.
// Each send carries its own retry budget; a publisher failing only
// costs that destination, never its siblings.
func (s *Scheduler) dispatch(ctx context.Context, fd config.Feed, post feed.Post, publishers []string) {
	g, ctx := errgroup.WithContext(ctx)
	for _, pid := range publishers {
		g.Go(func() error {
			s.sendOne(ctx, fd, post, pid)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) sendOne(ctx context.Context, fd config.Feed, post feed.Post, publisherID string) {
	log := logging.Logger.With("feed", fd.ID, "post", post.ExternalID, "publisher", publisherID)

	pub, ok := s.registry.Get(publisherID)
	if !ok {
		log.Error("publisher not registered")
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	var remoteID string
	err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return retry.Terminal(err)
		}
		var err error
		remoteID, err = pub.Publish(ctx, post)
		return err
	})
	if err != nil {
		if errors.Is(err, oauth.ErrReauthorizeRequired) {
			log.Error("publisher needs reauthorization, run: crosspost oauth " + pub.Kind())
		} else {
			log.Error("publish failed", "err", err)
		}
		if rerr := s.store.RecordFailure(ctx, post.FeedID, post.ExternalID, publisherID, err.Error()); rerr != nil {
			log.Error("record failure", "err", rerr)
		}
		return
	}

	log.Info("published", "remote_id", remoteID, "platform", pub.Kind())
	if err := s.store.Record(ctx, store.Publication{
		FeedID:      post.FeedID,
		ExternalID:  post.ExternalID,
		PublisherID: publisherID,
		PublishedAt: time.Now(),
		Outcome:     fmt.Sprintf("%s:%s", pub.Kind(), remoteID),
	}); err != nil {
		log.Error("record publication", "err", err)
	}
}

func enabledFeeds(cfg *config.Config) []config.Feed {
	var feeds []config.Feed
	for _, fd := range cfg.Feeds {
		if fd.Enabled {
			feeds = append(feeds, fd)
		}
	}
	return feeds
}

// initialDelay jitters the first cycle into the first tenth of the
// interval, capped at a minute.
func initialDelay(interval time.Duration) time.Duration {
	max := interval / 10
	if max > time.Minute {
		max = time.Minute
	}
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
