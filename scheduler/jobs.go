package scheduler

import (
	"context"
	"time"
	_ "time/tzdata"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/middleware"
	"stockdash/services/marketdata"
	"stockdash/services/orders"
	"stockdash/services/portfolio"
)

const (
	snapshotAt         = "21:15"
	cleanupAt          = "01:00"
	closedOrderMaxAge  = 90 * 24 * time.Hour
	historyMaxAgeYears = 5
	newsMaxAge         = 30 * 24 * time.Hour
	jobTimeout         = 2 * time.Minute
	rateLimiterIdle    = 15 * time.Minute
)

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Options are the services the jobs drive
type Options struct {
	DB           *gorm.DB
	Market       *marketdata.Service
	Portfolio    *portfolio.Service
	Orders       *orders.Service
	Fulfiller    *orders.Fulfiller
	LoginLimiter *middleware.LoginLimiter
	APILimiter   *middleware.IPRateLimiter
	PollInterval time.Duration
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *gocron.Scheduler
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewScheduler creates a new scheduler instance
func NewScheduler(opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start registers all jobs and starts the scheduler in the background
func (s *Scheduler) Start() error {
	log.Info().Msg("Starting scheduler...")

	// Fulfil pending orders. A slow pass must not overlap the next one.
	if _, err := s.cron.Every(s.opts.PollInterval).SingletonMode().Do(s.pollOrders); err != nil {
		return err
	}

	// Refresh index proxies every minute while the US market is open
	if _, err := s.cron.Every(1).Minute().SingletonMode().Do(func() {
		if isMarketOpen(s.now()) {
			s.refreshIndices()
		}
	}); err != nil {
		return err
	}

	// Snapshot portfolio values after the close
	if _, err := s.cron.Every(1).Day().At(snapshotAt).Do(s.snapshotHistory); err != nil {
		return err
	}

	// Expire sign-in lockouts and idle rate-limit buckets
	if _, err := s.cron.Every(10).Minutes().Do(s.cleanupLimiters); err != nil {
		return err
	}

	// Weekly cleanup on Sunday night
	if _, err := s.cron.Every(1).Week().Sunday().At(cleanupAt).Do(s.cleanupOldData); err != nil {
		return err
	}

	s.cron.StartAsync()
	log.Info().Dur("order_poll_interval", s.opts.PollInterval).Msg("Scheduler started successfully")
	return nil
}

// Stop stops the scheduler and cancels running jobs
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, jobTimeout)
}

func (s *Scheduler) pollOrders() {
	ctx, cancel := s.jobContext()
	defer cancel()

	if _, err := s.opts.Fulfiller.ProcessPending(ctx); err != nil {
		log.Error().Err(err).Msg("Order polling failed")
	}
}

func (s *Scheduler) refreshIndices() {
	ctx, cancel := s.jobContext()
	defer cancel()

	indices, err := s.opts.Market.RefreshIndices(ctx, s.opts.DB)
	if err != nil {
		log.Error().Err(err).Msg("Index refresh failed")
		return
	}
	log.Debug().Int("count", len(indices)).Msg("Market indices refreshed")
}

func (s *Scheduler) snapshotHistory() {
	ctx, cancel := s.jobContext()
	defer cancel()

	n, err := s.opts.Portfolio.SnapshotHistory(ctx, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Portfolio snapshot failed")
		return
	}
	log.Info().Int("users", n).Msg("Portfolio history snapshot stored")
}

func (s *Scheduler) cleanupLimiters() {
	if s.opts.LoginLimiter != nil {
		if n := s.opts.LoginLimiter.Cleanup(); n > 0 {
			log.Debug().Int("removed", n).Msg("Expired sign-in attempts removed")
		}
	}
	if s.opts.APILimiter != nil {
		if n := s.opts.APILimiter.Cleanup(rateLimiterIdle); n > 0 {
			log.Debug().Int("removed", n).Msg("Idle rate-limit buckets removed")
		}
	}
}

// cleanupOldData removes old data to save storage
func (s *Scheduler) cleanupOldData() {
	ctx, cancel := s.jobContext()
	defer cancel()

	now := s.now().UTC()
	log.Info().Msg("Cleaning up old data...")

	if n, err := s.opts.Orders.PurgeClosed(ctx, now.Add(-closedOrderMaxAge)); err != nil {
		log.Error().Err(err).Msg("Error cleaning up closed orders")
	} else {
		log.Info().Int64("deleted", n).Msg("Closed orders cleaned up")
	}

	if n, err := s.opts.Portfolio.PurgeHistory(ctx, now.AddDate(-historyMaxAgeYears, 0, 0)); err != nil {
		log.Error().Err(err).Msg("Error cleaning up portfolio history")
	} else {
		log.Info().Int64("deleted", n).Msg("Portfolio history cleaned up")
	}

	if n, err := s.opts.Market.PurgeNews(ctx, newsMaxAge); err != nil {
		log.Error().Err(err).Msg("Error cleaning up news archive")
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("News archive cleaned up")
	}

	if n := s.opts.Market.PurgeCache(); n > 0 {
		log.Debug().Int("evicted", n).Msg("Market cache purged")
	}

	log.Info().Msg("Cleanup completed")
}

// isMarketOpen reports whether t falls in regular US trading hours,
// 09:30 to 16:00 New York time on weekdays. Exchange holidays are not
// tracked.
func isMarketOpen(t time.Time) bool {
	local := t.In(newYork)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
