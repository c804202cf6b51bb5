package pricesync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/cache"
	"github.com/seorin-works/backend-atelier/internal/channel"
	"github.com/seorin-works/backend-atelier/internal/events"
	"github.com/seorin-works/backend-atelier/internal/obs"
	"github.com/seorin-works/backend-atelier/internal/pricing"
	"github.com/seorin-works/backend-atelier/internal/resilience"
	"github.com/seorin-works/backend-atelier/internal/syncrule"
)

// JobStore is the persistence surface the dispatcher drains.
type JobStore interface {
	ChannelsWithDueJobs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	RequeueStale(ctx context.Context, now time.Time) (int, error)
	ClaimDue(ctx context.Context, channelID uuid.UUID, now time.Time, limit int) ([]Job, error)
	MarkPushed(ctx context.Context, jobID uuid.UUID) error
	MarkRetry(ctx context.Context, jobID uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, attempts int, lastError string) error
}

// QuoteEngine derives the base unit price for a job.
type QuoteEngine interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

// RuleSource loads the active sync rules for a channel.
type RuleSource interface {
	ActiveR2RulesForChannel(ctx context.Context, channelID uuid.UUID) ([]syncrule.R2Rule, error)
	ActiveR3RulesForChannel(ctx context.Context, channelID uuid.UUID) ([]syncrule.R3Rule, error)
}

// AccountSource resolves the credentials backing a channel.
type AccountSource interface {
	AccountForChannel(ctx context.Context, channelID uuid.UUID) (channel.Account, error)
}

// Locker serializes dispatch per channel across worker processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Dispatcher drains due push jobs. One channel is processed at a time
// under a distributed lock; a job is only reported pushed after the
// status row committed.
type Dispatcher struct {
	Jobs        JobStore
	Engine      QuoteEngine
	Rules       RuleSource
	Accounts    AccountSource
	Provider    channel.Provider
	Locker      Locker
	Bus         *events.Bus
	Logger      zerolog.Logger
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
	LockTTL     time.Duration
	Now         func() time.Time
}

// WorkOnce processes every channel with due jobs and returns how many
// jobs were delivered.
func (d *Dispatcher) WorkOnce(ctx context.Context) (int, error) {
	now := d.now()
	if requeued, err := d.Jobs.RequeueStale(ctx, now); err != nil {
		return 0, fmt.Errorf("pricesync: requeue stale jobs: %w", err)
	} else if requeued > 0 {
		d.Logger.Warn().Int("count", requeued).Msg("requeued stale delivering jobs")
	}

	channels, err := d.Jobs.ChannelsWithDueJobs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("pricesync: list due channels: %w", err)
	}

	pushed := 0
	for _, channelID := range channels {
		n, err := d.drainChannel(ctx, channelID)
		pushed += n
		if err != nil {
			d.Logger.Error().Err(err).Str("channel_id", channelID.String()).Msg("channel drain failed")
		}
	}
	return pushed, nil
}

func (d *Dispatcher) drainChannel(ctx context.Context, channelID uuid.UUID) (int, error) {
	pushed := 0
	work := func(ctx context.Context) error {
		acct, err := d.Accounts.AccountForChannel(ctx, channelID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		r2, err := d.Rules.ActiveR2RulesForChannel(ctx, channelID)
		if err != nil {
			return fmt.Errorf("load r2 rules: %w", err)
		}
		r3, err := d.Rules.ActiveR3RulesForChannel(ctx, channelID)
		if err != nil {
			return fmt.Errorf("load r3 rules: %w", err)
		}

		jobs, err := d.Jobs.ClaimDue(ctx, channelID, d.now(), d.batchSize())
		if err != nil {
			return fmt.Errorf("claim jobs: %w", err)
		}
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.processJob(ctx, acct, r2, r3, job) {
				pushed++
			}
		}
		return nil
	}

	var err error
	if d.Locker == nil {
		err = work(ctx)
	} else {
		err = d.Locker.WithLock(ctx, cache.KeyPushLock(channelID), d.lockTTL(), work)
	}
	return pushed, err
}

// processJob pushes one job and settles its status. Returns true only
// when the job was delivered and the pushed status committed.
func (d *Dispatcher) processJob(ctx context.Context, acct channel.Account, r2 []syncrule.R2Rule, r3 []syncrule.R3Rule, job Job) bool {
	start := time.Now()
	price, err := d.derivePrice(ctx, r2, r3, job)
	if err == nil {
		err = d.Provider.PushPrice(ctx, acct, channel.PushRequest{
			MasterItemID:     job.MasterItemID,
			ChannelProductID: job.ChannelProductID,
			PriceKRW:         price,
		})
	}
	d.observeLatency(job.ChannelID, start)

	if err != nil {
		d.settleFailure(ctx, job, err)
		return false
	}

	if err := d.Jobs.MarkPushed(ctx, job.JobID); err != nil {
		// the push went out but the status did not commit; leave the
		// job delivering so the stale requeue retries it
		d.Logger.Error().Err(err).Str("job_id", job.JobID.String()).Msg("pushed status commit failed")
		return false
	}
	d.countPush(job.ChannelID, "pushed")
	d.emit(ctx, events.TopicPricePushed, job, map[string]any{
		"job_id":             job.JobID,
		"channel_id":         job.ChannelID,
		"master_item_id":     job.MasterItemID,
		"channel_product_id": job.ChannelProductID,
		"price_krw":          price,
	})
	return true
}

// derivePrice runs the quote pipeline, then layers the channel's R2/R3
// deltas on the rounded unit price.
func (d *Dispatcher) derivePrice(ctx context.Context, r2 []syncrule.R2Rule, r3 []syncrule.R3Rule, job Job) (int64, error) {
	var channelProductID *string
	if job.ChannelProductID != "" {
		channelProductID = &job.ChannelProductID
	}
	quote, err := d.Engine.Quote(ctx, pricing.QuoteRequest{
		ChannelID:        job.ChannelID,
		MasterItemID:     job.MasterItemID,
		ChannelProductID: channelProductID,
		MaterialCode:     job.MaterialCode,
		WeightG:          job.WeightG,
		LaborKRW:         job.LaborKRW,
		Quantity:         1,
	})
	if err != nil {
		return 0, fmt.Errorf("quote: %w", err)
	}

	price := quote.UnitPriceKRW
	price += syncrule.DeltaR2(r2, syncrule.R2Input{
		MaterialCode: job.MaterialCode,
		CategoryCode: job.CategoryCode,
		WeightG:      job.WeightG,
	})
	price += syncrule.DeltaR3(r3, syncrule.R3Input{
		ColorCode: job.ColorCode,
		MarginKRW: marginOf(quote, job),
	})
	if price < 0 {
		d.Logger.Warn().Str("job_id", job.JobID.String()).Int64("price", price).Msg("rule deltas drove price negative, clamping to zero")
		price = 0
	}
	return price, nil
}

// marginOf is the unit price minus the raw material and labor inputs.
// R3 bands are defined against this spread.
func marginOf(q pricing.Quote, job Job) int64 {
	return q.UnitPriceKRW - int64(math.Round(q.MaterialCost)) - job.LaborKRW
}

func (d *Dispatcher) settleFailure(ctx context.Context, job Job, cause error) {
	attempts := job.Attempts + 1
	if attempts >= d.maxAttempts() {
		if err := d.Jobs.MarkFailed(ctx, job.JobID, attempts, cause.Error()); err != nil {
			d.Logger.Error().Err(err).Str("job_id", job.JobID.String()).Msg("failed status commit failed")
			return
		}
		d.countPush(job.ChannelID, "failed")
		if obs.PricePushFailedJobs != nil {
			obs.PricePushFailedJobs.Inc()
		}
		d.Logger.Error().Err(cause).Str("job_id", job.JobID.String()).Int("attempts", attempts).Msg("push job exhausted attempts")
		d.emit(ctx, events.TopicPricePushFailed, job, map[string]any{
			"job_id":         job.JobID,
			"channel_id":     job.ChannelID,
			"master_item_id": job.MasterItemID,
			"attempts":       attempts,
			"last_error":     cause.Error(),
		})
		return
	}

	next := d.now().Add(resilience.Backoff(d.baseBackoff(), attempts, 0.2))
	if err := d.Jobs.MarkRetry(ctx, job.JobID, attempts, next, cause.Error()); err != nil {
		d.Logger.Error().Err(err).Str("job_id", job.JobID.String()).Msg("retry schedule commit failed")
		return
	}
	d.countPush(job.ChannelID, "retry")
	d.Logger.Warn().Err(cause).Str("job_id", job.JobID.String()).Int("attempts", attempts).Time("next_attempt_at", next).Msg("push attempt failed, retry scheduled")
}

func (d *Dispatcher) emit(ctx context.Context, topic string, job Job, payload map[string]any) {
	if d.Bus == nil {
		return
	}
	if _, err := d.Bus.Emit(ctx, topic, job.JobID, payload); err != nil {
		d.Logger.Error().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

func (d *Dispatcher) countPush(channelID uuid.UUID, result string) {
	if obs.PricePushTotal != nil {
		obs.PricePushTotal.WithLabelValues(channelID.String(), result).Inc()
	}
}

func (d *Dispatcher) observeLatency(channelID uuid.UUID, start time.Time) {
	if obs.PricePushLatency != nil {
		obs.PricePushLatency.WithLabelValues(channelID.String()).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 5
}

func (d *Dispatcher) baseBackoff() time.Duration {
	if d.BaseBackoff > 0 {
		return d.BaseBackoff
	}
	return time.Minute
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return 50
}

func (d *Dispatcher) lockTTL() time.Duration {
	if d.LockTTL > 0 {
		return d.LockTTL
	}
	return 2 * time.Minute
}
