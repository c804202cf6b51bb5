package pricesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seorin-works/backend-atelier/internal/channel"
	"github.com/seorin-works/backend-atelier/internal/pricing"
	"github.com/seorin-works/backend-atelier/internal/syncrule"
)

type fakeJobStore struct {
	jobs          map[uuid.UUID]*Job
	markPushedErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]*Job{}}
}

func (f *fakeJobStore) add(job Job) Job {
	job.JobID = uuid.New()
	if job.Status == "" {
		job.Status = StatusPending
	}
	f.jobs[job.JobID] = &job
	return job
}

func (f *fakeJobStore) ChannelsWithDueJobs(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, j := range f.jobs {
		if j.Status == StatusPending && !j.NextAttemptAt.After(now) && !seen[j.ChannelID] {
			seen[j.ChannelID] = true
			out = append(out, j.ChannelID)
		}
	}
	return out, nil
}

func (f *fakeJobStore) RequeueStale(context.Context, time.Time) (int, error) { return 0, nil }

func (f *fakeJobStore) ClaimDue(_ context.Context, channelID uuid.UUID, now time.Time, limit int) ([]Job, error) {
	var out []Job
	for _, j := range f.jobs {
		if len(out) >= limit {
			break
		}
		if j.ChannelID == channelID && j.Status == StatusPending && !j.NextAttemptAt.After(now) {
			j.Status = StatusDelivering
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) MarkPushed(_ context.Context, jobID uuid.UUID) error {
	if f.markPushedErr != nil {
		return f.markPushedErr
	}
	f.jobs[jobID].Status = StatusPushed
	return nil
}

func (f *fakeJobStore) MarkRetry(_ context.Context, jobID uuid.UUID, attempts int, next time.Time, lastErr string) error {
	j := f.jobs[jobID]
	j.Status = StatusPending
	j.Attempts = attempts
	j.NextAttemptAt = next
	j.LastError = lastErr
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, jobID uuid.UUID, attempts int, lastErr string) error {
	j := f.jobs[jobID]
	j.Status = StatusFailed
	j.Attempts = attempts
	j.LastError = lastErr
	return nil
}

type fakeEngine struct {
	quote pricing.Quote
	err   error
}

func (f fakeEngine) Quote(context.Context, pricing.QuoteRequest) (pricing.Quote, error) {
	return f.quote, f.err
}

type fakeRules struct {
	r2 []syncrule.R2Rule
	r3 []syncrule.R3Rule
}

func (f fakeRules) ActiveR2RulesForChannel(context.Context, uuid.UUID) ([]syncrule.R2Rule, error) {
	return f.r2, nil
}

func (f fakeRules) ActiveR3RulesForChannel(context.Context, uuid.UUID) ([]syncrule.R3Rule, error) {
	return f.r3, nil
}

type fakeAccounts struct {
	acct channel.Account
	err  error
}

func (f fakeAccounts) AccountForChannel(context.Context, uuid.UUID) (channel.Account, error) {
	return f.acct, f.err
}

func activeAccount() channel.Account {
	return channel.Account{
		AccountID:      uuid.New(),
		MallID:         "seorinmall",
		AccessToken:    "tok",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Status:         channel.AccountActive,
	}
}

func baseQuote() pricing.Quote {
	return pricing.Quote{UnitPriceKRW: 138000, MaterialCost: 100000}
}

func baseJob(channelID uuid.UUID) Job {
	return Job{
		ChannelID:        channelID,
		MasterItemID:     uuid.New(),
		ChannelProductID: "P100",
		MaterialCode:     "AG925",
		ColorCode:        "ROSE",
		WeightG:          2.5,
		LaborKRW:         20000,
		NextAttemptAt:    time.Now().Add(-time.Minute),
	}
}

func newDispatcher(jobs JobStore, engine QuoteEngine, rules RuleSource, accts AccountSource, provider channel.Provider) *Dispatcher {
	return &Dispatcher{
		Jobs:        jobs,
		Engine:      engine,
		Rules:       rules,
		Accounts:    accts,
		Provider:    provider,
		Logger:      zerolog.Nop(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
}

func strptr(s string) *string { return &s }

func TestWorkOnceDeliversDueJob(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	job := store.add(baseJob(channelID))

	provider := &channel.MockProvider{}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, fakeRules{}, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pushed)
	require.Equal(t, StatusPushed, store.jobs[job.JobID].Status)

	sent := provider.Pushed()
	require.Len(t, sent, 1)
	require.Equal(t, "P100", sent[0].ChannelProductID)
	require.Equal(t, int64(138000), sent[0].PriceKRW)
}

func TestWorkOnceAppliesRuleDeltas(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	store.add(baseJob(channelID))

	// unit price 138000, material 100000, labor 20000 -> margin 18000
	rules := fakeRules{
		r2: []syncrule.R2Rule{{
			RuleID:       uuid.New(),
			MaterialCode: strptr("AG925"),
			WeightMinG:   1,
			WeightMaxG:   5,
			DeltaKRW:     500,
			IsActive:     true,
		}},
		r3: []syncrule.R3Rule{{
			RuleID:       uuid.New(),
			ColorCode:    strptr("ROSE"),
			MarginMinKRW: 10000,
			MarginMaxKRW: 30000,
			DeltaKRW:     -300,
			IsActive:     true,
		}},
	}

	provider := &channel.MockProvider{}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, rules, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pushed)

	sent := provider.Pushed()
	require.Len(t, sent, 1)
	require.Equal(t, int64(138200), sent[0].PriceKRW)
}

func TestWorkOnceSchedulesRetryOnProviderFailure(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	job := store.add(baseJob(channelID))

	provider := &channel.MockProvider{Err: errors.New("mall unreachable")}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, fakeRules{}, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, pushed)

	got := store.jobs[job.JobID]
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.True(t, got.NextAttemptAt.After(time.Now().Add(-time.Second)))
	require.Contains(t, got.LastError, "mall unreachable")
}

func TestWorkOnceMarksFailedAfterMaxAttempts(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	seed := baseJob(channelID)
	seed.Attempts = 2
	job := store.add(seed)

	provider := &channel.MockProvider{Err: errors.New("mall unreachable")}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, fakeRules{}, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, pushed)

	got := store.jobs[job.JobID]
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.Contains(t, got.LastError, "mall unreachable")
}

func TestWorkOnceQuoteFailureSchedulesRetry(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	job := store.add(baseJob(channelID))

	provider := &channel.MockProvider{}
	d := newDispatcher(store, fakeEngine{err: pricing.ErrPolicyNotFound}, fakeRules{}, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, pushed)
	require.Empty(t, provider.Pushed())
	require.Equal(t, StatusPending, store.jobs[job.JobID].Status)
	require.Equal(t, 1, store.jobs[job.JobID].Attempts)
}

func TestWorkOnceDoesNotReportUncommittedSuccess(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	job := store.add(baseJob(channelID))
	store.markPushedErr = errors.New("pool closed")

	provider := &channel.MockProvider{}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, fakeRules{}, fakeAccounts{acct: activeAccount()}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, pushed)
	// the claim stands so the stale requeue can pick it up later
	require.Equal(t, StatusDelivering, store.jobs[job.JobID].Status)
}

func TestWorkOnceSkipsChannelWithoutAccount(t *testing.T) {
	store := newFakeJobStore()
	channelID := uuid.New()
	job := store.add(baseJob(channelID))

	provider := &channel.MockProvider{}
	d := newDispatcher(store, fakeEngine{quote: baseQuote()}, fakeRules{}, fakeAccounts{err: errors.New("no account")}, provider)

	pushed, err := d.WorkOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, pushed)
	require.Empty(t, provider.Pushed())
	require.Equal(t, StatusPending, store.jobs[job.JobID].Status)
}
