// Package ratelimit bounds how many remittances a sender may create per window
// and how much value they may send per UTC day.
package ratelimit

import (
	"context"
	"math"
	"math/bits"
	"time"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
)

const (
	DefaultWindow       = time.Hour
	DefaultMaxPerWindow = 10
)

// Config holds limiter policy. Zero MaxPerWindow or DailyLimit disables that check.
type Config struct {
	Window       time.Duration
	MaxPerWindow uint32
	DailyLimit   uint64
}

type Repo interface {
	RateLimitState(ctx context.Context, sender ledger.Address) (ledger.RateLimitState, bool, error)
	SaveRateLimitState(ctx context.Context, st ledger.RateLimitState) error
}

type Limiter interface {
	// Admit returns the state sender would have after one more send of amount.
	// Nothing is persisted.
	Admit(ctx context.Context, sender ledger.Address, amount uint64, now time.Time) (ledger.RateLimitState, error)
	Commit(ctx context.Context, st ledger.RateLimitState) error
	Get(ctx context.Context, sender ledger.Address, now time.Time) (ledger.RateLimitState, error)
}

type limiter struct {
	repo Repo
	cfg  Config
}

func New(repo Repo, cfg Config) Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &limiter{repo: repo, cfg: cfg}
}

func windowStart(now time.Time, w time.Duration) time.Time {
	return now.UTC().Truncate(w)
}

func dayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// roll resets the counters whose window no longer contains now.
func (l *limiter) roll(st ledger.RateLimitState, now time.Time) ledger.RateLimitState {
	if ws := windowStart(now, l.cfg.Window); !st.WindowStart.Equal(ws) {
		st.WindowStart = ws
		st.WindowCount = 0
	}
	if ds := dayStart(now); !st.DayStart.Equal(ds) {
		st.DayStart = ds
		st.DayAmount = 0
	}
	return st
}

func (l *limiter) load(ctx context.Context, sender ledger.Address, now time.Time) (ledger.RateLimitState, error) {
	st, ok, err := l.repo.RateLimitState(ctx, sender)
	if err != nil {
		return ledger.RateLimitState{}, err
	}
	if !ok {
		st = ledger.RateLimitState{Sender: sender}
	}
	return l.roll(st, now), nil
}

func (l *limiter) Admit(ctx context.Context, sender ledger.Address, amount uint64, now time.Time) (ledger.RateLimitState, error) {
	st, err := l.load(ctx, sender, now)
	if err != nil {
		return ledger.RateLimitState{}, err
	}
	if l.cfg.MaxPerWindow > 0 && st.WindowCount >= l.cfg.MaxPerWindow {
		return ledger.RateLimitState{}, errs.ErrRateLimitExceeded
	}
	if st.WindowCount == math.MaxUint32 {
		return ledger.RateLimitState{}, errs.ErrOverflow
	}
	total, carry := bits.Add64(st.DayAmount, amount, 0)
	if carry != 0 {
		return ledger.RateLimitState{}, errs.ErrOverflow
	}
	if l.cfg.DailyLimit > 0 && total > l.cfg.DailyLimit {
		return ledger.RateLimitState{}, errs.ErrDailySendLimitExceeded
	}
	st.WindowCount++
	st.DayAmount = total
	return st, nil
}

func (l *limiter) Commit(ctx context.Context, st ledger.RateLimitState) error {
	return l.repo.SaveRateLimitState(ctx, st)
}

// Get returns sender's counters as seen at now, with expired windows reset.
func (l *limiter) Get(ctx context.Context, sender ledger.Address, now time.Time) (ledger.RateLimitState, error) {
	return l.load(ctx, sender, now)
}
