package service

import (
	"sync"
	"time"

	"morado/model"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Allowed Decision = iota
	RejectedRateExceeded
	RejectedQuotaExceeded
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RejectedRateExceeded:
		return "rate_exceeded"
	case RejectedQuotaExceeded:
		return "quota_exceeded"
	}
	return "unknown"
}

// PlanLimits holds the fixed ceilings of a plan tier.
type PlanLimits struct {
	RequestsPerDay    int
	RequestsPerMinute int
}

// DefaultPlanLimits keeps the free tier well below the upstream free-tier
// quota so a burst of guests cannot exhaust the provider account.
var DefaultPlanLimits = map[model.Plan]PlanLimits{
	model.PlanFree: {RequestsPerDay: 10, RequestsPerMinute: 2},
	model.PlanPro:  {RequestsPerDay: 18, RequestsPerMinute: 4},
}

type usageRecord struct {
	plan       model.Plan
	windowDate string
	dailyCount int
	minute     []time.Time
}

// UsageLimiter performs per-identity admission control: a sliding
// 60-second window bounds requests per minute and a UTC calendar-date
// window bounds requests per day. It does no I/O, so it is safe to call
// before the provider request is issued. Rejected requests never reach
// the provider.
type UsageLimiter struct {
	limits map[model.Plan]PlanLimits
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*usageRecord
}

func NewUsageLimiter() *UsageLimiter {
	return NewUsageLimiterWithClock(DefaultPlanLimits, time.Now)
}

// NewUsageLimiterWithClock injects the clock so window behavior is
// testable without waiting on wall time.
func NewUsageLimiterWithClock(limits map[model.Plan]PlanLimits, now func() time.Time) *UsageLimiter {
	return &UsageLimiter{
		limits: limits,
		now:    now,
		users:  make(map[string]*usageRecord),
	}
}

// Admit decides whether one request from identity may proceed. The
// minute ceiling is checked before the daily ceiling: a burst exceeding
// both reports the rate violation. No state changes on rejection.
func (l *UsageLimiter) Admit(identity string, plan model.Plan) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	today := now.UTC().Format("2006-01-02")

	record, ok := l.users[identity]
	if !ok || record.windowDate != today {
		record = &usageRecord{plan: plan, windowDate: today}
		l.users[identity] = record
	} else {
		// Plan is re-asserted on every request; there is no canonical
		// subscription source to reconcile against.
		record.plan = plan
	}

	limits := l.limits[record.plan]

	kept := record.minute[:0]
	for _, t := range record.minute {
		if now.Sub(t) < time.Minute {
			kept = append(kept, t)
		}
	}
	record.minute = kept

	if len(record.minute) >= limits.RequestsPerMinute {
		return RejectedRateExceeded
	}
	if record.dailyCount >= limits.RequestsPerDay {
		return RejectedQuotaExceeded
	}

	record.minute = append(record.minute, now)
	record.dailyCount++
	return Allowed
}

// Sweep drops records whose daily window is no longer current and
// returns how many were removed. Wired to a nightly cron job so the
// usage map does not grow without bound.
func (l *UsageLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.now().UTC().Format("2006-01-02")
	removed := 0
	for identity, record := range l.users {
		if record.windowDate != today {
			delete(l.users, identity)
			removed++
		}
	}
	return removed
}
