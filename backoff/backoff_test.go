package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	return NewPolicy(&config.PlatformConfig{
		MaxAttempts:   3,
		BaseBackoff:   time.Second,
		MaxBackoff:    8 * time.Second,
		BlockCooldown: time.Minute,
		MaxBlocks:     2,
	})
}

func TestDelayDoublesWithinJitterBand(t *testing.T) {
	policy := testPolicy(t)

	tests := []struct {
		attempt int
		nominal time.Duration
	}{
		{attempt: 1, nominal: time.Second},
		{attempt: 2, nominal: 2 * time.Second},
		{attempt: 3, nominal: 4 * time.Second},
		{attempt: 4, nominal: 8 * time.Second},
		{attempt: 5, nominal: 8 * time.Second}, // capped
		{attempt: 10, nominal: 8 * time.Second},
	}

	for _, tt := range tests {
		got := policy.Delay(tt.attempt)
		lo := time.Duration(float64(tt.nominal) * 0.8)
		hi := time.Duration(float64(tt.nominal) * 1.2)
		if got < lo || got > hi {
			t.Fatalf("Delay(%d) = %s, want within [%s, %s]", tt.attempt, got, lo, hi)
		}
	}
}

func TestBlockCooldownEscalates(t *testing.T) {
	policy := testPolicy(t)

	first := policy.BlockCooldown(1, 0)
	second := policy.BlockCooldown(2, 0)
	if first < 48*time.Second || first > 72*time.Second {
		t.Fatalf("first cooldown = %s, want ~1m", first)
	}
	if second < 96*time.Second || second > 144*time.Second {
		t.Fatalf("second cooldown = %s, want ~2m", second)
	}

	// Adapter-suggested cooldowns floor the configured one.
	suggested := policy.BlockCooldown(1, 10*time.Minute)
	if suggested < 8*time.Minute {
		t.Fatalf("suggested cooldown ignored, got %s", suggested)
	}
}

func TestNextTransportFailuresAbandonAtMaxAttempts(t *testing.T) {
	policy := testPolicy(t)
	st := &AttemptState{Target: models.ScrapeTarget{Platform: models.PlatformPartsBay, ExternalID: "1"}}
	now := time.Now()
	errConn := errors.New("connection refused")

	if d := policy.Next(st, TransportFailed, errConn, 0, now); d != Retry {
		t.Fatalf("attempt 1 decision = %v, want Retry", d)
	}
	if st.NextEligibleAt.Before(now) {
		t.Fatalf("retry must schedule a future eligibility, got %s", st.NextEligibleAt)
	}
	if d := policy.Next(st, TransportFailed, errConn, 0, now); d != Retry {
		t.Fatalf("attempt 2 decision = %v, want Retry", d)
	}
	if d := policy.Next(st, TransportFailed, errConn, 0, now); d != Abandon {
		t.Fatalf("attempt 3 decision = %v, want Abandon", d)
	}
	if st.State != StateAbandoned {
		t.Fatalf("state = %q, want abandoned", st.State)
	}
	if st.LastError == nil {
		t.Fatalf("abandoned state must preserve the last error")
	}
}

func TestNextBlockedEscalatesThenAbandons(t *testing.T) {
	policy := testPolicy(t)
	st := &AttemptState{}
	now := time.Now()
	errBlocked := errors.New("captcha interstitial")

	if d := policy.Next(st, Blocked, errBlocked, 0, now); d != Retry {
		t.Fatalf("first block decision = %v, want Retry", d)
	}
	if st.State != StateBlocked {
		t.Fatalf("state = %q, want blocked", st.State)
	}
	firstEligible := st.NextEligibleAt

	if d := policy.Next(st, Blocked, errBlocked, 0, now); d != Retry {
		t.Fatalf("second block decision = %v, want Retry", d)
	}
	if !st.NextEligibleAt.After(firstEligible) {
		t.Fatalf("cooldown must escalate: %s then %s", firstEligible, st.NextEligibleAt)
	}

	if d := policy.Next(st, Blocked, errBlocked, 0, now); d != Abandon {
		t.Fatalf("block past the cap = %v, want Abandon", d)
	}
}

func TestNextSchemaMismatchNeverRetries(t *testing.T) {
	policy := testPolicy(t)
	st := &AttemptState{}

	if d := policy.Next(st, ExtractionFailed, errors.New("results container missing"), 0, time.Now()); d != Abandon {
		t.Fatalf("extraction failure decision = %v, want Abandon", d)
	}
	if st.State != StateAbandoned {
		t.Fatalf("state = %q, want abandoned", st.State)
	}
}

func TestNextSuccessResetsCounters(t *testing.T) {
	policy := testPolicy(t)
	st := &AttemptState{Attempts: 2, Blocks: 1, LastError: errors.New("stale")}

	if d := policy.Next(st, Success, nil, 0, time.Now()); d != Done {
		t.Fatalf("success decision = %v, want Done", d)
	}
	if st.Attempts != 0 || st.Blocks != 0 || st.LastError != nil || st.State != StateIdle {
		t.Fatalf("success must reset state, got %+v", st)
	}
}
