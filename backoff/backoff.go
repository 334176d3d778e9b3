// Package backoff decides retry, cooldown, and abandonment for scrape
// attempts. One policy instance per platform, parameterized by configuration,
// is invoked uniformly by the orchestrator around every adapter call.
package backoff

import (
	"math/rand"
	"time"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

// State is the attempt lifecycle of one scrape target.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateBlocked   State = "blocked"
	StateAbandoned State = "abandoned"
)

// Outcome classifies a finished fetch attempt.
type Outcome int

const (
	Success Outcome = iota
	TransportFailed
	Blocked
	ExtractionFailed
)

// Decision is what the orchestrator should do next with a target.
type Decision int

const (
	Done Decision = iota
	Retry
	Abandon
)

// AttemptState tracks retry bookkeeping for one target. Created on first
// attempt, destroyed on terminal success or abandonment.
type AttemptState struct {
	Target         models.ScrapeTarget
	State          State
	Attempts       int
	Blocks         int
	NextEligibleAt time.Time
	LastError      error
}

// Policy computes delays and terminal decisions from platform configuration.
type Policy struct {
	pc *config.PlatformConfig
}

// NewPolicy builds a policy for one platform.
func NewPolicy(pc *config.PlatformConfig) *Policy {
	return &Policy{pc: pc}
}

// Delay returns the retry delay for the given attempt number (1-based):
// base * 2^(attempt-1), capped, with ±20% jitter so retries across targets
// on the same platform do not synchronize.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := p.pc.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.pc.MaxBackoff {
			delay = p.pc.MaxBackoff
			break
		}
	}
	if delay > p.pc.MaxBackoff {
		delay = p.pc.MaxBackoff
	}
	return jitter(delay)
}

// BlockCooldown returns the escalating cooldown after the nth block. The
// adapter's suggested cooldown serves as the floor; repeated blocks double it.
func (p *Policy) BlockCooldown(blocks int, suggested time.Duration) time.Duration {
	if blocks <= 0 {
		blocks = 1
	}
	base := p.pc.BlockCooldown
	if suggested > base {
		base = suggested
	}
	cooldown := base
	for i := 1; i < blocks; i++ {
		cooldown *= 2
	}
	return jitter(cooldown)
}

// Next applies one outcome to the target's attempt state and returns the
// orchestrator's next move. Blocked targets cool down longer than ordinary
// retries; schema mismatches are never retried.
func (p *Policy) Next(st *AttemptState, outcome Outcome, err error, suggestedCooldown time.Duration, now time.Time) Decision {
	st.LastError = err
	switch outcome {
	case Success:
		st.Attempts = 0
		st.Blocks = 0
		st.State = StateIdle
		st.LastError = nil
		return Done
	case TransportFailed:
		st.Attempts++
		if st.Attempts >= p.pc.MaxAttempts {
			st.State = StateAbandoned
			return Abandon
		}
		st.State = StateIdle
		st.NextEligibleAt = now.Add(p.Delay(st.Attempts))
		return Retry
	case Blocked:
		st.Blocks++
		if st.Blocks > p.pc.MaxBlocks {
			st.State = StateAbandoned
			return Abandon
		}
		st.State = StateBlocked
		st.NextEligibleAt = now.Add(p.BlockCooldown(st.Blocks, suggestedCooldown))
		return Retry
	case ExtractionFailed:
		// Retrying will not fix a structural mismatch.
		st.State = StateAbandoned
		return Abandon
	default:
		st.State = StateAbandoned
		return Abandon
	}
}

// jitter spreads a delay across ±20% of its value.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}
