// Package blacklist is the IP-reputation / policy oracle (§6): an
// opaque collaborator the core calls to check and record protocol
// violations. Treated as authoritative on Allowed/Blocked; on its own
// failure the core falls open (allow) and logs — the same fail-open
// discipline the teacher uses for its SMS and payment singletons
// ("client not configured, skipping").
package blacklist

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/playmatatu/matchcore/internal/models"
)

// Verdict is the oracle's reply to CheckPlayerBlock.
type Verdict struct {
	Blocked       bool
	RemainingSecs int64
	Reason        string
}

// Oracle is the interface the Session Gateway consumes.
type Oracle interface {
	CheckPlayerBlock(ctx context.Context, playerID models.PlayerID, ip string) (Verdict, error)
	RecordViolation(ctx context.Context, playerID models.PlayerID, kind models.ViolationKind, ip string)
}

// InMemoryOracle is a minimal, self-contained reference oracle: it
// tracks violation counts per player and blocks a player once a
// threshold of violations accumulates within a window. A production
// deployment would call out to a real policy service; this
// implementation fulfils the interface boundary the core depends on
// without reaching outside the process.
type InMemoryOracle struct {
	mu          sync.Mutex
	violations  map[models.PlayerID][]time.Time
	blocked     map[models.PlayerID]time.Time
	threshold   int
	window      time.Duration
	blockPeriod time.Duration
}

// NewInMemoryOracle builds an oracle that blocks a player for
// blockPeriod after threshold violations within window.
func NewInMemoryOracle(threshold int, window, blockPeriod time.Duration) *InMemoryOracle {
	return &InMemoryOracle{
		violations:  make(map[models.PlayerID][]time.Time),
		blocked:     make(map[models.PlayerID]time.Time),
		threshold:   threshold,
		window:      window,
		blockPeriod: blockPeriod,
	}
}

// CheckPlayerBlock never itself fails; it always returns a verdict.
func (o *InMemoryOracle) CheckPlayerBlock(_ context.Context, playerID models.PlayerID, _ string) (Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	until, blocked := o.blocked[playerID]
	if !blocked {
		return Verdict{Blocked: false}, nil
	}
	remaining := time.Until(until)
	if remaining <= 0 {
		delete(o.blocked, playerID)
		return Verdict{Blocked: false}, nil
	}
	return Verdict{Blocked: true, RemainingSecs: int64(remaining.Seconds()), Reason: "repeated protocol violations"}, nil
}

// RecordViolation logs a violation and blocks the player if the
// threshold is crossed within the configured window.
func (o *InMemoryOracle) RecordViolation(_ context.Context, playerID models.PlayerID, kind models.ViolationKind, ip string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-o.window)
	recent := o.violations[playerID][:0]
	for _, t := range o.violations[playerID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	o.violations[playerID] = recent

	log.Printf("[BLACKLIST] violation recorded: player=%s kind=%s ip=%s count=%d", playerID, kind, ip, len(recent))

	if len(recent) >= o.threshold {
		o.blocked[playerID] = now.Add(o.blockPeriod)
		log.Printf("[BLACKLIST] player %s blocked for %v (kind=%s)", playerID, o.blockPeriod, kind)
	}
}

// CheckPlayerBlockFailOpen wraps an Oracle call so that any error
// returned by a remote oracle implementation is treated as Allowed,
// per §6's fail-open policy.
func CheckPlayerBlockFailOpen(ctx context.Context, oracle Oracle, playerID models.PlayerID, ip string) Verdict {
	v, err := oracle.CheckPlayerBlock(ctx, playerID, ip)
	if err != nil {
		log.Printf("[BLACKLIST] oracle error for player %s, falling open: %v", playerID, err)
		return Verdict{Blocked: false}
	}
	return v
}
