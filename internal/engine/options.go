package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/ledger"
	"github.com/BTreeMap/FocusCoin/internal/models"
)

// CatchUpPolicy decides what happens to elapsed time left over after a
// segment reaches zero within one recompute.
type CatchUpPolicy int

const (
	// CatchUpLoop carries leftover time into the following segments until it
	// is used up or the plan completes.
	CatchUpLoop CatchUpPolicy = iota
	// CatchUpSingle performs at most one transition per recompute and drops
	// the leftover time.
	CatchUpSingle
)

func (p CatchUpPolicy) String() string {
	switch p {
	case CatchUpLoop:
		return "loop"
	case CatchUpSingle:
		return "single"
	}
	return fmt.Sprintf("CatchUpPolicy(%d)", int(p))
}

// ParseCatchUpPolicy accepts "loop" or "single".
func ParseCatchUpPolicy(s string) (CatchUpPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "loop":
		return CatchUpLoop, nil
	case "single":
		return CatchUpSingle, nil
	}
	return CatchUpLoop, fmt.Errorf("unknown catch-up policy %q", s)
}

// Opts holds engine configuration.
type Opts struct {
	CoinsPerMinute int
	CatchUp        CatchUpPolicy
	DefaultPlan    models.SessionPlan
	DefaultMode    models.Mode
	Beacon         ledger.Beacon
	MaxTick        time.Duration
}

// Option configures an Engine.
type Option func(*Opts)

// WithCoinsPerMinute sets the reward for each whole minute of work. Zero
// disables coin grants; negative values are ignored.
func WithCoinsPerMinute(n int) Option {
	return func(o *Opts) {
		if n >= 0 {
			o.CoinsPerMinute = n
		}
	}
}

// WithCatchUpPolicy selects how long gaps are reconciled.
func WithCatchUpPolicy(p CatchUpPolicy) Option {
	return func(o *Opts) { o.CatchUp = p }
}

// WithDefaultPlan sets the plan used on first start and after a corruption reset.
func WithDefaultPlan(p models.SessionPlan) Option {
	return func(o *Opts) { o.DefaultPlan = p }
}

// WithDefaultMode sets the mode used on first start and after a corruption reset.
func WithDefaultMode(m models.Mode) Option {
	return func(o *Opts) { o.DefaultMode = m }
}

// WithBeacon sets the transport for the unload-time flush. Without one the
// flush goes through the ledger.
func WithBeacon(b ledger.Beacon) Option {
	return func(o *Opts) { o.Beacon = b }
}

// WithMaxTick sets the longest the running loop waits between recomputes.
// It is rounded up to whole seconds; the default is one second.
func WithMaxTick(d time.Duration) Option {
	return func(o *Opts) { o.MaxTick = d }
}

func defaultOpts() Opts {
	return Opts{
		CoinsPerMinute: 1,
		CatchUp:        CatchUpLoop,
		DefaultPlan:    models.DefaultPlan(),
		DefaultMode:    models.ModePomodoro,
		MaxTick:        time.Second,
	}
}

// tickMillis returns MaxTick rounded up to whole seconds, at least 1000.
func (o Opts) tickMillis() int64 {
	ms := o.MaxTick.Milliseconds()
	if ms <= 1000 {
		return 1000
	}
	return (ms + 999) / 1000 * 1000
}
