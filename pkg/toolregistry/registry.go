package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolgate/pkg/ratelimit"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxDepth       = 4
	DefaultSettleAttempts = 3
	DefaultSettleBackoff  = 100 * time.Millisecond
	DefaultSettleTimeout  = 10 * time.Second
	DefaultArgsSummaryMax = 512
)

// Handler implements a tool. params have already been validated and
// coerced against the tool's schema.
type Handler func(ctx context.Context, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error)

// Config wires the registry's collaborators. Only Limiter is created when
// missing; a nil Ledger means tools with a credit cost cannot be registered.
type Config struct {
	Limiter *ratelimit.Limiter
	Ledger  CreditLedger
	// Recorder is called synchronously at the end of every Execute and
	// must not block; wrap slow sinks in auditlog.Async.
	Recorder ObservabilityLogger
	// Roles resolves callers whose ExecutionContext carries no Role.
	// Defaults to StaticRoles{Default: PermissionRead}.
	Roles    RoleResolver
	Metrics  Metrics
	Redactor Redactor

	DefaultTimeout time.Duration
	MaxDepth       int
	SettleAttempts int
	SettleBackoff  time.Duration
	SettleTimeout  time.Duration
	ArgsSummaryMax int

	NewID  func() string
	Clock  func() time.Time
	Logger *zerolog.Logger
}

// Override adjusts a registered tool without re-registering it. Overrides
// are always computed against the definition passed to Register, so
// applying the same set twice is a no-op.
type Override struct {
	Deprecated     *bool
	CreditCost     *int64
	RateLimit      *ratelimit.Limit
	ClearRateLimit bool
}

func (o Override) apply(d Definition) Definition {
	if o.Deprecated != nil {
		d = d.WithDeprecated(*o.Deprecated)
	}
	if o.CreditCost != nil {
		d = d.WithCreditCost(*o.CreditCost)
	}
	if o.ClearRateLimit {
		d = d.WithRateLimit(nil)
	} else if o.RateLimit != nil {
		d = d.WithRateLimit(o.RateLimit)
	}
	return d
}

type entry struct {
	base    Definition
	def     Definition
	handler Handler
}

// catalog is never modified once published.
type catalog struct {
	entries map[string]*entry
}

// Registry owns the tool catalog and runs the dispatch pipeline.
type Registry struct {
	mu        sync.Mutex
	current   atomic.Pointer[catalog]
	overrides map[string]Override

	limiter  *ratelimit.Limiter
	ledger   CreditLedger
	recorder ObservabilityLogger
	roles    RoleResolver
	metrics  Metrics
	redactor Redactor

	defaultTimeout time.Duration
	maxDepth       int
	settleAttempts int
	settleBackoff  time.Duration
	settleTimeout  time.Duration
	argsSummaryMax int

	newID  func() string
	now    func() time.Time
	logger zerolog.Logger
}

// RegisterOption modifies a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	allowOverride bool
}

// AllowOverride lets Register replace an existing tool of the same name.
func AllowOverride() RegisterOption {
	return func(o *registerOptions) { o.allowOverride = true }
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.Config{Clock: cfg.Clock})
	}
	if cfg.Roles == nil {
		cfg.Roles = StaticRoles{Default: PermissionRead}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = DefaultSettleAttempts
	}
	if cfg.SettleBackoff < 0 {
		cfg.SettleBackoff = 0
	} else if cfg.SettleBackoff == 0 {
		cfg.SettleBackoff = DefaultSettleBackoff
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.ArgsSummaryMax <= 0 {
		cfg.ArgsSummaryMax = DefaultArgsSummaryMax
	}
	if cfg.NewID == nil {
		cfg.NewID = newInvocationID
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	r := &Registry{
		overrides:      make(map[string]Override),
		limiter:        cfg.Limiter,
		ledger:         cfg.Ledger,
		recorder:       cfg.Recorder,
		roles:          cfg.Roles,
		metrics:        cfg.Metrics,
		redactor:       cfg.Redactor,
		defaultTimeout: cfg.DefaultTimeout,
		maxDepth:       cfg.MaxDepth,
		settleAttempts: cfg.SettleAttempts,
		settleBackoff:  cfg.SettleBackoff,
		settleTimeout:  cfg.SettleTimeout,
		argsSummaryMax: cfg.ArgsSummaryMax,
		newID:          cfg.NewID,
		now:            cfg.Clock,
		logger:         logger.With().Str("component", "toolregistry").Logger(),
	}
	r.current.Store(&catalog{entries: map[string]*entry{}})

	r.logger.Info().
		Dur("default_timeout", r.defaultTimeout).
		Int("max_depth", r.maxDepth).
		Msg("Tool registry initialized")

	return r
}

func newInvocationID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// Register makes def dispatchable under its name.
func (r *Registry) Register(def Definition, handler Handler, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := def.validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: handler is required", ErrInvalidDefinition, def.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	prev, exists := old.entries[def.name]
	if exists && !o.allowOverride {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.name)
	}

	effective := def
	if ov, ok := r.overrides[def.name]; ok {
		effective = ov.apply(def)
	}
	if err := r.checkEffective(effective); err != nil {
		return err
	}

	next := old.clone()
	next.entries[def.name] = &entry{base: def, def: effective, handler: handler}
	r.current.Store(next)

	if exists {
		r.resetLimitIfChanged(prev.def, effective)
		r.logger.Warn().Str("tool", def.name).Str("version", def.version).Msg("Tool re-registered")
	} else {
		r.logger.Info().Str("tool", def.name).Str("version", def.version).Msg("Tool registered")
	}
	return nil
}

// Unregister removes a tool. In-flight calls finish against the snapshot
// they started with.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, ok := old.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	next := old.clone()
	delete(next.entries, name)
	r.current.Store(next)
	r.limiter.Reset(name)

	r.logger.Info().Str("tool", name).Msg("Tool unregistered")
	return nil
}

// ApplyOverrides replaces the active override set. Tools missing from
// overrides revert to their registered definition. Overrides for names
// not registered yet are kept and applied on registration.
func (r *Registry) ApplyOverrides(overrides map[string]Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := &catalog{entries: make(map[string]*entry, len(old.entries))}
	for name, e := range old.entries {
		effective := e.base
		if ov, ok := overrides[name]; ok {
			effective = ov.apply(e.base)
		}
		if err := r.checkEffective(effective); err != nil {
			return fmt.Errorf("override for %s: %w", name, err)
		}
		next.entries[name] = &entry{base: e.base, def: effective, handler: e.handler}
	}

	for name := range overrides {
		if _, ok := old.entries[name]; !ok {
			r.logger.Warn().Str("tool", name).Msg("Override for unregistered tool")
		}
	}

	r.current.Store(next)
	for name, e := range next.entries {
		r.resetLimitIfChanged(old.entries[name].def, e.def)
	}

	kept := make(map[string]Override, len(overrides))
	for name, ov := range overrides {
		kept[name] = ov
	}
	r.overrides = kept

	r.logger.Info().Int("overrides", len(overrides)).Msg("Tool overrides applied")
	return nil
}

func (r *Registry) checkEffective(d Definition) error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.creditCost > 0 && r.ledger == nil {
		return fmt.Errorf("%w: %s: credit cost set but no credit ledger configured", ErrInvalidDefinition, d.name)
	}
	return nil
}

func (r *Registry) resetLimitIfChanged(before, after Definition) {
	b, bok := before.RateLimit()
	a, aok := after.RateLimit()
	if bok != aok || b != a {
		r.limiter.Reset(after.name)
	}
}

func (c *catalog) clone() *catalog {
	next := &catalog{entries: make(map[string]*entry, len(c.entries)+1)}
	for k, v := range c.entries {
		next.entries[k] = v
	}
	return next
}

func (r *Registry) lookup(name string) (*entry, bool) {
	e, ok := r.current.Load().entries[name]
	return e, ok
}

// Get returns the effective definition of a tool.
func (r *Registry) Get(name string) (Definition, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns every effective definition, sorted by name.
func (r *Registry) List() []Definition {
	entries := r.current.Load().entries
	defs := make([]Definition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].name < defs[j].name })
	return defs
}

// Len is the number of registered tools.
func (r *Registry) Len() int {
	return len(r.current.Load().entries)
}

// Limiter exposes the rate limiter for sweeping and dashboards.
func (r *Registry) Limiter() *ratelimit.Limiter {
	return r.limiter
}
