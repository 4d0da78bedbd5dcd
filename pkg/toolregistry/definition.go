package toolregistry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/schema"
)

// DefaultVersion is used when a definition does not set one.
const DefaultVersion = "1.0.0"

// Tool names must be usable as LLM function names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Definition describes one tool. It is immutable: build it with
// NewDefinition and read it through accessors.
type Definition struct {
	name        string
	category    string
	version     string
	description string
	level       PermissionLevel
	creditCost  int64
	idempotent  bool
	cacheable   bool
	deprecated  bool
	rateLimit   *ratelimit.Limit
	params      *schema.Object
	tags        []string
}

// DefinitionOption sets an optional field on a Definition.
type DefinitionOption func(*Definition)

func WithVersion(v string) DefinitionOption {
	return func(d *Definition) { d.version = v }
}

func WithCreditCost(cost int64) DefinitionOption {
	return func(d *Definition) { d.creditCost = cost }
}

func WithRateLimit(maxCalls int, window time.Duration) DefinitionOption {
	return func(d *Definition) {
		d.rateLimit = &ratelimit.Limit{MaxCalls: maxCalls, Window: window}
	}
}

func WithTags(tags ...string) DefinitionOption {
	return func(d *Definition) { d.tags = append([]string(nil), tags...) }
}

// Idempotent marks the tool safe to retry. Advisory only.
func Idempotent() DefinitionOption {
	return func(d *Definition) { d.idempotent = true }
}

func Cacheable() DefinitionOption {
	return func(d *Definition) { d.cacheable = true }
}

func Deprecated() DefinitionOption {
	return func(d *Definition) { d.deprecated = true }
}

// NewDefinition builds a Definition, requiring every mandatory field up
// front. Errors wrap ErrInvalidDefinition.
func NewDefinition(name, category, description string, level PermissionLevel, params *schema.Object, opts ...DefinitionOption) (Definition, error) {
	d := Definition{
		name:        name,
		category:    category,
		version:     DefaultVersion,
		description: description,
		level:       level,
		params:      params,
	}
	for _, opt := range opts {
		opt(&d)
	}

	if err := d.validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// MustDefinition is NewDefinition for static tool tables; it panics on error.
func MustDefinition(name, category, description string, level PermissionLevel, params *schema.Object, opts ...DefinitionOption) Definition {
	d, err := NewDefinition(name, category, description, level, params, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Definition) validate() error {
	if d.name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if !namePattern.MatchString(d.name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidDefinition, d.name, namePattern)
	}
	if d.category == "" {
		return fmt.Errorf("%w: %s: category is required", ErrInvalidDefinition, d.name)
	}
	if d.description == "" {
		return fmt.Errorf("%w: %s: description is required", ErrInvalidDefinition, d.name)
	}
	if d.version == "" {
		return fmt.Errorf("%w: %s: version is required", ErrInvalidDefinition, d.name)
	}
	if !d.level.IsValid() {
		return fmt.Errorf("%w: %s: invalid permission level %q", ErrInvalidDefinition, d.name, d.level)
	}
	if d.creditCost < 0 {
		return fmt.Errorf("%w: %s: credit cost must be >= 0", ErrInvalidDefinition, d.name)
	}
	if d.rateLimit != nil {
		if err := d.rateLimit.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.name, err)
		}
	}
	if _, err := schema.Compile(d.params); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.name, err)
	}
	return nil
}

func (d Definition) Name() string { return d.name }
func (d Definition) Category() string { return d.category }
func (d Definition) Version() string { return d.version }
func (d Definition) Description() string { return d.description }
func (d Definition) PermissionLevel() PermissionLevel { return d.level }
func (d Definition) CreditCost() int64 { return d.creditCost }
func (d Definition) IsIdempotent() bool { return d.idempotent }
func (d Definition) Cacheable() bool { return d.cacheable }
func (d Definition) Deprecated() bool { return d.deprecated }
func (d Definition) Parameters() *schema.Object { return d.params }

// RateLimit returns the limit and whether one is set.
func (d Definition) RateLimit() (ratelimit.Limit, bool) {
	if d.rateLimit == nil {
		return ratelimit.Limit{}, false
	}
	return *d.rateLimit, true
}

// Tags returns a copy of the tags.
func (d Definition) Tags() []string {
	return append([]string(nil), d.tags...)
}

// HasTag reports whether the definition carries tag.
func (d Definition) HasTag(tag string) bool {
	for _, t := range d.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithDeprecated returns a copy with the deprecated flag set to v.
func (d Definition) WithDeprecated(v bool) Definition {
	d.deprecated = v
	return d
}

// WithCreditCost returns a copy charging cost per successful call.
func (d Definition) WithCreditCost(cost int64) Definition {
	d.creditCost = cost
	return d
}

// WithRateLimit returns a copy with limit applied. A nil limit removes it.
func (d Definition) WithRateLimit(limit *ratelimit.Limit) Definition {
	if limit == nil {
		d.rateLimit = nil
		return d
	}
	l := *limit
	d.rateLimit = &l
	return d
}

type definitionJSON struct {
	Name            string                 `json:"name"`
	Category        string                 `json:"category"`
	Version         string                 `json:"version"`
	Description     string                 `json:"description"`
	PermissionLevel PermissionLevel        `json:"permissionLevel"`
	CreditCost      int64                  `json:"creditCost"`
	IsIdempotent    bool                   `json:"isIdempotent"`
	Cacheable       bool                   `json:"cacheable"`
	RateLimit       *ratelimit.Limit       `json:"rateLimit,omitempty"`
	Parameters      map[string]interface{} `json:"parameters"`
	Tags            []string               `json:"tags"`
	Deprecated      bool                   `json:"deprecated"`
}

func (d Definition) MarshalJSON() ([]byte, error) {
	tags := d.Tags()
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(definitionJSON{
		Name:            d.name,
		Category:        d.category,
		Version:         d.version,
		Description:     d.description,
		PermissionLevel: d.level,
		CreditCost:      d.creditCost,
		IsIdempotent:    d.idempotent,
		Cacheable:       d.cacheable,
		RateLimit:       d.rateLimit,
		Parameters:      schema.JSONSchema(d.params),
		Tags:            tags,
		Deprecated:      d.deprecated,
	})
}
