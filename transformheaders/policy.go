package transformheaders

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PolicyID is the identifier of the policy in a gateway pipeline
const PolicyID = "transform-headers"

// Policy is the modern adapter set. Every entry point aborts the whole
// transformation on the first failure and reports a *Failure.
type Policy struct {
	config    *Config
	engine    *Engine
	onFailure FailurePolicy
	templates *TemplateEngine
	apiID     string
	skipPaths map[string]bool
	logger    logrus.FieldLogger
	stats     counters
}

// Option configures a Policy
type Option func(*Policy)

// WithAPIID sets the api id used in expressions and failure correlation
func WithAPIID(id string) Option {
	return func(p *Policy) { p.apiID = id }
}

// WithTemplateEngine shares a template engine between policies
func WithTemplateEngine(te *TemplateEngine) Option {
	return func(p *Policy) { p.templates = te }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Policy) { p.logger = logger }
}

// WithFailurePolicy overrides how evaluation failures are handled
func WithFailurePolicy(fp FailurePolicy) Option {
	return func(p *Policy) { p.onFailure = fp }
}

// WithSkipPaths bypasses the transformation for exact request paths or gRPC methods
func WithSkipPaths(paths ...string) Option {
	return func(p *Policy) {
		for _, path := range paths {
			p.skipPaths[path] = true
		}
	}
}

// NewPolicy creates a policy from a private copy of config
func NewPolicy(config *Config, opts ...Option) *Policy {
	return newPolicy(config, AbortOnFailure, opts...)
}

func newPolicy(config *Config, onFailure FailurePolicy, opts ...Option) *Policy {
	cfg := config.Clone()
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Policy{
		config:    cfg,
		onFailure: onFailure,
		skipPaths: make(map[string]bool),
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = NewEngine(cfg, p.onFailure)
	if p.templates == nil {
		p.templates = NewTemplateEngine(DefaultTemplateCacheSize)
	}
	return p
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// ID returns PolicyID
func (p *Policy) ID() string {
	return PolicyID
}

// Config returns a copy of the policy configuration
func (p *Policy) Config() *Config {
	return p.config.Clone()
}

// SetLogger sets a custom logger
func (p *Policy) SetLogger(logger logrus.FieldLogger) {
	p.logger = logger
}

// Validate validates the policy configuration
func (p *Policy) Validate() error {
	return ValidateConfig(p.config)
}

// Bind returns an evaluation context over vars using the policy's template
// engine. vars is not modified; a missing api id is taken from the policy.
func (p *Policy) Bind(vars *Variables) EvaluationContext {
	if vars != nil && vars.APIID == "" {
		bound := *vars
		bound.APIID = p.apiID
		vars = &bound
	}
	return p.templates.Bind(vars)
}

// TransformRequestHeaders applies the policy to request headers
func (p *Policy) TransformRequestHeaders(ctx context.Context, headers Headers, eval EvaluationContext) error {
	return p.transform(ctx, headers, eval)
}

// TransformResponseHeaders applies the policy to response headers
func (p *Policy) TransformResponseHeaders(ctx context.Context, headers Headers, eval EvaluationContext) error {
	return p.transform(ctx, headers, eval)
}

// TransformMessageHeaders applies the policy to the headers of a single message or record
func (p *Policy) TransformMessageHeaders(ctx context.Context, headers Headers, eval EvaluationContext) error {
	return p.transform(ctx, headers, eval)
}

func (p *Policy) transform(ctx context.Context, headers Headers, eval EvaluationContext) error {
	_, err := p.run(ctx, headers, eval)
	return err
}

func (p *Policy) run(ctx context.Context, headers Headers, eval EvaluationContext) (*Result, error) {
	res, err := p.engine.Apply(ctx, headers, eval)
	if res != nil && res.FieldErrors != nil {
		p.stats.fieldFailures.Add(int64(len(res.FieldErrors.Errors)))
	}
	if err != nil {
		p.stats.failed.Add(1)
		return res, err
	}
	p.stats.transformed.Add(1)
	return res, nil
}

// apply binds vars, runs the engine and turns an aborted run into a *Failure.
// Isolated field failures are logged with the exchange correlation fields.
func (p *Policy) apply(ctx context.Context, message string, headers Headers, vars *Variables) error {
	res, err := p.run(ctx, headers, p.Bind(vars))
	if res != nil && res.FieldErrors != nil {
		fields := logrus.Fields(newFailure(message, vars, nil).Fields())
		for _, fieldErr := range res.FieldErrors.Errors {
			p.logger.WithFields(fields).WithError(fieldErr).Error("Unable to evaluate header expression, header skipped")
		}
	}
	if err != nil {
		return p.fail(message, vars, err)
	}
	return nil
}

func (p *Policy) skipped(path string) bool {
	return p.skipPaths[path]
}

func (p *Policy) vars() *Variables {
	return &Variables{APIID: p.apiID}
}

// Stats provides statistics about transformation runs
type Stats struct {
	Transformed   int64
	Failed        int64
	FieldFailures int64
	LastUpdated   time.Time
}

type counters struct {
	transformed   atomic.Int64
	failed        atomic.Int64
	fieldFailures atomic.Int64
}

// GetStats returns a snapshot of the policy counters
func (p *Policy) GetStats() *Stats {
	return &Stats{
		Transformed:   p.stats.transformed.Load(),
		Failed:        p.stats.failed.Load(),
		FieldFailures: p.stats.fieldFailures.Load(),
		LastUpdated:   time.Now(),
	}
}

// Builder provides a fluent API for creating a Policy
type Builder struct {
	config *ConfigBuilder
	opts   []Option
}

// NewBuilder creates a new policy builder
func NewBuilder() *Builder {
	return &Builder{config: NewConfigBuilder()}
}

// AddHeader sets name to the value of expression
func (b *Builder) AddHeader(name, expression string) *Builder {
	b.config.AddHeader(name, expression)
	return b
}

// AppendHeader appends the value of expression to name
func (b *Builder) AppendHeader(name, expression string) *Builder {
	b.config.AppendHeader(name, expression)
	return b
}

// RemoveHeaders removes names
func (b *Builder) RemoveHeaders(names ...string) *Builder {
	b.config.RemoveHeaders(names...)
	return b
}

// WhitelistHeaders keeps only names
func (b *Builder) WhitelistHeaders(names ...string) *Builder {
	b.config.WhitelistHeaders(names...)
	return b
}

// Scope sets the scope honored by legacy policies
func (b *Builder) Scope(scope Scope) *Builder {
	b.config.WithScope(scope)
	return b
}

// SkipPaths sets paths to skip
func (b *Builder) SkipPaths(paths ...string) *Builder {
	b.opts = append(b.opts, WithSkipPaths(paths...))
	return b
}

// APIID sets the api id
func (b *Builder) APIID(id string) *Builder {
	b.opts = append(b.opts, WithAPIID(id))
	return b
}

// Logger sets the logger
func (b *Builder) Logger(logger logrus.FieldLogger) *Builder {
	b.opts = append(b.opts, WithLogger(logger))
	return b
}

// Build creates the Policy
func (b *Builder) Build() *Policy {
	return NewPolicy(b.config.Build(), b.opts...)
}

// BuildLegacy creates a LegacyPolicy
func (b *Builder) BuildLegacy() *LegacyPolicy {
	return NewLegacyPolicy(b.config.Build(), b.opts...)
}
