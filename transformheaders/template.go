package transformheaders

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	lru "github.com/hashicorp/golang-lru/v2"
)

// noValue is what text/template renders for a nil value
const noValue = "<no value>"

// DefaultTemplateCacheSize bounds the number of compiled expressions kept by a TemplateEngine
const DefaultTemplateCacheSize = 1024

// EvaluationContext evaluates expressions against the variables of one exchange.
// ok is false when the expression produced no value.
type EvaluationContext interface {
	Evaluate(ctx context.Context, expression string) (value string, ok bool, err error)
}

// EvaluationFunc adapts a function to EvaluationContext
type EvaluationFunc func(ctx context.Context, expression string) (string, bool, error)

func (f EvaluationFunc) Evaluate(ctx context.Context, expression string) (string, bool, error) {
	return f(ctx, expression)
}

// TemplateEngine compiles header expressions as Go templates. It is safe for
// concurrent use; compiled templates are shared between exchanges.
type TemplateEngine struct {
	funcs template.FuncMap
	cache *lru.Cache[string, *template.Template]
}

// NewTemplateEngine creates an engine caching up to size compiled expressions
func NewTemplateEngine(size int) *TemplateEngine {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	cache, err := lru.New[string, *template.Template](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &TemplateEngine{funcs: funcMap(), cache: cache}
}

// Bind returns an EvaluationContext over vars
func (te *TemplateEngine) Bind(vars *Variables) EvaluationContext {
	if vars == nil {
		vars = &Variables{}
	}
	return &boundContext{engine: te, vars: vars}
}

// Compile parses expression, reusing a cached template when possible
func (te *TemplateEngine) Compile(expression string) (*template.Template, error) {
	if tmpl, ok := te.cache.Get(expression); ok {
		return tmpl, nil
	}
	tmpl, err := template.New("header").Funcs(te.funcs).Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	te.cache.Add(expression, tmpl)
	return tmpl, nil
}

func isLiteral(expression string) bool {
	return !strings.Contains(expression, "{{")
}

type boundContext struct {
	engine *TemplateEngine
	vars   *Variables
	dot    map[string]interface{}
}

func (b *boundContext) Evaluate(ctx context.Context, expression string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if isLiteral(expression) {
		return expression, true, nil
	}

	tmpl, err := b.engine.Compile(expression)
	if err != nil {
		return "", false, err
	}
	if b.dot == nil {
		b.dot = b.vars.data()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, b.dot); err != nil {
		return "", false, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	if buf.String() == noValue {
		return "", false, nil
	}
	return buf.String(), true, nil
}
