package usecase

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lookalike/backend/internal/domain"
)

var (
	filterEnv     *cel.Env
	filterEnvErr  error
	filterEnvOnce sync.Once
)

func getFilterEnv() (*cel.Env, error) {
	filterEnvOnce.Do(func() {
		filterEnv, filterEnvErr = cel.NewEnv(
			cel.Variable("selected", cel.DynType),
			cel.Variable("candidate", cel.DynType),
		)
	})
	return filterEnv, filterEnvErr
}

// CandidateFilter is a compiled CEL predicate deciding which candidates are
// scored at all. Expressions see two maps, selected and candidate, with keys
// id, title, product_type, vendor and tags, e.g.
//
//	candidate.product_type == selected.product_type && !("sale" in candidate.tags)
type CandidateFilter struct {
	expr string
	prg  cel.Program
}

// CompileCandidateFilter compiles expr. Empty expressions yield a nil filter
// that admits every candidate.
func CompileCandidateFilter(expr string) (*CandidateFilter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getFilterEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: candidate filter: %v", domain.ErrInvalidRequest, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: candidate filter must be boolean, got %s", domain.ErrInvalidRequest, t)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate filter: %v", domain.ErrInvalidRequest, err)
	}
	return &CandidateFilter{expr: expr, prg: prg}, nil
}

// Allow evaluates the filter for one candidate
func (f *CandidateFilter) Allow(selected, candidate *domain.Product) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"selected":  filterVars(selected),
		"candidate": filterVars(candidate),
	})
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", f.expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: expression returned %T, want bool", f.expr, out.Value())
	}
	return allowed, nil
}

func filterVars(p *domain.Product) map[string]any {
	tags := make([]string, len(p.Tags))
	copy(tags, p.Tags)
	return map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"product_type": p.ProductType,
		"vendor":       p.Vendor,
		"tags":         tags,
	}
}

// filterCache keeps compiled filters so each expression is compiled once
type filterCache struct {
	mu      sync.Mutex
	filters map[string]*CandidateFilter
}

func (c *filterCache) get(expr string) (*CandidateFilter, error) {
	if expr == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.filters[expr]; ok {
		return f, nil
	}
	f, err := CompileCandidateFilter(expr)
	if err != nil {
		return nil, err
	}
	if c.filters == nil {
		c.filters = make(map[string]*CandidateFilter)
	}
	c.filters[expr] = f
	return f, nil
}
