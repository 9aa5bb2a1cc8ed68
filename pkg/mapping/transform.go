package mapping

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Transformer evaluates per-column JMESPath transforms. Expressions run
// against the full source record, so a transform can combine columns
// (`join(' ', [first_name, last_name])`) or reshape a single value.
// Compiled expressions are cached.
type Transformer struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

// NewTransformer creates a transform evaluator
func NewTransformer() *Transformer {
	return &Transformer{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Apply evaluates an expression against a source record
func (t *Transformer) Apply(expression string, record map[string]any) (any, error) {
	compiled, err := t.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid transform %q: %w", expression, err)
	}

	result, err := compiled.Search(record)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transform %q: %w", expression, err)
	}

	return result, nil
}

// Validate checks whether an expression compiles
func (t *Transformer) Validate(expression string) error {
	_, err := t.getOrCompile(expression)
	return err
}

func (t *Transformer) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	t.mu.RLock()
	if compiled, ok := t.cache[expression]; ok {
		t.mu.RUnlock()
		return compiled, nil
	}
	t.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cache[expression] = compiled
	t.mu.Unlock()

	return compiled, nil
}
