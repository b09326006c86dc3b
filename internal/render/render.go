// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// templatePattern matches {{ expr }} substitutions. Unlike Go's text/template,
// whitespace around the expression is trimmed but the braces carry no other
// syntax (no actions, no pipelines beyond function calls inside the
// expression itself).
var templatePattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Renderer evaluates templates against a render context, with a registered
// vals resolver for the vals(...) filter function.
type Renderer struct {
	resolveVals ValsResolver
}

// New returns a Renderer using the default `vals eval` subprocess resolver.
func New() *Renderer {
	return &Renderer{resolveVals: DefaultValsResolver}
}

// NewWithResolver returns a Renderer using a custom vals resolver, for
// tests that don't want to shell out.
func NewWithResolver(resolver ValsResolver) *Renderer {
	return &Renderer{resolveVals: resolver}
}

// Render walks value recursively, rendering string leaves as templates
// against ctx. Non-string scalars pass through unchanged. Maps and slices
// are rendered element-wise into new maps/slices; Render never mutates its
// input.
func (r *Renderer) Render(ctx context.Context, value any, vars map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.renderString(ctx, v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			rendered, err := r.Render(ctx, elem, vars)
			if err != nil {
				return nil, fmt.Errorf("render %s: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			rendered, err := r.Render(ctx, elem, vars)
			if err != nil {
				return nil, fmt.Errorf("render [%d]: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// renderString evaluates every {{ expr }} occurrence in s. If s is exactly
// one template with no surrounding text, the expression's native result
// (including non-string types) is returned; otherwise every match is
// stringified and substituted in place.
func (r *Renderer) renderString(ctx context.Context, s string, vars map[string]any) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		exprText := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		return r.eval(ctx, exprText, vars)
	}

	var b strings.Builder
	last := 0
	var evalErr error
	for _, m := range matches {
		start, end, exprStart, exprEnd := m[0], m[1], m[2], m[3]
		b.WriteString(s[last:start])
		result, err := r.eval(ctx, strings.TrimSpace(s[exprStart:exprEnd]), vars)
		if err != nil {
			evalErr = err
			break
		}
		b.WriteString(stringify(result))
		last = end
	}
	if evalErr != nil {
		return nil, evalErr
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// eval compiles and runs expression against vars. Missing lookups (a map
// key or field that does not exist) evaluate to nil, which callers render
// as an empty string: expr-lang's map/field access already returns nil for
// an absent key instead of erroring, giving the non-strict policy for free.
func (r *Renderer) eval(ctx context.Context, expression string, vars map[string]any) (any, error) {
	env := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		env[k] = v
	}
	env["vals"] = func(ref string) (string, error) {
		return r.resolveVals(ctx, ref)
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return result, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
