// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couch

import (
	"fmt"
	"regexp"

	"github.com/kivahq/couchclient/internal/expr"
)

// placeholderRE matches a "{…}" template hole, allowing at most one nested
// depth of "{word}" inside — exactly enough for expressions like
// "{{partitionNumber} === 0 ? 3 : 4}".
var placeholderRE = regexp.MustCompile(`\{((?:[^{}]+|\{\w+\})*)\}`)

var simpleNameRE = regexp.MustCompile(`^\w+$`)

// Resolver is a placeholder value bound on a Client or passed per-call.
// Most callers just use a plain value (a string, number, bool, ...); Func
// lets a binding compute its value per-request.
type Resolver interface{}

// Func is a Resolver that computes its value from the current request's
// options and the placeholder's name, per §4.A.
type Func func(ro *RequestOptions, name string) (any, error)

// scope resolves {word} references against the per-call options first,
// then the per-client bindings, invoking Func values as it goes. It
// implements expr.Scope so the same resolution rules apply whether a
// placeholder is a bare "{word}" or appears inside an expression.
type scope struct {
	ro     *RequestOptions
	call   map[string]any
	client map[string]Resolver
}

// lookup resolves name against call options, then client bindings. The
// second return value is false only if name is bound in neither scope —
// that is the one condition under which the template engine is allowed to
// leave a placeholder literal; a bound-but-falsy value (0, "", false) is
// not "absent".
func (s scope) lookup(name string) (any, bool, error) {
	if v, ok := s.call[name]; ok {
		return resolve(v, s.ro, name)
	}
	if v, ok := s.client[name]; ok {
		return resolve(v, s.ro, name)
	}
	return nil, false, nil
}

// Lookup implements expr.Scope. Inside an expression, an unbound
// identifier is an error rather than "leave literal" — an expression with
// a hole in it cannot be partially evaluated.
func (s scope) Lookup(name string) (any, bool, error) {
	v, ok, err := s.lookup(name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func resolve(v Resolver, ro *RequestOptions, name string) (any, bool, error) {
	switch t := v.(type) {
	case Func:
		val, err := t(ro, name)
		if err != nil {
			return nil, false, fmt.Errorf("resolve placeholder %q: %w", name, err)
		}
		return val, true, nil
	default:
		return v, true, nil
	}
}

// expandTemplate expands every "{…}" hole in tmpl against call and the
// client's bindings, per §4.A. A placeholder with no binding in either
// scope is left untouched, braces included.
func (c *Client) expandTemplate(tmpl string, ro *RequestOptions, call map[string]any) (string, error) {
	sc := scope{ro: ro, call: call, client: c.placeholders}
	var firstErr error
	result := placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		content := match[1 : len(match)-1]
		out, handled, err := c.expandOne(content, sc)
		if err != nil {
			firstErr = err
			return match
		}
		if !handled {
			return match
		}
		return out
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func (c *Client) expandOne(content string, sc scope) (string, bool, error) {
	if simpleNameRE.MatchString(content) {
		v, ok, err := sc.lookup(content)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		return expr.Stringify(v), true, nil
	}
	v, err := c.exprCache.Eval(content, sc)
	if err != nil {
		return "", false, fmt.Errorf("evaluate expression %q: %w", content, err)
	}
	return expr.Stringify(v), true, nil
}
