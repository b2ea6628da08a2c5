// Package expr is a sandboxed expression language for workflow guards
// and script steps. It has no I/O and no host access: evaluation walks
// a parsed AST against a plain map[string]any environment and nothing
// else, so a workflow definition can never reach the filesystem,
// network, or Go runtime through a condition string.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval parses and evaluates source against env in one call.
func Eval(source string, env map[string]any) (any, error) {
	node, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return node.eval(env)
}

// Parse compiles source into a reusable AST.
func Parse(source string) (Node, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("expr: unexpected token %q", p.peek().text)
	}
	return node, nil
}

// Node is a parsed expression; eval is unexported so the only way to
// produce one is through Parse, keeping the sandbox closed.
type Node interface {
	eval(env map[string]any) (any, error)
}

var builtins = map[string]func(args []any) (any, error){
	"len": func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len() takes exactly one argument")
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		default:
			return nil, fmt.Errorf("len() unsupported type %T", v)
		}
	},
	"contains": func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains() takes exactly two arguments")
		}
		switch c := args[0].(type) {
		case string:
			s, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("contains() on a string needs a string needle")
			}
			return strings.Contains(c, s), nil
		case []any:
			for _, item := range c {
				if equalValues(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		default:
			return nil, fmt.Errorf("contains() unsupported collection type %T", c)
		}
	},
	"upper": func(args []any) (any, error) {
		s, err := asString("upper", args)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	},
	"lower": func(args []any) (any, error) {
		s, err := asString("lower", args)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	},
	"has": func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("has() takes exactly two arguments")
		}
		obj, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("has() first argument must be an object")
		}
		key, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("has() second argument must be a string key")
		}
		_, exists := obj[key]
		return exists, nil
	},
}

func asString(fn string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s() takes exactly one argument", fn)
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("%s() argument must be a string", fn)
	}
	return s, nil
}

func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
