package expr

import "testing"

func eval(t *testing.T, src string, env map[string]any) any {
	t.Helper()
	v, err := Eval(src, env)
	if err != nil {
		t.Fatalf("eval(%q): %v", src, err)
	}
	return v
}

func TestArithmetic(t *testing.T) {
	if v := eval(t, "2 + 3 * 4", nil); v != 14.0 {
		t.Fatalf("expected 14, got %v", v)
	}
	if v := eval(t, "(2 + 3) * 4", nil); v != 20.0 {
		t.Fatalf("expected 20, got %v", v)
	}
}

func TestComparisonsAndBooleanLogic(t *testing.T) {
	if v := eval(t, "3 > 2 && 1 == 1", nil); v != true {
		t.Fatalf("expected true, got %v", v)
	}
	if v := eval(t, "3 < 2 || false", nil); v != false {
		t.Fatalf("expected false, got %v", v)
	}
	if v := eval(t, "!(1 == 2)", nil); v != true {
		t.Fatalf("expected true, got %v", v)
	}
}

func TestFieldAndIndexAccess(t *testing.T) {
	env := map[string]any{
		"context": map[string]any{"score": 7.0},
		"items":   []any{"a", "b", "c"},
	}
	if v := eval(t, "context.score >= 5", env); v != true {
		t.Fatalf("expected true, got %v", v)
	}
	if v := eval(t, `items[1]`, env); v != "b" {
		t.Fatalf("expected b, got %v", v)
	}
}

func TestMissingFieldEvaluatesNilNotError(t *testing.T) {
	env := map[string]any{"context": map[string]any{}}
	v, err := Eval("context.missing", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil, got %v", v)
	}
}

func TestBuiltins(t *testing.T) {
	if v := eval(t, `len("hello")`, nil); v != 5.0 {
		t.Fatalf("expected 5, got %v", v)
	}
	if v := eval(t, `contains("hello world", "world")`, nil); v != true {
		t.Fatalf("expected true, got %v", v)
	}
	if v := eval(t, `upper("abc")`, nil); v != "ABC" {
		t.Fatalf("expected ABC, got %v", v)
	}
}

func TestUnknownFunctionIsRejected(t *testing.T) {
	if _, err := Eval(`exec("rm -rf /")`, nil); err == nil {
		t.Fatal("expected error for unknown/unsandboxed function")
	}
}

func TestStringConcatenation(t *testing.T) {
	if v := eval(t, `"foo" + "bar"`, nil); v != "foobar" {
		t.Fatalf("expected foobar, got %v", v)
	}
}
