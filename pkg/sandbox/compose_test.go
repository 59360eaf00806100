package sandbox

import (
	"math"
	"strings"
	"testing"
)

func TestPythonLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 5, "5"},
		{"float", 2.5, "2.5"},
		{"string", "hi \"there\"", `"hi \"there\""`},
		{"true", true, "True"},
		{"false", false, "False"},
		{"nil", nil, "None"},
		{"list", []any{1, "a", nil}, `[1, "a", None]`},
		{"map sorted", map[string]any{"b": false, "a": 1}, `{"a": 1, "b": False}`},
		{"nested", map[string]any{"xs": []int{1, 2}}, `{"xs": [1, 2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PythonLiteral(tt.in)
			if err != nil {
				t.Fatalf("PythonLiteral: %v", err)
			}
			if got != tt.want {
				t.Errorf("PythonLiteral(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestPythonLiteralRejectsUnserializable(t *testing.T) {
	if _, err := PythonLiteral(math.Inf(1)); err == nil {
		t.Error("expected error for +Inf")
	}
	if _, err := PythonLiteral(make(chan int)); err == nil {
		t.Error("expected error for channel")
	}
}

func TestComposeCallMultipleArgs(t *testing.T) {
	code, err := ComposeCall("def f(a, b, c): return a", "f", []any{1, "x", []any{true}})
	if err != nil {
		t.Fatalf("ComposeCall: %v", err)
	}
	if !strings.Contains(code, `result = f(1, "x", [True])`) {
		t.Errorf("composed program missing call expression:\n%s", code)
	}
	if !strings.HasSuffix(code, "print(result)\n") {
		t.Errorf("composed program should end with print(result):\n%s", code)
	}
}

func TestComposeCallNoArgs(t *testing.T) {
	code, err := ComposeCall("def f(): return 1", "f", nil)
	if err != nil {
		t.Fatalf("ComposeCall: %v", err)
	}
	if !strings.Contains(code, "result = f()\n") {
		t.Errorf("composed program = %q", code)
	}
}
