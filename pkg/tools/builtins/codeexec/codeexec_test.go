package codeexec

import (
	"context"
	"errors"
	"testing"

	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
)

func TestExecute(t *testing.T) {
	tests := []struct {
		name        string
		run         func(context.Context, sandbox.Program) (*sandbox.Output, error)
		args        map[string]any
		wantSuccess bool
		wantOutput  string
		wantError   string
	}{
		{
			name:        "canned output",
			args:        map[string]any{"code": "print(1)"},
			wantSuccess: true,
			wantOutput:  mock.CannedOutput,
		},
		{
			name: "explicit language",
			run: func(_ context.Context, p sandbox.Program) (*sandbox.Output, error) {
				return &sandbox.Output{Stdout: string(p.Language)}, nil
			},
			args:        map[string]any{"code": "x", "language": "python"},
			wantSuccess: true,
			wantOutput:  "python",
		},
		{
			name:      "empty code",
			args:      map[string]any{"code": ""},
			wantError: "Code cannot be empty",
		},
		{
			name:      "backend fault",
			run:       func(context.Context, sandbox.Program) (*sandbox.Output, error) { return nil, errors.New("pod evicted") },
			args:      map[string]any{"code": "x"},
			wantError: "pod evicted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := sandbox.New(mock.New(mock.Config{RunFunc: tt.run}), sandbox.Config{})
			out, err := New(sb, sandbox.Options{}).Descriptor().Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}

			res, ok := out.(sandbox.ResultJSON)
			if !ok {
				t.Fatalf("result type = %T, want sandbox.ResultJSON", out)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v (error %q)", res.Success, tt.wantSuccess, res.Error)
			}
			if res.Output != tt.wantOutput {
				t.Errorf("output = %q, want %q", res.Output, tt.wantOutput)
			}
			if res.Error != tt.wantError {
				t.Errorf("error = %q, want %q", res.Error, tt.wantError)
			}
		})
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	sb := sandbox.New(mock.New(mock.Config{}), sandbox.Config{})
	out, _ := New(sb, sandbox.Options{}).Descriptor().Execute(context.Background(), map[string]any{
		"code":     "console.log(1)",
		"language": "javascript",
	})

	res := out.(sandbox.ResultJSON)
	want := "Unsupported language: javascript. Only Python is currently supported."
	if res.Success || res.Error != want {
		t.Errorf("got %+v, want failure %q", res, want)
	}
}
