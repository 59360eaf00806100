// Package codeexec provides the execute_code tool, which runs a program in
// a fresh sandbox instance and reports the sandbox result verbatim.
package codeexec

import (
	"context"
	"encoding/json"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/tools"
)

// Name is the catalog key of the tool.
const Name = "execute_code"

// Parameters is the JSON Schema for execute_code arguments.
var Parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "code": {"type": "string", "description": "The Python code to execute"},
    "language": {
      "type": "string",
      "enum": ["python"],
      "description": "The programming language (currently only Python is supported)"
    }
  },
  "required": ["code"]
}`)

// Tool implements execute_code.
type Tool struct {
	sb   *sandbox.Sandbox
	opts sandbox.Options
}

// New creates the tool. opts is applied to every execution; zero fields
// fall back to the sandbox defaults.
func New(sb *sandbox.Sandbox, opts sandbox.Options) *Tool {
	return &Tool{sb: sb, opts: opts}
}

// Descriptor returns the catalog entry for the tool.
func (t *Tool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Execute Python code in a secure sandbox environment. Use this to perform calculations, data processing, or any task that can be solved with code.",
		Parameters:  Parameters,
		Execute:     t.execute,
	}
}

// execute never returns an error: sandbox faults are part of the result.
func (t *Tool) execute(ctx context.Context, args map[string]any) (any, error) {
	code, err := tools.StringArg(args, "code")
	if err != nil {
		return nil, err
	}
	lang, err := tools.StringArg(args, "language")
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = string(sandbox.Python)
	}

	debug.Log("tools", "execute_code", "language", lang, "code", debug.Truncate(code, 120))

	res := t.sb.Execute(ctx, code, sandbox.Language(lang), t.opts)
	return sandbox.Wire(res), nil
}
