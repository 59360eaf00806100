// Package dataanalysis declares the data_analysis tool. It validates its
// arguments but does not analyze anything yet.
package dataanalysis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rhuss/codeact/pkg/tools"
)

// Name is the catalog key of the tool.
const Name = "data_analysis"

// Parameters is the JSON Schema for data_analysis arguments.
var Parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "data": {"type": "array", "description": "The data to analyze"},
    "analysis_type": {
      "type": "string",
      "enum": ["summary", "visualization", "correlation"],
      "description": "The type of analysis to perform"
    }
  },
  "required": ["data", "analysis_type"]
}`)

// Descriptor returns the catalog entry for the tool.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Analyze data and generate visualizations.",
		Parameters:  Parameters,
		Execute:     execute,
	}
}

func execute(_ context.Context, args map[string]any) (any, error) {
	kind, err := tools.StringArg(args, "analysis_type")
	if err != nil {
		return nil, err
	}
	slog.Debug("data analysis", "analysis_type", kind)
	return tools.Placeholder("Data analysis", nil), nil
}
