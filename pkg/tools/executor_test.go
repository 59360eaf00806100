package tools

import (
	"strings"
	"testing"
)

func TestPlaceholder(t *testing.T) {
	res := Placeholder("File operation 'read'", nil)

	if res["success"] != true {
		t.Errorf("success = %v, want true", res["success"])
	}
	want := "File operation 'read' is not yet implemented. This is a placeholder response."
	if res["message"] != want {
		t.Errorf("message = %q, want %q", res["message"], want)
	}
}

func TestPlaceholder_Extra(t *testing.T) {
	res := Placeholder("Web search", map[string]any{
		"results": []any{},
		"success": false,
	})

	results, ok := res["results"].([]any)
	if !ok || len(results) != 0 {
		t.Errorf("results = %#v, want empty slice", res["results"])
	}
	if res["success"] != true {
		t.Error("extra fields must not override success")
	}
	if !strings.HasSuffix(res["message"].(string), PlaceholderSuffix) {
		t.Errorf("message = %q", res["message"])
	}
}

func TestStringArg(t *testing.T) {
	args := map[string]any{"code": "print(1)", "n": 3.0, "nil": nil}

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"code", "print(1)", false},
		{"missing", "", false},
		{"nil", "", false},
		{"n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := StringArg(args, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"timeout": 5000.0, "int": 7, "bad": "x"}

	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"timeout", 5000, false},
		{"int", 7, false},
		{"missing", 42, false},
		{"bad", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := IntArg(args, tt.key, 42)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
