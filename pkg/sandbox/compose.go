package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ComposeCall builds a Python program that defines functionCode, calls
// functionName with args as positional literals, and prints the result.
func ComposeCall(functionCode, functionName string, args []any) (string, error) {
	if !identifierPattern.MatchString(functionName) {
		return "", fmt.Errorf("invalid function name %q", functionName)
	}

	literals := make([]string, len(args))
	for i, a := range args {
		lit, err := PythonLiteral(a)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		literals[i] = lit
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(functionCode)
	b.WriteString("\n\n# Call the function with provided arguments\n")
	fmt.Fprintf(&b, "result = %s(%s)\n", functionName, strings.Join(literals, ", "))
	b.WriteString("print(result)\n")
	return b.String(), nil
}

// PythonLiteral renders v as a Python literal. The value goes through JSON
// first, so anything json.Marshal accepts is supported; JSON's true, false
// and null become True, False and None.
func PythonLiteral(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serializing argument: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("serializing argument: %w", err)
	}
	var b strings.Builder
	writeLiteral(&b, generic)
	return b.String(), nil
}

func writeLiteral(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if t {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case json.Number:
		b.WriteString(t.String())
	case string:
		// JSON string escapes are a subset of Python's.
		q, _ := json.Marshal(t)
		b.Write(q)
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteString(", ")
			}
			writeLiteral(b, e)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeLiteral(b, k)
			b.WriteString(": ")
			writeLiteral(b, t[k])
		}
		b.WriteByte('}')
	}
}
