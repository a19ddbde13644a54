package wasmengine

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/mtstate/errors"
)

type funcSignature struct {
	params  []wit.Type
	results []wit.Type
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// parseWitFunctions extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func parseWitFunctions(witText string) (map[string]*funcSignature, error) {
	funcs := make(map[string]*funcSignature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		sig := &funcSignature{}
		for _, p := range splitParams(paramsStr) {
			typStr := p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				typStr = p[idx+1:]
			}
			t, err := parseScalar(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseSetup, errors.KindInvalidInput, err, "parse param type of "+name)
			}
			sig.params = append(sig.params, t)
		}

		if resultStr != "" && resultStr != "()" {
			inner := resultStr
			if strings.HasPrefix(inner, "(") && strings.HasSuffix(inner, ")") {
				inner = inner[1 : len(inner)-1]
			}
			for _, part := range splitParams(inner) {
				t, err := parseScalar(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseSetup, errors.KindInvalidInput, err, "parse result type of "+name)
				}
				sig.results = append(sig.results, t)
			}
		}

		funcs[name] = sig
	}

	if len(funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSetup, "no functions found in WIT text")
	}
	return funcs, nil
}

// splitParams splits a parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

// parseScalar accepts the WIT types that fit in a single core value.
func parseScalar(s string) (wit.Type, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.S64, wit.U64, wit.F32, wit.F64, wit.Char:
		return t, nil
	}
	return nil, errors.Unsupported(errors.PhaseSetup, "WIT type "+strings.TrimSpace(s))
}
