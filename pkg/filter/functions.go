package filter

import (
	"fmt"
	"strings"
)

// funcTemplate renders a function call's SQL given its already-encoded
// argument fragments. Placeholders {0}, {1}, ... index into args.
type funcTemplate func(args []string) (string, error)

// functionTable maps an engine-visible function name to its T-SQL
// rendering. Names are matched case-sensitively against what the engine
// passes in FuncCall.Name.
var functionTable = map[string]funcTemplate{
	"length": func(a []string) (string, error) { return tmpl1("LEN({0})", a) },
	"year":   func(a []string) (string, error) { return tmpl1("YEAR({0})", a) },
	"month":  func(a []string) (string, error) { return tmpl1("MONTH({0})", a) },
	"day":    func(a []string) (string, error) { return tmpl1("DAY({0})", a) },
	"upper":  func(a []string) (string, error) { return tmpl1("UPPER({0})", a) },
	"lower":  func(a []string) (string, error) { return tmpl1("LOWER({0})", a) },
	"abs":    func(a []string) (string, error) { return tmpl1("ABS({0})", a) },

	"date_add": func(a []string) (string, error) {
		// date_add(d, part, n) -> DATEADD(part, n, d)
		if len(a) != 3 {
			return "", fmt.Errorf("filter: date_add wants 3 args, got %d", len(a))
		}
		return fmt.Sprintf("DATEADD(%s, %s, %s)", a[1], a[2], a[0]), nil
	},
}

func tmpl1(pattern string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("filter: template %q wants 1 arg, got %d", pattern, len(args))
	}
	return strings.Replace(pattern, "{0}", args[0], 1), nil
}

// EncodeFunctionCall renders name(argSQL...) using functionTable, or an
// error if the engine referenced an unsupported function (the caller
// treats that as a pushdown failure, not a hard error).
func EncodeFunctionCall(name string, argSQL []string) (string, error) {
	fn, ok := functionTable[name]
	if !ok {
		return "", fmt.Errorf("filter: no pushdown template for function %q", name)
	}
	return fn(argSQL)
}

// patternKind distinguishes the three built-in string-pattern predicates.
type patternKind int

const (
	PatternPrefix patternKind = iota
	PatternSuffix
	PatternContains
)

// EncodeLikePattern builds `col LIKE '...'` (or its case-insensitive
// `LOWER(col) LIKE LOWER('...')` form) for the named pattern kind,
// escaping literal wildcard characters in needle first.
func EncodeLikePattern(colSQL, needle string, kind patternKind, caseInsensitive bool) string {
	escaped := EscapeLikePattern(needle)
	var pattern string
	switch kind {
	case PatternPrefix:
		pattern = escaped + "%"
	case PatternSuffix:
		pattern = "%" + escaped
	case PatternContains:
		pattern = "%" + escaped + "%"
	}

	lit := NString(pattern)
	if caseInsensitive {
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", colSQL, lit)
	}
	return fmt.Sprintf("%s LIKE %s", colSQL, lit)
}
