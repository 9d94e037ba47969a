package filter

import (
	"fmt"
	"math"
	"strings"
)

// EscapeIdentifier bracket-quotes a T-SQL identifier, doubling any `]`
// it contains so the fragment round-trips through the server's
// tokenizer as the original name.
func EscapeIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// EscapeString doubles single quotes for use inside an N'...' literal.
// Callers must wrap the result in N'...' themselves.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// NString renders s as an N'...' literal, forcing server-side NVARCHAR
// comparison under the column's collation regardless of the column's
// declared type.
func NString(s string) string {
	return "N'" + EscapeString(s) + "'"
}

// EscapeLikePattern escapes %, _, and [ for literal use inside a LIKE
// pattern, bracketing each so it matches itself rather than acting as a
// wildcard.
func EscapeLikePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SerializeValue renders v as a T-SQL literal per spec.md §4.9's value
// rules. NaN/Inf floats and kinds with no literal form (struct, unknown)
// are rejected with an error; every other value succeeds.
func SerializeValue(v Value) (string, error) {
	switch v.Kind {
	case ValueNull:
		return "NULL", nil
	case ValueBool:
		if v.Bool {
			return "1", nil
		}
		return "0", nil
	case ValueInt:
		return fmt.Sprintf("%d", v.Int), nil
	case ValueUint:
		if v.Uint > math.MaxInt64 {
			// Exceeds signed 64-bit range; cast to an unambiguous width.
			return fmt.Sprintf("CAST(%d AS DECIMAL(20,0))", v.Uint), nil
		}
		return fmt.Sprintf("%d", v.Uint), nil
	case ValueFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return "", fmt.Errorf("filter: cannot serialize non-finite float %v", v.Float)
		}
		return fmt.Sprintf("%g", v.Float), nil
	case ValueDecimal:
		// Render with the value's own scale so trailing zeros survive
		// ("100.00" stays "100.00"); String() would drop them.
		if exp := v.Decimal.Exponent(); exp < 0 {
			return v.Decimal.StringFixed(-exp), nil
		}
		return v.Decimal.String(), nil
	case ValueString:
		return NString(v.String), nil
	case ValueBytes:
		return "0x" + fmt.Sprintf("%x", v.Bytes), nil
	case ValueDate:
		return "'" + v.Time.Format("2006-01-02") + "'", nil
	case ValueDateTime:
		return "CAST('" + v.Time.Format("2006-01-02T15:04:05.9999999") + "' AS DATETIME2(7))", nil
	case ValueUUID:
		return "'" + v.UUID.String() + "'", nil
	default:
		return "", fmt.Errorf("filter: unknown value kind %d", v.Kind)
	}
}
