package engine

import (
	"fmt"
	"strconv"
	"strings"

	"commerce-automation-engine/internal/models"
)

// resolvePath walks a dotted path through nested maps. A missing segment or a
// non-map intermediate resolves to nil, mirroring how absent payload fields
// behave everywhere else in the engine.
func resolvePath(payload map[string]any, path string) any {
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// asFloat coerces JSON-decodable numerics and numeric strings to float64.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// strictEqual compares the resolved value against the condition value. Numeric
// forms are normalized first so 150 and 150.0 compare equal after a JSON round
// trip; everything else falls back to Go equality on comparable values.
func strictEqual(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
		return false
	}
	if a == nil || b == nil {
		return a == b
	}
	return a == b
}

// asNumber is asFloat without the string coercion; equals stays strict.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func membership(resolved any, value any) (found, isSlice bool) {
	var items []any
	switch t := value.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
	default:
		return false, false
	}
	for _, item := range items {
		if strictEqual(resolved, item) {
			return true, true
		}
	}
	return false, true
}

// EvaluateCondition resolves the condition's field against the payload and
// applies its operator. Unknown operators evaluate to false; validation at
// load time is expected to have rejected them already.
func EvaluateCondition(cond models.Condition, payload map[string]any) bool {
	resolved := resolvePath(payload, cond.Field)

	switch cond.Operator {
	case models.OpEquals:
		return strictEqual(resolved, cond.Value)
	case models.OpNotEquals:
		return !strictEqual(resolved, cond.Value)
	case models.OpGreaterThan:
		a, aok := asFloat(resolved)
		b, bok := asFloat(cond.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := asFloat(resolved)
		b, bok := asFloat(cond.Value)
		return aok && bok && a < b
	case models.OpContains:
		return strings.Contains(asString(resolved), asString(cond.Value))
	case models.OpNotContains:
		return !strings.Contains(asString(resolved), asString(cond.Value))
	case models.OpIn:
		found, isSlice := membership(resolved, cond.Value)
		return isSlice && found
	case models.OpNotIn:
		found, isSlice := membership(resolved, cond.Value)
		if !isSlice {
			return true
		}
		return !found
	default:
		return false
	}
}

// EvaluateConditions folds the condition list left to right. The result is
// seeded with conditions[0] (whose LogicalOperator is never consulted) and each
// subsequent condition is combined with OR or AND per its own LogicalOperator.
// There is no precedence or grouping; reordering conditions changes the result.
// An empty list passes: no conditions means "always run".
func EvaluateConditions(conditions []models.Condition, payload map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	result := EvaluateCondition(conditions[0], payload)
	for _, cond := range conditions[1:] {
		if cond.LogicalOperator == models.LogicalOr {
			result = result || EvaluateCondition(cond, payload)
		} else {
			result = result && EvaluateCondition(cond, payload)
		}
	}
	return result
}
