package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"commerce-automation-engine/internal/models"
)

func TestEvaluateConditionsEmptyListAlwaysPasses(t *testing.T) {
	assert.True(t, EvaluateConditions(nil, map[string]any{}))
	assert.True(t, EvaluateConditions([]models.Condition{}, map[string]any{"anything": 1}))
}

func TestEvaluateConditionsSingleConditionIgnoresLogicalOperator(t *testing.T) {
	payload := map[string]any{"a": float64(1)}
	cond := models.Condition{Field: "a", Operator: models.OpEquals, Value: float64(1)}

	for _, op := range []models.LogicalOperator{"", models.LogicalAnd, models.LogicalOr} {
		cond.LogicalOperator = op
		assert.Equal(t,
			EvaluateCondition(cond, payload),
			EvaluateConditions([]models.Condition{cond}, payload),
			"logicalOperator %q must not change single-condition result", op)
	}
}

func TestEvaluateConditionsFoldOrder(t *testing.T) {
	conditions := []models.Condition{
		{Field: "a", Operator: models.OpEquals, Value: float64(1)},
		{Field: "b", Operator: models.OpEquals, Value: float64(2), LogicalOperator: models.LogicalOr},
	}

	// c1 true, folded with OR against c2 false: true.
	assert.True(t, EvaluateConditions(conditions, map[string]any{"a": float64(1), "b": float64(9)}))
	// c1 false, c2 false: false.
	assert.False(t, EvaluateConditions(conditions, map[string]any{"a": float64(9), "b": float64(9)}))
}

func TestEvaluateConditionsLeftFoldHasNoPrecedence(t *testing.T) {
	// a=1 AND (fold) b=2 OR (fold) c=3 evaluates as ((a) AND (b)) OR (c),
	// not a AND (b OR c).
	conditions := []models.Condition{
		{Field: "a", Operator: models.OpEquals, Value: float64(1)},
		{Field: "b", Operator: models.OpEquals, Value: float64(2), LogicalOperator: models.LogicalAnd},
		{Field: "c", Operator: models.OpEquals, Value: float64(3), LogicalOperator: models.LogicalOr},
	}
	payload := map[string]any{"a": float64(9), "b": float64(9), "c": float64(3)}
	assert.True(t, EvaluateConditions(conditions, payload))
}

func TestGreaterThanNumericCoercion(t *testing.T) {
	cond := models.Condition{Field: "order.total", Operator: models.OpGreaterThan, Value: float64(100)}

	assert.True(t, EvaluateCondition(cond, map[string]any{"order": map[string]any{"total": float64(150)}}))
	assert.False(t, EvaluateCondition(cond, map[string]any{"order": map[string]any{"total": float64(50)}}))
	// Numeric strings coerce.
	assert.True(t, EvaluateCondition(cond, map[string]any{"order": map[string]any{"total": "150"}}))
	// Non-numeric resolves false, not panic.
	assert.False(t, EvaluateCondition(cond, map[string]any{"order": map[string]any{"total": "lots"}}))
}

func TestLessThan(t *testing.T) {
	cond := models.Condition{Field: "cart.items", Operator: models.OpLessThan, Value: float64(3)}
	assert.True(t, EvaluateCondition(cond, map[string]any{"cart": map[string]any{"items": float64(2)}}))
	assert.False(t, EvaluateCondition(cond, map[string]any{"cart": map[string]any{"items": float64(5)}}))
}

func TestEqualsIsStrictOnResolvedValue(t *testing.T) {
	payload := map[string]any{"status": "paid", "count": float64(2)}

	assert.True(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpEquals, Value: "paid"}, payload))
	assert.False(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpEquals, Value: "PAID"}, payload))
	// Numbers surviving a JSON round trip compare equal across int/float forms.
	assert.True(t, EvaluateCondition(models.Condition{Field: "count", Operator: models.OpEquals, Value: 2}, payload))
	// A number never equals its string form.
	assert.False(t, EvaluateCondition(models.Condition{Field: "count", Operator: models.OpEquals, Value: "2"}, payload))

	assert.True(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpNotEquals, Value: "pending"}, payload))
}

func TestMissingPathResolvesNil(t *testing.T) {
	payload := map[string]any{"order": map[string]any{"total": float64(10)}}

	assert.False(t, EvaluateCondition(models.Condition{Field: "order.customer.email", Operator: models.OpEquals, Value: "x"}, payload))
	// Missing path equals nil value.
	assert.True(t, EvaluateCondition(models.Condition{Field: "order.customer.email", Operator: models.OpEquals, Value: nil}, payload))
	// Traversing through a scalar is also a miss.
	assert.False(t, EvaluateCondition(models.Condition{Field: "order.total.cents", Operator: models.OpGreaterThan, Value: float64(0)}, payload))
}

func TestContainsOperators(t *testing.T) {
	payload := map[string]any{"customer": map[string]any{"email": "jane@example.com"}, "code": float64(404)}

	assert.True(t, EvaluateCondition(models.Condition{Field: "customer.email", Operator: models.OpContains, Value: "@example.com"}, payload))
	assert.False(t, EvaluateCondition(models.Condition{Field: "customer.email", Operator: models.OpContains, Value: "@shop.com"}, payload))
	assert.True(t, EvaluateCondition(models.Condition{Field: "customer.email", Operator: models.OpNotContains, Value: "@shop.com"}, payload))
	// Both sides are string-coerced.
	assert.True(t, EvaluateCondition(models.Condition{Field: "code", Operator: models.OpContains, Value: float64(40)}, payload))
}

func TestInRequiresArrayValue(t *testing.T) {
	payload := map[string]any{"status": "paid"}

	// Non-array value makes in vacuously false and not_in vacuously true.
	assert.False(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpIn, Value: "not-an-array"}, payload))
	assert.True(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpNotIn, Value: "not-an-array"}, payload))

	inList := models.Condition{Field: "status", Operator: models.OpIn, Value: []any{"pending", "paid"}}
	assert.True(t, EvaluateCondition(inList, payload))
	notInList := models.Condition{Field: "status", Operator: models.OpNotIn, Value: []any{"pending", "paid"}}
	assert.False(t, EvaluateCondition(notInList, payload))
	assert.False(t, EvaluateCondition(models.Condition{Field: "status", Operator: models.OpIn, Value: []any{"cancelled"}}, payload))
}

func TestRenderTokens(t *testing.T) {
	vars := map[string]any{
		"name":  "Jane",
		"order": map[string]any{"total": float64(150), "id": "o-1"},
	}

	assert.Equal(t, "Hi Jane, order o-1 is 150", renderTokens("Hi {{name}}, order {{order.id}} is {{order.total}}", vars))
	// Unresolvable tokens become empty strings.
	assert.Equal(t, "Hi !", renderTokens("Hi {{missing.path}}!", vars))
	// Whitespace inside the braces is tolerated.
	assert.Equal(t, "Jane", renderTokens("{{ name }}", vars))
}

func TestMergeVarsOverridesPayload(t *testing.T) {
	payload := map[string]any{"name": "Payload", "keep": true}
	merged := mergeVars(payload, map[string]any{"name": "Override"})

	assert.Equal(t, "Override", merged["name"])
	assert.Equal(t, true, merged["keep"])
	// The source payload is never mutated.
	assert.Equal(t, "Payload", payload["name"])
}
