/*
condition.go - Rule condition trees and comparison operators

PURPOSE:
  Conditions form a boolean tree: interior nodes are conjunctions (all) or
  disjunctions (any), leaves resolve a fact and apply an operator against a
  declared operand. Evaluation is side-effect-free; a malformed leaf
  (unknown fact or operator) surfaces as an error so the rule engine can
  skip the rule and keep the run going.

OPERATORS:
  equal, notEqual, contains, doesNotContain, in, notIn, greaterThan,
  greaterThanInclusive, lessThan, lessThanInclusive, regex
*/
package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

// =============================================================================
// OPERATORS
// =============================================================================

type Operator string

const (
	OpEqual                Operator = "equal"
	OpNotEqual             Operator = "notEqual"
	OpContains             Operator = "contains"
	OpDoesNotContain       Operator = "doesNotContain"
	OpIn                   Operator = "in"
	OpNotIn                Operator = "notIn"
	OpGreaterThan          Operator = "greaterThan"
	OpGreaterThanInclusive Operator = "greaterThanInclusive"
	OpLessThan             Operator = "lessThan"
	OpLessThanInclusive    Operator = "lessThanInclusive"
	OpRegex                Operator = "regex"
)

func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpContains, OpDoesNotContain, OpIn, OpNotIn,
		OpGreaterThan, OpGreaterThanInclusive, OpLessThan,
		OpLessThanInclusive, OpRegex:
		return true
	}
	return false
}

// =============================================================================
// CONDITION TREE
// =============================================================================

// Condition is one node of a rule's boolean tree.
type Condition interface {
	// Eval reports whether the condition holds for the event bound to fs.
	// Errors mark the owning rule inapplicable; they do not abort the run.
	Eval(ctx context.Context, fs *FactSet) (bool, error)
}

// AllCondition holds when every child holds. An empty list holds vacuously.
type AllCondition struct {
	Conditions []Condition
}

func (c *AllCondition) Eval(ctx context.Context, fs *FactSet) (bool, error) {
	for _, child := range c.Conditions {
		ok, err := child.Eval(ctx, fs)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// AnyCondition holds when at least one child holds. An empty list never
// holds.
type AnyCondition struct {
	Conditions []Condition
}

func (c *AnyCondition) Eval(ctx context.Context, fs *FactSet) (bool, error) {
	for _, child := range c.Conditions {
		ok, err := child.Eval(ctx, fs)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// LeafCondition resolves Fact and applies Operator against Value. Operator
// validity is checked here, at evaluation time, so a catalog can load rules
// whose leaves only fail when an event actually reaches them.
type LeafCondition struct {
	Fact     string
	Operator Operator
	Value    Value
}

func (c *LeafCondition) Eval(ctx context.Context, fs *FactSet) (bool, error) {
	if !c.Operator.Valid() {
		return false, &UnknownOperatorError{Operator: string(c.Operator)}
	}
	fact, err := fs.Resolve(ctx, c.Fact)
	if err != nil {
		return false, err
	}
	return applyOperator(c.Operator, fact, c.Value)
}

func applyOperator(op Operator, fact, operand Value) (bool, error) {
	switch op {
	case OpEqual:
		return fact.Equal(operand), nil
	case OpNotEqual:
		return !fact.Equal(operand), nil
	case OpContains:
		return fact.Contains(operand), nil
	case OpDoesNotContain:
		return !fact.Contains(operand), nil
	case OpIn:
		return fact.In(operand), nil
	case OpNotIn:
		return !fact.In(operand), nil
	case OpGreaterThan:
		cmp, ok := fact.Compare(operand)
		return ok && cmp > 0, nil
	case OpGreaterThanInclusive:
		cmp, ok := fact.Compare(operand)
		return ok && cmp >= 0, nil
	case OpLessThan:
		cmp, ok := fact.Compare(operand)
		return ok && cmp < 0, nil
	case OpLessThanInclusive:
		cmp, ok := fact.Compare(operand)
		return ok && cmp <= 0, nil
	case OpRegex:
		s, ok := fact.Text()
		if !ok {
			return false, nil
		}
		pattern, ok := operand.Text()
		if !ok {
			return false, fmt.Errorf("regex operator requires a string pattern, got %s", operand.Kind())
		}
		re, err := compiledPattern(pattern)
		if err != nil {
			return false, fmt.Errorf("regex operator: %w", err)
		}
		return re.MatchString(s), nil
	default:
		return false, &UnknownOperatorError{Operator: string(op)}
	}
}

// =============================================================================
// REGEX CACHE - Patterns come from the rule catalog and repeat per event
// =============================================================================

var (
	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re, nil
}

// =============================================================================
// PARSING
// =============================================================================

type conditionJSON struct {
	All      []json.RawMessage `json:"all"`
	Any      []json.RawMessage `json:"any"`
	Fact     string            `json:"fact"`
	Operator string            `json:"operator"`
	Value    any               `json:"value"`
}

// ParseCondition decodes the JSON condition grammar:
//
//	{ "all": [Condition, ...] }
//	{ "any": [Condition, ...] }
//	{ "fact": "...", "operator": "...", "value": ... }
//
// Structural problems (combined or missing node forms) fail here; unknown
// fact and operator names are deferred to evaluation so they surface as
// per-rule soft errors.
func ParseCondition(data []byte) (Condition, error) {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}

	hasAll := raw.All != nil
	hasAny := raw.Any != nil
	hasLeaf := raw.Fact != "" || raw.Operator != ""

	switch {
	case hasAll && !hasAny && !hasLeaf:
		children, err := parseConditionList(raw.All)
		if err != nil {
			return nil, err
		}
		return &AllCondition{Conditions: children}, nil

	case hasAny && !hasAll && !hasLeaf:
		children, err := parseConditionList(raw.Any)
		if err != nil {
			return nil, err
		}
		return &AnyCondition{Conditions: children}, nil

	case hasLeaf && !hasAll && !hasAny:
		if raw.Fact == "" {
			return nil, fmt.Errorf("condition leaf: missing fact")
		}
		if raw.Operator == "" {
			return nil, fmt.Errorf("condition leaf: missing operator (fact %q)", raw.Fact)
		}
		return &LeafCondition{
			Fact:     raw.Fact,
			Operator: Operator(raw.Operator),
			Value:    FromAny(raw.Value),
		}, nil

	case !hasAll && !hasAny && !hasLeaf:
		return nil, fmt.Errorf("condition: must be one of all, any, or a fact leaf")

	default:
		return nil, fmt.Errorf("condition: all, any, and fact forms cannot be combined")
	}
}

func parseConditionList(raws []json.RawMessage) ([]Condition, error) {
	out := make([]Condition, 0, len(raws))
	for i, raw := range raws {
		c, err := ParseCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// =============================================================================
// SERIALIZATION - conditions echo back in the grammar ParseCondition reads
// =============================================================================

func (c *AllCondition) MarshalJSON() ([]byte, error) {
	children := c.Conditions
	if children == nil {
		children = []Condition{}
	}
	return json.Marshal(map[string][]Condition{"all": children})
}

func (c *AnyCondition) MarshalJSON() ([]byte, error) {
	children := c.Conditions
	if children == nil {
		children = []Condition{}
	}
	return json.Marshal(map[string][]Condition{"any": children})
}

func (c *LeafCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Fact     string   `json:"fact"`
		Operator Operator `json:"operator"`
		Value    Value    `json:"value"`
	}{c.Fact, c.Operator, c.Value})
}
