/*
rule.go - Rule evaluation and priority ordering

PURPOSE:
  The engine takes the rules applicable to an event, evaluates each
  condition tree independently against the bound fact set, and returns the
  matched outcomes sorted by ascending priority (ties broken by rule name).
  Rules never observe each other's results; there is no chaining.

FAILURE MODEL:
  A leaf referencing an unknown fact or operator skips only that rule and
  records a soft error for the response's errors list. Store failures
  during fact resolution are infrastructure faults and abort the run.
*/
package loyalty

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Run evaluates every active, in-scope rule against the fact set and
// returns the matched outcomes in deterministic order plus the soft errors
// of skipped rules. The returned error is non-nil only for infrastructure
// failures (store reads inside fact resolvers).
func (e *Engine) Run(ctx context.Context, rules []Rule, fs *FactSet) ([]MatchedEvent, []ProcessingError, error) {
	matched := make([]MatchedEvent, 0, len(rules))
	var soft []ProcessingError

	for i := range rules {
		rule := &rules[i]
		if !rule.Active {
			continue
		}
		if !rule.AppliesTo(fs.Event()) {
			continue
		}

		ok, err := e.evalConditions(ctx, rule, fs)
		if err != nil {
			if errors.Is(err, ErrStore) {
				return nil, nil, err
			}
			soft = append(soft, ProcessingError{
				RuleName: rule.Name,
				Code:     ruleErrorCode(err),
				Message:  err.Error(),
			})
			e.logger.Warn("rule skipped",
				"rule", rule.Name,
				"event_id", fs.Event().EventID,
				"error", err)
			continue
		}
		if !ok {
			continue
		}

		matched = append(matched, MatchedEvent{
			RuleName: rule.Name,
			Priority: rule.Priority,
			Event:    rule.Event,
		})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].RuleName < matched[j].RuleName
	})

	return matched, soft, nil
}

// evalConditions treats a rule without conditions as matching: scoping
// already admitted the event, and demo or migration catalogs sometimes
// carry scope-only rules.
func (e *Engine) evalConditions(ctx context.Context, rule *Rule, fs *FactSet) (bool, error) {
	if rule.Conditions == nil {
		return true, nil
	}
	return rule.Conditions.Eval(ctx, fs)
}

func ruleErrorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrUnknownFact):
		return CodeUnknownFact
	case errors.Is(err, ErrUnknownOperator):
		return CodeUnknownOperator
	default:
		return CodeRuleEval
	}
}
