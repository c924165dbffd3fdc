/*
Package factory provides JSON to Go rule conversion and the live catalog.

PURPOSE:
  Converts JSON rule definitions into loyalty.Rule records. This enables
  rule configuration without code changes - marketing teams define rules
  in JSON files, and the factory builds the condition trees and rule
  events the engine evaluates.

WHY JSON?
  - Non-developers can modify rules
  - Easy integration with admin tooling
  - Version control for rule definitions
  - The same format round-trips through the rules API

JSON SCHEMA:
  {
    "name": "jp-purchase-base",
    "priority": 10,
    "active": true,
    "markets": ["JP"],
    "conditions": {
      "all": [
        {"fact": "eventType", "operator": "equal", "value": "PURCHASE"}
      ]
    },
    "event": {
      "type": "ORDER_BASE_POINT",
      "params": {"conversionRate": 0.1}
    }
  }

  A rule file is either {"rules": [Rule, ...]} or a bare array of Rule.

DEFAULTS:
  priority: 100 (lower runs earlier)
  active:   true
  markets/channels/productLines: absent means unrestricted

VALIDATION:
  Structural problems (missing name, missing event type, malformed
  condition nodes, unknown markets) fail the parse. Unknown facts and
  operators inside leaves are NOT parse errors - they surface per rule
  at evaluation time so one bad leaf cannot block a catalog load.

SEE ALSO:
  - catalog.go: The swappable catalog built from parsed rules
  - loyalty/condition.go: Condition tree parsing and evaluation
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ruleJSON is the JSON representation of a rule.
type ruleJSON struct {
	Name         string          `json:"name"`
	Priority     *int            `json:"priority,omitempty"`
	Active       *bool           `json:"active,omitempty"`
	Markets      []string        `json:"markets,omitempty"`
	Channels     []string        `json:"channels,omitempty"`
	ProductLines []string        `json:"productLines,omitempty"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	Event        ruleEventJSON   `json:"event"`
}

type ruleEventJSON struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ruleFileJSON is the wrapped file form.
type ruleFileJSON struct {
	Rules []json.RawMessage `json:"rules"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRules parses a rule file. Accepts both the wrapped form
// {"rules": [...]} and a bare JSON array.
func ParseRules(data []byte) ([]loyalty.Rule, error) {
	raws, err := splitRuleFile(data)
	if err != nil {
		return nil, err
	}

	rules := make([]loyalty.Rule, 0, len(raws))
	for i, raw := range raws {
		rule, err := parseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func splitRuleFile(data []byte) ([]json.RawMessage, error) {
	var file ruleFileJSON
	if err := json.Unmarshal(data, &file); err == nil && file.Rules != nil {
		return file.Rules, nil
	}

	var bare []json.RawMessage
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("rule file is neither {\"rules\": [...]} nor a bare array: %w", err)
	}
	return bare, nil
}

func parseRule(raw json.RawMessage) (loyalty.Rule, error) {
	var rj ruleJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return loyalty.Rule{}, fmt.Errorf("malformed rule: %w", err)
	}

	if rj.Name == "" {
		return loyalty.Rule{}, fmt.Errorf("rule is missing a name")
	}
	if rj.Event.Type == "" {
		return loyalty.Rule{}, fmt.Errorf("rule %q is missing event.type", rj.Name)
	}

	rule := loyalty.Rule{
		Name:         rj.Name,
		Priority:     100,
		Active:       true,
		Channels:     rj.Channels,
		ProductLines: rj.ProductLines,
		Event: loyalty.RuleEvent{
			Type:   rj.Event.Type,
			Params: rj.Event.Params,
		},
	}
	if rj.Priority != nil {
		rule.Priority = *rj.Priority
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}

	for _, m := range rj.Markets {
		market, err := loyalty.ParseMarket(m)
		if err != nil {
			return loyalty.Rule{}, fmt.Errorf("rule %q: %w", rj.Name, err)
		}
		rule.Markets = append(rule.Markets, market)
	}

	if len(rj.Conditions) > 0 && string(rj.Conditions) != "null" {
		cond, err := loyalty.ParseCondition(rj.Conditions)
		if err != nil {
			return loyalty.Rule{}, fmt.Errorf("rule %q: %w", rj.Name, err)
		}
		rule.Conditions = cond
	}

	return rule, nil
}
