/*
catalog.go - The live rule catalog with atomic hot reload

PURPOSE:
  Holds the parsed rule set behind an atomic pointer. Event processing
  reads the catalog lock-free; reloads parse the whole directory first
  and swap the pointer only on success, so in-flight evaluations always
  see a consistent snapshot and a bad file can never take down the
  serving set.

EVENT TYPE INDEX:
  A rule that pins eventType in its conditions only ever matches that
  event type, so the catalog indexes such rules by their pinned types.
  Rules whose conditions do not pin eventType are candidates for every
  event. The index is an over-approximation: it may offer a rule that
  fails its full condition tree, but never hides one that could match.

PROJECTIONS:
  Defaults() and Campaigns() split the catalog for the read-only rules
  endpoints: campaign rules are those awarding FLEXIBLE_CAMPAIGN_BONUS
  or carrying a campaignCode param; everything else is a default rule.

SEE ALSO:
  - rules.go: JSON parsing
  - loyalty/processor.go: RulesFor consumer
*/
package factory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the swappable rule set the processor evaluates against.
type Catalog struct {
	current atomic.Pointer[ruleSet]
	dir     string
	logger  *slog.Logger
}

// ruleSet is one immutable catalog snapshot.
type ruleSet struct {
	rules       []loyalty.Rule
	byEventType map[loyalty.EventType][]loyalty.Rule
	wildcard    []loyalty.Rule
}

// NewCatalog loads every *.json file under dir and serves the combined
// rule set. Files load in name order; rule names must be unique across
// the whole directory.
func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{dir: dir, logger: logger}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewStaticCatalog serves a fixed rule list. Used by tests and demo mode.
func NewStaticCatalog(rules []loyalty.Rule, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs, err := buildRuleSet(rules)
	if err != nil {
		return nil, err
	}
	c := &Catalog{logger: logger}
	c.current.Store(rs)
	metrics.Pipeline().SetCatalogRules(len(rules))
	return c, nil
}

// Reload re-reads the rule directory and swaps the catalog on success.
// On failure the previous snapshot keeps serving.
func (c *Catalog) Reload() error {
	if c.dir == "" {
		metrics.Pipeline().ObserveReload(true)
		return nil
	}
	err := c.load()
	metrics.Pipeline().ObserveReload(err == nil)
	return err
}

func (c *Catalog) load() error {
	rules, files, err := loadRuleDir(c.dir)
	if err != nil {
		return err
	}
	rs, err := buildRuleSet(rules)
	if err != nil {
		return err
	}

	c.current.Store(rs)
	metrics.Pipeline().SetCatalogRules(len(rules))
	c.logger.Info("rule catalog loaded",
		"dir", c.dir,
		"files", files,
		"rules", len(rules),
	)
	return nil
}

func loadRuleDir(dir string) ([]loyalty.Rule, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read rules dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var rules []loyalty.Rule
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", name, err)
		}
		parsed, err := ParseRules(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", name, err)
		}
		rules = append(rules, parsed...)
	}
	return rules, len(names), nil
}

func buildRuleSet(rules []loyalty.Rule) (*ruleSet, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}

	rs := &ruleSet{
		rules:       rules,
		byEventType: make(map[loyalty.EventType][]loyalty.Rule),
	}
	for _, r := range rules {
		types, pinned := pinnedEventTypes(r.Conditions)
		if !pinned {
			rs.wildcard = append(rs.wildcard, r)
			continue
		}
		for _, t := range types {
			rs.byEventType[t] = append(rs.byEventType[t], r)
		}
	}
	return rs, nil
}

// =============================================================================
// READS
// =============================================================================

// RulesFor returns the catalog candidates for one {market, eventType}.
// The engine still evaluates full scoping and conditions per rule.
func (c *Catalog) RulesFor(market loyalty.Market, eventType loyalty.EventType) []loyalty.Rule {
	rs := c.current.Load()
	if rs == nil {
		return nil
	}

	indexed := rs.byEventType[eventType]
	out := make([]loyalty.Rule, 0, len(indexed)+len(rs.wildcard))
	for _, r := range indexed {
		if marketApplies(r, market) {
			out = append(out, r)
		}
	}
	for _, r := range rs.wildcard {
		if marketApplies(r, market) {
			out = append(out, r)
		}
	}
	return out
}

// Rules returns a copy of the full catalog.
func (c *Catalog) Rules() []loyalty.Rule {
	rs := c.current.Load()
	if rs == nil {
		return nil
	}
	return append([]loyalty.Rule(nil), rs.rules...)
}

// Len returns the number of rules in the current snapshot.
func (c *Catalog) Len() int {
	rs := c.current.Load()
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Defaults returns the non-campaign rules.
func (c *Catalog) Defaults() []loyalty.Rule {
	var out []loyalty.Rule
	for _, r := range c.Rules() {
		if !isCampaignRule(r) {
			out = append(out, r)
		}
	}
	return out
}

// Campaigns returns the campaign rules.
func (c *Catalog) Campaigns() []loyalty.Rule {
	var out []loyalty.Rule
	for _, r := range c.Rules() {
		if isCampaignRule(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterRules narrows a rule listing to rules that could apply under the
// given market and event type. A zero market or event type skips that
// filter. Event-type filtering uses the same pinning walk as the catalog
// index, so a rule that does not pin eventType passes any filter.
func FilterRules(rules []loyalty.Rule, market loyalty.Market, eventType loyalty.EventType) []loyalty.Rule {
	out := make([]loyalty.Rule, 0, len(rules))
	for _, r := range rules {
		if market != "" && !marketApplies(r, market) {
			continue
		}
		if eventType != "" && !eventTypeApplies(r, eventType) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func eventTypeApplies(r loyalty.Rule, eventType loyalty.EventType) bool {
	types, pinned := pinnedEventTypes(r.Conditions)
	if !pinned {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

func isCampaignRule(r loyalty.Rule) bool {
	if r.Event.Type == "FLEXIBLE_CAMPAIGN_BONUS" {
		return true
	}
	if r.Event.Params == nil {
		return false
	}
	code, ok := r.Event.Params["campaignCode"].(string)
	return ok && code != ""
}

func marketApplies(r loyalty.Rule, market loyalty.Market) bool {
	if len(r.Markets) == 0 {
		return true
	}
	for _, m := range r.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// =============================================================================
// EVENT TYPE PINNING
// =============================================================================

// pinnedEventTypes walks a condition tree and reports the event types the
// rule is pinned to. Safe over-approximation: under an all node it is
// enough for one child to pin the type (the event must satisfy every
// child); under an any node every branch must pin, otherwise the rule
// could match through an unpinned branch.
func pinnedEventTypes(cond loyalty.Condition) ([]loyalty.EventType, bool) {
	switch c := cond.(type) {
	case *loyalty.AllCondition:
		for _, child := range c.Conditions {
			if types, ok := pinnedEventTypes(child); ok {
				return types, true
			}
		}
		return nil, false

	case *loyalty.AnyCondition:
		if len(c.Conditions) == 0 {
			return nil, false
		}
		var union []loyalty.EventType
		for _, child := range c.Conditions {
			types, ok := pinnedEventTypes(child)
			if !ok {
				return nil, false
			}
			union = append(union, types...)
		}
		return dedupeEventTypes(union), true

	case *loyalty.LeafCondition:
		if c.Fact != "eventType" {
			return nil, false
		}
		switch c.Operator {
		case loyalty.OpEqual:
			if s, ok := c.Value.Text(); ok {
				if t, err := loyalty.ParseEventType(s); err == nil {
					return []loyalty.EventType{t}, true
				}
			}
		case loyalty.OpIn:
			list, ok := c.Value.List()
			if !ok {
				return nil, false
			}
			var types []loyalty.EventType
			for _, item := range list {
				s, ok := item.Text()
				if !ok {
					return nil, false
				}
				t, err := loyalty.ParseEventType(s)
				if err != nil {
					return nil, false
				}
				types = append(types, t)
			}
			return types, len(types) > 0
		}
		return nil, false

	default:
		return nil, false
	}
}

func dedupeEventTypes(types []loyalty.EventType) []loyalty.EventType {
	seen := make(map[loyalty.EventType]bool, len(types))
	out := types[:0]
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
