/*
scenarios.go - Demo catalog and seed data for demos and local testing

PURPOSE:

	Provides a pre-built rule catalog and consumer profiles so the server
	can run without a rule directory (the -demo flag). The demo rules cover
	every calculation family: base points per market, repeat-purchase
	multipliers, VIP and birth-month uplifts, basket thresholds, campaign
	bonuses, and the interaction events (registration, recycling,
	consultation, adjustment, redemption).

DEMO CONSUMERS:

	alice-hk:   HK, fresh profile
	yuki-jp:    JP, birth date set (birth-month bonus demos)
	mei-tw:     TW, birth date set
	vip-vera:   HK, VIP flag set (VIP store uplift demos)

HOW IT WORKS:

	The rules are authored as a JSON document and parsed through
	factory.ParseRules, the same path catalog files take, so a demo run
	exercises the production parse and index code.

USAGE:

	rules, err := api.DemoRules()
	catalog, err := factory.NewStaticCatalog(rules, logger)
	err = api.SeedDemo(ctx, store, logger)

SEE ALSO:
  - factory/rules.go: The JSON rule grammar
  - cmd/server/main.go: The -demo flag wiring
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// DEMO RULE CATALOG
// =============================================================================

const demoRulesJSON = `{
  "rules": [
    {
      "name": "hk-tw-base-point",
      "priority": 10,
      "markets": ["HK", "TW"],
      "conditions": {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
      "event": {"type": "ORDER_BASE_POINT", "params": {"standardRate": 1}}
    },
    {
      "name": "jp-base-point",
      "priority": 10,
      "markets": ["JP"],
      "conditions": {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
      "event": {"type": "ORDER_BASE_POINT", "params": {"conversionRate": 0.1}}
    },
    {
      "name": "early-repeat-double",
      "priority": 20,
      "conditions": {
        "all": [
          {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
          {"fact": "purchaseCount", "operator": "greaterThanInclusive", "value": 1},
          {"fact": "daysSinceFirstPurchase", "operator": "lessThanInclusive", "value": 60}
        ]
      },
      "event": {"type": "ORDER_MULTIPLE_POINT_LIMIT", "params": {"multiplier": 2.0}}
    },
    {
      "name": "vip-store-uplift",
      "priority": 30,
      "conditions": {
        "all": [
          {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
          {"fact": "storeType", "operator": "equal", "value": "VIP"}
        ]
      },
      "event": {"type": "FLEXIBLE_VIP_MULTIPLIER", "params": {"multiplier": 1.5}}
    },
    {
      "name": "hk-basket-reward",
      "priority": 40,
      "markets": ["HK"],
      "conditions": {
        "all": [
          {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
          {"fact": "transactionAmount", "operator": "greaterThanInclusive", "value": 5000}
        ]
      },
      "event": {"type": "FLEXIBLE_BASKET_AMOUNT", "params": {"threshold": 5000, "bonus": 300}}
    },
    {
      "name": "birth-month-first-purchase",
      "priority": 50,
      "conditions": {
        "all": [
          {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
          {"fact": "isBirthMonth", "operator": "equal", "value": true},
          {"fact": "isFirstPurchase", "operator": "equal", "value": true}
        ]
      },
      "event": {"type": "FIRST_PURCHASE_BIRTH_MONTH_BONUS", "params": {"multiplier": 2.0}}
    },
    {
      "name": "spring-campaign",
      "priority": 60,
      "conditions": {
        "all": [
          {"fact": "eventType", "operator": "equal", "value": "PURCHASE"},
          {"fact": "context.campaignCode", "operator": "equal", "value": "SPRING25"}
        ]
      },
      "event": {"type": "FLEXIBLE_CAMPAIGN_BONUS", "params": {"fixedBonus": 300, "campaignCode": "SPRING25"}}
    },
    {
      "name": "welcome-registration",
      "priority": 10,
      "conditions": {"fact": "eventType", "operator": "equal", "value": "REGISTRATION"},
      "event": {"type": "INTERACTION_REGISTRY_POINT", "params": {"registrationBonus": 500}}
    },
    {
      "name": "bottle-recycling",
      "priority": 10,
      "conditions": {"fact": "eventType", "operator": "equal", "value": "RECYCLE"},
      "event": {"type": "INTERACTION_ADJUST_POINT_TIMES_PER_YEAR", "params": {"pointsPerBottle": 5, "maxPerYear": 10}}
    },
    {
      "name": "skin-consultation",
      "priority": 10,
      "conditions": {"fact": "eventType", "operator": "equal", "value": "CONSULTATION"},
      "event": {"type": "CONSULTATION_BONUS", "params": {"consultationBonus": 150}}
    },
    {
      "name": "manager-adjustment",
      "priority": 10,
      "conditions": {"fact": "eventType", "operator": "equal", "value": "ADJUSTMENT"},
      "event": {"type": "INTERACTION_ADJUST_POINT_BY_MANAGER", "params": {}}
    },
    {
      "name": "point-redemption",
      "priority": 10,
      "conditions": {"fact": "eventType", "operator": "equal", "value": "REDEMPTION"},
      "event": {"type": "REDEMPTION_DEDUCTION", "params": {}}
    }
  ]
}`

// DemoRules parses the built-in demo catalog.
func DemoRules() ([]loyalty.Rule, error) {
	rules, err := factory.ParseRules([]byte(demoRulesJSON))
	if err != nil {
		return nil, fmt.Errorf("demo rules: %w", err)
	}
	return rules, nil
}

// =============================================================================
// DEMO CONSUMERS
// =============================================================================

// DemoConsumers returns the seed profiles.
func DemoConsumers() []loyalty.Consumer {
	return []loyalty.Consumer{
		{
			ID:     "alice-hk",
			Market: loyalty.MarketHK,
		},
		{
			ID:        "yuki-jp",
			Market:    loyalty.MarketJP,
			BirthDate: dateAt(1992, time.March, 15),
			Tags:      []string{"app-user"},
		},
		{
			ID:        "mei-tw",
			Market:    loyalty.MarketTW,
			BirthDate: dateAt(1988, time.November, 2),
		},
		{
			ID:     "vip-vera",
			Market: loyalty.MarketHK,
			IsVIP:  true,
			Tags:   []string{"beauty-insider"},
		},
	}
}

// SeedDemo writes the demo profiles into the store.
func SeedDemo(ctx context.Context, store loyalty.ConsumerStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	consumers := DemoConsumers()
	for i := range consumers {
		if err := store.PutConsumer(ctx, &consumers[i]); err != nil {
			return fmt.Errorf("seed consumer %s: %w", consumers[i].ID, err)
		}
	}

	logger.Info("demo data seeded", "consumers", len(consumers))
	return nil
}

func dateAt(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}
