package rewards_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func purchaseEvent(market loyalty.Market, attributes map[string]any) *loyalty.EventInput {
	return &loyalty.EventInput{
		EventID:    "evt-1",
		EventType:  loyalty.EventPurchase,
		Timestamp:  time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC),
		Market:     market,
		ConsumerID: "consumer-1",
		Attributes: attributes,
	}
}

func matched(ruleName, calcType string, params map[string]any) loyalty.MatchedEvent {
	return loyalty.MatchedEvent{
		RuleName: ruleName,
		Priority: 100,
		Event:    loyalty.RuleEvent{Type: calcType, Params: params},
	}
}

func calculate(t *testing.T, ev *loyalty.EventInput, m loyalty.MatchedEvent) loyalty.BreakdownEntry {
	t.Helper()
	entry, err := rewards.NewCalculator().Calculate(ev, m)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	return entry
}

// =============================================================================
// BASE POINTS
// =============================================================================

func TestOrderBasePoint_StandardRate(t *testing.T) {
	// GIVEN: A 2000 HKD purchase and a base-point rule with standardRate 1
	// WHEN: Calculating the award
	// THEN: 2000 points

	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000), "currency": "HKD"})
	entry := calculate(t, ev, matched("hk-base", string(rewards.CalcOrderBasePoint), map[string]any{
		"standardRate": float64(1),
	}))

	if entry.Points != 2000 {
		t.Errorf("expected 2000 points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryBasePurchase {
		t.Errorf("expected BASE_PURCHASE category, got %s", entry.Category)
	}
}

func TestOrderBasePoint_JPConversionRate(t *testing.T) {
	// GIVEN: A 15000 JPY purchase and conversionRate 0.1
	// WHEN: Calculating the award
	// THEN: floor(15000 * 0.1) = 1500 points

	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(15000)})
	entry := calculate(t, ev, matched("jp-base", string(rewards.CalcOrderBasePoint), map[string]any{
		"conversionRate": float64(0.1),
	}))

	if entry.Points != 1500 {
		t.Errorf("expected 1500 points, got %d", entry.Points)
	}
}

func TestOrderBasePoint_MarketDefaults(t *testing.T) {
	// Rules without rate params fall back to the market default:
	// 0.1 per yen in JP, 1 per currency unit elsewhere.
	tests := []struct {
		market loyalty.Market
		amount float64
		want   int64
	}{
		{loyalty.MarketJP, 15000, 1500},
		{loyalty.MarketHK, 2000, 2000},
		{loyalty.MarketTW, 999, 999},
	}

	for _, tt := range tests {
		ev := purchaseEvent(tt.market, map[string]any{"amount": tt.amount})
		entry := calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), nil))
		if entry.Points != tt.want {
			t.Errorf("%s %v: expected %d points, got %d", tt.market, tt.amount, tt.want, entry.Points)
		}
	}
}

func TestOrderBasePoint_PrefersSrpAmount(t *testing.T) {
	// GIVEN: Both srpAmount and the discounted paid amount on the event
	// WHEN: Calculating base points
	// THEN: Points are computed from srpAmount

	ev := purchaseEvent(loyalty.MarketHK, map[string]any{
		"srpAmount": float64(3000),
		"amount":    float64(2400),
	})
	entry := calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), nil))

	if entry.Points != 3000 {
		t.Errorf("expected 3000 points from srpAmount, got %d", entry.Points)
	}
	if _, ok := entry.Computation.Inputs["srpAmount"]; !ok {
		t.Error("computation inputs should record srpAmount as the consulted amount")
	}
}

func TestOrderBasePoint_FloorsFractions(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(15999)})
	entry := calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), nil))

	// floor(15999 * 0.1) = floor(1599.9) = 1599
	if entry.Points != 1599 {
		t.Errorf("expected 1599 points, got %d", entry.Points)
	}
}

func TestOrderBasePoint_MissingAmount(t *testing.T) {
	// GIVEN: A purchase event with no numeric amount
	// WHEN: Calculating base points
	// THEN: A calculation error with a zero-point entry that still names the rule

	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": "not-a-number-at-all z"})
	entry, err := rewards.NewCalculator().Calculate(ev, matched("base", string(rewards.CalcOrderBasePoint), nil))

	if !errors.Is(err, loyalty.ErrCalculation) {
		t.Fatalf("expected calculation error, got %v", err)
	}
	if entry.Points != 0 {
		t.Errorf("errored entry must award 0 points, got %d", entry.Points)
	}
	if entry.RuleName != "base" {
		t.Errorf("errored entry must keep the rule name, got %q", entry.RuleName)
	}
}

func TestOrderBasePoint_NumericStringAmount(t *testing.T) {
	// Upstream producers sometimes quote numbers.
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": "2000"})
	entry := calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), nil))

	if entry.Points != 2000 {
		t.Errorf("expected 2000 points from quoted amount, got %d", entry.Points)
	}
}

// =============================================================================
// MULTIPLIER BONUSES
// =============================================================================

func TestMultiplierBonus_IncrementOverBase(t *testing.T) {
	// GIVEN: A 1000 JPY purchase with a 2.0 multiplier rule
	// WHEN: Calculating the multiplier bonus
	// THEN: base = floor(1000 * 0.1) = 100; bonus = floor(100 * 2) - 100 = 100
	//       (the base 100 comes from a separate base-point rule)

	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(1000)})
	entry := calculate(t, ev, matched("double", string(rewards.CalcOrderMultiplePointLimit), map[string]any{
		"multiplier": float64(2.0),
	}))

	if entry.Points != 100 {
		t.Errorf("expected 100 bonus points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryPurchaseMultiplier {
		t.Errorf("expected PURCHASE_MULTIPLIER category, got %s", entry.Category)
	}
}

func TestMultiplierBonus_ExplicitBaseRate(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(1000)})
	entry := calculate(t, ev, matched("triple", string(rewards.CalcOrderMultiplePoint), map[string]any{
		"baseRate":   float64(0.5),
		"multiplier": float64(3),
	}))

	// base = floor(1000 * 0.5) = 500; bonus = floor(500 * 3) - 500 = 1000
	if entry.Points != 1000 {
		t.Errorf("expected 1000 bonus points, got %d", entry.Points)
	}
}

func TestMultiplierBonus_DefaultMultiplierAwardsNothing(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(1000)})
	entry := calculate(t, ev, matched("noop", string(rewards.CalcOrderMultiplePoint), nil))

	if entry.Points != 0 {
		t.Errorf("multiplier defaulting to 1 must award 0, got %d", entry.Points)
	}
}

func TestTierBonus_VIPMultiplier(t *testing.T) {
	// GIVEN: A VIP rule with multiplier 2.0 on a 1000 JPY purchase
	// WHEN: Calculating the tier bonus
	// THEN: base = 100; bonus = floor(100 * (2 - 1)) = 100

	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(1000)})
	entry := calculate(t, ev, matched("vip", string(rewards.CalcVIPMultiplier), map[string]any{
		"multiplier": float64(2.0),
	}))

	if entry.Points != 100 {
		t.Errorf("expected 100 VIP bonus points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryVIPBonus {
		t.Errorf("expected VIP_BONUS category, got %s", entry.Category)
	}
}

func TestTierBonus_FractionalMultiplier(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(333)})
	entry := calculate(t, ev, matched("product", string(rewards.CalcProductMultiplier), map[string]any{
		"multiplier": float64(1.5),
	}))

	// base = floor(333 * 1) = 333; bonus = floor(333 * 0.5) = 166
	if entry.Points != 166 {
		t.Errorf("expected 166 bonus points, got %d", entry.Points)
	}
}

func TestTierBonus_BirthMonthSharesFormula(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(5000)})
	entry := calculate(t, ev, matched("birthday", string(rewards.CalcBirthMonthBonus), map[string]any{
		"multiplier": float64(3),
	}))

	// base = floor(5000 * 0.1) = 500; bonus = floor(500 * 2) = 1000
	if entry.Points != 1000 {
		t.Errorf("expected 1000 birthday bonus points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryBirthdayBonus {
		t.Errorf("expected BIRTHDAY_BONUS category, got %s", entry.Category)
	}
}

// =============================================================================
// CAMPAIGN BONUS
// =============================================================================

func TestCampaignBonus_FixedBonusWins(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000)})
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), map[string]any{
		"fixedBonus": float64(300),
		"multiplier": float64(5),
	}))

	if entry.Points != 300 {
		t.Errorf("fixedBonus must take precedence, expected 300, got %d", entry.Points)
	}
}

func TestCampaignBonus_MultiplierPath(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(1000)})
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), map[string]any{
		"multiplier": float64(2.0),
	}))

	// Same math as the purchase multiplier: base 100, bonus 100.
	if entry.Points != 100 {
		t.Errorf("expected 100 campaign points via multiplier, got %d", entry.Points)
	}
}

func TestCampaignBonus_RatePath(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000)})
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), map[string]any{
		"campaignRate": float64(0.05),
	}))

	if entry.Points != 100 {
		t.Errorf("expected floor(2000 * 0.05) = 100, got %d", entry.Points)
	}
}

func TestCampaignBonus_NoParamsAwardsNothing(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000)})
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), nil))

	if entry.Points != 0 {
		t.Errorf("campaign with no params defaults to rate 0, got %d", entry.Points)
	}
}

func TestCampaignBonus_ContextCampaignCode(t *testing.T) {
	// GIVEN: An event submitted under a campaign code, and a campaign rule
	//        without its own code
	// WHEN: Calculating the award
	// THEN: The entry carries the code the event was submitted under

	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000)})
	ev.Context = map[string]any{"campaignCode": "SPRING25"}
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), map[string]any{
		"fixedBonus": float64(300),
	}))

	if entry.CampaignDetails == nil || entry.CampaignDetails.CampaignCode != "SPRING25" {
		t.Errorf("expected campaign code SPRING25, got %+v", entry.CampaignDetails)
	}
}

func TestCampaignCode_ParamsWin(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(2000)})
	ev.Context = map[string]any{"campaignCode": "SPRING25"}
	entry := calculate(t, ev, matched("campaign", string(rewards.CalcCampaignBonus), map[string]any{
		"fixedBonus":   float64(300),
		"campaignCode": "VIP-WEEK",
	}))

	if entry.CampaignDetails == nil || entry.CampaignDetails.CampaignCode != "VIP-WEEK" {
		t.Errorf("params campaignCode must win, got %+v", entry.CampaignDetails)
	}
}

// =============================================================================
// THRESHOLD AND FIXED AWARDS
// =============================================================================

func TestBasketAmount_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		want   int64
	}{
		{"above threshold", 5500, 300},
		{"exactly at threshold", 5000, 300},
		{"below threshold", 4999, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": tt.amount})
			entry := calculate(t, ev, matched("basket", string(rewards.CalcBasketAmount), map[string]any{
				"threshold": float64(5000),
				"bonus":     float64(300),
			}))
			if entry.Points != tt.want {
				t.Errorf("amount %v: expected %d points, got %d", tt.amount, tt.want, entry.Points)
			}
		})
	}
}

func TestFixedAwards_FallbackChains(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, nil)
	ev.EventType = loyalty.EventRegistration

	tests := []struct {
		name     string
		calcType rewards.CalculationType
		params   map[string]any
		want     int64
	}{
		{"registration primary key", rewards.CalcRegistryPoint, map[string]any{"registrationBonus": float64(500)}, 500},
		{"registration bonus fallback", rewards.CalcRegistryPoint, map[string]any{"bonus": float64(250)}, 250},
		{"registration reward fallback", rewards.CalcRegistryPoint, map[string]any{"reward": float64(100.9)}, 100},
		{"registration no params", rewards.CalcRegistryPoint, nil, 0},
		{"combo bonus", rewards.CalcComboMultiplier, map[string]any{"bonus": float64(200)}, 200},
		{"combo fixedBonus fallback", rewards.CalcComboMultiplier, map[string]any{"fixedBonus": float64(80)}, 80},
		{"consultation", rewards.CalcConsultationBonus, map[string]any{"consultationBonus": float64(150)}, 150},
		{"consultation default", rewards.CalcConsultationBonus, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := calculate(t, ev, matched("rule", string(tt.calcType), tt.params))
			if entry.Points != tt.want {
				t.Errorf("expected %d points, got %d", tt.want, entry.Points)
			}
		})
	}
}

// =============================================================================
// RECYCLING
// =============================================================================

func TestRecyclingReward_CappedPerPeriod(t *testing.T) {
	// GIVEN: 12 recycled bottles, a 10-bottle yearly cap, 5 points each
	// WHEN: Calculating the reward
	// THEN: floor(min(12, 10) * 5) = 50

	ev := purchaseEvent(loyalty.MarketTW, map[string]any{"recycledCount": float64(12)})
	ev.EventType = loyalty.EventRecycle
	entry := calculate(t, ev, matched("recycle", string(rewards.CalcRecyclingReward), map[string]any{
		"maxPerYear":      float64(10),
		"pointsPerBottle": float64(5),
	}))

	if entry.Points != 50 {
		t.Errorf("expected 50 capped points, got %d", entry.Points)
	}
}

func TestRecyclingReward_Uncapped(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketTW, map[string]any{"recycledCount": float64(12)})
	ev.EventType = loyalty.EventRecycle
	entry := calculate(t, ev, matched("recycle", string(rewards.CalcRecyclingReward), map[string]any{
		"rewardPerItem": float64(5),
	}))

	if entry.Points != 60 {
		t.Errorf("expected 60 uncapped points, got %d", entry.Points)
	}
}

func TestRecyclingReward_NoCount(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketTW, nil)
	ev.EventType = loyalty.EventRecycle
	entry := calculate(t, ev, matched("recycle", string(rewards.CalcRecyclingReward), map[string]any{
		"pointsPerBottle": float64(5),
	}))

	if entry.Points != 0 {
		t.Errorf("no recycled bottles awards 0, got %d", entry.Points)
	}
}

// =============================================================================
// ADJUSTMENTS AND REDEMPTIONS
// =============================================================================

func TestManagerAdjustment_Negative(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"adjustedPoints": float64(-200)})
	ev.EventType = loyalty.EventAdjustment
	entry := calculate(t, ev, matched("adjust", string(rewards.CalcManagerAdjustment), nil))

	if entry.Points != -200 {
		t.Errorf("expected -200 points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryManualAdjustment {
		t.Errorf("expected MANUAL_ADJUSTMENT category, got %s", entry.Category)
	}
}

func TestManagerAdjustment_MissingPoints(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, nil)
	ev.EventType = loyalty.EventAdjustment
	entry, err := rewards.NewCalculator().Calculate(ev, matched("adjust", string(rewards.CalcManagerAdjustment), nil))

	if !errors.Is(err, loyalty.ErrCalculation) {
		t.Fatalf("expected calculation error, got %v", err)
	}
	if entry.Points != 0 {
		t.Errorf("errored adjustment must award 0, got %d", entry.Points)
	}
}

func TestRedemptionDeduction_NegatesPoints(t *testing.T) {
	// GIVEN: A redemption of 500 points
	// WHEN: Calculating the deduction
	// THEN: -500; the sign routes the balance down the redemption path

	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"redemptionPoints": float64(500)})
	ev.EventType = loyalty.EventRedemption
	entry := calculate(t, ev, matched("redeem", string(rewards.CalcRedemptionDeduction), nil))

	if entry.Points != -500 {
		t.Errorf("expected -500 points, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryRedemption {
		t.Errorf("expected REDEMPTION category, got %s", entry.Category)
	}
}

// =============================================================================
// CATALOG BEHAVIOR
// =============================================================================

func TestUnknownCalculationType(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(100)})
	entry, err := rewards.NewCalculator().Calculate(ev, matched("mystery", "SOMETHING_NEW", nil))

	if !errors.Is(err, loyalty.ErrCalculation) {
		t.Fatalf("expected calculation error for unknown type, got %v", err)
	}
	if entry.Points != 0 {
		t.Errorf("unknown type must award 0, got %d", entry.Points)
	}
	if entry.Category != rewards.CategoryOther {
		t.Errorf("unknown type maps to OTHER, got %s", entry.Category)
	}
}

func TestComputationTrace(t *testing.T) {
	// The trace must show the formula with real numbers and the params
	// that were consulted, so awards can be audited from the response.

	ev := purchaseEvent(loyalty.MarketJP, map[string]any{"amount": float64(15000)})
	entry := calculate(t, ev, matched("jp-base", string(rewards.CalcOrderBasePoint), map[string]any{
		"conversionRate": float64(0.1),
	}))

	comp := entry.Computation
	if comp.CalculationType != string(rewards.CalcOrderBasePoint) {
		t.Errorf("unexpected calculation type %q", comp.CalculationType)
	}
	if comp.Formula != "floor(15000 * 0.1) = 1500" {
		t.Errorf("unexpected formula %q", comp.Formula)
	}
	if comp.Result != 1500 || comp.Result != entry.Points {
		t.Errorf("trace result %d must equal entry points %d", comp.Result, entry.Points)
	}
	if _, ok := comp.Inputs["conversionRate"]; !ok {
		t.Error("consulted param conversionRate missing from trace inputs")
	}
	if _, ok := comp.Inputs["amount"]; !ok {
		t.Error("consulted attribute amount missing from trace inputs")
	}
}

func TestDescription_ParamsOverrideDefault(t *testing.T) {
	ev := purchaseEvent(loyalty.MarketHK, map[string]any{"amount": float64(100)})

	entry := calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), map[string]any{
		"description": "Weekend double points",
	}))
	if entry.Description != "Weekend double points" {
		t.Errorf("params description must win, got %q", entry.Description)
	}

	entry = calculate(t, ev, matched("base", string(rewards.CalcOrderBasePoint), nil))
	if entry.Description == "" {
		t.Error("entries without a configured description still need one")
	}
}

func TestCategoryFor_FullCatalog(t *testing.T) {
	tests := map[rewards.CalculationType]loyalty.Category{
		rewards.CalcRegistryPoint:           rewards.CategoryRegistration,
		rewards.CalcOrderBasePoint:          rewards.CategoryBasePurchase,
		rewards.CalcOrderMultiplePointLimit: rewards.CategoryPurchaseMultiplier,
		rewards.CalcOrderMultiplePoint:      rewards.CategoryPurchaseMultiplier,
		rewards.CalcCampaignBonus:           rewards.CategoryCampaign,
		rewards.CalcVIPMultiplier:           rewards.CategoryVIPBonus,
		rewards.CalcProductMultiplier:       rewards.CategoryProductBonus,
		rewards.CalcBirthMonthBonus:         rewards.CategoryBirthdayBonus,
		rewards.CalcBasketAmount:            rewards.CategorySpendingThreshold,
		rewards.CalcComboMultiplier:         rewards.CategoryComboBonus,
		rewards.CalcRecyclingReward:         rewards.CategoryRecycling,
		rewards.CalcConsultationBonus:       rewards.CategoryConsultation,
		rewards.CalcManagerAdjustment:       rewards.CategoryManualAdjustment,
		rewards.CalcRedemptionDeduction:     rewards.CategoryRedemption,
	}

	for calcType, want := range tests {
		if got := rewards.CategoryFor(string(calcType)); got != want {
			t.Errorf("%s: expected %s, got %s", calcType, want, got)
		}
	}

	if got := rewards.CategoryFor("NOT_IN_CATALOG"); got != rewards.CategoryOther {
		t.Errorf("unknown type: expected OTHER, got %s", got)
	}
}
