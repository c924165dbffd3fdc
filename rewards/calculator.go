/*
calculator.go - Formula implementations for the calculation catalog

PURPOSE:
  Implements loyalty.Calculator. Calculate dispatches on the matched rule
  event type and applies the registered formula, reading parameters from
  the rule and transaction values from the event.

PARAMETER RESOLUTION:
  Rule authors use a handful of interchangeable parameter names that grew
  out of the rule catalog's history. Formulas therefore resolve values
  through fallback chains (fixedBonus, then bonus; pointsPerBottle, then
  rewardPerItem, then rewardPerActivity) and record which key actually
  supplied the value in the computation trace.

AMOUNT RESOLUTION:
  Purchase formulas read the transaction amount from the event attributes,
  preferring srpAmount (the standard retail price) over amount (the paid
  price). Formulas that need an amount fail with a calculation error when
  neither is numeric; the entry still appears in the breakdown with zero
  points so the response stays auditable.

MARKET RATES:
  JP awards points per yen at a conversion rate (default 0.1); HK and TW
  award one point per currency unit by default. The same resolution feeds
  multiplier formulas through the baseRate parameter when present.

TRACEABILITY:
  Every entry carries a Computation: the formula rendered with the actual
  numbers, the params consulted, and the floored result. Support teams
  resolve "why did I get 137 points" tickets from this trace alone.

SEE ALSO:
  - types.go: Calculation type catalog and category mapping
  - loyalty/processor.go: Aggregation and balance application
*/
package rewards

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// Calculator implements loyalty.Calculator over the fixed formula catalog.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

var _ loyalty.Calculator = (*Calculator)(nil)

// Calculate produces the breakdown entry for one matched rule event. On
// error the returned entry is still usable: zero points, category and
// rule name set, so the processor can keep it in the breakdown beside
// the error it reports.
func (c *Calculator) Calculate(ev *loyalty.EventInput, matched loyalty.MatchedEvent) (loyalty.BreakdownEntry, error) {
	calcType := CalculationType(matched.Event.Type)
	pr := newParamReader(matched.Event.Params)

	entry := loyalty.BreakdownEntry{
		RuleName: matched.RuleName,
		Type:     matched.Event.Type,
		Category: CategoryFor(matched.Event.Type),
	}

	result, formula, err := c.compute(ev, calcType, pr)

	entry.Points = result
	entry.Description = describe(pr, calcType)
	entry.Computation = loyalty.Computation{
		CalculationType: matched.Event.Type,
		Formula:         formula,
		Inputs:          pr.consulted(),
		Result:          result,
	}
	entry.CampaignDetails = campaignDetails(ev, pr, calcType)

	if err != nil {
		var calcErr *loyalty.CalculationError
		if errors.As(err, &calcErr) {
			calcErr.RuleName = matched.RuleName
			calcErr.CalculationType = matched.Event.Type
		}
		entry.Points = 0
		entry.Computation.Result = 0
		return entry, err
	}

	return entry, nil
}

func (c *Calculator) compute(ev *loyalty.EventInput, calcType CalculationType, pr *paramReader) (int64, string, error) {
	switch calcType {
	case CalcRegistryPoint:
		return fixedAward(pr, "registrationBonus", "bonus", "reward")
	case CalcOrderBasePoint:
		return c.orderBasePoint(ev, pr)
	case CalcOrderMultiplePointLimit, CalcOrderMultiplePoint:
		return c.multiplierBonus(ev, pr)
	case CalcCampaignBonus:
		return c.campaignBonus(ev, pr)
	case CalcVIPMultiplier, CalcProductMultiplier, CalcBirthMonthBonus:
		return c.tierBonus(ev, pr)
	case CalcBasketAmount:
		return c.basketAmount(ev, pr)
	case CalcComboMultiplier:
		return fixedAward(pr, "bonus", "reward", "fixedBonus")
	case CalcRecyclingReward:
		return c.recyclingReward(ev, pr)
	case CalcConsultationBonus:
		return fixedAward(pr, "consultationBonus")
	case CalcManagerAdjustment:
		return c.managerAdjustment(ev, pr)
	case CalcRedemptionDeduction:
		return c.redemptionDeduction(ev, pr)
	default:
		return 0, "", &loyalty.CalculationError{
			Reason: fmt.Sprintf("unknown calculation type %q", string(calcType)),
		}
	}
}

// =============================================================================
// FORMULAS
// =============================================================================

// fixedAward floors the first numeric parameter found along the fallback
// chain. Missing parameters award zero rather than erroring: a rule with no
// configured bonus is a no-op, not a failure.
func fixedAward(pr *paramReader, keys ...string) (int64, string, error) {
	v, _ := pr.number(keys...)
	result := v.Floor().IntPart()
	return result, fmt.Sprintf("floor(%s) = %d", v, result), nil
}

// orderBasePoint awards amount times the market rate.
func (c *Calculator) orderBasePoint(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	amount, ok := eventAmount(ev, pr)
	if !ok {
		return 0, "", errAmountRequired()
	}

	rate := marketRate(ev.Market, pr)
	result := amount.Mul(rate).Floor().IntPart()
	return result, fmt.Sprintf("floor(%s * %s) = %d", amount, rate, result), nil
}

// multiplierBonus awards the increment a multiplier adds over base points:
// floor(base * multiplier) - base, where base = floor(amount * baseRate).
// The base points themselves come from a separate ORDER_BASE_POINT rule.
func (c *Calculator) multiplierBonus(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	amount, ok := eventAmount(ev, pr)
	if !ok {
		return 0, "", errAmountRequired()
	}

	rate := baseRate(ev.Market, pr)
	mult := pr.numberOr(decimal.NewFromInt(1), "multiplier")
	base := amount.Mul(rate).Floor()
	result := base.Mul(mult).Floor().Sub(base).IntPart()

	formula := fmt.Sprintf("base = floor(%s * %s) = %s; bonus = floor(%s * %s) - %s = %d",
		amount, rate, base, base, mult, base, result)
	return result, formula, nil
}

// campaignBonus resolves in order: a fixed bonus, a multiplier increment,
// or a campaign rate applied to the amount.
func (c *Calculator) campaignBonus(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	if v, ok := pr.number("fixedBonus", "bonus"); ok {
		result := v.Floor().IntPart()
		return result, fmt.Sprintf("floor(%s) = %d", v, result), nil
	}

	if pr.has("multiplier") {
		return c.multiplierBonus(ev, pr)
	}

	amount, ok := eventAmount(ev, pr)
	if !ok {
		return 0, "", errAmountRequired()
	}
	rate, _ := pr.number("campaignRate", "rate")
	result := amount.Mul(rate).Floor().IntPart()
	return result, fmt.Sprintf("floor(%s * %s) = %d", amount, rate, result), nil
}

// tierBonus awards floor(base * (multiplier - 1)): the bonus on top of the
// base points a purchase already earned. A multiplier of 1 awards nothing.
func (c *Calculator) tierBonus(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	amount, ok := eventAmount(ev, pr)
	if !ok {
		return 0, "", errAmountRequired()
	}

	rate := baseRate(ev.Market, pr)
	mult := pr.numberOr(decimal.NewFromInt(1), "multiplier")
	base := amount.Mul(rate).Floor()
	result := base.Mul(mult.Sub(decimal.NewFromInt(1))).Floor().IntPart()

	formula := fmt.Sprintf("base = floor(%s * %s) = %s; bonus = floor(%s * (%s - 1)) = %d",
		amount, rate, base, base, mult, result)
	return result, formula, nil
}

// basketAmount awards a fixed bonus when the transaction amount reaches the
// threshold, zero otherwise.
func (c *Calculator) basketAmount(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	amount, ok := eventAmount(ev, pr)
	if !ok {
		return 0, "", errAmountRequired()
	}

	threshold, _ := pr.number("threshold")
	if amount.LessThan(threshold) {
		return 0, fmt.Sprintf("%s < %s: no bonus", amount, threshold), nil
	}

	bonus, _ := pr.number("bonus", "reward")
	result := bonus.Floor().IntPart()
	return result, fmt.Sprintf("%s >= %s: floor(%s) = %d", amount, threshold, bonus, result), nil
}

// recyclingReward awards per-item points for recycled containers, capped at
// the configured maximum items per period when one is set.
func (c *Calculator) recyclingReward(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	count, numeric, present := attrNumber(ev, pr, "recycledCount")
	if present && !numeric {
		return 0, "", calcErr("attribute recycledCount is not numeric")
	}
	if !present {
		count = decimal.Zero
	}

	perItem, _ := pr.number("pointsPerBottle", "rewardPerItem", "rewardPerActivity")

	if limit, ok := pr.number("maxPerYear", "maxPerPeriod"); ok {
		capped := count
		if count.GreaterThan(limit) {
			capped = limit
		}
		result := capped.Mul(perItem).Floor().IntPart()
		return result, fmt.Sprintf("floor(min(%s, %s) * %s) = %d", count, limit, perItem, result), nil
	}

	result := count.Mul(perItem).Floor().IntPart()
	return result, fmt.Sprintf("floor(%s * %s) = %d", count, perItem, result), nil
}

// managerAdjustment floors the signed adjustment carried on the event.
func (c *Calculator) managerAdjustment(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	v, numeric, _ := attrNumber(ev, pr, "adjustedPoints")
	if !numeric {
		return 0, "", calcErr("attribute adjustedPoints missing or not numeric")
	}
	result := v.Floor().IntPart()
	return result, fmt.Sprintf("floor(%s) = %d", v, result), nil
}

// redemptionDeduction negates the redeemed points; the negative sign is what
// routes the balance update down the redemption path.
func (c *Calculator) redemptionDeduction(ev *loyalty.EventInput, pr *paramReader) (int64, string, error) {
	v, numeric, _ := attrNumber(ev, pr, "redemptionPoints")
	if !numeric {
		return 0, "", calcErr("attribute redemptionPoints missing or not numeric")
	}
	result := -v.Floor().IntPart()
	return result, fmt.Sprintf("-floor(%s) = %d", v, result), nil
}

// =============================================================================
// RATE RESOLUTION
// =============================================================================

// marketRate resolves the points-per-currency-unit rate for a market.
// JP converts yen at conversionRate (default 0.1); other markets award
// rate points per unit (default 1).
func marketRate(market loyalty.Market, pr *paramReader) decimal.Decimal {
	if market == loyalty.MarketJP {
		if r, ok := pr.number("conversionRate", "rate"); ok {
			return r
		}
		return decimal.NewFromFloat(0.1)
	}
	if r, ok := pr.number("rate", "standardRate"); ok {
		return r
	}
	return decimal.NewFromInt(1)
}

// baseRate is the rate multiplier formulas compute their base points with:
// an explicit baseRate param when present, the market rate otherwise.
func baseRate(market loyalty.Market, pr *paramReader) decimal.Decimal {
	if r, ok := pr.number("baseRate"); ok {
		return r
	}
	return marketRate(market, pr)
}

// =============================================================================
// EVENT AND PARAM READING
// =============================================================================

// eventAmount reads the transaction amount, preferring srpAmount over the
// paid amount. Returns false when neither attribute carries a number.
func eventAmount(ev *loyalty.EventInput, pr *paramReader) (decimal.Decimal, bool) {
	key := "srpAmount"
	raw, ok := ev.Attribute(key)
	if !ok || raw == nil {
		key = "amount"
		raw, ok = ev.Attribute(key)
	}
	if !ok || raw == nil {
		return decimal.Decimal{}, false
	}

	d, numeric := toDecimal(raw)
	if !numeric {
		return decimal.Decimal{}, false
	}
	pr.record(key, raw)
	return d, true
}

// attrNumber reads a numeric event attribute. The two booleans distinguish
// "present but not a number" from "absent".
func attrNumber(ev *loyalty.EventInput, pr *paramReader, key string) (decimal.Decimal, bool, bool) {
	raw, present := ev.Attribute(key)
	if !present || raw == nil {
		return decimal.Decimal{}, false, false
	}
	d, numeric := toDecimal(raw)
	if !numeric {
		return decimal.Decimal{}, false, true
	}
	pr.record(key, raw)
	return d, true, true
}

// paramReader reads rule params and remembers every key that supplied a
// value, so the computation trace shows exactly which inputs mattered.
type paramReader struct {
	params map[string]any
	inputs map[string]any
}

func newParamReader(params map[string]any) *paramReader {
	return &paramReader{params: params, inputs: make(map[string]any)}
}

// record remembers a consulted key and the raw value it supplied.
func (p *paramReader) record(key string, raw any) {
	p.inputs[key] = raw
}

// number returns the first numeric value along the key fallback chain.
func (p *paramReader) number(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		raw, ok := p.params[k]
		if !ok || raw == nil {
			continue
		}
		d, numeric := toDecimal(raw)
		if !numeric {
			continue
		}
		p.inputs[k] = raw
		return d, true
	}
	return decimal.Decimal{}, false
}

func (p *paramReader) numberOr(fallback decimal.Decimal, keys ...string) decimal.Decimal {
	if d, ok := p.number(keys...); ok {
		return d
	}
	return fallback
}

func (p *paramReader) text(key string) (string, bool) {
	raw, ok := p.params[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	p.inputs[key] = s
	return s, true
}

func (p *paramReader) has(key string) bool {
	v, ok := p.params[key]
	return ok && v != nil
}

func (p *paramReader) consulted() map[string]any {
	return p.inputs
}

// toDecimal coerces the JSON-decoded forms a param or attribute value can
// take. Numeric strings count: rule files and upstream producers are not
// consistent about quoting.
func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// =============================================================================
// ENTRY DECORATION
// =============================================================================

func describe(pr *paramReader, calcType CalculationType) string {
	if s, ok := pr.text("description"); ok {
		return s
	}
	return DescriptionFor(string(calcType))
}

// campaignDetails attaches the campaign code: explicit params win, and
// campaign-type awards fall back to the code the event was submitted under.
func campaignDetails(ev *loyalty.EventInput, pr *paramReader, calcType CalculationType) *loyalty.CampaignDetails {
	if code, ok := pr.text("campaignCode"); ok {
		return &loyalty.CampaignDetails{CampaignCode: code}
	}
	if calcType != CalcCampaignBonus {
		return nil
	}
	if raw, ok := ev.ContextValue("campaignCode"); ok {
		if code, isString := raw.(string); isString && code != "" {
			return &loyalty.CampaignDetails{CampaignCode: code}
		}
	}
	return nil
}

func calcErr(reason string) error {
	return &loyalty.CalculationError{Reason: reason}
}

func errAmountRequired() error {
	return calcErr("event amount missing or not numeric")
}
