/*
Package rewards implements the reward calculation catalog: the dispatcher
that turns a matched rule event into a signed integer point award.

PURPOSE:
  Rules decide WHETHER a reward applies; this package decides HOW MUCH.
  Each rule event carries a calculation type and a params mapping, and the
  calculator applies the formula registered for that type. The catalog is
  fixed: unknown types award zero points and report an error.

CALCULATION TYPES:
  INTERACTION_REGISTRY_POINT:        Fixed bonus on registration
  ORDER_BASE_POINT:                  Purchase amount times a market rate
  ORDER_MULTIPLE_POINT(_LIMIT):      Incremental bonus over base points
  FLEXIBLE_CAMPAIGN_BONUS:           Fixed, multiplied, or rated campaign award
  FLEXIBLE_VIP_MULTIPLIER:           Tier bonus on top of base points
  FLEXIBLE_PRODUCT_MULTIPLIER:       Product-line bonus on top of base points
  FIRST_PURCHASE_BIRTH_MONTH_BONUS:  Birthday-month bonus on top of base points
  FLEXIBLE_BASKET_AMOUNT:            Fixed bonus when the basket clears a threshold
  FLEXIBLE_COMBO_PRODUCT_MULTIPLIER: Fixed bonus for qualifying product combos
  INTERACTION_ADJUST_POINT_TIMES_PER_YEAR: Capped per-item recycling reward
  CONSULTATION_BONUS:                Fixed bonus for in-store consultations
  INTERACTION_ADJUST_POINT_BY_MANAGER: Signed manual adjustment
  REDEMPTION_DEDUCTION:              Negative award spending available points

SIGN CONVENTION:
  Positive awards accrue (total and available both rise). Negative awards
  redeem (available falls, used rises, total unchanged). Only manager
  adjustments and redemptions produce negative points.

INTEGER CLOSURE:
  Every formula ends in floor-truncation. Intermediate math runs on
  shopspring decimals so currency amounts and rates never touch binary
  floating point.

SEE ALSO:
  - calculator.go: The formula implementations
  - loyalty/processor.go: Where awards are aggregated and applied
*/
package rewards

import (
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// CALCULATION TYPES
// =============================================================================

// CalculationType selects the formula applied to a matched rule event.
type CalculationType string

const (
	CalcRegistryPoint           CalculationType = "INTERACTION_REGISTRY_POINT"
	CalcOrderBasePoint          CalculationType = "ORDER_BASE_POINT"
	CalcOrderMultiplePointLimit CalculationType = "ORDER_MULTIPLE_POINT_LIMIT"
	CalcOrderMultiplePoint      CalculationType = "ORDER_MULTIPLE_POINT"
	CalcCampaignBonus           CalculationType = "FLEXIBLE_CAMPAIGN_BONUS"
	CalcVIPMultiplier           CalculationType = "FLEXIBLE_VIP_MULTIPLIER"
	CalcProductMultiplier       CalculationType = "FLEXIBLE_PRODUCT_MULTIPLIER"
	CalcBirthMonthBonus         CalculationType = "FIRST_PURCHASE_BIRTH_MONTH_BONUS"
	CalcBasketAmount            CalculationType = "FLEXIBLE_BASKET_AMOUNT"
	CalcComboMultiplier         CalculationType = "FLEXIBLE_COMBO_PRODUCT_MULTIPLIER"
	CalcRecyclingReward         CalculationType = "INTERACTION_ADJUST_POINT_TIMES_PER_YEAR"
	CalcConsultationBonus       CalculationType = "CONSULTATION_BONUS"
	CalcManagerAdjustment       CalculationType = "INTERACTION_ADJUST_POINT_BY_MANAGER"
	CalcRedemptionDeduction     CalculationType = "REDEMPTION_DEDUCTION"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Categories group breakdown entries for reporting. The mapping from
// calculation type to category is fixed; unknown types fall back to OTHER.
const (
	CategoryBasePurchase       loyalty.Category = "BASE_PURCHASE"
	CategoryPurchaseMultiplier loyalty.Category = "PURCHASE_MULTIPLIER"
	CategoryCampaign           loyalty.Category = "CAMPAIGN"
	CategoryVIPBonus           loyalty.Category = "VIP_BONUS"
	CategoryProductBonus       loyalty.Category = "PRODUCT_BONUS"
	CategoryBirthdayBonus      loyalty.Category = "BIRTHDAY_BONUS"
	CategorySpendingThreshold  loyalty.Category = "SPENDING_THRESHOLD"
	CategoryComboBonus         loyalty.Category = "COMBO_BONUS"
	CategoryRegistration       loyalty.Category = "REGISTRATION"
	CategoryRecycling          loyalty.Category = "RECYCLING"
	CategoryConsultation       loyalty.Category = "CONSULTATION"
	CategoryManualAdjustment   loyalty.Category = "MANUAL_ADJUSTMENT"
	CategoryRedemption         loyalty.Category = "REDEMPTION"
	CategoryOther              loyalty.Category = "OTHER"
)

var categories = map[CalculationType]loyalty.Category{
	CalcRegistryPoint:           CategoryRegistration,
	CalcOrderBasePoint:          CategoryBasePurchase,
	CalcOrderMultiplePointLimit: CategoryPurchaseMultiplier,
	CalcOrderMultiplePoint:      CategoryPurchaseMultiplier,
	CalcCampaignBonus:           CategoryCampaign,
	CalcVIPMultiplier:           CategoryVIPBonus,
	CalcProductMultiplier:       CategoryProductBonus,
	CalcBirthMonthBonus:         CategoryBirthdayBonus,
	CalcBasketAmount:            CategorySpendingThreshold,
	CalcComboMultiplier:         CategoryComboBonus,
	CalcRecyclingReward:         CategoryRecycling,
	CalcConsultationBonus:       CategoryConsultation,
	CalcManagerAdjustment:       CategoryManualAdjustment,
	CalcRedemptionDeduction:     CategoryRedemption,
}

// CategoryFor returns the reporting category for a rule event type.
func CategoryFor(eventType string) loyalty.Category {
	if c, ok := categories[CalculationType(eventType)]; ok {
		return c
	}
	return CategoryOther
}

// descriptions provide the human-readable default used when a rule's params
// carry no explicit description.
var descriptions = map[CalculationType]string{
	CalcRegistryPoint:           "Registration welcome points",
	CalcOrderBasePoint:          "Base points for purchase amount",
	CalcOrderMultiplePointLimit: "Purchase multiplier bonus",
	CalcOrderMultiplePoint:      "Purchase multiplier bonus",
	CalcCampaignBonus:           "Campaign bonus points",
	CalcVIPMultiplier:           "VIP tier bonus",
	CalcProductMultiplier:       "Product line bonus",
	CalcBirthMonthBonus:         "Birthday month first purchase bonus",
	CalcBasketAmount:            "Spending threshold bonus",
	CalcComboMultiplier:         "Combo product bonus",
	CalcRecyclingReward:         "Recycling reward",
	CalcConsultationBonus:       "Consultation bonus",
	CalcManagerAdjustment:       "Manual balance adjustment",
	CalcRedemptionDeduction:     "Point redemption",
}

// DescriptionFor returns the default description for a rule event type.
func DescriptionFor(eventType string) string {
	if d, ok := descriptions[CalculationType(eventType)]; ok {
		return d
	}
	return "Loyalty points"
}
