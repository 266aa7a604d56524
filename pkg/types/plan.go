package types

type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanBasic PlanID = "basic"
	PlanPlus  PlanID = "plus"
)

// rank orders tiers by entitlement. Unknown values rank below free so that
// comparisons against corrupted data never grant access.
var planRank = map[PlanID]int{
	PlanFree:  1,
	PlanBasic: 2,
	PlanPlus:  3,
}

func (p PlanID) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// AtLeast reports whether p entitles everything other does.
func (p PlanID) AtLeast(other PlanID) bool {
	return planRank[p] >= planRank[other]
}

type BillingInterval string

const (
	BillingIntervalMonth BillingInterval = "month"
	BillingIntervalYear  BillingInterval = "year"
)

// PlanItem is a catalog entry binding an internal tier to the billing
// provider's product and price identifiers. The catalog is declared in config;
// a product ref absent from the catalog always resolves to PlanFree.
type PlanItem struct {
	PlanID          PlanID `json:"plan_id" mapstructure:"plan_id"`
	ProductRef      string `json:"product_ref" mapstructure:"product_ref"`
	MonthlyPriceRef string `json:"monthly_price_ref" mapstructure:"monthly_price_ref"`
	YearlyPriceRef  string `json:"yearly_price_ref" mapstructure:"yearly_price_ref"`
}

func (item *PlanItem) PriceRef(interval BillingInterval) string {
	if item == nil {
		return ""
	}
	if interval == BillingIntervalYear {
		return item.YearlyPriceRef
	}
	return item.MonthlyPriceRef
}
