package models

import (
	"time"

	"github.com/quizforge/billing/pkg/types"
)

// BillingProfile is the local store's association between a user and the
// billing provider's identifiers, plus the currently-effective plan. The
// provider remains the source of truth; this row is the synchronized view.
type BillingProfile struct {
	ID         string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID     string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	CustomerRef string `gorm:"column:customer_ref;type:varchar(128);index" json:"customer_ref"`
	// SubscriptionRef is nil while the user has no subscription at the provider.
	SubscriptionRef *string      `gorm:"column:subscription_ref;type:varchar(128);default:null" json:"subscription_ref"`
	PlanID          types.PlanID `gorm:"column:plan_id;type:varchar(32);not null" json:"plan_id"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (BillingProfile) TableName() string { return "billing_profile" }

func (p *BillingProfile) Plan() types.PlanID {
	if p == nil || !p.PlanID.Valid() {
		return types.PlanFree
	}
	return p.PlanID
}
