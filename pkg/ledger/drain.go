package ledger

import (
	"fmt"
	"strings"

	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
)

// DrainStep is the amount taken from one category.
type DrainStep struct {
	Category models.Category `json:"category"`
	Amount   int64           `json:"amount"`
}

// DrainPlan lists the categories a pooled price is paid from, in priority order.
type DrainPlan []DrainStep

// PlanDrain computes how to pay amount from b, taking categories in
// models.DrainOrder until the amount is covered. It returns
// storage.ErrInsufficientFunds and no plan if the drainable sum is short.
func PlanDrain(b models.Balance, amount int64) (DrainPlan, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if b.Drainable() < amount {
		return nil, storage.ErrInsufficientFunds
	}

	var plan DrainPlan
	remaining := amount
	for _, c := range models.DrainOrder {
		if remaining == 0 {
			break
		}
		take := min(b.Get(c), remaining)
		if take <= 0 {
			continue
		}
		plan = append(plan, DrainStep{Category: c, Amount: take})
		remaining -= take
	}
	return plan, nil
}

// Total is the number of coins the plan drains.
func (p DrainPlan) Total() int64 {
	var sum int64
	for _, s := range p {
		sum += s.Amount
	}
	return sum
}

// ApplyTo subtracts the plan from b.
func (p DrainPlan) ApplyTo(b *models.Balance) {
	for _, s := range p {
		b.Set(s.Category, b.Get(s.Category)-s.Amount)
	}
}

// Category is the category recorded on the spend row: the single drained
// category, or CategoryPooled when more than one was touched.
func (p DrainPlan) Category() models.Category {
	if len(p) == 1 {
		return p[0].Category
	}
	return models.CategoryPooled
}

// String renders the plan as "analysis:30,enhancement:70".
func (p DrainPlan) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = fmt.Sprintf("%s:%d", s.Category, s.Amount)
	}
	return strings.Join(parts, ",")
}
