package book

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"broker_go/internal/domain"
)

// Matches reports whether a resting order trades at the reference
// price p under cumulative matching: buys at or above, sells at or
// below.
func Matches(o domain.RestingOrder, p decimal.Decimal) bool {
	switch o.Side {
	case domain.SideBuy:
		return o.Price.GreaterThanOrEqual(p)
	case domain.SideSell:
		return o.Price.LessThanOrEqual(p)
	default:
		return false
	}
}

// AffectedParticipants aggregates all orders matching the discovered
// price p by (account, side, price), summing volume and keeping the
// first order id seen as representative. The result is ordered by
// account, side, then price so repeated runs notify in a stable order.
func AffectedParticipants(orders []domain.RestingOrder, p decimal.Decimal) []domain.AffectedParticipant {
	matching := lo.Filter(orders, func(o domain.RestingOrder, _ int) bool {
		return Matches(o, p) && o.Volume() > 0
	})

	byKey := make(map[string]*domain.AffectedParticipant, len(matching))
	for _, o := range matching {
		key := o.AccountID + "|" + string(o.Side) + "|" + o.Price.StringFixed(2)
		if ap, ok := byKey[key]; ok {
			ap.Volume += o.Volume()
			continue
		}
		byKey[key] = &domain.AffectedParticipant{
			AccountID: o.AccountID,
			Side:      o.Side,
			Price:     o.Price,
			Volume:    o.Volume(),
			OrderID:   o.ID,
		}
	}

	out := lo.Map(lo.Values(byKey), func(ap *domain.AffectedParticipant, _ int) domain.AffectedParticipant {
		return *ap
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
