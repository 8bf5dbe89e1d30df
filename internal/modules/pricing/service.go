// README: Pricing service computes delivery fees and checkout snapshots in minor units.
package pricing

import (
	"math"

	"foodhub/internal/config"
	"foodhub/internal/types"
)

type Service struct {
	cfg config.PricingConfig
}

func NewService(cfg config.PricingConfig) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) Currency() string { return s.cfg.Currency }

// DeliveryFee is max(zone minimum, per-km fee x distance). A zero
// MaxDistanceMeters means the zone sets no range limit.
func (s *Service) DeliveryFee(limits ZoneLimits, distanceKm float64) (types.Money, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		return types.Money{}, ErrInvalidAmount
	}
	if limits.MaxDistanceMeters > 0 && distanceKm*1000 > float64(limits.MaxDistanceMeters) {
		return types.Money{}, ErrTooFar
	}
	byDistance := int64(math.Round(float64(s.cfg.PerKmFee) * distanceKm))
	amount := byDistance
	if limits.MinFee.Amount > amount {
		amount = limits.MinFee.Amount
	}
	return types.Money{Amount: amount, Currency: s.cfg.Currency}, nil
}

// Snapshot splits the order total. Commission is taken from the subtotal and
// VAT is charged on the commission; the partner earns a share of the delivery fee.
func (s *Service) Snapshot(subtotal, deliveryFee types.Money) (Snapshot, error) {
	if subtotal.Amount < 0 || deliveryFee.Amount < 0 {
		return Snapshot{}, ErrInvalidAmount
	}
	cur := s.cfg.Currency
	for _, m := range []types.Money{subtotal, deliveryFee} {
		if m.Currency != "" && m.Currency != cur {
			return Snapshot{}, ErrCurrencyMixing
		}
	}
	subtotal.Currency = cur
	deliveryFee.Currency = cur

	commission := subtotal.Percent(s.cfg.CommissionBps)
	vat := commission.Percent(s.cfg.VATBps)
	return Snapshot{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Commission:  commission,
		VAT:         vat,
		VendorNet:   subtotal.Sub(commission).Sub(vat),
		PartnerNet:  deliveryFee.Percent(s.cfg.PartnerFeeBps),
		Total:       subtotal.Add(deliveryFee),
	}, nil
}
