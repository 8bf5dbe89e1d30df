// README: Common money value object used across modules (amounts in minor units).
package types

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount + o.Amount, Currency: m.currency(o)}
}

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount - o.Amount, Currency: m.currency(o)}
}

// Percent applies a rate expressed in basis points, rounding half up.
func (m Money) Percent(bps int64) Money {
	return Money{Amount: (m.Amount*bps + 5000) / 10000, Currency: m.Currency}
}

func (m Money) currency(o Money) string {
	if m.Currency != "" {
		return m.Currency
	}
	return o.Currency
}
