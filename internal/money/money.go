// Package money computes line subtotals and tab totals.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits stored for amounts.
const Places = 2

// Round rounds half away from zero to Places.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(Places) }

// LineTotal is quantity × unit price.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// Sum adds already-rounded amounts. An empty input sums to zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Round(total)
}

// Totals accumulates a grand total plus per payment-method subtotals.
type Totals struct {
	Count    int64
	Total    decimal.Decimal
	ByMethod map[string]decimal.Decimal
}

func NewTotals() *Totals {
	return &Totals{Total: decimal.Zero, ByMethod: map[string]decimal.Decimal{}}
}

func (t *Totals) Add(method string, amount decimal.Decimal) {
	t.Count++
	t.Total = t.Total.Add(amount)
	t.ByMethod[method] = t.Method(method).Add(amount)
}

// Method returns the subtotal for a payment method, zero if none was seen.
func (t *Totals) Method(method string) decimal.Decimal {
	if v, ok := t.ByMethod[method]; ok {
		return v
	}
	return decimal.Zero
}
