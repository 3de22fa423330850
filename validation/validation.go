package validation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Violations maps a field path to a snake_case reason.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records the first violation for field; later ones are ignored.
func (v Violations) Add(field, reason string) {
	if _, ok := v[field]; !ok {
		v[field] = reason
	}
}

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func MaxLen(field, value string, max int, v Violations) {
	if len(value) > max {
		v.Add(field, "too_long")
	}
}

func PositiveInt(field string, val int, v Violations) {
	if val <= 0 {
		v.Add(field, "must_be_positive")
	}
}

func NonZeroID(field string, id uint, v Violations) {
	if id == 0 {
		v.Add(field, "required")
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v.Add(field, "must_not_be_negative")
	}
}

// OneOf accepts value only if it is one of allowed.
func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "invalid_choice")
}
