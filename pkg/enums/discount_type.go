package enums

import "slices"

// DiscountType selects how a coupon value is applied.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

var validDiscountTypes = []DiscountType{
	DiscountTypePercent,
	DiscountTypeFixed,
}

func (s DiscountType) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DiscountType.
func (s DiscountType) IsValid() bool {
	return slices.Contains(validDiscountTypes, s)
}

// ParseDiscountType converts raw input into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	return parseEnum(validDiscountTypes, value, "discount type")
}
