package enums

import "slices"

// Gateway identifies an external payment provider.
type Gateway string

const (
	GatewayStripe Gateway = "stripe"
	GatewaySquare Gateway = "square"
)

var validGateways = []Gateway{
	GatewayStripe,
	GatewaySquare,
}

func (s Gateway) String() string {
	return string(s)
}

// IsValid reports whether the value is a known Gateway.
func (s Gateway) IsValid() bool {
	return slices.Contains(validGateways, s)
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	return parseEnum(validGateways, value, "gateway")
}
