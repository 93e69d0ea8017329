package fix

import (
	"fmt"
	"strings"
)

// Side is the tag 54 value.
type Side string

const (
	SideBuy  Side = "1"
	SideSell Side = "2"
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return unknown(string(s))
	}
}

// OrdType is the tag 40 value.
type OrdType string

const (
	OrdTypeMarket OrdType = "1"
	OrdTypeLimit  OrdType = "2"
)

func (o OrdType) String() string {
	switch o {
	case OrdTypeMarket:
		return "Market"
	case OrdTypeLimit:
		return "Limit"
	default:
		return unknown(string(o))
	}
}

// TimeInForce is the tag 59 value.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "0"
	TimeInForceGTC TimeInForce = "1"
	TimeInForceIOC TimeInForce = "3"
	TimeInForceFOK TimeInForce = "4"
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceDay:
		return "Day"
	case TimeInForceGTC:
		return "GoodTillCancel"
	case TimeInForceIOC:
		return "ImmediateOrCancel"
	case TimeInForceFOK:
		return "FillOrKill"
	default:
		return unknown(string(t))
	}
}

func unknown(code string) string { return fmt.Sprintf("Unknown (%s)", code) }

// ParseSide accepts "buy"/"sell" in any case or the raw FIX code.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "1":
		return SideBuy, nil
	case "SELL", "2":
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// ParseOrdType accepts "market"/"limit" in any case or the raw FIX code.
func ParseOrdType(s string) (OrdType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET", "1":
		return OrdTypeMarket, nil
	case "LIMIT", "2":
		return OrdTypeLimit, nil
	}
	return "", fmt.Errorf("invalid order type %q", s)
}

// ParseTimeInForce accepts common names (day, gtc, ioc, fok) or the raw FIX code.
// An empty string means GTC.
func ParseTimeInForce(s string) (TimeInForce, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GTC", "1":
		return TimeInForceGTC, nil
	case "DAY", "0":
		return TimeInForceDay, nil
	case "IOC", "3":
		return TimeInForceIOC, nil
	case "FOK", "4":
		return TimeInForceFOK, nil
	}
	return "", fmt.Errorf("invalid time in force %q", s)
}
