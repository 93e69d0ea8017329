package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

// PartyRoleClientID is the PartyRole (452) for the client id party.
const PartyRoleClientID = "3"

func addClientParty(m *fix.Message, clientID string) {
	m.Add(fix.TagNoPartyIDs, "1")
	m.Add(fix.TagPartyID, clientID)
	m.Add(fix.TagPartyRole, PartyRoleClientID)
}

// NewOrderSingle builds a 35=D. Price is only sent for limit orders.
func NewOrderSingle(o Order, clientID string, transactTime time.Time) *fix.Message {
	m := fix.NewMessage(fix.MsgTypeNewOrderSingle).
		Set(fix.TagClOrdID, o.ClOrdID).
		Set(fix.TagSymbol, o.Symbol).
		Set(fix.TagSide, string(o.Side)).
		Set(fix.TagTransactTime, fix.FormatUTCTimestamp(transactTime)).
		Set(fix.TagOrdType, string(o.OrdType))
	if o.OrdType == fix.OrdTypeLimit {
		m.SetDecimal(fix.TagPrice, o.Price)
	}
	m.SetDecimal(fix.TagOrderQty, o.Quantity)
	m.Set(fix.TagTimeInForce, string(o.TimeInForce))
	addClientParty(m, clientID)
	return m
}

// NewCancelRequest builds a 35=F for the order last sent as origClOrdID.
func NewCancelRequest(origClOrdID, clOrdID, symbol string, side fix.Side, clientID string) *fix.Message {
	m := fix.NewMessage(fix.MsgTypeOrderCancelRequest).
		Set(fix.TagOrigClOrdID, origClOrdID).
		Set(fix.TagClOrdID, clOrdID)
	if symbol != "" {
		m.Set(fix.TagSymbol, symbol)
	}
	if side != "" {
		m.Set(fix.TagSide, string(side))
	}
	addClientParty(m, clientID)
	return m
}

// NewReplaceRequest builds a 35=G carrying only the fields set in p.
func NewReplaceRequest(origClOrdID, clOrdID string, p ReplaceParams, clientID string) *fix.Message {
	m := fix.NewMessage(fix.MsgTypeOrderCancelReplace).
		Set(fix.TagOrigClOrdID, origClOrdID).
		Set(fix.TagClOrdID, clOrdID)
	if p.Price != nil {
		m.SetDecimal(fix.TagPrice, *p.Price)
	}
	if p.Quantity != nil {
		m.SetDecimal(fix.TagOrderQty, *p.Quantity)
	}
	if p.OrdType != nil {
		m.Set(fix.TagOrdType, string(*p.OrdType))
	}
	addClientParty(m, clientID)
	return m
}

func validate(side fix.Side, price, qty decimal.Decimal, ordType fix.OrdType, tif fix.TimeInForce) error {
	switch side {
	case fix.SideBuy, fix.SideSell:
	default:
		return errorf("side %q", side)
	}
	switch ordType {
	case fix.OrdTypeLimit:
		if !price.IsPositive() {
			return errorf("limit price must be positive, got %s", price)
		}
	case fix.OrdTypeMarket:
	default:
		return errorf("order type %q", ordType)
	}
	switch tif {
	case fix.TimeInForceDay, fix.TimeInForceGTC, fix.TimeInForceIOC, fix.TimeInForceFOK:
	default:
		return errorf("time in force %q", tif)
	}
	if !qty.IsPositive() {
		return errorf("quantity must be positive, got %s", qty)
	}
	return nil
}
