package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/report"
	"github.com/uhyunpark/fixsession/pkg/session"
)

var (
	ErrNoActiveOrder = errors.New("no active order")
	ErrNoClientID    = errors.New("client id not resolved")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrNotLoggedOn   = session.ErrNotLoggedOn
)

// Order is the one order a Client tracks. ClOrdID follows the most recent
// command, so a cancel or replace always references the latest request.
type Order struct {
	ClOrdID     string           `json:"clOrdId"`
	OrderID     string           `json:"orderId,omitempty"`
	Symbol      string           `json:"symbol"`
	Side        fix.Side         `json:"side"`
	OrdType     fix.OrdType      `json:"ordType"`
	TimeInForce fix.TimeInForce  `json:"timeInForce"`
	Price       decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Status      report.OrdStatus `json:"status"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	// prevClOrdID is restored if a cancel or replace is rejected.
	prevClOrdID string
}

// ReplaceParams carries the fields to change; nil fields are left out of the
// request entirely.
type ReplaceParams struct {
	Price    *decimal.Decimal
	Quantity *decimal.Decimal
	OrdType  *fix.OrdType
}

// Sender writes an application message on a logged-on session.
type Sender interface {
	Send(m *fix.Message) error
}

// ClientIDSource supplies the counterparty-assigned client id used in the
// parties group. ok is false until the lookup has completed.
type ClientIDSource interface {
	ClientID() (id string, ok bool)
}

// Store persists the active order so a restarted process can still cancel it.
type Store interface {
	SaveOrder(sessionID string, o Order) error
	LoadOrder(sessionID string) (*Order, error)
	DeleteOrder(sessionID string) error
}
