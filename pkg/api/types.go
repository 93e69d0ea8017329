package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/report"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/sessions/{mnemonic}/orders
type PlaceOrderRequest struct {
	Side        string          `json:"side"`    // "buy", "sell" or the FIX code
	OrdType     string          `json:"ordType"` // "limit" or "market"
	Price       decimal.Decimal `json:"price"`   // ignored for market orders
	Quantity    decimal.Decimal `json:"quantity"`
	TimeInForce string          `json:"timeInForce,omitempty"` // default GTC
}

// ReplaceOrderRequest changes only the fields that are present
type ReplaceOrderRequest struct {
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	OrdType  *string          `json:"ordType,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// OrderCommandResponse is returned by place, cancel and replace
type OrderCommandResponse struct {
	Status  string `json:"status"` // "submitted"
	ClOrdID string `json:"clOrdId"`
}

// ReportInfo is an execution report as served over REST and WebSocket
type ReportInfo struct {
	Session      string    `json:"session"`
	ClOrdID      string    `json:"clOrdId"`
	OrigClOrdID  string    `json:"origClOrdId,omitempty"`
	OrderID      string    `json:"orderId,omitempty"`
	ExecID       string    `json:"execId,omitempty"`
	ExecType     string    `json:"execType"`  // e.g. "New (Order Confirmation)"
	OrdStatus    string    `json:"ordStatus"` // e.g. "Partially Filled"
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	OrdType      string    `json:"ordType,omitempty"`
	Price        string    `json:"price,omitempty"`
	Quantity     string    `json:"quantity,omitempty"`
	CumQty       string    `json:"cumQty,omitempty"`
	LeavesQty    string    `json:"leavesQty,omitempty"`
	LastPx       string    `json:"lastPx,omitempty"`
	LastQty      string    `json:"lastQty,omitempty"`
	Text         string    `json:"text,omitempty"`
	TransactTime time.Time `json:"transactTime"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["reports", "reports:alice"]
}

// ReportUpdate is broadcast for every delivered execution report
type ReportUpdate struct {
	Type     string     `json:"type"` // "executionReport"
	Mnemonic string     `json:"mnemonic"`
	Report   ReportInfo `json:"report"`
}

func toReportInfo(r *report.ExecutionReport) ReportInfo {
	info := ReportInfo{
		Session:      r.Session,
		ClOrdID:      r.ClOrdID,
		OrigClOrdID:  r.OrigClOrdID,
		OrderID:      r.OrderID,
		ExecID:       r.ExecID,
		ExecType:     r.ExecType.String(),
		OrdStatus:    r.OrdStatus.String(),
		Symbol:       r.Symbol,
		Side:         r.Side.String(),
		Text:         r.Text,
		TransactTime: r.TransactTime,
	}
	if r.OrdType != "" {
		info.OrdType = r.OrdType.String()
	}
	info.Price = decimalString(r.Price)
	info.Quantity = decimalString(r.Quantity)
	info.CumQty = decimalString(r.CumQty)
	info.LeavesQty = decimalString(r.LeavesQty)
	info.LastPx = decimalString(r.LastPx)
	info.LastQty = decimalString(r.LastQty)
	return info
}

func decimalString(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return fix.FormatDecimal(d)
}
