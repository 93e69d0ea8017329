package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

// ExecType holds the raw tag 150 code. Codes outside the table are kept as-is
// and render as "Unknown (<code>)".
type ExecType string

const (
	ExecTypeNew            ExecType = "0"
	ExecTypePartialFill    ExecType = "1"
	ExecTypeFill           ExecType = "2"
	ExecTypeDoneForDay     ExecType = "3"
	ExecTypeCanceled       ExecType = "4"
	ExecTypeReplaced       ExecType = "5"
	ExecTypePendingCancel  ExecType = "6"
	ExecTypeRejected       ExecType = "8"
	ExecTypeSuspended      ExecType = "9"
	ExecTypePendingNew     ExecType = "A"
	ExecTypeExpired        ExecType = "C"
	ExecTypePendingReplace ExecType = "E"
)

var execTypeNames = map[ExecType]string{
	ExecTypeNew:            "New (Order Confirmation)",
	ExecTypePartialFill:    "Partial Fill",
	ExecTypeFill:           "Fill",
	ExecTypeDoneForDay:     "Done for Day",
	ExecTypeCanceled:       "Canceled",
	ExecTypeReplaced:       "Replaced (Modified Order)",
	ExecTypePendingCancel:  "Pending Cancel",
	ExecTypeRejected:       "Rejected",
	ExecTypeSuspended:      "Suspended",
	ExecTypePendingNew:     "Pending New",
	ExecTypeExpired:        "Expired",
	ExecTypePendingReplace: "Pending Replace",
}

func (e ExecType) Known() bool {
	_, ok := execTypeNames[e]
	return ok
}

func (e ExecType) String() string {
	if name, ok := execTypeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%s)", string(e))
}

// OrdStatus holds the raw tag 39 code.
type OrdStatus string

const (
	OrdStatusNew                OrdStatus = "0"
	OrdStatusPartiallyFilled    OrdStatus = "1"
	OrdStatusFilled             OrdStatus = "2"
	OrdStatusDoneForDay         OrdStatus = "3"
	OrdStatusCanceled           OrdStatus = "4"
	OrdStatusReplaced           OrdStatus = "5"
	OrdStatusPendingCancel      OrdStatus = "6"
	OrdStatusStopped            OrdStatus = "7"
	OrdStatusRejected           OrdStatus = "8"
	OrdStatusSuspended          OrdStatus = "9"
	OrdStatusPendingNew         OrdStatus = "A"
	OrdStatusCalculated         OrdStatus = "B"
	OrdStatusExpired            OrdStatus = "C"
	OrdStatusAcceptedForBidding OrdStatus = "D"
	OrdStatusPendingReplace     OrdStatus = "E"
)

var ordStatusNames = map[OrdStatus]string{
	OrdStatusNew:                "New",
	OrdStatusPartiallyFilled:    "Partially Filled",
	OrdStatusFilled:             "Filled",
	OrdStatusDoneForDay:         "Done for Day",
	OrdStatusCanceled:           "Canceled",
	OrdStatusReplaced:           "Replaced",
	OrdStatusPendingCancel:      "Pending Cancel",
	OrdStatusStopped:            "Stopped",
	OrdStatusRejected:           "Rejected",
	OrdStatusSuspended:          "Suspended",
	OrdStatusPendingNew:         "Pending New",
	OrdStatusCalculated:         "Calculated",
	OrdStatusExpired:            "Expired",
	OrdStatusAcceptedForBidding: "Accepted for Bidding",
	OrdStatusPendingReplace:     "Pending Replace",
}

func (s OrdStatus) Known() bool {
	_, ok := ordStatusNames[s]
	return ok
}

func (s OrdStatus) String() string {
	if name, ok := ordStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%s)", string(s))
}

// Terminal reports whether no further executions can occur on the order.
func (s OrdStatus) Terminal() bool {
	switch s {
	case OrdStatusFilled, OrdStatusDoneForDay, OrdStatusCanceled, OrdStatusRejected, OrdStatusExpired:
		return true
	}
	return false
}

// ExecutionReport is an immutable view of an inbound 35=8.
type ExecutionReport struct {
	Session      string          `json:"session"`
	SeqNum       uint64          `json:"seqNum"`
	ClOrdID      string          `json:"clOrdId"`
	OrigClOrdID  string          `json:"origClOrdId,omitempty"`
	OrderID      string          `json:"orderId,omitempty"`
	ExecID       string          `json:"execId,omitempty"`
	ExecType     ExecType        `json:"execType"`
	OrdStatus    OrdStatus       `json:"ordStatus"`
	Symbol       string          `json:"symbol,omitempty"`
	Side         fix.Side        `json:"side,omitempty"`
	OrdType      fix.OrdType     `json:"ordType,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	CumQty       decimal.Decimal `json:"cumQty"`
	LeavesQty    decimal.Decimal `json:"leavesQty"`
	LastPx       decimal.Decimal `json:"lastPx"`
	LastQty      decimal.Decimal `json:"lastQty"`
	AvgPx        decimal.Decimal `json:"avgPx"`
	Text         string          `json:"text,omitempty"`
	TransactTime time.Time       `json:"transactTime"`
	PossDup      bool            `json:"possDup"`
}

// CancelReject is an inbound 35=9.
type CancelReject struct {
	Session          string    `json:"session"`
	ClOrdID          string    `json:"clOrdId"`
	OrigClOrdID      string    `json:"origClOrdId"`
	OrderID          string    `json:"orderId,omitempty"`
	OrdStatus        OrdStatus `json:"ordStatus"`
	CxlRejResponseTo string    `json:"cxlRejResponseTo,omitempty"` // 1=cancel, 2=replace
	Reason           string    `json:"reason,omitempty"`
	Text             string    `json:"text,omitempty"`
}
