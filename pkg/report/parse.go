package report

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

var ErrInvalidReport = errors.New("invalid execution report")

// Parse builds an ExecutionReport from a 35=8 message. ExecType and OrdStatus
// are required; the remaining fields are optional. Unrecognised enum codes are
// kept rather than rejected.
func Parse(m *fix.Message) (*ExecutionReport, error) {
	if m.MsgType() != fix.MsgTypeExecutionReport {
		return nil, fmt.Errorf("%w: msg type %q", ErrInvalidReport, m.MsgType())
	}
	execType, ok := m.Get(fix.TagExecType)
	if !ok || execType == "" {
		return nil, fmt.Errorf("%w: missing ExecType(150)", ErrInvalidReport)
	}
	ordStatus, ok := m.Get(fix.TagOrdStatus)
	if !ok || ordStatus == "" {
		return nil, fmt.Errorf("%w: missing OrdStatus(39)", ErrInvalidReport)
	}

	r := &ExecutionReport{
		ClOrdID:     m.GetString(fix.TagClOrdID),
		OrigClOrdID: m.GetString(fix.TagOrigClOrdID),
		OrderID:     m.GetString(fix.TagOrderID),
		ExecID:      m.GetString(fix.TagExecID),
		ExecType:    ExecType(execType),
		OrdStatus:   OrdStatus(ordStatus),
		Symbol:      m.GetString(fix.TagSymbol),
		Side:        fix.Side(m.GetString(fix.TagSide)),
		OrdType:     fix.OrdType(m.GetString(fix.TagOrdType)),
		Text:        m.GetString(fix.TagText),
		PossDup:     m.GetBool(fix.TagPossDupFlag),
	}
	if seq, err := m.GetUint(fix.TagMsgSeqNum); err == nil {
		r.SeqNum = seq
	}

	for _, d := range []struct {
		tag fix.Tag
		dst *decimal.Decimal
	}{
		{fix.TagPrice, &r.Price},
		{fix.TagOrderQty, &r.Quantity},
		{fix.TagCumQty, &r.CumQty},
		{fix.TagLeavesQty, &r.LeavesQty},
		{fix.TagLastPx, &r.LastPx},
		{fix.TagLastQty, &r.LastQty},
		{fix.TagAvgPx, &r.AvgPx},
	} {
		if !m.Has(d.tag) {
			continue
		}
		v, err := m.GetDecimal(d.tag)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
		}
		*d.dst = v
	}

	if ts, ok := m.Get(fix.TagTransactTime); ok {
		t, err := fix.ParseUTCTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("%w: TransactTime(60): %v", ErrInvalidReport, err)
		}
		r.TransactTime = t
	}
	return r, nil
}

// ParseCancelReject builds a CancelReject from a 35=9 message.
func ParseCancelReject(m *fix.Message) (*CancelReject, error) {
	if m.MsgType() != fix.MsgTypeOrderCancelReject {
		return nil, fmt.Errorf("%w: msg type %q", ErrInvalidReport, m.MsgType())
	}
	return &CancelReject{
		ClOrdID:          m.GetString(fix.TagClOrdID),
		OrigClOrdID:      m.GetString(fix.TagOrigClOrdID),
		OrderID:          m.GetString(fix.TagOrderID),
		OrdStatus:        OrdStatus(m.GetString(fix.TagOrdStatus)),
		CxlRejResponseTo: m.GetString(fix.TagCxlRejResponseTo),
		Reason:           m.GetString(fix.TagCxlRejReason),
		Text:             m.GetString(fix.TagText),
	}, nil
}
