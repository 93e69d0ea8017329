package session

import (
	"fmt"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

// AdminMessage is the closed set of session-level messages. Handling is an
// exhaustive type switch in (*Session).handleAdmin.
type AdminMessage interface {
	adminMsgType() string
}

type LogonMsg struct {
	HeartBtInt      int
	ResetSeqNumFlag bool
}

type LogoutMsg struct {
	Text string
}

type HeartbeatMsg struct {
	TestReqID string
}

type TestRequestMsg struct {
	TestReqID string
}

type ResendRequestMsg struct {
	BeginSeqNo uint64
	EndSeqNo   uint64 // 0 means "up to the latest"
}

type SequenceResetMsg struct {
	NewSeqNo uint64
	GapFill  bool
}

type RejectMsg struct {
	RefSeqNum  int
	RefMsgType string
	Text       string
}

func (LogonMsg) adminMsgType() string         { return fix.MsgTypeLogon }
func (LogoutMsg) adminMsgType() string        { return fix.MsgTypeLogout }
func (HeartbeatMsg) adminMsgType() string     { return fix.MsgTypeHeartbeat }
func (TestRequestMsg) adminMsgType() string   { return fix.MsgTypeTestRequest }
func (ResendRequestMsg) adminMsgType() string { return fix.MsgTypeResendRequest }
func (SequenceResetMsg) adminMsgType() string { return fix.MsgTypeSequenceReset }
func (RejectMsg) adminMsgType() string        { return fix.MsgTypeReject }

// ParseAdmin converts a decoded admin message into its variant.
func ParseAdmin(m *fix.Message) (AdminMessage, error) {
	switch m.MsgType() {
	case fix.MsgTypeLogon:
		hb, _ := m.GetInt(fix.TagHeartBtInt)
		return LogonMsg{HeartBtInt: hb, ResetSeqNumFlag: m.GetBool(fix.TagResetSeqNumFlag)}, nil
	case fix.MsgTypeLogout:
		return LogoutMsg{Text: m.GetString(fix.TagText)}, nil
	case fix.MsgTypeHeartbeat:
		return HeartbeatMsg{TestReqID: m.GetString(fix.TagTestReqID)}, nil
	case fix.MsgTypeTestRequest:
		return TestRequestMsg{TestReqID: m.GetString(fix.TagTestReqID)}, nil
	case fix.MsgTypeResendRequest:
		begin, err := m.GetUint(fix.TagBeginSeqNo)
		if err != nil {
			return nil, fmt.Errorf("resend request: %w", err)
		}
		end, err := m.GetUint(fix.TagEndSeqNo)
		if err != nil {
			return nil, fmt.Errorf("resend request: %w", err)
		}
		return ResendRequestMsg{BeginSeqNo: begin, EndSeqNo: end}, nil
	case fix.MsgTypeSequenceReset:
		next, err := m.GetUint(fix.TagNewSeqNo)
		if err != nil {
			return nil, fmt.Errorf("sequence reset: %w", err)
		}
		return SequenceResetMsg{NewSeqNo: next, GapFill: m.GetBool(fix.TagGapFillFlag)}, nil
	case fix.MsgTypeReject:
		ref, _ := m.GetInt(fix.TagRefSeqNum)
		return RejectMsg{
			RefSeqNum:  ref,
			RefMsgType: m.GetString(fix.TagRefMsgType),
			Text:       m.GetString(fix.TagText),
		}, nil
	default:
		return nil, fmt.Errorf("msg type %q is not an admin message", m.MsgType())
	}
}

func newHeartbeat(testReqID string) *fix.Message {
	m := fix.NewMessage(fix.MsgTypeHeartbeat)
	if testReqID != "" {
		m.Set(fix.TagTestReqID, testReqID)
	}
	return m
}

func newTestRequest(id string) *fix.Message {
	return fix.NewMessage(fix.MsgTypeTestRequest).Set(fix.TagTestReqID, id)
}

func newResendRequest(begin, end uint64) *fix.Message {
	return fix.NewMessage(fix.MsgTypeResendRequest).
		SetUint(fix.TagBeginSeqNo, begin).
		SetUint(fix.TagEndSeqNo, end)
}

func newGapFill(newSeqNo uint64) *fix.Message {
	return fix.NewMessage(fix.MsgTypeSequenceReset).
		SetBool(fix.TagGapFillFlag, true).
		SetUint(fix.TagNewSeqNo, newSeqNo)
}

func newLogout(text string) *fix.Message {
	m := fix.NewMessage(fix.MsgTypeLogout)
	if text != "" {
		m.Set(fix.TagText, text)
	}
	return m
}
