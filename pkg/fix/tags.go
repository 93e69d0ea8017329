// file: pkg/fix/tags.go
package fix

// Tag is a FIX field number.
type Tag int

const (
	TagAccount              Tag = 1
	TagAvgPx                Tag = 6
	TagBeginSeqNo           Tag = 7
	TagBeginString          Tag = 8
	TagBodyLength           Tag = 9
	TagCheckSum             Tag = 10
	TagClOrdID              Tag = 11
	TagCumQty               Tag = 14
	TagEndSeqNo             Tag = 16
	TagExecID               Tag = 17
	TagLastPx               Tag = 31
	TagLastQty              Tag = 32
	TagMsgSeqNum            Tag = 34
	TagMsgType              Tag = 35
	TagNewSeqNo             Tag = 36
	TagOrderID              Tag = 37
	TagOrderQty             Tag = 38
	TagOrdStatus            Tag = 39
	TagOrdType              Tag = 40
	TagOrigClOrdID          Tag = 41
	TagPossDupFlag          Tag = 43
	TagPrice                Tag = 44
	TagRefSeqNum            Tag = 45
	TagSenderCompID         Tag = 49
	TagSendingTime          Tag = 52
	TagSide                 Tag = 54
	TagSymbol               Tag = 55
	TagTargetCompID         Tag = 56
	TagText                 Tag = 58
	TagTimeInForce          Tag = 59
	TagTransactTime         Tag = 60
	TagEncryptMethod        Tag = 98
	TagCxlRejReason         Tag = 102
	TagHeartBtInt           Tag = 108
	TagTestReqID            Tag = 112
	TagOrigSendingTime      Tag = 122
	TagGapFillFlag          Tag = 123
	TagResetSeqNumFlag      Tag = 141
	TagExecType             Tag = 150
	TagLeavesQty            Tag = 151
	TagRefMsgType           Tag = 372
	TagBusinessRejectReason Tag = 380
	TagCxlRejResponseTo     Tag = 434
	TagPartyIDSource        Tag = 447
	TagPartyID              Tag = 448
	TagPartyRole            Tag = 452
	TagNoPartyIDs           Tag = 453
	TagUsername             Tag = 553
	TagPassword             Tag = 554
	TagDefaultApplVerID     Tag = 1137
)

// MsgType values used by the engine.
const (
	MsgTypeHeartbeat          = "0"
	MsgTypeTestRequest        = "1"
	MsgTypeResendRequest      = "2"
	MsgTypeReject             = "3"
	MsgTypeSequenceReset      = "4"
	MsgTypeLogout             = "5"
	MsgTypeExecutionReport    = "8"
	MsgTypeOrderCancelReject  = "9"
	MsgTypeLogon              = "A"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeOrderCancelReplace = "G"
	MsgTypeBusinessReject     = "j"
)

// IsAdminMsgType reports whether msgType belongs to the session layer.
func IsAdminMsgType(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest, MsgTypeReject,
		MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// isHeaderTag reports whether t belongs in the standard header. Header fields are
// written ahead of body fields by Encode regardless of insertion order.
func isHeaderTag(t Tag) bool {
	switch t {
	case TagMsgType, TagSenderCompID, TagTargetCompID, TagMsgSeqNum, TagSendingTime,
		TagPossDupFlag, TagOrigSendingTime:
		return true
	}
	return false
}
