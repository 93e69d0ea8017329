package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

// DerivePassword computes the Logon password expected by the counterparty:
// base64(HMAC-SHA256(secret, sendingTime+msgType+msgSeqNum+senderCompID+targetCompID+username)).
//
// The fields are concatenated without separators in exactly this order. Bytes
// that are not valid UTF-8 are dropped rather than failing the logon.
func DerivePassword(secret, sendingTime, msgType, msgSeqNum, senderCompID, targetCompID, username string) string {
	payload := sendingTime + msgType + msgSeqNum + senderCompID + targetCompID + username
	return sign(secret, payload)
}

// SignRequest produces the REST signature header value:
// base64(HMAC-SHA256(secret, timestamp+method+path)).
func SignRequest(secret, timestamp, method, path string) string {
	return sign(secret, timestamp+method+path)
}

func sign(secret, payload string) string {
	if !utf8.ValidString(payload) {
		payload = strings.ToValidUTF8(payload, "")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Credentials identify an API key. The secret is never logged.
type Credentials struct {
	APIKeyID     string
	APIKeySecret string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKeyID: %s, APIKeySecret: ***}", c.APIKeyID)
}

var ErrMissingHeader = errors.New("logon header field missing")

// Signer fills Username/Password on outgoing Logon messages.
type Signer struct {
	creds  Credentials
	logger *zap.SugaredLogger

	// Debug logs the raw signing inputs (never the secret). Development only.
	Debug bool
}

func NewSigner(creds Credentials, logger *zap.SugaredLogger) *Signer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Signer{creds: creds, logger: logger}
}

func (s *Signer) Username() string { return s.creds.APIKeyID }

// SignLogon reads SendingTime, MsgType, MsgSeqNum, SenderCompID and TargetCompID
// from m, which must already carry its final header, and sets tags 553 and 554.
func (s *Signer) SignLogon(m *fix.Message) error {
	fields := make([]string, 0, 5)
	for _, t := range []fix.Tag{fix.TagSendingTime, fix.TagMsgType, fix.TagMsgSeqNum, fix.TagSenderCompID, fix.TagTargetCompID} {
		v, ok := m.Get(t)
		if !ok {
			return fmt.Errorf("sign logon: tag %d: %w", t, ErrMissingHeader)
		}
		fields = append(fields, v)
	}

	if s.Debug {
		s.logger.Debugw("logon_signing_inputs",
			"sending_time", fields[0],
			"msg_type", fields[1],
			"msg_seq_num", fields[2],
			"sender_comp_id", fields[3],
			"target_comp_id", fields[4],
			"username", s.creds.APIKeyID)
	}

	password := DerivePassword(s.creds.APIKeySecret, fields[0], fields[1], fields[2], fields[3], fields[4], s.creds.APIKeyID)
	m.Set(fix.TagUsername, s.creds.APIKeyID)
	m.Set(fix.TagPassword, password)
	return nil
}
