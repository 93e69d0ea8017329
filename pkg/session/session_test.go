package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/fixsession/pkg/auth"
	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/util"
)

var testID = ID{BeginString: "FIXT.1.1", SenderCompID: "alice_8", TargetCompID: "TRUEX_UAT_OE"}

// ---- scripted counterparty ----

type peer struct {
	t    *testing.T
	conn net.Conn
	in   chan *fix.Message
	seq  uint64

	mu   sync.Mutex
	seen []*fix.Message
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	p := &peer{t: t, conn: conn, in: make(chan *fix.Message, 256), seq: 1}
	go func() {
		defer close(p.in)
		fr := fix.NewFramer(conn)
		for {
			m, err := fr.Next()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.seen = append(p.seen, m)
			p.mu.Unlock()
			p.in <- m
		}
	}()
	return p
}

func (p *peer) send(m *fix.Message) {
	p.t.Helper()
	p.sendSeq(m, p.seq)
	p.seq++
}

func (p *peer) sendSeq(m *fix.Message, seq uint64) {
	p.t.Helper()
	m.Set(fix.TagBeginString, testID.BeginString).
		Set(fix.TagSenderCompID, testID.TargetCompID).
		Set(fix.TagTargetCompID, testID.SenderCompID).
		SetUint(fix.TagMsgSeqNum, seq).
		Set(fix.TagSendingTime, "20240501-12:00:00.000")
	raw, err := fix.Encode(m)
	require.NoError(p.t, err)
	p.write(raw)
}

func (p *peer) write(raw []byte) {
	p.t.Helper()
	_, err := p.conn.Write(raw)
	require.NoError(p.t, err)
}

// expect returns the next message of msgType, skipping heartbeats.
func (p *peer) expect(msgType string) *fix.Message {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-p.in:
			require.True(p.t, ok, "connection closed waiting for %s", msgType)
			if m.MsgType() == msgType {
				return m
			}
			if m.MsgType() == fix.MsgTypeHeartbeat {
				continue
			}
			p.t.Fatalf("got %s, want msg type %s", m, msgType)
		case <-deadline:
			p.t.Fatalf("timed out waiting for msg type %s", msgType)
		}
	}
}

func (p *peer) seenTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.seen))
	for _, m := range p.seen {
		out = append(out, m.MsgType())
	}
	return out
}

// ---- application / storage fakes ----

type testApp struct {
	mu      sync.Mutex
	logons  int
	logouts int
	msgs    []*fix.Message
}

func (a *testApp) OnLogon(ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logons++
}

func (a *testApp) OnLogout(ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
}

func (a *testApp) FromApp(_ ID, m *fix.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, m)
}

func (a *testApp) clOrdIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []string{}
	for _, m := range a.msgs {
		out = append(out, m.GetString(fix.TagClOrdID))
	}
	return out
}

func (a *testApp) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logons, a.logouts
}

type lineJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *lineJournal) Append(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, line)
}

func (j *lineJournal) all() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strings.Join(j.lines, "\n")
}

// ---- harness ----

type harness struct {
	s    *Session
	peer *peer
	app  *testApp
}

func start(t *testing.T, mod func(*Config, *Session)) *harness {
	t.Helper()
	local, remote := net.Pipe()
	cfg := Config{
		ID:               testID,
		HeartBtInt:       time.Second,
		DefaultApplVerID: "9",
		ResetSeqNumFlag:  true,
		LogonTimeout:     2 * time.Second,
		LogoutTimeout:    time.Second,
	}
	app := &testApp{}
	s := New(cfg, app)
	s.Clock = util.NewManualClock(time.Date(2024, 5, 1, 12, 30, 45, 123e6, time.UTC))
	if mod != nil {
		mod(&s.cfg, s)
	}
	p := newPeer(t, remote)
	require.NoError(t, s.Start(local))
	t.Cleanup(func() {
		remote.Close()
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Error("session did not stop after transport closed")
		}
	})
	return &harness{s: s, peer: p, app: app}
}

func (h *harness) logon(t *testing.T) {
	t.Helper()
	h.peer.expect(fix.MsgTypeLogon)
	h.peer.send(fix.NewMessage(fix.MsgTypeLogon).SetInt(fix.TagEncryptMethod, 0).SetInt(fix.TagHeartBtInt, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.s.WaitLogon(ctx))
}

func appMsg(clOrdID string) *fix.Message {
	return fix.NewMessage(fix.MsgTypeExecutionReport).
		Set(fix.TagClOrdID, clOrdID).
		Set(fix.TagExecType, "0").
		Set(fix.TagOrdStatus, "0")
}

func badFrame(t *testing.T) []byte {
	m := fix.NewMessage(fix.MsgTypeHeartbeat).
		Set(fix.TagBeginString, testID.BeginString).
		Set(fix.TagSenderCompID, "X").
		Set(fix.TagTargetCompID, "Y").
		Set(fix.TagMsgSeqNum, "99").
		Set(fix.TagSendingTime, "20240501-12:00:00.000")
	raw, err := fix.Encode(m)
	require.NoError(t, err)
	i := bytes.LastIndex(raw, []byte("10="))
	good := string(raw[i+3 : i+6])
	bad := "000"
	if good == bad {
		bad = "001"
	}
	return append(raw[:i+3:i+3], []byte(bad+"\x01")...)
}

// ---- tests ----

func TestLogon_FieldsAndSignature(t *testing.T) {
	signer := auth.NewSigner(auth.Credentials{APIKeyID: "key-id", APIKeySecret: "secret"}, nil)
	journal := &lineJournal{}
	h := start(t, func(_ *Config, s *Session) {
		s.Signer = signer
		s.Journal = journal
	})

	lg := h.peer.expect(fix.MsgTypeLogon)
	assert.Equal(t, "1", lg.GetString(fix.TagMsgSeqNum))
	assert.Equal(t, "0", lg.GetString(fix.TagEncryptMethod))
	assert.Equal(t, "1", lg.GetString(fix.TagHeartBtInt))
	assert.Equal(t, "Y", lg.GetString(fix.TagResetSeqNumFlag))
	assert.Equal(t, "9", lg.GetString(fix.TagDefaultApplVerID))
	assert.Equal(t, "alice_8", lg.GetString(fix.TagSenderCompID))
	assert.Equal(t, "TRUEX_UAT_OE", lg.GetString(fix.TagTargetCompID))
	assert.Equal(t, "20240501-12:30:45.123", lg.GetString(fix.TagSendingTime))
	assert.Equal(t, "key-id", lg.GetString(fix.TagUsername))

	want := auth.DerivePassword("secret", "20240501-12:30:45.123", "A", "1", "alice_8", "TRUEX_UAT_OE", "key-id")
	assert.Equal(t, want, lg.GetString(fix.TagPassword))
	assert.Equal(t, LogonSent, h.s.State())

	h.peer.send(fix.NewMessage(fix.MsgTypeLogon).SetInt(fix.TagHeartBtInt, 1))
	require.NoError(t, h.s.WaitLogon(context.Background()))
	assert.Equal(t, LoggedOn, h.s.State())
	logons, _ := h.app.counts()
	assert.Equal(t, 1, logons)

	assert.NotContains(t, journal.all(), want, "password must not be journaled")
	assert.Contains(t, journal.all(), "554=***")
}

func TestSend_RequiresLogon(t *testing.T) {
	h := start(t, nil)
	h.peer.expect(fix.MsgTypeLogon)
	err := h.s.Send(fix.NewMessage(fix.MsgTypeNewOrderSingle).Set(fix.TagClOrdID, "X"))
	assert.ErrorIs(t, err, ErrNotLoggedOn)
}

func TestSend_SequenceNumbersMonotonic(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.s.Send(fix.NewMessage(fix.MsgTypeNewOrderSingle).Set(fix.TagClOrdID, fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(h.peer.seenTypes()) >= n+1 }, 2*time.Second, 5*time.Millisecond)
	h.peer.mu.Lock()
	defer h.peer.mu.Unlock()
	for i, m := range h.peer.seen {
		assert.Equal(t, fmt.Sprint(i+1), m.GetString(fix.TagMsgSeqNum), "message %d (%s)", i, m)
	}
	assert.Equal(t, uint64(len(h.peer.seen)+1), h.s.Status().NextOutgoing)
}

func TestTestRequest_AnsweredWithHeartbeat(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.send(fix.NewMessage(fix.MsgTypeTestRequest).Set(fix.TagTestReqID, "PING-1"))
	hb := h.peer.expect(fix.MsgTypeHeartbeat)
	for hb.GetString(fix.TagTestReqID) == "" {
		hb = h.peer.expect(fix.MsgTypeHeartbeat)
	}
	assert.Equal(t, "PING-1", hb.GetString(fix.TagTestReqID))
}

func TestApplicationMessagesDelivered(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.send(appMsg("A"))
	h.peer.send(appMsg("B"))
	require.Eventually(t, func() bool { return len(h.app.clOrdIDs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, h.app.clOrdIDs())
	assert.Equal(t, uint64(4), h.s.Status().NextIncoming)
}

func TestGap_ResendRequestAndOrderedDrain(t *testing.T) {
	h := start(t, nil)
	h.logon(t) // peer seq 1

	h.peer.sendSeq(appMsg("M5"), 5)
	rr := h.peer.expect(fix.MsgTypeResendRequest)
	assert.Equal(t, "2", rr.GetString(fix.TagBeginSeqNo))
	assert.Equal(t, "0", rr.GetString(fix.TagEndSeqNo))

	// a second out-of-order message does not trigger another request
	h.peer.sendSeq(appMsg("M6"), 6)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.app.clOrdIDs(), "nothing is delivered while the gap is open")

	h.peer.sendSeq(appMsg("M2"), 2)
	h.peer.sendSeq(appMsg("M3"), 3)
	h.peer.sendSeq(appMsg("M4"), 4)

	require.Eventually(t, func() bool { return len(h.app.clOrdIDs()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"M2", "M3", "M4", "M5", "M6"}, h.app.clOrdIDs())
	assert.Equal(t, uint64(7), h.s.Status().NextIncoming)

	resends := 0
	for _, mt := range h.peer.seenTypes() {
		if mt == fix.MsgTypeResendRequest {
			resends++
		}
	}
	assert.Equal(t, 1, resends)
}

func TestGap_FilledByGapFill(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.sendSeq(appMsg("M4"), 4)
	h.peer.expect(fix.MsgTypeResendRequest)

	gf := fix.NewMessage(fix.MsgTypeSequenceReset).
		SetBool(fix.TagGapFillFlag, true).
		SetBool(fix.TagPossDupFlag, true).
		SetUint(fix.TagNewSeqNo, 4)
	h.peer.sendSeq(gf, 2)

	require.Eventually(t, func() bool { return len(h.app.clOrdIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"M4"}, h.app.clOrdIDs())
	assert.Equal(t, uint64(5), h.s.Status().NextIncoming)
}

func TestSeqNumTooLow_LogoutAndTerminate(t *testing.T) {
	h := start(t, nil)
	h.logon(t) // peer seq 1, expected now 2

	h.peer.sendSeq(appMsg("dup"), 1)
	lo := h.peer.expect(fix.MsgTypeLogout)
	assert.Equal(t, "MsgSeqNum too low, expecting 2 but received 1", lo.GetString(fix.TagText))

	select {
	case <-h.s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not terminated")
	}
	assert.ErrorIs(t, h.s.Err(), ErrSeqNumTooLow)
	assert.Equal(t, Disconnected, h.s.State())
	assert.Empty(t, h.app.clOrdIDs())
}

func TestPossDupBelowExpected_Discarded(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.sendSeq(appMsg("replay").SetBool(fix.TagPossDupFlag, true), 1)
	h.peer.send(fix.NewMessage(fix.MsgTypeTestRequest).Set(fix.TagTestReqID, "after"))
	h.peer.expect(fix.MsgTypeHeartbeat)

	assert.Equal(t, LoggedOn, h.s.State())
	assert.Empty(t, h.app.clOrdIDs())
}

func TestPossDupApplicationMessage_NotDelivered(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.send(appMsg("replay").SetBool(fix.TagPossDupFlag, true))
	h.peer.send(appMsg("fresh"))
	require.Eventually(t, func() bool { return len(h.app.clOrdIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fresh"}, h.app.clOrdIDs())
	assert.Equal(t, uint64(4), h.s.Status().NextIncoming)
}

func TestMalformedFrame_NotFatal(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.write(badFrame(t))
	h.peer.write([]byte("garbage"))
	h.peer.send(appMsg("ok"))

	require.Eventually(t, func() bool { return len(h.app.clOrdIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, LoggedOn, h.s.State())
}

func TestTooManyDecodeFaults_Terminates(t *testing.T) {
	h := start(t, func(c *Config, _ *Session) { c.MaxDecodeFaults = 3 })
	h.logon(t)

	for i := 0; i < 3; i++ {
		h.peer.write(badFrame(t))
	}
	select {
	case <-h.s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not terminated")
	}
	assert.ErrorIs(t, h.s.Err(), ErrTooManyFaults)
}

func TestResendRequest_AnsweredWithGapFill(t *testing.T) {
	h := start(t, nil)
	h.logon(t)
	require.NoError(t, h.s.Send(fix.NewMessage(fix.MsgTypeNewOrderSingle).Set(fix.TagClOrdID, "1")))
	require.NoError(t, h.s.Send(fix.NewMessage(fix.MsgTypeNewOrderSingle).Set(fix.TagClOrdID, "2")))
	h.peer.expect(fix.MsgTypeNewOrderSingle)
	h.peer.expect(fix.MsgTypeNewOrderSingle)

	h.peer.send(fix.NewMessage(fix.MsgTypeResendRequest).SetUint(fix.TagBeginSeqNo, 2).SetUint(fix.TagEndSeqNo, 0))
	gf := h.peer.expect(fix.MsgTypeSequenceReset)
	assert.Equal(t, "2", gf.GetString(fix.TagMsgSeqNum))
	assert.Equal(t, "Y", gf.GetString(fix.TagGapFillFlag))
	assert.Equal(t, "4", gf.GetString(fix.TagNewSeqNo))
	assert.Equal(t, "Y", gf.GetString(fix.TagPossDupFlag))
	assert.True(t, gf.Has(fix.TagOrigSendingTime))
	assert.Equal(t, uint64(4), h.s.Status().NextOutgoing, "gap fill does not consume a sequence number")
}

func TestSequenceReset_NeverMovesBackwards(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.send(fix.NewMessage(fix.MsgTypeSequenceReset).SetUint(fix.TagNewSeqNo, 10))
	require.Eventually(t, func() bool { return h.s.Status().NextIncoming == 10 }, time.Second, 5*time.Millisecond)

	h.peer.sendSeq(fix.NewMessage(fix.MsgTypeSequenceReset).SetUint(fix.TagNewSeqNo, 5), 10)
	h.peer.sendSeq(fix.NewMessage(fix.MsgTypeTestRequest).Set(fix.TagTestReqID, "x"), 10)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, LoggedOn, h.s.State())
	assert.Equal(t, uint64(11), h.s.Status().NextIncoming)
}

func TestLogout_Handshake(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	errc := make(chan error, 1)
	go func() { errc <- h.s.Logout(context.Background(), "bye") }()

	lo := h.peer.expect(fix.MsgTypeLogout)
	assert.Equal(t, "bye", lo.GetString(fix.TagText))
	assert.Equal(t, LogoutSent, h.s.State())
	h.peer.send(fix.NewMessage(fix.MsgTypeLogout))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Logout did not return")
	}
	assert.Equal(t, Disconnected, h.s.State())
	assert.NoError(t, h.s.Err())
	_, logouts := h.app.counts()
	assert.Equal(t, 1, logouts)
}

func TestLogout_TimeoutForcesClose(t *testing.T) {
	h := start(t, func(c *Config, _ *Session) { c.LogoutTimeout = 50 * time.Millisecond })
	h.logon(t)

	err := h.s.Logout(context.Background(), "")
	assert.ErrorIs(t, err, ErrLogoutTimeout)
	select {
	case <-h.s.Done():
	default:
		t.Fatal("session should be closed after logout timeout")
	}
}

func TestCounterpartyLogout(t *testing.T) {
	h := start(t, nil)
	h.logon(t)

	h.peer.send(fix.NewMessage(fix.MsgTypeLogout).Set(fix.TagText, "maintenance"))
	h.peer.expect(fix.MsgTypeLogout)
	select {
	case <-h.s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not terminated")
	}
	assert.ErrorIs(t, h.s.Err(), ErrCounterpartyLogout)
}

func TestHeartbeat_IdleThenTestRequestThenTimeout(t *testing.T) {
	h := start(t, func(c *Config, _ *Session) { c.HeartBtInt = 100 * time.Millisecond })
	h.logon(t)

	h.peer.expect(fix.MsgTypeHeartbeat)
	tr := h.peer.expect(fix.MsgTypeTestRequest)
	assert.NotEmpty(t, tr.GetString(fix.TagTestReqID))

	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("unresponsive counterparty not detected")
	}
	assert.ErrorIs(t, h.s.Err(), ErrHeartbeatTimeout)
}

func TestLogonTimeout(t *testing.T) {
	h := start(t, func(c *Config, _ *Session) { c.LogonTimeout = 50 * time.Millisecond })
	h.peer.expect(fix.MsgTypeLogon)

	err := h.s.WaitLogon(context.Background())
	assert.True(t, errors.Is(err, ErrLogonTimeout), "err = %v", err)
	logons, logouts := h.app.counts()
	assert.Zero(t, logons)
	assert.Zero(t, logouts, "OnLogout only follows a completed logon")
}

func TestStart_Twice(t *testing.T) {
	h := start(t, nil)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.ErrorIs(t, h.s.Start(a), ErrAlreadyStarted)
}

type memSeqStore struct {
	mu   sync.Mutex
	seqs map[ID]SeqNums
}

func (m *memSeqStore) Load(id ID) (SeqNums, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.seqs[id]; ok {
		return s, nil
	}
	return InitialSeqNums(), nil
}

func (m *memSeqStore) Save(id ID, s SeqNums) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[id] = s
	return nil
}

func (m *memSeqStore) Reset(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seqs, id)
	return nil
}

func TestSeqStore_ResumesWithoutReset(t *testing.T) {
	store := &memSeqStore{seqs: map[ID]SeqNums{testID: {NextOutgoing: 40, NextIncoming: 7}}}
	h := start(t, func(c *Config, s *Session) {
		c.ResetSeqNumFlag = false
		s.Store = store
	})

	lg := h.peer.expect(fix.MsgTypeLogon)
	assert.Equal(t, "40", lg.GetString(fix.TagMsgSeqNum))
	assert.False(t, lg.Has(fix.TagResetSeqNumFlag))

	h.peer.sendSeq(fix.NewMessage(fix.MsgTypeLogon).SetInt(fix.TagHeartBtInt, 1), 7)
	require.NoError(t, h.s.WaitLogon(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, SeqNums{NextOutgoing: 41, NextIncoming: 8}, store.seqs[testID])
}

func TestParseAdmin(t *testing.T) {
	cases := []struct {
		msg  *fix.Message
		want AdminMessage
	}{
		{fix.NewMessage(fix.MsgTypeLogon).Set(fix.TagHeartBtInt, "30").SetBool(fix.TagResetSeqNumFlag, true), LogonMsg{HeartBtInt: 30, ResetSeqNumFlag: true}},
		{fix.NewMessage(fix.MsgTypeLogout).Set(fix.TagText, "bye"), LogoutMsg{Text: "bye"}},
		{fix.NewMessage(fix.MsgTypeHeartbeat), HeartbeatMsg{}},
		{fix.NewMessage(fix.MsgTypeTestRequest).Set(fix.TagTestReqID, "T"), TestRequestMsg{TestReqID: "T"}},
		{fix.NewMessage(fix.MsgTypeResendRequest).Set(fix.TagBeginSeqNo, "3").Set(fix.TagEndSeqNo, "0"), ResendRequestMsg{BeginSeqNo: 3}},
		{fix.NewMessage(fix.MsgTypeSequenceReset).Set(fix.TagNewSeqNo, "9").SetBool(fix.TagGapFillFlag, true), SequenceResetMsg{NewSeqNo: 9, GapFill: true}},
		{fix.NewMessage(fix.MsgTypeReject).Set(fix.TagRefSeqNum, "4").Set(fix.TagText, "bad"), RejectMsg{RefSeqNum: 4, Text: "bad"}},
	}
	for _, tc := range cases {
		got, err := ParseAdmin(tc.msg)
		require.NoError(t, err, tc.msg.String())
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseAdmin(fix.NewMessage(fix.MsgTypeResendRequest))
	assert.Error(t, err)
	_, err = ParseAdmin(fix.NewMessage(fix.MsgTypeNewOrderSingle))
	assert.Error(t, err)
}
