package trader

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/fixsession/pkg/clientid"
	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/order"
	"github.com/uhyunpark/fixsession/pkg/report"
	"github.com/uhyunpark/fixsession/pkg/session"
)

// pipeDialer hands the far end of every dialed pipe to the test.
type pipeDialer struct {
	conns chan net.Conn
	dials atomic.Int32
}

func newPipeDialer() *pipeDialer { return &pipeDialer{conns: make(chan net.Conn, 4)} }

func (d *pipeDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	d.dials.Add(1)
	local, remote := net.Pipe()
	select {
	case d.conns <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acceptor is a minimal counterparty for one connection.
type acceptor struct {
	t    *testing.T
	conn net.Conn
	in   chan *fix.Message
	seq  uint64
}

func accept(t *testing.T, d *pipeDialer) *acceptor {
	t.Helper()
	var conn net.Conn
	select {
	case conn = <-d.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("trader did not dial")
	}
	a := &acceptor{t: t, conn: conn, in: make(chan *fix.Message, 64), seq: 1}
	go func() {
		defer close(a.in)
		fr := fix.NewFramer(conn)
		for {
			m, err := fr.Next()
			if err != nil {
				var de *fix.DecodeError
				if errors.As(err, &de) {
					continue
				}
				return
			}
			a.in <- m
		}
	}()
	return a
}

func (a *acceptor) send(m *fix.Message) {
	a.t.Helper()
	m.Set(fix.TagBeginString, "FIXT.1.1").
		Set(fix.TagSenderCompID, "TRUEX_UAT_OE").
		Set(fix.TagTargetCompID, "alice_8").
		SetUint(fix.TagMsgSeqNum, a.seq).
		Set(fix.TagSendingTime, "20240501-12:00:00.000")
	a.seq++
	raw, err := fix.Encode(m)
	require.NoError(a.t, err)
	_, err = a.conn.Write(raw)
	require.NoError(a.t, err)
}

func (a *acceptor) expect(msgType string) *fix.Message {
	a.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-a.in:
			require.True(a.t, ok, "connection closed waiting for %s", msgType)
			if m.MsgType() == msgType {
				return m
			}
		case <-deadline:
			a.t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func (a *acceptor) logon() {
	a.t.Helper()
	a.expect(fix.MsgTypeLogon)
	a.send(fix.NewMessage(fix.MsgTypeLogon).Set(fix.TagEncryptMethod, "0").Set(fix.TagHeartBtInt, "30"))
}

func newTestTrader(t *testing.T, ids clientid.Provider) (*Trader, *pipeDialer) {
	t.Helper()
	d := newPipeDialer()
	tr := New(Config{
		Mnemonic: "alice",
		Address:  "pipe",
		Symbol:   "BTC-PYUSD",
		Session: session.Config{
			ID:            session.ID{BeginString: "FIXT.1.1", TargetCompID: "TRUEX_UAT_OE"},
			HeartBtInt:    30 * time.Second,
			LogoutTimeout: 500 * time.Millisecond,
		},
		ReconnectInterval: 20 * time.Millisecond,
	}, nil)
	tr.Dialer = d
	tr.ClientIDs = ids
	tr.Orders().IDs = order.NewSequentialIDs("CID")
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		tr.Stop(ctx)
	})
	return tr, d
}

func TestSenderCompID(t *testing.T) {
	assert.Equal(t, "alice_8", SenderCompID("alice"))
	tr := New(Config{Mnemonic: "alice"}, nil)
	assert.Equal(t, "alice_8", tr.ID().SenderCompID)
}

func TestTrader_OrderRoundTrip(t *testing.T) {
	tr, d := newTestTrader(t, clientid.Static{"alice": "8842"})

	var seen atomic.Int32
	tr.Dispatcher().OnReport(func(*report.ExecutionReport) { seen.Add(1) })

	a := accept(t, d)
	a.logon()

	require.Eventually(t, func() bool {
		_, ok := tr.ClientID()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	id, err := tr.Orders().PlaceOrder(fix.SideBuy, decimal.RequireFromString("10000.00"),
		decimal.RequireFromString("0.25"), fix.OrdTypeLimit, fix.TimeInForceGTC)
	require.NoError(t, err)
	assert.Equal(t, "CID-1", id)

	nos := a.expect(fix.MsgTypeNewOrderSingle)
	assert.Equal(t, "8842", nos.GetString(fix.TagPartyID))
	assert.Equal(t, "alice_8", nos.GetString(fix.TagSenderCompID))

	a.send(fix.NewMessage(fix.MsgTypeExecutionReport).
		Set(fix.TagClOrdID, "CID-1").
		Set(fix.TagOrderID, "O-1").
		Set(fix.TagExecID, "E-1").
		Set(fix.TagExecType, "0").
		Set(fix.TagOrdStatus, "0").
		Set(fix.TagSymbol, "BTC-PYUSD").
		Set(fix.TagSide, "1"))

	require.Eventually(t, func() bool {
		st := tr.Status()
		return st.ActiveOrder != nil && st.ActiveOrder.OrderID == "O-1"
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, seen.Load())

	st := tr.Status()
	assert.Equal(t, "alice", st.Mnemonic)
	assert.Equal(t, "8842", st.ClientID)
	assert.Equal(t, session.LoggedOn.String(), st.Session.State)
}

func TestTrader_UnknownClientID(t *testing.T) {
	tr, d := newTestTrader(t, clientid.Static{})
	a := accept(t, d)
	a.logon()

	require.Eventually(t, func() bool {
		return tr.Status().Session.State == session.LoggedOn.String()
	}, 2*time.Second, 5*time.Millisecond)

	_, err := tr.Orders().PlaceOrder(fix.SideSell, decimal.RequireFromString("10000"),
		decimal.RequireFromString("0.2"), fix.OrdTypeLimit, fix.TimeInForceGTC)
	assert.ErrorIs(t, err, order.ErrNoClientID)
}

func TestTrader_NotLoggedOn(t *testing.T) {
	tr, d := newTestTrader(t, clientid.Static{"alice": "8842"})
	accept(t, d).expect(fix.MsgTypeLogon)

	err := tr.Send(fix.NewMessage(fix.MsgTypeNewOrderSingle))
	assert.ErrorIs(t, err, session.ErrNotLoggedOn)
}

func TestTrader_ReconnectsAfterTransportLoss(t *testing.T) {
	tr, d := newTestTrader(t, clientid.Static{"alice": "8842"})
	a := accept(t, d)
	a.logon()
	require.Eventually(t, func() bool {
		return tr.Status().Session.State == session.LoggedOn.String()
	}, 2*time.Second, 5*time.Millisecond)

	a.conn.Close()

	b := accept(t, d)
	b.logon()
	require.Eventually(t, func() bool {
		return tr.Status().Session.State == session.LoggedOn.String()
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, d.dials.Load())
}

func TestTrader_StopLogsOut(t *testing.T) {
	tr, d := newTestTrader(t, clientid.Static{"alice": "8842"})
	a := accept(t, d)
	a.logon()
	require.Eventually(t, func() bool {
		return tr.Status().Session.State == session.LoggedOn.String()
	}, 2*time.Second, 5*time.Millisecond)

	go func() {
		a.expect(fix.MsgTypeLogout)
		a.send(fix.NewMessage(fix.MsgTypeLogout))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Stop(ctx))
	assert.Equal(t, session.Disconnected.String(), tr.Status().Session.State)
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestTrader_StartTwice(t *testing.T) {
	tr, d := newTestTrader(t, nil)
	accept(t, d).expect(fix.MsgTypeLogon)
	assert.ErrorIs(t, tr.Start(context.Background()), ErrAlreadyStarted)
}
