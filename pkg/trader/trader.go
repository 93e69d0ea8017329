package trader

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/clientid"
	"github.com/uhyunpark/fixsession/pkg/dispatch"
	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/order"
	"github.com/uhyunpark/fixsession/pkg/session"
)

var ErrAlreadyStarted = errors.New("trader already started")

// SenderCompID follows the counterparty convention for order-entry sessions.
func SenderCompID(mnemonic string) string { return mnemonic + "_8" }

type Config struct {
	Mnemonic string
	Address  string // host:port of the FIX acceptor
	Symbol   string

	// Session.ID.SenderCompID defaults to SenderCompID(Mnemonic).
	Session  session.Config
	Dispatch dispatch.Config

	ReconnectInterval time.Duration
	LookupTimeout     time.Duration
}

// Trader drives one trading identity: a FIX session that is re-established
// after transport loss, its dispatcher, and the order API on top of it.
type Trader struct {
	cfg    Config
	id     session.ID
	logger *zap.SugaredLogger

	Signer      session.LogonSigner
	SeqStore    session.SeqStore
	Journal     session.Journal
	Dialer      session.Dialer
	ClientIDs   clientid.Provider
	OrderStore  order.Store
	ReportStore dispatch.ReportStore

	dispatcher *dispatch.Dispatcher
	orders     *order.Client

	mu       sync.Mutex
	sess     *session.Session
	clientID string
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
}

func New(cfg Config, logger *zap.SugaredLogger) *Trader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Session.ID.SenderCompID == "" {
		cfg.Session.ID.SenderCompID = SenderCompID(cfg.Mnemonic)
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	if cfg.Session.LogoutTimeout <= 0 {
		cfg.Session.LogoutTimeout = 5 * time.Second
	}

	t := &Trader{
		cfg:    cfg,
		id:     cfg.Session.ID,
		logger: logger.With("mnemonic", cfg.Mnemonic),
		Dialer: &net.Dialer{Timeout: 10 * time.Second},
	}
	t.dispatcher = dispatch.New(cfg.Dispatch, t.logger)
	t.orders = order.NewClient(t.id.String(), cfg.Symbol, t, t)
	t.orders.Logger = t.logger

	t.dispatcher.OnReport(t.orders.OnExecutionReport)
	t.dispatcher.OnCancelReject(t.orders.OnCancelReject)
	t.dispatcher.OnSessionLogon(func(session.ID) { go t.resolveClientID() })
	return t
}

func (t *Trader) Mnemonic() string                 { return t.cfg.Mnemonic }
func (t *Trader) ID() session.ID                   { return t.id }
func (t *Trader) Orders() *order.Client            { return t.orders }
func (t *Trader) Dispatcher() *dispatch.Dispatcher { return t.dispatcher }

// Start restores the persisted active order and begins connecting. It returns
// without waiting for the first logon.
func (t *Trader) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.stopped = make(chan struct{})
	runCtx := t.ctx
	t.mu.Unlock()

	t.dispatcher.Store = t.ReportStore
	t.orders.Store = t.OrderStore
	if err := t.orders.Restore(); err != nil {
		t.logger.Warnw("order_restore_failed", "err", err)
	}

	go t.dispatcher.Run(runCtx)
	go t.run(runCtx)
	t.logger.Infow("trader_started", "session", t.id.String(), "address", t.cfg.Address)
	return nil
}

func (t *Trader) run(ctx context.Context) {
	defer close(t.stopped)
	for {
		sess := t.newSession()
		t.mu.Lock()
		t.sess = sess
		t.mu.Unlock()

		if err := sess.Connect(ctx, t.Dialer, t.cfg.Address); err != nil {
			t.logger.Errorw("connect_failed", "address", t.cfg.Address, "err", err)
		} else {
			select {
			case <-sess.Done():
			case <-ctx.Done():
				lctx, cancel := context.WithTimeout(context.Background(), t.cfg.Session.LogoutTimeout+time.Second)
				sess.Logout(lctx, "")
				cancel()
				return
			}
		}

		if ctx.Err() != nil || t.isStopping() {
			return
		}
		t.logger.Infow("reconnect_scheduled", "in", t.cfg.ReconnectInterval, "last_err", sess.Err())
		timer := time.NewTimer(t.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Trader) isStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

func (t *Trader) newSession() *session.Session {
	s := session.New(t.cfg.Session, t.dispatcher)
	s.Signer = t.Signer
	s.Store = t.SeqStore
	s.Journal = t.Journal
	s.Logger = t.logger
	return s
}

// resolveClientID runs once per logon. A failed lookup keeps any id from an
// earlier logon.
func (t *Trader) resolveClientID() {
	if t.ClientIDs == nil {
		t.logger.Warnw("client_id_provider_missing")
		return
	}
	t.mu.Lock()
	parent := t.ctx
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, t.cfg.LookupTimeout)
	defer cancel()
	id, err := t.ClientIDs.Lookup(ctx, t.cfg.Mnemonic)
	if err != nil {
		t.logger.Warnw("client_id_lookup_failed", "err", err)
		return
	}
	t.mu.Lock()
	t.clientID = id
	t.mu.Unlock()
	t.logger.Infow("client_id_set", "client_id", id)
}

// ClientID implements order.ClientIDSource.
func (t *Trader) ClientID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID, t.clientID != ""
}

// Send implements order.Sender on whichever session is current.
func (t *Trader) Send(m *fix.Message) error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return session.ErrNotLoggedOn
	}
	return sess.Send(m)
}

// Stop logs out the current session and stops reconnecting.
func (t *Trader) Stop(ctx context.Context) error {
	t.mu.Lock()
	sess, cancel, stopped := t.sess, t.cancel, t.stopped
	t.stopping = true
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}

	var err error
	if sess != nil {
		err = sess.Logout(ctx, "")
	}
	cancel()
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.logger.Infow("trader_stopped", "err", err)
	return err
}

type Status struct {
	Mnemonic    string         `json:"mnemonic"`
	Session     session.Status `json:"session"`
	ClientID    string         `json:"clientId,omitempty"`
	ActiveOrder *order.Order   `json:"activeOrder,omitempty"`
}

func (t *Trader) Status() Status {
	t.mu.Lock()
	sess, cid := t.sess, t.clientID
	t.mu.Unlock()

	st := Status{Mnemonic: t.cfg.Mnemonic, ClientID: cid}
	if sess != nil {
		st.Session = sess.Status()
	} else {
		st.Session = session.Status{ID: t.id.String(), State: session.Disconnected.String()}
	}
	if o, ok := t.orders.Active(); ok {
		st.ActiveOrder = &o
	}
	return st
}

var (
	_ order.Sender         = (*Trader)(nil)
	_ order.ClientIDSource = (*Trader)(nil)
)
