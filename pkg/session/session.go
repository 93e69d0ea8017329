package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/metrics"
	"github.com/uhyunpark/fixsession/pkg/util"
)

// Session runs the FIX session protocol over one transport connection.
// Reconnecting means a new Session sharing the same SeqStore.
type Session struct {
	cfg Config
	id  string
	app Application

	Signer  LogonSigner
	Store   SeqStore // optional; nil keeps sequence numbers in memory only
	Journal Journal  // optional
	Clock   util.Clock

	Logger *zap.SugaredLogger

	// sendMu serialises header stamping, the socket write and the outgoing
	// sequence increment.
	sendMu sync.Mutex

	mu        sync.Mutex
	conn      net.Conn
	started   bool
	state     State
	seq       SeqNums
	startedAt time.Time
	lastSent  time.Time
	lastRecv  time.Time
	testReqID string
	testReqAt time.Time
	resending bool
	parked    map[uint64]*fix.Message
	faults    int
	err       error

	loggedOn     chan struct{}
	loggedOnOnce sync.Once
	done         chan struct{}
	closeOnce    sync.Once
}

func New(cfg Config, app Application) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		id:       cfg.ID.String(),
		app:      app,
		Clock:    util.RealClock{},
		Logger:   zap.NewNop().Sugar(),
		seq:      InitialSeqNums(),
		parked:   make(map[uint64]*fix.Message),
		loggedOn: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() ID { return s.cfg.ID }

// Connect dials addr and starts the session.
func (s *Session) Connect(ctx context.Context, d Dialer, addr string) error {
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := s.Start(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Start takes ownership of conn, sends Logon and starts the read and timer
// loops. It does not wait for the Logon acknowledgement; see WaitLogon.
func (s *Session) Start(conn net.Conn) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	seq, err := s.loadSeq()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	now := time.Now()
	s.conn = conn
	s.seq = seq
	s.state = LogonSent
	s.startedAt = now
	s.lastRecv = now
	s.mu.Unlock()

	metrics.SessionState.WithLabelValues(s.id).Set(float64(LogonSent))
	s.Logger.Infow("session_start",
		"session", s.id,
		"remote", conn.RemoteAddr().String(),
		"next_out", seq.NextOutgoing,
		"next_in", seq.NextIncoming,
		"reset_seq_num", s.cfg.ResetSeqNumFlag)

	go s.readLoop(fix.NewFramer(conn))

	if err := s.send(s.newLogon(), 0); err != nil {
		s.terminate(err)
		return fmt.Errorf("send logon: %w", err)
	}
	go s.timerLoop()
	return nil
}

func (s *Session) loadSeq() (SeqNums, error) {
	if s.cfg.ResetSeqNumFlag {
		if s.Store != nil {
			if err := s.Store.Reset(s.cfg.ID); err != nil {
				return SeqNums{}, fmt.Errorf("reset seq store: %w", err)
			}
		}
		return InitialSeqNums(), nil
	}
	if s.Store == nil {
		return s.seq, nil
	}
	seq, err := s.Store.Load(s.cfg.ID)
	if err != nil {
		return SeqNums{}, fmt.Errorf("load seq store: %w", err)
	}
	return seq, nil
}

func (s *Session) newLogon() *fix.Message {
	m := fix.NewMessage(fix.MsgTypeLogon).
		SetInt(fix.TagEncryptMethod, 0).
		SetInt(fix.TagHeartBtInt, int(s.cfg.HeartBtInt/time.Second))
	if s.cfg.ResetSeqNumFlag {
		m.SetBool(fix.TagResetSeqNumFlag, true)
	}
	if s.cfg.DefaultApplVerID != "" {
		m.Set(fix.TagDefaultApplVerID, s.cfg.DefaultApplVerID)
	}
	return m
}

// WaitLogon blocks until the counterparty acknowledges Logon, the session
// terminates, or ctx is done.
func (s *Session) WaitLogon(ctx context.Context) error {
	select {
	case <-s.loggedOn:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:           s.id,
		State:        s.state.String(),
		NextOutgoing: s.seq.NextOutgoing,
		NextIncoming: s.seq.NextIncoming,
		LastSent:     s.lastSent,
		LastReceived: s.lastRecv,
	}
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session terminated; nil after a clean logout.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send stamps the standard header on m and writes it. Application messages
// require LoggedOn. Safe for concurrent use.
func (s *Session) Send(m *fix.Message) error {
	if !fix.IsAdminMsgType(m.MsgType()) && s.State() != LoggedOn {
		return ErrNotLoggedOn
	}
	return s.send(m, 0)
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// send writes m with the next outgoing sequence number, or with fixedSeq (as a
// PossDup retransmission that does not advance the counter) when non-zero.
func (s *Session) send(m *fix.Message, fixedSeq uint64) error {
	err := s.write(m, fixedSeq)
	var we *writeError
	if errors.As(err, &we) {
		s.terminate(err)
	}
	return err
}

func (s *Session) write(m *fix.Message, fixedSeq uint64) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	conn := s.conn
	seq := s.seq.NextOutgoing
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if fixedSeq > 0 {
		seq = fixedSeq
		m.SetBool(fix.TagPossDupFlag, true)
	}

	sendingTime := fix.FormatUTCTimestamp(s.Clock.Now())
	m.Set(fix.TagBeginString, s.cfg.ID.BeginString).
		Set(fix.TagSenderCompID, s.cfg.ID.SenderCompID).
		Set(fix.TagTargetCompID, s.cfg.ID.TargetCompID).
		SetUint(fix.TagMsgSeqNum, seq).
		Set(fix.TagSendingTime, sendingTime)
	if fixedSeq > 0 {
		m.Set(fix.TagOrigSendingTime, sendingTime)
	}

	if m.MsgType() == fix.MsgTypeLogon && s.Signer != nil {
		if err := s.Signer.SignLogon(m); err != nil {
			return err
		}
	}

	raw, err := fix.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.MsgType(), err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write(raw); err != nil {
		return &writeError{err: err}
	}

	s.mu.Lock()
	if fixedSeq == 0 {
		s.seq.NextOutgoing = seq + 1
	}
	s.lastSent = time.Now()
	seqs := s.seq
	s.mu.Unlock()
	if fixedSeq == 0 {
		s.persist(seqs)
	}

	s.record("OUT", seq, m)
	metrics.MessagesSent.WithLabelValues(s.id, m.MsgType()).Inc()
	if s.cfg.VerboseLogging {
		s.Logger.Debugw("msg_sent", "session", s.id, "seq", seq, "msg", redacted(m))
	}
	return nil
}

func (s *Session) persist(seqs SeqNums) {
	if s.Store == nil {
		return
	}
	if err := s.Store.Save(s.cfg.ID, seqs); err != nil {
		s.Logger.Errorw("seq_store_save_failed", "session", s.id, "err", err)
	}
}

func (s *Session) record(dir string, seq uint64, m *fix.Message) {
	if s.Journal == nil {
		return
	}
	s.Journal.Append(fmt.Sprintf("%s %s %s seq=%d %s",
		time.Now().UTC().Format(time.RFC3339Nano), dir, s.id, seq, redacted(m)))
}

// redacted renders m with the Logon password masked.
func redacted(m *fix.Message) string {
	if !m.Has(fix.TagPassword) {
		return m.String()
	}
	return m.Clone().Set(fix.TagPassword, "***").String()
}

// ---- inbound ----

func (s *Session) readLoop(fr *fix.Framer) {
	for {
		m, err := fr.Next()
		if err != nil {
			var de *fix.DecodeError
			if errors.As(err, &de) {
				if s.onDecodeFault(de) {
					continue
				}
				return
			}
			if s.State() == LogoutSent {
				s.terminate(nil)
			} else {
				s.terminate(fmt.Errorf("read: %w", err))
			}
			return
		}
		s.onMessage(m)
		if s.closed() {
			return
		}
	}
}

// onDecodeFault logs a discarded frame and reports whether the session may
// keep reading.
func (s *Session) onDecodeFault(de *fix.DecodeError) bool {
	s.mu.Lock()
	s.faults++
	faults := s.faults
	s.mu.Unlock()

	metrics.DecodeFaults.WithLabelValues(s.id, de.Kind.String()).Inc()
	s.Logger.Warnw("decode_fault", "session", s.id, "kind", de.Kind.String(), "detail", de.Detail, "consecutive", faults)
	if faults >= s.cfg.MaxDecodeFaults {
		s.terminate(fmt.Errorf("%w: %d consecutive, last: %v", ErrTooManyFaults, faults, de))
		return false
	}
	return true
}

func (s *Session) onMessage(m *fix.Message) {
	msgType := m.MsgType()
	seq, err := m.GetUint(fix.TagMsgSeqNum)
	if err != nil {
		s.onDecodeFault(&fix.DecodeError{Kind: fix.Malformed, Detail: "MsgSeqNum: " + err.Error()})
		return
	}

	s.mu.Lock()
	s.faults = 0
	s.lastRecv = time.Now()
	s.testReqID = ""
	expected := s.seq.NextIncoming
	s.mu.Unlock()

	s.record("IN", seq, m)
	metrics.MessagesReceived.WithLabelValues(s.id, msgType).Inc()
	if s.cfg.VerboseLogging {
		s.Logger.Debugw("msg_received", "session", s.id, "seq", seq, "msg", redacted(m))
	}

	// SequenceReset in reset mode applies regardless of MsgSeqNum.
	if msgType == fix.MsgTypeSequenceReset && !m.GetBool(fix.TagGapFillFlag) {
		s.dispatchAdmin(m)
		s.drainParked()
		return
	}

	switch {
	case seq > expected:
		s.onGap(expected, seq, m)
		return
	case seq < expected:
		if m.GetBool(fix.TagPossDupFlag) {
			s.Logger.Debugw("possdup_discarded", "session", s.id, "seq", seq, "expected", expected, "msg_type", msgType)
			return
		}
		text := fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, seq)
		s.Logger.Errorw("seq_num_too_low", "session", s.id, "expected", expected, "received", seq)
		_ = s.send(newLogout(text), 0)
		s.terminate(fmt.Errorf("%w: expecting %d but received %d", ErrSeqNumTooLow, expected, seq))
		return
	}

	s.process(seq, m)
	s.drainParked()
}

// onGap handles a message that arrived ahead of the expected sequence number.
// Logon and Logout are acted on immediately; anything else is parked until the
// gap fills. One ResendRequest is issued per gap.
func (s *Session) onGap(expected, seq uint64, m *fix.Message) {
	switch m.MsgType() {
	case fix.MsgTypeLogon:
		s.dispatchAdmin(m)
	case fix.MsgTypeLogout:
		s.dispatchAdmin(m)
		return
	default:
		s.mu.Lock()
		if len(s.parked) < s.cfg.MaxParked {
			s.parked[seq] = m
		} else {
			s.Logger.Warnw("parked_overflow", "session", s.id, "seq", seq)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	request := !s.resending
	s.resending = true
	s.mu.Unlock()
	if !request {
		return
	}
	metrics.SequenceGaps.WithLabelValues(s.id).Inc()
	s.Logger.Warnw("seq_gap_detected", "session", s.id, "expected", expected, "received", seq)
	if err := s.send(newResendRequest(expected, 0), 0); err != nil {
		s.Logger.Errorw("resend_request_failed", "session", s.id, "err", err)
	}
}

// drainParked processes parked messages that have become in-sequence.
func (s *Session) drainParked() {
	for {
		s.mu.Lock()
		next := s.seq.NextIncoming
		for k := range s.parked {
			if k < next {
				delete(s.parked, k)
			}
		}
		m, ok := s.parked[next]
		if ok {
			delete(s.parked, next)
		}
		if len(s.parked) == 0 && !ok {
			s.resending = false
		}
		s.mu.Unlock()

		if !ok || s.closed() {
			return
		}
		s.process(next, m)
	}
}

func (s *Session) process(seq uint64, m *fix.Message) {
	s.mu.Lock()
	s.seq.NextIncoming = seq + 1
	seqs := s.seq
	state := s.state
	s.mu.Unlock()
	s.persist(seqs)

	if fix.IsAdminMsgType(m.MsgType()) {
		s.dispatchAdmin(m)
		return
	}
	if state != LoggedOn && state != LogoutSent {
		s.Logger.Warnw("app_msg_not_logged_on", "session", s.id, "seq", seq, "msg_type", m.MsgType(), "state", state.String())
		return
	}
	if m.GetBool(fix.TagPossDupFlag) {
		s.Logger.Infow("possdup_suppressed", "session", s.id, "seq", seq, "msg_type", m.MsgType())
		return
	}
	s.app.FromApp(s.cfg.ID, m)
}

func (s *Session) dispatchAdmin(m *fix.Message) {
	a, err := ParseAdmin(m)
	if err != nil {
		s.Logger.Warnw("admin_parse_failed", "session", s.id, "msg_type", m.MsgType(), "err", err)
		return
	}
	s.handleAdmin(a)
}

func (s *Session) handleAdmin(a AdminMessage) {
	switch msg := a.(type) {
	case LogonMsg:
		s.onLogon(msg)
	case LogoutMsg:
		s.onLogout(msg)
	case HeartbeatMsg:
		if msg.TestReqID != "" {
			s.Logger.Debugw("test_request_answered", "session", s.id, "test_req_id", msg.TestReqID)
		}
	case TestRequestMsg:
		if err := s.send(newHeartbeat(msg.TestReqID), 0); err != nil {
			s.Logger.Errorw("heartbeat_send_failed", "session", s.id, "err", err)
		}
	case ResendRequestMsg:
		s.onResendRequest(msg)
	case SequenceResetMsg:
		s.onSequenceReset(msg)
	case RejectMsg:
		s.Logger.Warnw("session_reject",
			"session", s.id,
			"ref_seq_num", msg.RefSeqNum,
			"ref_msg_type", msg.RefMsgType,
			"text", msg.Text)
	}
}

func (s *Session) onLogon(msg LogonMsg) {
	s.mu.Lock()
	prev := s.state
	if prev == LogonSent {
		s.state = LoggedOn
	}
	s.mu.Unlock()
	if prev != LogonSent {
		s.Logger.Warnw("unexpected_logon", "session", s.id, "state", prev.String())
		return
	}

	metrics.SessionState.WithLabelValues(s.id).Set(float64(LoggedOn))
	s.Logger.Infow("logon", "session", s.id, "heartbeat_secs", msg.HeartBtInt)
	s.loggedOnOnce.Do(func() { close(s.loggedOn) })
	s.app.OnLogon(s.cfg.ID)
}

func (s *Session) onLogout(msg LogoutMsg) {
	if s.State() == LogoutSent {
		s.Logger.Infow("logout_confirmed", "session", s.id, "text", msg.Text)
		s.terminate(nil)
		return
	}
	s.Logger.Warnw("logout_received", "session", s.id, "text", msg.Text)
	_ = s.send(newLogout(""), 0)
	if msg.Text != "" {
		s.terminate(fmt.Errorf("%w: %s", ErrCounterpartyLogout, msg.Text))
		return
	}
	s.terminate(ErrCounterpartyLogout)
}

// onResendRequest answers with a single GapFill covering everything from
// BeginSeqNo. Application messages are never replayed.
func (s *Session) onResendRequest(msg ResendRequestMsg) {
	s.mu.Lock()
	next := s.seq.NextOutgoing
	s.mu.Unlock()

	if msg.BeginSeqNo == 0 || msg.BeginSeqNo >= next {
		s.Logger.Warnw("resend_request_ignored", "session", s.id, "begin", msg.BeginSeqNo, "end", msg.EndSeqNo, "next_out", next)
		return
	}
	s.Logger.Infow("resend_request", "session", s.id, "begin", msg.BeginSeqNo, "end", msg.EndSeqNo, "gap_fill_to", next)
	if err := s.send(newGapFill(next), msg.BeginSeqNo); err != nil {
		s.Logger.Errorw("gap_fill_failed", "session", s.id, "err", err)
	}
}

// onSequenceReset moves the incoming counter forward. It never moves it back.
func (s *Session) onSequenceReset(msg SequenceResetMsg) {
	s.mu.Lock()
	cur := s.seq.NextIncoming
	if msg.NewSeqNo < cur {
		s.mu.Unlock()
		s.Logger.Warnw("sequence_reset_backwards", "session", s.id, "new_seq_no", msg.NewSeqNo, "next_in", cur, "gap_fill", msg.GapFill)
		return
	}
	s.seq.NextIncoming = msg.NewSeqNo
	seqs := s.seq
	s.mu.Unlock()

	s.persist(seqs)
	s.Logger.Infow("sequence_reset", "session", s.id, "new_seq_no", msg.NewSeqNo, "gap_fill", msg.GapFill)
}

// ---- shutdown ----

// Logout sends Logout and waits for the counterparty's Logout or transport
// teardown, bounded by LogoutTimeout, then force-closes.
func (s *Session) Logout(ctx context.Context, text string) error {
	s.mu.Lock()
	prev := s.state
	if prev == LoggedOn || prev == LogonSent {
		s.state = LogoutSent
	}
	s.mu.Unlock()

	switch prev {
	case Disconnected:
		return nil
	case LoggedOn, LogonSent:
		metrics.SessionState.WithLabelValues(s.id).Set(float64(LogoutSent))
		s.Logger.Infow("logout_sent", "session", s.id, "text", text)
		if err := s.send(newLogout(text), 0); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			s.terminate(err)
			return err
		}
	}

	select {
	case <-s.done:
		return nil
	case <-s.Clock.After(s.cfg.LogoutTimeout):
		s.Logger.Warnw("logout_timeout", "session", s.id, "timeout", s.cfg.LogoutTimeout)
		s.terminate(ErrLogoutTimeout)
		return ErrLogoutTimeout
	case <-ctx.Done():
		s.terminate(ctx.Err())
		return ctx.Err()
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = Disconnected
		s.err = err
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		close(s.done)
		metrics.SessionState.WithLabelValues(s.id).Set(float64(Disconnected))

		if err != nil {
			s.Logger.Errorw("session_terminated", "session", s.id, "state", prev.String(), "err", err)
		} else {
			s.Logger.Infow("session_closed", "session", s.id, "state", prev.String())
		}
		select {
		case <-s.loggedOn:
			s.app.OnLogout(s.cfg.ID)
		default:
		}
	})
}
