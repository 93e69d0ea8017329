package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/metrics"
	"github.com/uhyunpark/fixsession/pkg/report"
	"github.com/uhyunpark/fixsession/pkg/session"
)

type (
	ReportHandler       func(r *report.ExecutionReport)
	CancelRejectHandler func(r *report.CancelReject)
	SessionHandler      func(id session.ID)
)

// ReportStore records every delivered execution report.
type ReportStore interface {
	SaveReport(r *report.ExecutionReport) error
}

type Config struct {
	// BacklogWarn is the queue depth at which a slow handler is reported.
	BacklogWarn int
}

// Dispatcher routes inbound application messages from one or more sessions to
// subscribers. The session read loop only parses and enqueues; handlers run
// on the goroutine that calls Run, in arrival order. The queue is unbounded so
// no report is ever dropped.
type Dispatcher struct {
	cfg    Config
	logger *zap.SugaredLogger

	Store ReportStore // optional

	mu      sync.RWMutex
	reports []ReportHandler
	rejects []CancelRejectHandler
	logons  []SessionHandler
	logouts []SessionHandler

	qmu     sync.Mutex
	pending []event
	wake    chan struct{}
}

type event struct {
	session string
	report  *report.ExecutionReport
	reject  *report.CancelReject
}

func New(cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.BacklogWarn <= 0 {
		cfg.BacklogWarn = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (d *Dispatcher) OnReport(h ReportHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, h)
}

func (d *Dispatcher) OnCancelReject(h CancelRejectHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejects = append(d.rejects, h)
}

// OnSessionLogon handlers run on the session read loop and must not block.
func (d *Dispatcher) OnSessionLogon(h SessionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logons = append(d.logons, h)
}

func (d *Dispatcher) OnSessionLogout(h SessionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logouts = append(d.logouts, h)
}

// ---- session.Application ----

func (d *Dispatcher) OnLogon(id session.ID) {
	d.mu.RLock()
	hs := append([]SessionHandler(nil), d.logons...)
	d.mu.RUnlock()
	for _, h := range hs {
		h(id)
	}
}

func (d *Dispatcher) OnLogout(id session.ID) {
	d.mu.RLock()
	hs := append([]SessionHandler(nil), d.logouts...)
	d.mu.RUnlock()
	for _, h := range hs {
		h(id)
	}
}

func (d *Dispatcher) FromApp(id session.ID, m *fix.Message) {
	sid := id.String()
	switch m.MsgType() {
	case fix.MsgTypeExecutionReport:
		if m.GetBool(fix.TagPossDupFlag) {
			d.logger.Infow("possdup_report_ignored", "session", sid, "cl_ord_id", m.GetString(fix.TagClOrdID))
			return
		}
		r, err := report.Parse(m)
		if err != nil {
			d.logger.Errorw("report_parse_failed", "session", sid, "err", err, "msg", m.String())
			return
		}
		r.Session = sid
		metrics.ExecutionReports.WithLabelValues(execTypeLabel(r.ExecType)).Inc()
		d.logger.Infow("execution_report",
			"session", sid,
			"cl_ord_id", r.ClOrdID,
			"order_id", r.OrderID,
			"exec_type", r.ExecType.String(),
			"ord_status", r.OrdStatus.String(),
			"price", r.Price.String(),
			"qty", r.Quantity.String(),
			"side", r.Side.String(),
			"ord_type", r.OrdType.String())
		d.enqueue(event{session: sid, report: r})

	case fix.MsgTypeOrderCancelReject:
		if m.GetBool(fix.TagPossDupFlag) {
			return
		}
		r, err := report.ParseCancelReject(m)
		if err != nil {
			d.logger.Errorw("cancel_reject_parse_failed", "session", sid, "err", err)
			return
		}
		r.Session = sid
		d.logger.Warnw("cancel_reject",
			"session", sid,
			"cl_ord_id", r.ClOrdID,
			"orig_cl_ord_id", r.OrigClOrdID,
			"response_to", r.CxlRejResponseTo,
			"text", r.Text)
		d.enqueue(event{session: sid, reject: r})

	case fix.MsgTypeBusinessReject:
		d.logger.Warnw("business_reject",
			"session", sid,
			"ref_seq_num", m.GetString(fix.TagRefSeqNum),
			"ref_msg_type", m.GetString(fix.TagRefMsgType),
			"reason", m.GetString(fix.TagBusinessRejectReason),
			"text", m.GetString(fix.TagText))

	default:
		d.logger.Debugw("app_msg_unhandled", "session", sid, "msg_type", m.MsgType())
	}
}

func execTypeLabel(e report.ExecType) string {
	if !e.Known() {
		return "unknown"
	}
	return string(e)
}

// enqueue appends ev and wakes Run. It never blocks on a slow handler.
func (d *Dispatcher) enqueue(ev event) {
	d.qmu.Lock()
	d.pending = append(d.pending, ev)
	depth := len(d.pending)
	d.qmu.Unlock()

	metrics.DispatchBacklog.WithLabelValues(ev.session).Inc()
	if depth == d.cfg.BacklogWarn {
		d.logger.Warnw("dispatch_backlog", "session", ev.session, "depth", depth)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Backlog reports how many events are waiting for Run.
func (d *Dispatcher) Backlog() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) next() (event, bool) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if len(d.pending) == 0 {
		return event{}, false
	}
	ev := d.pending[0]
	d.pending[0] = event{}
	d.pending = d.pending[1:]
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return ev, true
}

// Run delivers queued events until ctx is done. Events still queued at that
// point stay queued for a later Run.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ev, ok := d.next()
			if !ok {
				break
			}
			metrics.DispatchBacklog.WithLabelValues(ev.session).Dec()
			d.deliver(ev)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.RLock()
	reports := append([]ReportHandler(nil), d.reports...)
	rejects := append([]CancelRejectHandler(nil), d.rejects...)
	d.mu.RUnlock()

	switch {
	case ev.report != nil:
		if d.Store != nil {
			if err := d.Store.SaveReport(ev.report); err != nil {
				d.logger.Errorw("report_store_failed", "session", ev.report.Session, "err", err)
			}
		}
		for _, h := range reports {
			h(ev.report)
		}
	case ev.reject != nil:
		for _, h := range rejects {
			h(ev.reject)
		}
	}
}

var _ session.Application = (*Dispatcher)(nil)
