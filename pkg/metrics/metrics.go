package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_messages_sent_total",
		Help: "FIX messages written to the wire.",
	}, []string{"session", "msg_type"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_messages_received_total",
		Help: "FIX messages decoded from the wire.",
	}, []string{"session", "msg_type"})

	DecodeFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_decode_faults_total",
		Help: "Frames discarded as malformed or with a bad checksum.",
	}, []string{"session", "kind"})

	SequenceGaps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_sequence_gaps_total",
		Help: "ResendRequests issued for incoming sequence gaps.",
	}, []string{"session"})

	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fix_session_state",
		Help: "Current session state (0=Disconnected 1=LogonSent 2=LoggedOn 3=LogoutSent).",
	}, []string{"session"})

	ExecutionReports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_execution_reports_total",
		Help: "Execution reports parsed, by ExecType code (\"unknown\" outside the table).",
	}, []string{"exec_type"})

	DispatchBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fix_dispatch_backlog",
		Help: "Application messages queued for delivery to handlers.",
	}, []string{"session"})

	OrdersSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fix_orders_sent_total",
		Help: "Order commands sent, by kind (new, cancel, replace).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessagesReceived,
		DecodeFaults,
		SequenceGaps,
		SessionState,
		ExecutionReports,
		DispatchBacklog,
		OrdersSent,
	)
}
