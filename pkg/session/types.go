// file: pkg/session/types.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/uhyunpark/fixsession/pkg/fix"
)

// ID identifies one logical FIX session. Immutable once the session exists.
type ID struct {
	BeginString  string
	SenderCompID string
	TargetCompID string
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s->%s", id.BeginString, id.SenderCompID, id.TargetCompID)
}

type State int32

const (
	Disconnected State = iota
	LogonSent
	LoggedOn
	LogoutSent
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case LogonSent:
		return "LogonSent"
	case LoggedOn:
		return "LoggedOn"
	case LogoutSent:
		return "LogoutSent"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SeqNums holds the next expected sequence number per direction.
type SeqNums struct {
	NextOutgoing uint64
	NextIncoming uint64
}

func InitialSeqNums() SeqNums { return SeqNums{NextOutgoing: 1, NextIncoming: 1} }

type Config struct {
	ID               ID
	HeartBtInt       time.Duration
	DefaultApplVerID string // sent on Logon for FIXT.1.1
	ResetSeqNumFlag  bool

	LogonTimeout  time.Duration
	LogoutTimeout time.Duration
	WriteTimeout  time.Duration

	// MaxDecodeFaults consecutive undecodable frames terminate the session.
	MaxDecodeFaults int
	// MaxParked bounds messages held while a sequence gap is being filled.
	MaxParked int

	// VerboseLogging logs raw messages. Development only.
	VerboseLogging bool
}

func (c Config) withDefaults() Config {
	if c.HeartBtInt <= 0 {
		c.HeartBtInt = 30 * time.Second
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = 10 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxDecodeFaults <= 0 {
		c.MaxDecodeFaults = 10
	}
	if c.MaxParked <= 0 {
		c.MaxParked = 1024
	}
	return c
}

// Application receives session events. All callbacks run on the session's read
// loop and must not block; long-running work belongs on another goroutine.
type Application interface {
	OnLogon(id ID)
	OnLogout(id ID)
	FromApp(id ID, msg *fix.Message)
}

// LogonSigner fills credentials on the outgoing Logon after its header is final.
type LogonSigner interface {
	SignLogon(m *fix.Message) error
}

// ---- Storage/journal interfaces (impl in pkg/storage) ----

type SeqStore interface {
	Load(id ID) (SeqNums, error)
	Save(id ID, s SeqNums) error
	Reset(id ID) error
}

type Journal interface {
	Append(line string)
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

var (
	ErrNotConnected       = errors.New("session not connected")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrNotLoggedOn        = errors.New("session not logged on")
	ErrClosed             = errors.New("session closed")
	ErrLogonTimeout       = errors.New("logon timed out")
	ErrLogoutTimeout      = errors.New("logout timed out")
	ErrHeartbeatTimeout   = errors.New("heartbeat timeout: counterparty unresponsive")
	ErrSeqNumTooLow       = errors.New("incoming MsgSeqNum too low")
	ErrTooManyFaults      = errors.New("too many undecodable messages")
	ErrCounterpartyLogout = errors.New("counterparty logged out")
)

// Status is a point-in-time snapshot for observability.
type Status struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	NextOutgoing uint64    `json:"nextOutgoing"`
	NextIncoming uint64    `json:"nextIncoming"`
	LastSent     time.Time `json:"lastSent"`
	LastReceived time.Time `json:"lastReceived"`
}
