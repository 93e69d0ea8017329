package session

import (
	"fmt"
	"time"
)

// timerLoop drives logon timeout, outbound heartbeats and inbound liveness.
func (s *Session) timerLoop() {
	tick := s.cfg.HeartBtInt / 10
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			s.checkTimers(now)
		}
	}
}

func (s *Session) checkTimers(now time.Time) {
	s.mu.Lock()
	state := s.state
	startedAt := s.startedAt
	lastSent := s.lastSent
	lastRecv := s.lastRecv
	pending := s.testReqID
	pendingAt := s.testReqAt
	s.mu.Unlock()

	hb := s.cfg.HeartBtInt
	switch state {
	case LogonSent:
		if now.Sub(startedAt) >= s.cfg.LogonTimeout {
			s.Logger.Errorw("logon_timeout", "session", s.id, "timeout", s.cfg.LogonTimeout)
			s.terminate(ErrLogonTimeout)
		}
		return
	case LoggedOn:
	default:
		return
	}

	switch {
	case pending != "":
		if now.Sub(pendingAt) >= hb {
			s.Logger.Errorw("heartbeat_timeout", "session", s.id, "test_req_id", pending, "silence", now.Sub(lastRecv).String())
			s.terminate(ErrHeartbeatTimeout)
			return
		}
	case now.Sub(lastRecv) >= hb+hb/5:
		id := fmt.Sprintf("TEST-%d", now.UnixNano())
		s.mu.Lock()
		s.testReqID = id
		s.testReqAt = now
		s.mu.Unlock()
		s.Logger.Warnw("test_request", "session", s.id, "test_req_id", id, "silence", now.Sub(lastRecv).String())
		if err := s.send(newTestRequest(id), 0); err != nil {
			s.Logger.Errorw("test_request_failed", "session", s.id, "err", err)
		}
		return
	}

	if now.Sub(lastSent) >= hb {
		if err := s.send(newHeartbeat(""), 0); err != nil {
			s.Logger.Errorw("heartbeat_send_failed", "session", s.id, "err", err)
		}
	}
}
