package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/fixsession/pkg/order"
	"github.com/uhyunpark/fixsession/pkg/report"
	"github.com/uhyunpark/fixsession/pkg/session"
)

// PebbleStore persists sequence numbers, each session's active order and its
// execution report history. Safe for concurrent use.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ---- session.SeqStore ----

func (s *PebbleStore) Load(id session.ID) (session.SeqNums, error) {
	val, closer, err := s.db.Get(seqKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return session.InitialSeqNums(), nil
	}
	if err != nil {
		return session.SeqNums{}, fmt.Errorf("get seq: %w", err)
	}
	defer closer.Close()
	return decodeSeqNums(val)
}

func (s *PebbleStore) Save(id session.ID, seq session.SeqNums) error {
	if err := s.db.Set(seqKey(id), encodeSeqNums(seq), pebble.Sync); err != nil {
		return fmt.Errorf("save seq: %w", err)
	}
	return nil
}

func (s *PebbleStore) Reset(id session.ID) error {
	if err := s.db.Delete(seqKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("reset seq: %w", err)
	}
	return nil
}

// ---- order.Store ----

func (s *PebbleStore) SaveOrder(sessionID string, o order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(sessionID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrder returns nil when the session has no active order.
func (s *PebbleStore) LoadOrder(sessionID string) (*order.Order, error) {
	data, closer, err := s.db.Get(orderKey(sessionID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

func (s *PebbleStore) DeleteOrder(sessionID string) error {
	if err := s.db.Delete(orderKey(sessionID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// ---- execution reports ----

func (s *PebbleStore) SaveReport(r *report.ExecutionReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	key := reportKey(r.Session, time.Now().UnixNano(), r.SeqNum)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// LoadRecentReports returns up to limit reports for a session, newest first.
func (s *PebbleStore) LoadRecentReports(sessionID string, limit int) ([]*report.ExecutionReport, error) {
	prefix := reportPrefix(sessionID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("report iterator: %w", err)
	}
	defer iter.Close()

	var out []*report.ExecutionReport
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var r report.ExecutionReport
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

var _ session.SeqStore = (*PebbleStore)(nil)
var _ order.Store = (*PebbleStore)(nil)
