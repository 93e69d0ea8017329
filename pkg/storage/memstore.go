package storage

import (
	"sync"

	"github.com/uhyunpark/fixsession/pkg/session"
)

// InMemorySeqStore keeps sequence numbers for the life of the process.
type InMemorySeqStore struct {
	mu   sync.Mutex
	seqs map[session.ID]session.SeqNums
}

func NewInMemorySeqStore() *InMemorySeqStore {
	return &InMemorySeqStore{seqs: make(map[session.ID]session.SeqNums)}
}

func (s *InMemorySeqStore) Load(id session.ID) (session.SeqNums, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.seqs[id]; ok {
		return seq, nil
	}
	return session.InitialSeqNums(), nil
}

func (s *InMemorySeqStore) Save(id session.ID, seq session.SeqNums) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[id] = seq
	return nil
}

func (s *InMemorySeqStore) Reset(id session.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seqs, id)
	return nil
}

var _ session.SeqStore = (*InMemorySeqStore)(nil)
