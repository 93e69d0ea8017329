package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uhyunpark/fixsession/pkg/session"
)

type NopJournal struct{}

func NewNopJournal() *NopJournal      { return &NopJournal{} }
func (j *NopJournal) Append(_ string) {}

// FileJournal appends one line per message to a file. Appends from several
// sessions may share one journal.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, line)
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ session.Journal = (*NopJournal)(nil)
var _ session.Journal = (*FileJournal)(nil)
