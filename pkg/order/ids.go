package order

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type IDGenerator interface {
	NextID() string
}

// ClOrdIDGenerator produces "<unix millis>-<8 hex chars>-<counter>".
type ClOrdIDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

func NewClOrdIDGenerator() *ClOrdIDGenerator {
	return &ClOrdIDGenerator{now: time.Now}
}

func (g *ClOrdIDGenerator) NextID() string {
	n := g.counter.Add(1)
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s-%d", g.now().UnixMilli(), frag, n)
}

// SequentialIDs produces Prefix-1, Prefix-2, ...
type SequentialIDs struct {
	Prefix string
	n      atomic.Uint64
}

func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{Prefix: prefix}
}

func (s *SequentialIDs) NextID() string {
	return fmt.Sprintf("%s-%d", s.Prefix, s.n.Add(1))
}

var _ IDGenerator = (*ClOrdIDGenerator)(nil)
var _ IDGenerator = (*SequentialIDs)(nil)
