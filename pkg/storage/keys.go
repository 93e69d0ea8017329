package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/uhyunpark/fixsession/pkg/session"
)

// Key schema:
//
//	seq:<session>                    → next outgoing/incoming (16 bytes, big endian)
//	ord:<session>                    → active order (JSON)
//	rpt:<session>:<unixnano>:<seq>   → execution report (JSON)
const (
	prefixSeq    = "seq:"
	prefixOrder  = "ord:"
	prefixReport = "rpt:"
)

func seqKey(id session.ID) []byte {
	return []byte(prefixSeq + id.String())
}

func orderKey(sessionID string) []byte {
	return []byte(prefixOrder + sessionID)
}

// reportKey zero-pads the timestamp so keys sort chronologically.
func reportKey(sessionID string, unixNano int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%d", prefixReport, sessionID, unixNano, seq))
}

func reportPrefix(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixReport, sessionID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeSeqNums(s session.SeqNums) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], s.NextOutgoing)
	binary.BigEndian.PutUint64(b[8:], s.NextIncoming)
	return b[:]
}

func decodeSeqNums(b []byte) (session.SeqNums, error) {
	if len(b) != 16 {
		return session.SeqNums{}, fmt.Errorf("seq record: want 16 bytes, got %d", len(b))
	}
	return session.SeqNums{
		NextOutgoing: binary.BigEndian.Uint64(b[:8]),
		NextIncoming: binary.BigEndian.Uint64(b[8:]),
	}, nil
}
