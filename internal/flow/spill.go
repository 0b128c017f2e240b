package flow

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// defaultSpillThreshold is the audit row count held in memory before a spill.
const defaultSpillThreshold = 100000

// auditStore accumulates audit rows, spilling full buffers to lz4-compressed
// gob blocks in a temp directory. Large counter-flow days can produce far
// more pair rows than fit comfortably in memory.
type auditStore struct {
	threshold int
	current   []Audit
	dir       string
	spillN    int
}

func newAuditStore(threshold int) *auditStore {
	if threshold <= 0 {
		threshold = defaultSpillThreshold
	}

	return &auditStore{threshold: threshold}
}

// Append adds rows, spilling when the buffer crosses the threshold.
func (s *auditStore) Append(rows ...Audit) error {
	s.current = append(s.current, rows...)

	if len(s.current) >= s.threshold {
		return s.spill()
	}

	return nil
}

func (s *auditStore) spill() error {
	if s.dir == "" {
		dir, err := os.MkdirTemp("", "courseflow-audit-*")
		if err != nil {
			return fmt.Errorf("create audit spill dir: %w", err)
		}

		s.dir = dir
	}

	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(s.current)
	if err != nil {
		return fmt.Errorf("encode audit spill block: %w", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(buf.Len()))

	written, err := lz4.CompressBlock(buf.Bytes(), compressed, nil)
	if err != nil {
		return fmt.Errorf("compress audit spill block: %w", err)
	}

	// Header: uncompressed size plus a flag byte. A zero written count
	// means incompressible data, stored raw.
	block := make([]byte, 9, 9+written)
	binary.LittleEndian.PutUint64(block, uint64(buf.Len()))

	if written == 0 {
		block = append(block, buf.Bytes()...)
	} else {
		block[8] = 1
		block = append(block, compressed[:written]...)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("block-%06d.lz4", s.spillN))

	err = os.WriteFile(path, block, 0o600)
	if err != nil {
		return fmt.Errorf("write audit spill block: %w", err)
	}

	s.spillN++
	s.current = s.current[:0]

	return nil
}

// Collect merges all spilled blocks with the in-memory buffer, removes the
// spill directory, and returns the rows in append order.
func (s *auditStore) Collect() ([]Audit, error) {
	if s.dir == "" {
		return s.current, nil
	}

	defer func() {
		_ = os.RemoveAll(s.dir)
		s.dir = ""
	}()

	var all []Audit

	for i := range s.spillN {
		path := filepath.Join(s.dir, fmt.Sprintf("block-%06d.lz4", i))

		block, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read audit spill block: %w", err)
		}

		if len(block) < 9 {
			return nil, fmt.Errorf("audit spill block %s truncated", path)
		}

		rawLen := binary.LittleEndian.Uint64(block[:8])
		compressed := block[8] == 1
		payload := block[9:]

		raw := make([]byte, rawLen)
		if compressed {
			_, err = lz4.UncompressBlock(payload, raw)
			if err != nil {
				return nil, fmt.Errorf("decompress audit spill block: %w", err)
			}
		} else {
			copy(raw, payload)
		}

		var rows []Audit

		err = gob.NewDecoder(bytes.NewReader(raw)).Decode(&rows)
		if err != nil {
			return nil, fmt.Errorf("decode audit spill block: %w", err)
		}

		all = append(all, rows...)
	}

	return append(all, s.current...), nil
}
