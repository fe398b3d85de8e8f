package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/syndtr/goleveldb/leveldb"

	"houseportal/houselog"
)

// Ledger is the optional on-disk mirror of delivered batches, enabled by
// `-use-local-storage` so a restarted process can show its own recent
// history before any history service answers (spec.md SPEC_FULL section C.1,
// carried over from the original's `houselog_storage.c`).
type Ledger struct {
	db *leveldb.DB
}

var ledgerLog = houselog.For("eventlog.ledger")

// OpenLedger opens (creating if necessary) a LevelDB database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open local ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Append persists one delivered batch under a monotonically increasing key
// so iteration returns batches in delivery order.
func (l *Ledger) Append(kind string, timestamp int64, rows [][]interface{}) error {
	encodedRows := make([][]byte, 0, len(rows))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		encodedRows = append(encodedRows, b)
	}
	msg := &LedgerBatch{
		Kind:      kind,
		Timestamp: timestamp,
		Rows:      encodedRows,
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("eventlog: marshal ledger batch: %w", err)
	}
	return l.db.Put(ledgerKey(kind, timestamp), data, nil)
}

// Recent returns up to limit most recently appended batches of kind, newest
// first.
func (l *Ledger) Recent(kind string, limit int) ([]*LedgerBatch, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	var out []*LedgerBatch
	prefix := []byte(kind + "\x00")
	for iter.Last(); iter.Valid(); iter.Prev() {
		key := iter.Key()
		if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
			continue
		}
		var msg LedgerBatch
		val := append([]byte(nil), iter.Value()...)
		if err := proto.Unmarshal(val, &msg); err != nil {
			ledgerLog.Warnf("skipping corrupt ledger entry: %v", err)
			continue
		}
		out = append(out, &msg)
		if len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ledgerKey orders entries by kind then timestamp so a reverse scan yields
// the newest batches of a given kind first.
func ledgerKey(kind string, timestamp int64) []byte {
	key := make([]byte, 0, len(kind)+1+8)
	key = append(key, []byte(kind)...)
	key = append(key, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	key = append(key, ts[:]...)
	return key
}

// LedgerBatch is the wire envelope persisted to the local ledger. It uses
// the pre-APIv2 legacy proto.Message shape (Reset/String/ProtoMessage plus
// `protobuf:` struct tags) rather than a generated .pb.go file, since the
// schema here is small and stable; github.com/golang/protobuf's legacy
// support marshals this form directly (see DESIGN.md).
type LedgerBatch struct {
	Kind      string   `protobuf:"bytes,1,opt,name=kind,proto3" json:"kind,omitempty"`
	Timestamp int64    `protobuf:"varint,2,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Rows      [][]byte `protobuf:"bytes,3,rep,name=rows,proto3" json:"rows,omitempty"`
}

func (m *LedgerBatch) Reset()         { *m = LedgerBatch{} }
func (m *LedgerBatch) String() string { return fmt.Sprintf("LedgerBatch{kind=%s,ts=%d,rows=%d}", m.Kind, m.Timestamp, len(m.Rows)) }
func (*LedgerBatch) ProtoMessage()    {}
