// Package store pkg/toggle-api/store/history_badger.go
package store

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"github.com/skycoin/dongle-services/internal/dongle"
)

// historyTTL bounds how long journal entries are kept on disk.
const historyTTL = 30 * 24 * time.Hour

type badgerHistory struct {
	db *badger.DB
}

// NewBadgerHistory opens (or creates) a badger journal in dir.
func NewBadgerHistory(dir string, log logrus.FieldLogger) (History, error) {
	opts := badger.DefaultOptions(dir)
	if log != nil {
		opts = opts.WithLogger(log)
	} else {
		opts = opts.WithLogger(nil)
	}
	return openBadgerHistory(opts)
}

// OpenHistoryReadOnly opens an existing badger journal for reading. It fails
// while another process holds the journal open.
func OpenHistoryReadOnly(dir string) (History, error) {
	return openBadgerHistory(badger.DefaultOptions(dir).WithReadOnly(true).WithLogger(nil))
}

func openBadgerHistory(opts badger.Options) (History, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &badgerHistory{db: db}, nil
}

func historyPrefix(subnet int) []byte {
	return []byte(fmt.Sprintf("ev/%03d/", subnet))
}

func historyKey(ev dongle.Event) []byte {
	return []byte(fmt.Sprintf("ev/%03d/%020d/%s", ev.Subnet, ev.Time.UnixNano(), ev.ID))
}

func (h *badgerHistory) Append(ev dongle.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(historyKey(ev), raw).WithTTL(historyTTL))
	})
}

func (h *badgerHistory) Latest(subnet int, limit int) ([]dongle.Event, error) {
	limit = clampLimit(limit)
	prefix := historyPrefix(subnet)
	out := make([]dongle.Event, 0, limit)

	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var ev dongle.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (h *badgerHistory) Close() error {
	return h.db.Close()
}
