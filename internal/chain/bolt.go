package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	txBucket   = []byte("transactions")
	metaBucket = []byte("meta")
	blockKey   = []byte("next_block")
)

// BoltLedger is the mock ledger backend: transactions in a local bbolt file
// with a monotonic per-chain block counter. One file per chain instance.
type BoltLedger struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Ledger = (*BoltLedger)(nil)

// OpenBolt opens (or creates) a bbolt-backed ledger at path.
func OpenBolt(path string) (*BoltLedger, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(txBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltLedger{db: db, now: time.Now}, nil
}

func (l *BoltLedger) Close() error { return l.db.Close() }

type storedTx struct {
	Ref             string    `json:"ref"`
	InvestigationID string    `json:"investigation_id"`
	Digest          string    `json:"digest"`
	BlockNumber     uint64    `json:"block_number"`
	Timestamp       time.Time `json:"timestamp"`
	Meta            Meta      `json:"meta,omitempty"`
}

func (l *BoltLedger) Append(ctx context.Context, investigationID, digest string, meta Meta) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return Tx{}, ErrTimeout
	}
	now := l.now().UTC()
	var out Tx
	err := l.db.Update(func(btx *bbolt.Tx) error {
		mb := btx.Bucket(metaBucket)
		block := uint64(1)
		if raw := mb.Get(blockKey); raw != nil {
			block = binary.BigEndian.Uint64(raw)
		}
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], block+1)
		if err := mb.Put(blockKey, next[:]); err != nil {
			return err
		}

		ref := txRef(investigationID, digest, meta, block, now)
		rec := storedTx{
			Ref:             ref,
			InvestigationID: investigationID,
			Digest:          digest,
			BlockNumber:     block,
			Timestamp:       now,
			Meta:            meta,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := btx.Bucket(txBucket).Put([]byte(ref), data); err != nil {
			return err
		}
		out = Tx{Ref: ref, BlockNumber: block, Digest: digest, Timestamp: now}
		return nil
	})
	if err != nil {
		return Tx{}, err
	}
	return out, nil
}

func (l *BoltLedger) Get(ctx context.Context, ref string) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return Tx{}, ErrTimeout
	}
	var rec storedTx
	err := l.db.View(func(btx *bbolt.Tx) error {
		data := btx.Bucket(txBucket).Get([]byte(ref))
		if data == nil {
			return fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Tx{}, err
	}
	return Tx{Ref: rec.Ref, BlockNumber: rec.BlockNumber, Digest: rec.Digest, Timestamp: rec.Timestamp}, nil
}

// txRef derives the mock transaction hash the way the real ledger does:
// a digest over the appended content and position.
func txRef(investigationID, digest string, meta Meta, block uint64, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(investigationID))
	h.Write([]byte(digest))
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(meta[k]))
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	h.Write(b[:])
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
