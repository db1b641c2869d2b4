// Package cache provides file-based caching for per-file pipeline
// computations, keyed by content-identity tuple rather than a literal
// on-disk append log.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"filmdupe/internal/identity"
)

// Field tags name one bbolt bucket each, matching Record's independently
// optional fields. Renaming a tag bumps the on-disk schema version, since old
// buckets are simply never looked up again under a new name.
const (
	fieldPartialHash = "partial_hash"
	fieldFullHash    = "full_hash"
	fieldVideoMeta   = "video_meta"
	fieldFingerprint = "fingerprint"
)

var allFields = []string{fieldPartialHash, fieldFullHash, fieldVideoMeta, fieldFingerprint}

// HashAlgo names the digest algorithm a hash record was computed with.
// Records are never compared across algorithms.
type HashAlgo string

const (
	AlgoXXHash HashAlgo = "xxhash"
	AlgoSHA256 HashAlgo = "sha256"
)

// PartialHash is the progressive head/tail/mid sample hash used to cheaply
// exclude non-duplicate files before a full read.
type PartialHash struct {
	Algo     HashAlgo `json:"algo"`
	Head     string   `json:"head"`
	Tail     string   `json:"tail"`
	Mid      string   `json:"mid"`
	HeadSize int64    `json:"head_bytes"`
	TailSize int64    `json:"tail_bytes"`
	MidSize  int64    `json:"mid_bytes"`
}

// FullHash is the whole-file digest used as exact-duplicate proof.
type FullHash struct {
	Algo   HashAlgo `json:"algo"`
	Digest string   `json:"digest"`
}

// VideoMeta is probed container/stream metadata.
type VideoMeta struct {
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec"`
	Container   string  `json:"container"`
	BitrateKbps int64   `json:"bitrate_kbps,omitempty"`
	FPS         float64 `json:"fps,omitempty"`
}

// FrameHash is one sampled, perceptually-hashed frame.
type FrameHash struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Index        int     `json:"index"`
	PHash        uint64  `json:"phash_u64"`
}

// Fingerprint is the ordered sequence of sampled frame hashes for a video.
type Fingerprint struct {
	Frames []FrameHash `json:"frames"`
}

// Record is the heterogeneous, polymorphic set of cached values for one
// CacheKey. Each field is independently optional; zero value means "not yet
// computed," not "computed as empty."
type Record struct {
	PartialHash *PartialHash `json:"partial_hash,omitempty"`
	FullHash    *FullHash    `json:"full_hash,omitempty"`
	VideoMeta   *VideoMeta   `json:"video_meta,omitempty"`
	Fingerprint *Fingerprint `json:"fingerprint,omitempty"`
}

// Cache provides persistent, per-identity memoization of pipeline
// computations using BoltDB. It is self-cleaning: each run reads from the
// prior generation and writes a fresh one; only entries actually looked up
// or stored during the run survive into the next generation, so stale
// entries for vanished files never accumulate.
type Cache struct {
	readDB  *bolt.DB // prior generation (read-only)
	writeDB *bolt.DB // fresh generation (write) - BoltDB locks this file
	path    string   // final path (for atomic swap)
	enabled bool
}

// Open opens the existing cache generation for reading and creates a fresh
// generation for writing. Returns a disabled no-op cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		readDB, err := bolt.Open(path, 0o600, &bolt.Options{
			ReadOnly: true,
			Timeout:  1 * time.Second,
		})
		if err == nil {
			c.readDB = readDB
		}
	}

	newPath := path + ".new"
	writeDB, err := bolt.Open(newPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache generation (locked by another instance?): %w", err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		for _, field := range allFields {
			if _, err := tx.CreateBucketIfNotExists([]byte(field)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both generations and atomically replaces the prior one with
// the fresh one. Only replaces if the write generation closed successfully,
// to avoid losing the prior cache on a partial failure.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if c.path != "" {
			if err := os.Rename(c.path+".new", c.path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// storedValue wraps every cached payload with the precise mtime of the
// observation that wrote it. Row keys truncate mtime to whole seconds, so
// the row alone cannot prove a candidate is within the reconciliation
// tolerance; Load checks the stored mtime against the lookup key instead.
type storedValue struct {
	MtimeUnixNano int64           `json:"mtime_unix_nano"`
	Payload       json.RawMessage `json:"payload"`
}

// Load reads every field present for key from the prior generation,
// coalescing them into a single Record, and copies hits forward into the
// fresh generation (self-cleaning). Returns a zero Record on a full miss; a
// per-field decode failure is treated the same as a miss for that field.
func (c *Cache) Load(key identity.CacheKey) Record {
	var rec Record
	if !c.enabled || c.readDB == nil {
		return rec
	}

	rows := rowKeys(key)

	_ = c.readDB.View(func(tx *bolt.Tx) error {
		get := func(field string) []byte {
			b := tx.Bucket([]byte(field))
			if b == nil {
				return nil
			}
			for _, row := range rows {
				data := b.Get(row)
				if data == nil {
					continue
				}
				var sv storedValue
				if json.Unmarshal(data, &sv) != nil {
					continue
				}
				stored := key
				stored.ModTime = time.Unix(0, sv.MtimeUnixNano)
				if !key.Matches(stored) {
					continue
				}
				return sv.Payload
			}
			return nil
		}

		if data := get(fieldPartialHash); data != nil {
			var v PartialHash
			if json.Unmarshal(data, &v) == nil {
				rec.PartialHash = &v
			}
		}
		if data := get(fieldFullHash); data != nil {
			var v FullHash
			if json.Unmarshal(data, &v) == nil {
				rec.FullHash = &v
			}
		}
		if data := get(fieldVideoMeta); data != nil {
			var v VideoMeta
			if json.Unmarshal(data, &v) == nil {
				rec.VideoMeta = &v
			}
		}
		if data := get(fieldFingerprint); data != nil {
			var v Fingerprint
			if json.Unmarshal(data, &v) == nil {
				rec.Fingerprint = &v
			}
		}
		return nil
	})

	c.carryForward(key, rec)
	return rec
}

// rowKeys returns key's own row followed by the rows a writer observing the
// same file with an mtime inside the reconciliation tolerance could have
// stored under: row keys truncate mtime to whole seconds, so two
// observations under a second apart can land in adjacent rows. Rows only
// locate candidates; Load verifies each candidate's precise stored mtime
// before accepting it, and carryForward re-stores accepted neighbor hits
// under the current key.
func rowKeys(key identity.CacheKey) [][]byte {
	own := key.Bucket()
	rows := [][]byte{[]byte(own)}
	for _, d := range []time.Duration{-time.Second, time.Second} {
		shifted := key
		shifted.ModTime = key.ModTime.Add(d)
		if b := shifted.Bucket(); b != own {
			rows = append(rows, []byte(b))
		}
	}
	return rows
}

// carryForward copies whatever fields were found during Load into the fresh
// generation, so a field that's merely re-read (not recomputed) this run
// still survives into the next cache generation.
func (c *Cache) carryForward(key identity.CacheKey, rec Record) {
	if rec.PartialHash != nil {
		_ = c.StorePartialHash(key, *rec.PartialHash)
	}
	if rec.FullHash != nil {
		_ = c.StoreFullHash(key, *rec.FullHash)
	}
	if rec.VideoMeta != nil {
		_ = c.StoreVideoMeta(key, *rec.VideoMeta)
	}
	if rec.Fingerprint != nil {
		_ = c.StoreFingerprint(key, *rec.Fingerprint)
	}
}

func (c *Cache) store(field string, key identity.CacheKey, value any) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", field, err)
	}
	data, err := json.Marshal(storedValue{MtimeUnixNano: key.ModTime.UnixNano(), Payload: payload})
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", field, err)
	}
	err = c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(field))
		return b.Put([]byte(key.Bucket()), data)
	})
	if err != nil {
		return fmt.Errorf("cache store %s: %w", field, err)
	}
	return nil
}

// StorePartialHash persists a partial-hash record. A later store for the same
// key replaces it, whatever its algorithm; no earlier record is kept.
func (c *Cache) StorePartialHash(key identity.CacheKey, v PartialHash) error {
	return c.store(fieldPartialHash, key, v)
}

// StoreFullHash persists a full-hash record.
func (c *Cache) StoreFullHash(key identity.CacheKey, v FullHash) error {
	return c.store(fieldFullHash, key, v)
}

// StoreVideoMeta persists probed container/stream metadata.
func (c *Cache) StoreVideoMeta(key identity.CacheKey, v VideoMeta) error {
	return c.store(fieldVideoMeta, key, v)
}

// StoreFingerprint persists the sampled perceptual-hash sequence.
func (c *Cache) StoreFingerprint(key identity.CacheKey, v Fingerprint) error {
	return c.store(fieldFingerprint, key, v)
}
