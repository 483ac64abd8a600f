// Package stats tracks per-channel send/fail counters in hourly buckets.
// The engine is the only writer; counters are never decremented and old
// buckets are removed by retention, not mutation.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSendingStats = []byte("sending_stats")

const (
	dateLayout = "2006-01-02"
	hourLayout = "15"
)

// Counter holds the two outcome counters for one channel/date/hour bucket.
type Counter struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Store keeps counters in memory and persists them to BoltDB on an
// interval and on Stop.
type Store struct {
	db            *bolt.DB
	ownsDB        bool
	flushInterval time.Duration

	mu       sync.RWMutex
	counters map[string]*Counter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open opens (or creates) the stats database at path.
func Open(path string, flushInterval time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	s, err := NewStore(db, flushInterval)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore wraps an existing BoltDB handle; tests pass a temp-file db.
func NewStore(db *bolt.DB, flushInterval time.Duration) (*Store, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSendingStats)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stats bucket: %w", err)
	}

	s := &Store{
		db:            db,
		flushInterval: flushInterval,
		counters:      make(map[string]*Counter),
		stopCh:        make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	go s.persistLoop()
	return s, nil
}

// Record increments exactly one counter (sent or failed) in the bucket for
// the current hour.
func (s *Store) Record(channel string, ok bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeKey(channel, now)
	counter, exists := s.counters[key]
	if !exists {
		counter = &Counter{}
		s.counters[key] = counter
	}
	if ok {
		counter.Sent++
	} else {
		counter.Failed++
	}
}

// HourlySent returns the sent count for the channel in the current hour.
func (s *Store) HourlySent(channel string, now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if counter, exists := s.counters[makeKey(channel, now)]; exists {
		return counter.Sent
	}
	return 0
}

// DailySent returns the sent count for the channel across the current day.
func (s *Store) DailySent(channel string, now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := channel + "|" + now.Format(dateLayout) + "|"
	total := 0
	for key, counter := range s.counters {
		if strings.HasPrefix(key, prefix) {
			total += counter.Sent
		}
	}
	return total
}

// DailyFailed returns the failed count for the channel across the current day.
func (s *Store) DailyFailed(channel string, now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := channel + "|" + now.Format(dateLayout) + "|"
	total := 0
	for key, counter := range s.counters {
		if strings.HasPrefix(key, prefix) {
			total += counter.Failed
		}
	}
	return total
}

// Prune removes buckets older than retentionDays, in memory and on disk.
func (s *Store) Prune(retentionDays int, now time.Time) error {
	cutoff := now.AddDate(0, 0, -retentionDays).Format(dateLayout)

	s.mu.Lock()
	for key := range s.counters {
		if keyDate(key) < cutoff {
			delete(s.counters, key)
		}
	}
	s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSendingStats)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if keyDate(string(k)) < cutoff {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Stop persists counters, stops the background flush and, when the store
// opened its own database, closes it.
func (s *Store) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	err := s.persist()
	if s.ownsDB {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSendingStats)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // skip invalid entries
			}
			s.counters[string(k)] = &counter
			return nil
		})
	})
}

func (s *Store) persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSendingStats)
		if bucket == nil {
			return nil
		}
		for key, counter := range s.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) persistLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.persist()
		}
	}
}

func makeKey(channel string, t time.Time) string {
	return channel + "|" + t.Format(dateLayout) + "|" + t.Format(hourLayout)
}

// keyDate extracts the date component of a channel|date|hour key.
func keyDate(key string) string {
	parts := strings.Split(key, "|")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
