package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	statsBucket = []byte("stats")
	snapshotKey = []byte("counters")
)

// record is the on-disk form of a Stats. Counters are keyed by the names in
// Stats.counters so that adding a counter does not break older files.
type record struct {
	Counters     map[string]int64        `json:"counters"`
	Errors       map[string]int64        `json:"errors"`
	Latency      map[string]latencyState `json:"latency"`
	FirstStarted time.Time               `json:"first_started"`
	SavedAt      time.Time               `json:"saved_at"`
}

// Store persists one Stats in its own bolt file so counters survive restarts.
type Store struct {
	db    *bolt.DB
	stats *Stats

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewStore(path string, s *Stats) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create stats directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(statsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stats bucket: %w", err)
	}

	log.Infof("%s Stats store opened at %s", logcolors.LogStats, path)
	return &Store{db: db, stats: s, stop: make(chan struct{})}, nil
}

func (st *Store) read() (*record, error) {
	var rec *record
	err := st.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(statsBucket).Get(snapshotKey)
		if data == nil {
			return nil
		}
		rec = &record{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// Load applies the saved counters to the live Stats. A missing record is
// not an error.
func (st *Store) Load() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.read()
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	if rec == nil {
		return nil
	}

	s := st.stats
	for name, c := range s.counters() {
		if v, ok := rec.Counters[name]; ok {
			c.Store(v)
		}
	}
	for kind, n := range rec.Errors {
		s.errorCounter(kind).Store(n)
	}
	if l, ok := rec.Latency["all"]; ok {
		s.all.restore(l)
	}
	if l, ok := rec.Latency["analysis"]; ok {
		s.analysis.restore(l)
	}
	if !rec.FirstStarted.IsZero() {
		s.StartTime = rec.FirstStarted
	}

	log.Infof("%s Restored stats saved at %s (%d requests since %s)", logcolors.LogStats,
		rec.SavedAt.Format(time.RFC3339), rec.Counters["requests.total"], rec.FirstStarted.Format(time.RFC3339))
	return nil
}

func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.stats
	rec := record{
		Counters: make(map[string]int64),
		Errors:   s.ErrorCounts(),
		Latency: map[string]latencyState{
			"all":      s.all.state(),
			"analysis": s.analysis.state(),
		},
		FirstStarted: s.StartTime,
		SavedAt:      time.Now(),
	}
	for name, c := range s.counters() {
		rec.Counters[name] = c.Load()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(statsBucket).Put(snapshotKey, data)
	}); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// StartAutoSave saves every interval until Close.
func (st *Store) StartAutoSave(interval time.Duration) {
	ticker := time.NewTicker(interval)
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-st.stop:
				return
			case <-ticker.C:
				if err := st.Save(); err != nil {
					log.Warnf("%s Auto-save failed: %v", logcolors.LogStats, err)
				}
			}
		}
	}()
	log.Debugf("%s Auto-saving every %v", logcolors.LogStats, interval)
}

// Close stops auto-save, writes a final snapshot and closes the file.
func (st *Store) Close() error {
	close(st.stop)
	st.wg.Wait()

	if err := st.Save(); err != nil {
		log.Warnf("%s Final save failed: %v", logcolors.LogStats, err)
	}
	return st.db.Close()
}
