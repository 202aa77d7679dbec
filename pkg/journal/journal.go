package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/internal"
	"go.etcd.io/bbolt"
)

const (
	BatchesBucket = "batches"
)

var (
	ErrNilDB         = errors.New("journal database is nil")
	ErrBucketMissing = errors.New("journal bucket not found")
	ErrInvalidRecord = errors.New("invalid journal record")
)

// Record
// one classified batch as it was delivered for a watched root.
type Record struct {
	Seq   uint64                `json:"sq"`
	Root  string                `json:"r"`
	Time  time.Time             `json:"t"`
	Types []internal.ChangeType `json:"tp"`
	Paths []string              `json:"p"`
}

type recordJSON Record

// MarshalJSON keeps root and paths byte exact, file names need not be UTF-8.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recordJSON
		Root  internal.Path  `json:"r"`
		Paths internal.Paths `json:"p"`
	}{
		recordJSON: recordJSON(r),
		Root:       internal.Path(r.Root),
		Paths:      r.Paths,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	aux := struct {
		*recordJSON
		Root  internal.Path  `json:"r"`
		Paths internal.Paths `json:"p"`
	}{
		recordJSON: (*recordJSON)(r),
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Root = string(aux.Root)
	r.Paths = aux.Paths
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("record :: seq: %d, root: %s, events: %d", r.Seq, r.Root, len(r.Paths))
}

type Config struct {
	Path     string
	FileMode os.FileMode
	Options  *bbolt.Options
}

// Journal
// append only store of classified batches, keyed by a monotonic sequence.
type Journal struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	logger *log.Logger
}

func Open(cfg Config, logger *log.Logger) (*Journal, error) {
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}
	if cfg.Options == nil {
		cfg.Options = &bbolt.Options{Timeout: time.Second}
	}

	db, err := bbolt.Open(cfg.Path, cfg.FileMode, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BatchesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	logger.Printf("journal :: opened %s\n", cfg.Path)

	return &Journal{
		db:     db,
		logger: logger,
	}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrNilDB
	}
	return j.db.Close()
}

// Append stores a batch and returns it with its assigned sequence.
func (j *Journal) Append(root string, types []internal.ChangeType, paths []string) (Record, error) {
	if len(types) != len(paths) {
		return Record{}, errors.Join(ErrInvalidRecord, fmt.Errorf("%d types != %d paths", len(types), len(paths)))
	}

	r := Record{
		Root:  root,
		Time:  time.Now().UTC(),
		Types: append([]internal.ChangeType(nil), types...),
		Paths: append([]string(nil), paths...),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BatchesBucket))
		if bucket == nil {
			return ErrBucketMissing
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		r.Seq = seq

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return bucket.Put(key(seq), data)
	})
	if err != nil {
		return Record{}, err
	}

	return r, nil
}

// Since returns up to limit records with a sequence greater than seq, in
// sequence order. A limit <= 0 returns everything.
func (j *Journal) Since(seq uint64, limit int) ([]Record, error) {
	var records []Record

	j.mu.RLock()
	defer j.mu.RUnlock()

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BatchesBucket))
		if bucket == nil {
			return ErrBucketMissing
		}

		c := bucket.Cursor()
		for k, v := c.Seek(key(seq + 1)); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Join(ErrInvalidRecord, err)
			}
			records = append(records, r)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Last returns the highest stored sequence, 0 for an empty journal.
func (j *Journal) Last() (uint64, error) {
	var last uint64

	j.mu.RLock()
	defer j.mu.RUnlock()

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BatchesBucket))
		if bucket == nil {
			return ErrBucketMissing
		}
		if k, _ := bucket.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})

	return last, err
}

// Recorder returns a notifier that stores every batch of root and hands
// the stored record to each sink.
func (j *Journal) Recorder(root string, sinks ...func(Record)) internal.Notifier {
	return internal.NotifyFunc(func(numEvents int, types []internal.ChangeType, paths []string) {
		r, err := j.Append(root, types[:numEvents], paths[:numEvents])
		if err != nil {
			j.logger.Printf("ERROR journal :: got error %v on append for %s\n", err, root)
			return
		}
		for _, sink := range sinks {
			sink(r)
		}
	})
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
