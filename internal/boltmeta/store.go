// Package boltmeta keeps published content area records in a bolt file so
// the renderer can serve meta fields without a running editor session.
package boltmeta

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/dannyswat/contentarea"
)

var recordsBucket = []byte("records")

const formatVersion uint32 = 1

// record is the on-disk form of one published post.
type record struct {
	Version   uint32            `msgpack:"version"`
	Kind      string            `msgpack:"kind"`
	Name      string            `msgpack:"name"`
	ID        int64             `msgpack:"id"`
	Meta      map[string]string `msgpack:"meta"`
	Protected bool              `msgpack:"protected"`
	Editable  bool              `msgpack:"editable"`
}

func (r record) ref() contentarea.EntityRef {
	return contentarea.EntityRef{Kind: r.Kind, Name: r.Name, ID: r.ID}
}

func (r record) data() contentarea.RecordData {
	return contentarea.RecordData{Meta: r.Meta, Protected: r.Protected, Editable: r.Editable}
}

// Store persists published records keyed by post id. It implements
// contentarea.Publisher and contentarea.MetaReader.
type Store struct {
	db  *bolt.DB
	log logrus.FieldLogger
}

// Open opens or creates the bolt file at path.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create bucket %q", recordsBucket)
	}
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func postKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// Publish overwrites the stored record of ref.ID.
func (s *Store) Publish(ref contentarea.EntityRef, data contentarea.RecordData) error {
	if !ref.Valid() {
		return fmt.Errorf("publish: invalid entity %v", ref)
	}
	payload, err := msgpack.Marshal(record{
		Version:   formatVersion,
		Kind:      ref.Kind,
		Name:      ref.Name,
		ID:        ref.ID,
		Meta:      data.Meta,
		Protected: data.Protected,
		Editable:  data.Editable,
	})
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(postKey(ref.ID), payload)
	})
	if err != nil {
		return errors.Wrapf(err, "store post %d", ref.ID)
	}
	s.log.WithField("action", "publish_record").
		WithField("post_id", ref.ID).
		Debug("record published")
	return nil
}

// Get returns the stored record of postID.
func (s *Store) Get(postID int64) (contentarea.EntityRef, contentarea.RecordData, bool, error) {
	var (
		rec   record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket(recordsBucket).Get(postKey(postID))
		if payload == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(payload, &rec)
	})
	if err != nil {
		return contentarea.EntityRef{}, contentarea.RecordData{}, false, errors.Wrapf(err, "read post %d", postID)
	}
	if !found {
		return contentarea.EntityRef{}, contentarea.RecordData{}, false, nil
	}
	if rec.Version > formatVersion {
		return contentarea.EntityRef{}, contentarea.RecordData{}, false,
			fmt.Errorf("read post %d: unsupported format version %d", postID, rec.Version)
	}
	return rec.ref(), rec.data(), true, nil
}

// PublishedMeta reads one published field. Read failures are logged and
// reported as a missing value.
func (s *Store) PublishedMeta(_ context.Context, postID int64, key string) (string, bool) {
	_, data, ok, err := s.Get(postID)
	if err != nil {
		s.log.WithField("action", "published_meta").
			WithField("post_id", postID).
			WithError(err).
			Warn("read published record")
		return "", false
	}
	if !ok {
		return "", false
	}
	v, ok := data.Meta[key]
	return v, ok
}

// LoadInto hands every stored record to mem and returns how many were loaded.
func (s *Store) LoadInto(ctx context.Context, mem *contentarea.MemoryStore) (int, error) {
	var recs []record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, payload []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec record
			if err := msgpack.Unmarshal(payload, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrap(err, "load records")
	}
	for _, rec := range recs {
		mem.Receive(rec.ref(), rec.data())
	}
	return len(recs), nil
}
