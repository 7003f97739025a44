// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var pagesBucket = []byte("pages")

// boltStager keeps every page of a tag in one bbolt database, keyed by
// the big-endian page index.
type boltStager struct {
	db     *bbolt.DB
	params Params
}

func newBoltStager(path string, params Params) (*boltStager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening page database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing page database %s: %w", path, err)
	}
	return &boltStager{db: db, params: params}, nil
}

func (s *boltStager) Params() Params { return s.params }

func pageKey(blobName string) ([]byte, error) {
	index, err := ParsePageName(blobName)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint64(nil, index), nil
}

func (s *boltStager) StageIn(blobName string) ([]byte, error) {
	if s.params.Flags.Has(NoRead) {
		return nil, nil
	}
	key, err := pageKey(blobName)
	if err != nil {
		return nil, err
	}
	var page []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid inside the transaction.
		if value := tx.Bucket(pagesBucket).Get(key); len(value) > 0 {
			page = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading page %s: %w", blobName, err)
	}
	return page, nil
}

func (s *boltStager) StageOut(blobName string, data []byte) error {
	if s.params.Flags.Has(NoWrite) {
		return nil
	}
	key, err := pageKey(blobName)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pagesBucket).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("writing page %s: %w", blobName, err)
	}
	return nil
}

func (s *boltStager) UpdateSize(blobName string, blobOffset, size uint64) (uint64, error) {
	return backendSize(blobName, s.params.PageSize, blobOffset, size)
}

func (s *boltStager) Close() error { return s.db.Close() }
