// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

// Package badgerdb provides an embedded storage backend on Badger.
// Importing it registers the "badger" driver; select it with
// db.backend and point db.driver.badger.path at a writable directory.
package badgerdb

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/goaib/goaib"
)

func init() {
	goaib.RegisterDriver("badger", open)
}

type driver struct {
	db *badger.DB
}

func open(conf *goaib.ConfigTree) (goaib.Driver, error) {
	path := conf.GetString("path")
	if path == "" {
		return nil, errors.New("badgerdb: no path configured")
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: opening %s: %w", path, err)
	}
	return &driver{db: db}, nil
}

// recordKey namespaces keys by bucket with a NUL separator, which
// cannot appear in either part of a JSON-ish key space.
func recordKey(bucket, key string) []byte {
	return append(append([]byte(bucket), 0), key...)
}

func bucketPrefix(bucket string) []byte {
	return append([]byte(bucket), 0)
}

func (d *driver) GetObject(bucket, key string) (string, bool, error) {
	var data string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(bucket, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return data, true, nil
}

func (d *driver) SetObject(bucket, key, data string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(bucket, key), []byte(data))
	})
}

func (d *driver) UpdateObject(bucket, key, data string) error {
	return d.SetObject(bucket, key, data)
}

func (d *driver) UpdateObjectKey(bucket, oldKey, newKey string) error {
	return d.move(recordKey(bucket, oldKey), recordKey(bucket, newKey))
}

func (d *driver) UpdateObjectBucket(key, oldBucket, newBucket string) error {
	return d.move(recordKey(oldBucket, key), recordKey(newBucket, key))
}

func (d *driver) move(from, to []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(from)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set(to, data); err != nil {
			return err
		}
		return txn.Delete(from)
	})
}

func (d *driver) GetAllObjects(bucket string) ([]goaib.StoredObject, error) {
	prefix := bucketPrefix(bucket)

	var objects []goaib.StoredObject
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])

			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			objects = append(objects, goaib.StoredObject{Key: key, Data: string(data)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (d *driver) DeleteObject(bucket, key string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(recordKey(bucket, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (d *driver) Close() error {
	return d.db.Close()
}
