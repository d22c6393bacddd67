// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
)

// StoredObject is one serialized record returned by a bulk scan.
type StoredObject struct {
	Key  string
	Data string
}

// Driver is the pluggable persistence contract. Values cross the
// boundary as serialized JSON strings; buckets namespace keys.
type Driver interface {
	GetObject(bucket, key string) (data string, found bool, err error)
	SetObject(bucket, key, data string) error
	UpdateObject(bucket, key, data string) error
	UpdateObjectKey(bucket, oldKey, newKey string) error
	UpdateObjectBucket(key, oldBucket, newBucket string) error
	GetAllObjects(bucket string) ([]StoredObject, error)
	DeleteObject(bucket, key string) error
	Close() error
}

// DriverFactory builds a driver from its db.driver.<name> config scope.
type DriverFactory func(conf *ConfigTree) (Driver, error)

var driverRegistry = struct {
	mu    sync.RWMutex
	table map[string]DriverFactory
}{table: make(map[string]DriverFactory)}

// RegisterDriver makes a storage backend selectable via db.backend.
// Driver packages call this from init, so importing a driver package is
// all it takes to enable it.
func RegisterDriver(name string, factory DriverFactory) {
	driverRegistry.mu.Lock()
	driverRegistry.table[name] = factory
	driverRegistry.mu.Unlock()
}

func lookupDriver(name string) (DriverFactory, bool) {
	driverRegistry.mu.RLock()
	defer driverRegistry.mu.RUnlock()
	factory, ok := driverRegistry.table[name]
	return factory, ok
}

// ObjectStore is the storage facade components see: buckets of keyed
// values with change-detecting Items on top of whichever driver the
// db.backend config selects.
type ObjectStore struct {
	driver Driver
	debug  *log.Logger
}

// Hooks implements Component; storage wires no observers.
func (s *ObjectStore) Hooks() []Hook { return nil }

// Get fetches bucket/key as an Item. A missing record yields an Item
// with a nil Value, so callers populate and Commit without caring
// whether it existed.
func (s *ObjectStore) Get(bucket, key string) (*Item, error) {
	item := &Item{store: s, Bucket: bucket, Key: key, baseBucket: bucket, baseKey: key}

	data, found, err := s.driver.GetObject(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("db: get %s/%s: %w", bucket, key, err)
	}
	if !found {
		return item, nil
	}

	if err := json.Unmarshal([]byte(data), &item.Value); err != nil {
		return nil, fmt.Errorf("db: decode %s/%s: %w", bucket, key, err)
	}
	item.baseHash = hashData(data)
	return item, nil
}

// GetAll returns every Item in a bucket, sorted by key.
func (s *ObjectStore) GetAll(bucket string) ([]*Item, error) {
	objects, err := s.driver.GetAllObjects(bucket)
	if err != nil {
		return nil, fmt.Errorf("db: scan %s: %w", bucket, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	items := make([]*Item, 0, len(objects))
	for _, obj := range objects {
		item := &Item{store: s, Bucket: bucket, Key: obj.Key, baseBucket: bucket, baseKey: obj.Key}
		if err := json.Unmarshal([]byte(obj.Data), &item.Value); err != nil {
			return nil, fmt.Errorf("db: decode %s/%s: %w", bucket, obj.Key, err)
		}
		item.baseHash = hashData(obj.Data)
		items = append(items, item)
	}
	return items, nil
}

// Set stores value directly, bypassing the Item change tracking.
func (s *ObjectStore) Set(bucket, key string, value interface{}) error {
	data, err := jsonify(value)
	if err != nil {
		return fmt.Errorf("db: encode %s/%s: %w", bucket, key, err)
	}
	return s.driver.SetObject(bucket, key, data)
}

// Delete removes bucket/key; deleting a missing record is not an error.
func (s *ObjectStore) Delete(bucket, key string) error {
	return s.driver.DeleteObject(bucket, key)
}

// GetBucket returns a view bound to one bucket name.
func (s *ObjectStore) GetBucket(name string) *Bucket {
	return &Bucket{store: s, name: name}
}

// Close shuts the underlying driver down.
func (s *ObjectStore) Close() error {
	return s.driver.Close()
}

// Item is a value with memory of how it was loaded: its content hash
// and its original bucket/key. Commit compares against that baseline
// and issues the one driver operation the difference calls for.
type Item struct {
	store *ObjectStore

	Bucket string
	Key    string
	Value  interface{}

	baseBucket string
	baseKey    string
	baseHash   string
}

// Commit reconciles the item with storage. Changed content updates in
// place (or deletes, when the value emptied out); unchanged content
// with a reassigned bucket or key moves the record. A clean item is a
// no-op. The baseline refreshes on success, so consecutive commits of
// an untouched item do nothing.
func (i *Item) Commit() error {
	data, err := jsonify(i.Value)
	if err != nil {
		return fmt.Errorf("db: encode %s/%s: %w", i.Bucket, i.Key, err)
	}
	hash := hashData(data)
	empty := isEmptyValue(i.Value)
	moved := i.Bucket != i.baseBucket || i.Key != i.baseKey

	switch {
	case hash != i.baseHash:
		if empty {
			if err := i.store.driver.DeleteObject(i.baseBucket, i.baseKey); err != nil {
				return err
			}
			hash = ""
		} else {
			if moved && i.baseHash != "" {
				if err := i.store.driver.DeleteObject(i.baseBucket, i.baseKey); err != nil {
					return err
				}
			}
			if err := i.store.driver.UpdateObject(i.Bucket, i.Key, data); err != nil {
				return err
			}
		}
	case i.Bucket != i.baseBucket:
		if empty {
			err = i.store.driver.DeleteObject(i.baseBucket, i.baseKey)
			hash = ""
		} else {
			err = i.store.driver.UpdateObjectBucket(i.Key, i.baseBucket, i.Bucket)
		}
		if err != nil {
			return err
		}
	case i.Key != i.baseKey:
		if empty {
			err = i.store.driver.DeleteObject(i.baseBucket, i.baseKey)
			hash = ""
		} else {
			err = i.store.driver.UpdateObjectKey(i.Bucket, i.baseKey, i.Key)
		}
		if err != nil {
			return err
		}
	}

	i.baseBucket = i.Bucket
	i.baseKey = i.Key
	i.baseHash = hash
	return nil
}

// Reload replaces Value and the baseline with what storage holds at the
// item's current bucket/key.
func (i *Item) Reload() error {
	fresh, err := i.store.Get(i.Bucket, i.Key)
	if err != nil {
		return err
	}
	i.Value = fresh.Value
	i.baseBucket = fresh.baseBucket
	i.baseKey = fresh.baseKey
	i.baseHash = fresh.baseHash
	return nil
}

// Delete removes the stored record and clears the item.
func (i *Item) Delete() error {
	if err := i.store.driver.DeleteObject(i.baseBucket, i.baseKey); err != nil {
		return err
	}
	i.Value = nil
	i.baseHash = ""
	return nil
}

// Bucket is an ObjectStore view fixed to one bucket.
type Bucket struct {
	store *ObjectStore
	name  string
}

func (b *Bucket) Name() string { return b.name }

func (b *Bucket) Get(key string) (*Item, error) {
	return b.store.Get(b.name, key)
}

func (b *Bucket) GetAll() ([]*Item, error) {
	return b.store.GetAll(b.name)
}

func (b *Bucket) Set(key string, value interface{}) error {
	return b.store.Set(b.name, key, value)
}

func (b *Bucket) Delete(key string) error {
	return b.store.Delete(b.name, key)
}

// jsonify renders value as canonical JSON: encoding/json emits map keys
// sorted, so equal values always serialize to equal bytes.
func jsonify(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func hashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// isEmptyValue reports whether value should count as deleted content:
// nil, empty strings, and empty containers.
func isEmptyValue(value interface{}) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// memoryDriver keeps everything in process memory. The default backend
// for tests and for bots that do not care about persistence.
type memoryDriver struct {
	mu      sync.RWMutex
	buckets map[string]map[string]string
}

func newMemoryDriver(conf *ConfigTree) (Driver, error) {
	return &memoryDriver{buckets: make(map[string]map[string]string)}, nil
}

func (d *memoryDriver) GetObject(bucket, key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.buckets[bucket][key]
	return data, ok, nil
}

func (d *memoryDriver) SetObject(bucket, key, data string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buckets[bucket] == nil {
		d.buckets[bucket] = make(map[string]string)
	}
	d.buckets[bucket][key] = data
	return nil
}

func (d *memoryDriver) UpdateObject(bucket, key, data string) error {
	return d.SetObject(bucket, key, data)
}

func (d *memoryDriver) UpdateObjectKey(bucket, oldKey, newKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if data, ok := d.buckets[bucket][oldKey]; ok {
		delete(d.buckets[bucket], oldKey)
		d.buckets[bucket][newKey] = data
	}
	return nil
}

func (d *memoryDriver) UpdateObjectBucket(key, oldBucket, newBucket string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if data, ok := d.buckets[oldBucket][key]; ok {
		delete(d.buckets[oldBucket], key)
		if d.buckets[newBucket] == nil {
			d.buckets[newBucket] = make(map[string]string)
		}
		d.buckets[newBucket][key] = data
	}
	return nil
}

func (d *memoryDriver) GetAllObjects(bucket string) ([]StoredObject, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	objects := make([]StoredObject, 0, len(d.buckets[bucket]))
	for key, data := range d.buckets[bucket] {
		objects = append(objects, StoredObject{Key: key, Data: data})
	}
	return objects, nil
}

func (d *memoryDriver) DeleteObject(bucket, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets[bucket], key)
	return nil
}

func (d *memoryDriver) Close() error { return nil }

func init() {
	RegisterDriver("memory", newMemoryDriver)

	RegisterComponent(Registration{
		Name:        "db",
		ContextName: "db",
		New: func(irc *Context, conf *ConfigTree) (Component, error) {
			backend := conf.GetString("backend")
			if backend == "" {
				backend = "memory"
			}

			factory, ok := lookupDriver(backend)
			if !ok {
				return nil, fmt.Errorf("db: unknown backend %q", backend)
			}

			driver, err := factory(conf.Sub("driver." + backend))
			if err != nil {
				return nil, fmt.Errorf("db: opening %s: %w", backend, err)
			}

			store := &ObjectStore{driver: driver, debug: irc.debug}
			irc.DB = store
			return store, nil
		},
	})
}
