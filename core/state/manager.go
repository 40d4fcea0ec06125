package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"moneymarket/storage"
)

var errEmptyKey = errors.New("kv: key must not be empty")

// Reader is the read-only view a contract receives while answering a query.
// It deliberately exposes no write methods.
type Reader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
}

// Store is the mutable view a contract receives while executing a
// transaction.
type Store interface {
	Reader
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
}

// Writer is the key-value surface a Manager mutates. storage.Overlay and
// storage.Database both satisfy it.
type Writer interface {
	storage.Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// View reads rlp-encoded values under a fixed key namespace.
type View struct {
	db        storage.Reader
	namespace []byte
}

// NewView opens a read-only view over db scoped to namespace.
func NewView(db storage.Reader, namespace []byte) *View {
	return &View{db: db, namespace: append([]byte(nil), namespace...)}
}

func (v *View) key(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errEmptyKey
	}
	buf := make([]byte, 0, len(v.namespace)+len(key))
	buf = append(buf, v.namespace...)
	return append(buf, key...), nil
}

func (v *View) raw(key []byte) ([]byte, error) {
	full, err := v.key(key)
	if err != nil {
		return nil, err
	}
	data, err := v.db.Get(full)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (v *View) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := v.raw(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVGetList decodes an rlp list stored under key into the slice pointed to by
// out. A missing key yields an empty slice rather than nil.
func (v *View) KVGetList(key []byte, out interface{}) error {
	data, err := v.raw(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Manager is a namespaced, rlp-encoded key-value store.
type Manager struct {
	*View
	w Writer
}

// NewManager opens a mutable store over w scoped to namespace.
func NewManager(w Writer, namespace []byte) *Manager {
	return &Manager{View: NewView(w, namespace), w: w}
}

// ReadOnly returns the read half of the manager.
func (m *Manager) ReadOnly() *View {
	return m.View
}

// KVPut stores value under key using rlp encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	full, err := m.key(key)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.w.Put(full, encoded)
}

// KVDelete removes key. Deleting an absent key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	full, err := m.key(key)
	if err != nil {
		return err
	}
	return m.w.Delete(full)
}

// KVAppend appends value to the byte-slice list stored under key. Duplicates
// are ignored to keep the index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVRemove drops value from the byte-slice list stored under key. The key is
// deleted once the list is empty.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	kept := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	if len(kept) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, kept)
}
