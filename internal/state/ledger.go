/*
Copyright 2026, OpenTeams.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var clientsBucket = []byte("clients")

// ErrNotFound is returned by Get when no record exists for a client.
var ErrNotFound = errors.New("record not found")

// Record is what the last apply or destroy of one client reached.
type Record struct {
	Realm     string    `json:"realm"`
	Name      string    `json:"name"`
	ClientID  string    `json:"clientID"`
	UUID      string    `json:"uuid,omitempty"`
	MapperID  string    `json:"mapperID,omitempty"`
	Enabled   bool      `json:"enabled"`
	Phase     string    `json:"phase"`
	Mutations int       `json:"mutations"`
	Error     string    `json:"error,omitempty"`
	RunID     string    `json:"runID"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Key identifies the record of a client within the ledger.
func (r Record) Key() string {
	return Key(r.Realm, r.Name)
}

// Key builds the ledger key of the client name in realm.
func Key(realm, name string) string {
	return realm + "/" + name
}

// Ledger persists records in a bbolt database file.
type Ledger struct {
	db *bolt.DB
}

// Open opens or creates the ledger at path. timeout bounds waiting for the file lock
// held by another process.
func Open(path string, timeout time.Duration) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open state %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(clientsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize state %s: %w", path, err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the database file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Put stores rec, replacing the previous record of the same client.
func (l *Ledger) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Key(), err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).Put([]byte(rec.Key()), data)
	})
}

// Get returns the record of the client name in realm, or ErrNotFound.
func (l *Ledger) Get(realm, name string) (*Record, error) {
	var rec *Record
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(clientsBucket).Get([]byte(Key(realm, name)))
		if data == nil {
			return ErrNotFound
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record ordered by realm then name.
func (l *Ledger) List() ([]Record, error) {
	var records []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEach(func(k, v []byte) error {
			rec := Record{}
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Realm != records[j].Realm {
			return records[i].Realm < records[j].Realm
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Delete removes the record of the client name in realm. Deleting a missing record is not an error.
func (l *Ledger) Delete(realm, name string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).Delete([]byte(Key(realm, name)))
	})
}
