/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage implements simple key-value storage interfaces based on sqlite3.
//
// The go-sqlite3 implementation only guarantees the safety of concurrent readers, see
// https://github.com/mattn/go-sqlite3/issues/148 for details. Every database opened here
// is limited to a single connection, which serializes writers.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	// Register go-sqlite3 engine.
	_ "github.com/CovenantSQL/go-sqlite3-encrypt"
)

var (
	index = struct {
		sync.Mutex
		db   map[string]*sql.DB
		refs map[string]int
	}{
		db:   make(map[string]*sql.DB),
		refs: make(map[string]int),
	}
)

func openDB(dsn string) (db *sql.DB, err error) {
	index.Lock()
	defer index.Unlock()

	if db = index.db[dsn]; db == nil {
		if db, err = sql.Open("sqlite3", dsn); err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		index.db[dsn] = db
	}
	index.refs[dsn]++

	return db, err
}

func closeDB(dsn string) (err error) {
	index.Lock()
	defer index.Unlock()

	if index.refs[dsn]--; index.refs[dsn] > 0 {
		return
	}
	if db := index.db[dsn]; db != nil {
		err = db.Close()
	}
	delete(index.db, dsn)
	delete(index.refs, dsn)
	return
}

// Storage represents a key-value table.
type Storage struct {
	sync.Mutex
	dsn    string
	table  string
	db     *sql.DB
	closed bool
}

// KV represents a key-value pair.
type KV struct {
	Key   string
	Value []byte
}

// OpenStorage opens a database using the specified DSN and ensures that the specified table exists.
func OpenStorage(dsn string, table string) (st *Storage, err error) {
	var db *sql.DB
	if db, err = openDB(dsn); err != nil {
		err = errors.Wrapf(err, "open database %s failed", dsn)
		return
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (`key` TEXT PRIMARY KEY, `value` BLOB)",
		table)
	if _, err = db.Exec(stmt); err != nil {
		_ = closeDB(dsn)
		err = errors.Wrapf(err, "create table %s failed", table)
		return
	}

	st = &Storage{dsn: dsn, table: table, db: db}
	return
}

// SetValue sets or replace the value to key.
func (s *Storage) SetValue(key string, value []byte) (err error) {
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO `%s` (`key`, `value`) VALUES (?, ?)", s.table)
	_, err = s.db.Exec(stmt, key, value)
	return
}

// DelValue deletes the value of key.
func (s *Storage) DelValue(key string) (err error) {
	stmt := fmt.Sprintf("DELETE FROM `%s` WHERE `key` = ?", s.table)
	_, err = s.db.Exec(stmt, key)
	return
}

// GetValue fetches the value of key, a missing key yields a nil value.
func (s *Storage) GetValue(key string) (value []byte, err error) {
	stmt := fmt.Sprintf("SELECT `value` FROM `%s` WHERE `key` = ?", s.table)
	if err = s.db.QueryRow(stmt, key).Scan(&value); err == sql.ErrNoRows {
		err = nil
	}
	return
}

// GetAll fetches every pair whose key starts with prefix, ordered by key.
func (s *Storage) GetAll(prefix string) (kvs []KV, err error) {
	stmt := fmt.Sprintf("SELECT `key`, `value` FROM `%s` WHERE substr(`key`, 1, ?) = ? ORDER BY `key`", s.table)
	rows, err := s.db.Query(stmt, len(prefix), prefix)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var kv KV
		if err = rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		kvs = append(kvs, kv)
	}
	err = rows.Err()
	return
}

// SetValuesTx sets or replaces the key-value pairs in kvs as a transaction.
func (s *Storage) SetValuesTx(kvs []KV) (err error) {
	return s.ApplyTx(kvs, nil)
}

// ApplyTx writes kvs and deletes keys in a single transaction.
func (s *Storage) ApplyTx(kvs []KV, keys []string) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if len(kvs) > 0 {
		var pStmt *sql.Stmt
		stmt := fmt.Sprintf("INSERT OR REPLACE INTO `%s` (`key`, `value`) VALUES (?, ?)", s.table)
		if pStmt, err = tx.Prepare(stmt); err != nil {
			return
		}
		defer pStmt.Close()
		for _, row := range kvs {
			if _, err = pStmt.Exec(row.Key, row.Value); err != nil {
				return
			}
		}
	}

	if len(keys) > 0 {
		var pStmt *sql.Stmt
		stmt := fmt.Sprintf("DELETE FROM `%s` WHERE `key` = ?", s.table)
		if pStmt, err = tx.Prepare(stmt); err != nil {
			return
		}
		defer pStmt.Close()
		for _, key := range keys {
			if _, err = pStmt.Exec(key); err != nil {
				return
			}
		}
	}

	return
}

// Close releases the storage, the database is closed with its last user.
func (s *Storage) Close() (err error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	return closeDB(s.dsn)
}
