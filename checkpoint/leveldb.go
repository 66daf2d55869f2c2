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

package checkpoint

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils"
)

var (
	// checkpointKeyPrefix defines the leveldb checkpoint key prefix.
	checkpointKeyPrefix = []byte{'C', 'P'}
	syncWrite           = &opt.WriteOptions{Sync: true}
)

// record is the on-disk checkpoint form.
type record struct {
	Local     uint64
	Remote    string
	UpdatedAt int64
}

// LevelDBStore persists checkpoints to a leveldb database.
type LevelDBStore struct {
	db     *leveldb.DB
	closed uint32
}

// NewLevelDBStore opens or creates the checkpoint database at filename.
func NewLevelDBStore(filename string) (s *LevelDBStore, err error) {
	s = &LevelDBStore{}
	if s.db, err = leveldb.OpenFile(utils.HomeDirExpand(filename), nil); err != nil {
		err = errors.Wrap(err, "open checkpoint database failed")
		s = nil
	}
	return
}

func checkpointKey(id string) []byte {
	return append(append([]byte(nil), checkpointKeyPrefix...), id...)
}

// Get implements Store.Get.
func (s *LevelDBStore) Get(id string) (cp *types.Checkpoint, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}
	var raw []byte
	if raw, err = s.db.Get(checkpointKey(id), nil); err == leveldb.ErrNotFound {
		err = ErrNotFound
		return
	} else if err != nil {
		err = errors.Wrap(err, "access leveldb failed")
		return
	}
	var r record
	if err = utils.DecodeMsgPack(raw, &r); err != nil {
		err = errors.Wrap(err, "decode checkpoint failed")
		return
	}
	cp = r.checkpoint(id)
	return
}

// Put implements Store.Put, the write is synced before returning.
func (s *LevelDBStore) Put(id string, cp *types.Checkpoint) (err error) {
	if id == "" || cp == nil {
		return ErrInvalidCheckpoint
	}
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrStoreClosed
	}
	r := record{
		Local:  cp.Local,
		Remote: cp.Remote,
	}
	if !cp.UpdatedAt.IsZero() {
		r.UpdatedAt = cp.UpdatedAt.UnixNano()
	}
	enc, err := utils.EncodeMsgPack(&r)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint failed")
	}
	if err = s.db.Put(checkpointKey(id), enc.Bytes(), syncWrite); err != nil {
		err = errors.Wrap(err, "write checkpoint failed")
	}
	return
}

// Reset implements Store.Reset.
func (s *LevelDBStore) Reset(id string, owner StopChecker) (err error) {
	if err = checkReset(owner); err != nil {
		return
	}
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrStoreClosed
	}
	if err = s.db.Delete(checkpointKey(id), syncWrite); err != nil {
		err = errors.Wrap(err, "delete checkpoint failed")
	}
	return
}

// List returns every stored checkpoint.
func (s *LevelDBStore) List() (cps []*types.Checkpoint, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}
	it := s.db.NewIterator(util.BytesPrefix(checkpointKeyPrefix), nil)
	defer it.Release()
	for it.Next() {
		var r record
		if err = utils.DecodeMsgPack(it.Value(), &r); err != nil {
			err = errors.Wrap(err, "decode checkpoint failed")
			return
		}
		cps = append(cps, r.checkpoint(string(it.Key()[len(checkpointKeyPrefix):])))
	}
	err = it.Error()
	return
}

// Close implements Store.Close.
func (s *LevelDBStore) Close() (err error) {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	return s.db.Close()
}

func (r *record) checkpoint(id string) *types.Checkpoint {
	cp := &types.Checkpoint{
		ReplicationID: id,
		Local:         r.Local,
		Remote:        r.Remote,
	}
	if r.UpdatedAt != 0 {
		cp.UpdatedAt = time.Unix(0, r.UpdatedAt)
	}
	return cp
}
