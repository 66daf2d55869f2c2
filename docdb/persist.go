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

package docdb

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/revtree"
	"github.com/CovenantSQL/docsync/storage"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils"
)

const (
	docsTable     = "docs"
	docKeyPrefix  = "doc:"
	metaUUIDKey   = "meta:uuid"
	metaSeqKey    = "meta:seq"
	storedBodyNil = "null"
)

// storedNode is the persisted form of a revision node, bodies are kept as JSON.
type storedNode struct {
	ID       string
	Parent   string
	Deleted  bool
	Stub     bool
	Channels []string
	Body     []byte
}

// docRecord is the persisted form of a document.
type docRecord struct {
	Nodes  []storedNode
	Seq    uint64
	Pulled bool
}

func encodeRecord(nodes []revtree.Node, seq uint64, pulled bool) (raw []byte, err error) {
	rec := docRecord{
		Nodes:  make([]storedNode, 0, len(nodes)),
		Seq:    seq,
		Pulled: pulled,
	}
	for _, n := range nodes {
		sn := storedNode{
			ID:       string(n.ID),
			Parent:   string(n.Parent),
			Deleted:  n.Deleted,
			Stub:     n.Stub,
			Channels: n.Channels,
		}
		if n.Body != nil {
			sn.Body = n.Body.JSON()
		}
		rec.Nodes = append(rec.Nodes, sn)
	}
	buf, err := utils.EncodeMsgPack(&rec)
	if err != nil {
		return nil, errors.Wrap(err, "encode document record failed")
	}
	return buf.Bytes(), nil
}

func decodeRecord(raw []byte) (nodes []revtree.Node, rec docRecord, err error) {
	if err = utils.DecodeMsgPack(raw, &rec); err != nil {
		err = errors.Wrap(err, "decode document record failed")
		return
	}
	for _, sn := range rec.Nodes {
		n := revtree.Node{
			Revision: types.Revision{
				ID:       types.RevID(sn.ID),
				Parent:   types.RevID(sn.Parent),
				Deleted:  sn.Deleted,
				Channels: sn.Channels,
			},
			Stub: sn.Stub,
		}
		if len(sn.Body) > 0 && string(sn.Body) != storedBodyNil {
			if n.Body, err = types.ParseBody(sn.Body); err != nil {
				err = errors.Wrapf(err, "decode body of %s failed", sn.ID)
				return
			}
		}
		nodes = append(nodes, n)
	}
	return
}

// persister writes documents to a sqlite key value table.
type persister struct {
	st *storage.Storage
}

func openPersister(path string) (p *persister, err error) {
	if err = utils.EnsureDir(path); err != nil {
		err = errors.Wrap(err, "create database directory failed")
		return
	}
	st, err := storage.OpenStorage(storage.FileDSN(path).Format(), docsTable)
	if err != nil {
		return
	}
	p = &persister{st: st}
	return
}

func (p *persister) loadUUID() (id string, err error) {
	raw, err := p.st.GetValue(metaUUIDKey)
	return string(raw), err
}

func (p *persister) saveUUID(id string) error {
	return p.st.SetValue(metaUUIDKey, []byte(id))
}

func (p *persister) loadSeq() (seq uint64, err error) {
	raw, err := p.st.GetValue(metaSeqKey)
	if err != nil || raw == nil {
		return
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func (p *persister) saveDoc(docID string, nodes []revtree.Node, seq uint64, pulled bool) (err error) {
	raw, err := encodeRecord(nodes, seq, pulled)
	if err != nil {
		return
	}
	return p.st.SetValuesTx([]storage.KV{
		{Key: docKeyPrefix + docID, Value: raw},
		{Key: metaSeqKey, Value: []byte(strconv.FormatUint(seq, 10))},
	})
}

func (p *persister) deleteDoc(docID string) error {
	return p.st.ApplyTx(nil, []string{docKeyPrefix + docID})
}

type loadedDoc struct {
	id    string
	nodes []revtree.Node
	rec   docRecord
}

func (p *persister) loadDocs() (docs []loadedDoc, err error) {
	kvs, err := p.st.GetAll(docKeyPrefix)
	if err != nil {
		return
	}
	for _, kv := range kvs {
		var d loadedDoc
		d.id = kv.Key[len(docKeyPrefix):]
		if d.nodes, d.rec, err = decodeRecord(kv.Value); err != nil {
			return
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].rec.Seq < docs[j].rec.Seq
	})
	return
}

func (p *persister) close() error {
	return p.st.Close()
}
