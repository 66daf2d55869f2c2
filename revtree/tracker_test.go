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

package revtree

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/docsync/types"
)

func child(parent types.RevID, body types.Body) types.Revision {
	return types.Revision{
		ID:       types.NextRevID(parent, false, body),
		Parent:   parent,
		Body:     body,
		Channels: body.Channels(),
	}
}

func TestWinner(t *testing.T) {
	Convey("conflict policy", t, func() {
		live := types.Revision{ID: "5-bb"}
		tomb := types.Revision{ID: "1-aa", Deleted: true}
		w, ok := Winner([]types.Revision{live, tomb})
		So(ok, ShouldBeTrue)
		So(w.ID, ShouldEqual, tomb.ID)

		w, _ = Winner([]types.Revision{{ID: "2-ff"}, {ID: "3-aa"}})
		So(w.ID, ShouldEqual, "3-aa")

		w, _ = Winner([]types.Revision{{ID: "2-aa"}, {ID: "2-bb"}})
		So(w.ID, ShouldEqual, "2-bb")

		_, ok = Winner(nil)
		So(ok, ShouldBeFalse)
	})
	Convey("winner does not depend on tip order", t, func() {
		tips := []types.Revision{
			{ID: "3-0a"}, {ID: "3-ff"}, {ID: "4-01"}, {ID: "2-99", Deleted: true}, {ID: "2-98", Deleted: true},
		}
		expect := types.RevID("2-99")
		for i := 0; i < len(tips); i++ {
			rotated := append(append([]types.Revision(nil), tips[i:]...), tips[:i]...)
			w, _ := Winner(rotated)
			So(w.ID, ShouldEqual, expect)
			w, _ = Winner([]types.Revision{rotated[4], rotated[3], rotated[2], rotated[1], rotated[0]})
			So(w.ID, ShouldEqual, expect)
		}
	})
}

func TestTracker_AddRevision(t *testing.T) {
	Convey("linear history", t, func() {
		tr := NewTracker(0)
		So(tr.RevsLimit(), ShouldEqual, DefaultRevsLimit)

		r1 := child("", types.Body{"title": "doc", "channels": "ABC"})
		res, err := tr.AddRevision("doc1", r1)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
		So(res.Current, ShouldEqual, r1.ID)
		So(res.Changed(), ShouldBeTrue)

		res, err = tr.AddRevision("doc1", r1)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Exists)
		So(res.Changed(), ShouldBeFalse)

		r2 := child(r1.ID, types.Body{"title": "doc v2", "channels": "ABC"})
		res, err = tr.AddRevision("doc1", r2)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
		So(res.Tips, ShouldResemble, []types.RevID{r2.ID})

		cur, err := tr.CurrentRevision("doc1")
		So(err, ShouldBeNil)
		So(cur.ID, ShouldEqual, r2.ID)
		So(cur.Body["title"], ShouldEqual, "doc v2")
		So(cur.Channels, ShouldResemble, []string{"ABC"})

		// returned copies do not alias the tree
		cur.Body["title"] = "mutated"
		cur, _ = tr.CurrentRevision("doc1")
		So(cur.Body["title"], ShouldEqual, "doc v2")

		hist, err := tr.History("doc1", r2.ID)
		So(err, ShouldBeNil)
		So(hist, ShouldResemble, []types.RevID{r1.ID})
		So(tr.Known("doc1", r1.ID), ShouldBeTrue)
		So(tr.Known("doc1", "9-zz"), ShouldBeFalse)
		So(tr.DocIDs(), ShouldResemble, []string{"doc1"})
	})
	Convey("out of order and stale parents", t, func() {
		tr := NewTracker(0)
		r1 := child("", types.Body{"v": 1})
		r2 := child(r1.ID, types.Body{"v": 2})

		res, err := tr.AddRevision("doc1", r2)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Stale)
		So(tr.DocIDs(), ShouldBeEmpty)
		_, err = tr.CurrentRevision("doc1")
		So(err, ShouldEqual, ErrNotFound)

		_, err = tr.AddRevision("doc1", r1)
		So(err, ShouldBeNil)
		_, err = tr.AddRevision("doc1", r2)
		So(err, ShouldBeNil)

		// r1 is no longer a tip
		other := child(r1.ID, types.Body{"v": "other"})
		res, err = tr.AddRevision("doc1", other)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Stale)
		So(res.Current, ShouldEqual, r2.ID)
	})
	Convey("malformed revisions are rejected", t, func() {
		tr := NewTracker(0)
		_, err := tr.AddRevision("doc1", types.Revision{ID: "bad"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRevision)
		_, err = tr.AddRevision("doc1", types.Revision{ID: "3-aa", Parent: "1-bb"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRevision)
		_, err = tr.AddRevisionWithHistory("doc1", types.Revision{ID: "3-aa", Parent: "2-bb"}, []types.RevID{"2-bb", "0-cc"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRevision)
		_, err = tr.AddRevisionWithHistory("doc1", types.Revision{ID: "3-aa", Parent: "2-bb"}, []types.RevID{"2-cc"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRevision)
	})
}

func TestTracker_Conflicts(t *testing.T) {
	Convey("higher generation wins a replicated conflict", t, func() {
		base := child("", types.Body{"title": "base"})
		remote2 := child(base.ID, types.Body{"title": "remote"})
		local2 := child(base.ID, types.Body{"title": "local 1"})
		local3 := child(local2.ID, types.Body{"title": "local 2"})

		local := NewTracker(0)
		_, _ = local.AddRevision("doc", base)
		_, _ = local.AddRevision("doc", local2)
		_, _ = local.AddRevision("doc", local3)
		res, err := local.AddRevisionWithHistory("doc", remote2, []types.RevID{base.ID})
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Conflict)
		So(res.Current, ShouldEqual, local3.ID)
		So(res.Changed(), ShouldBeFalse)
		So(res.Tips, ShouldHaveLength, 2)

		remote := NewTracker(0)
		_, _ = remote.AddRevision("doc", base)
		_, _ = remote.AddRevision("doc", remote2)
		res, err = remote.AddRevisionWithHistory("doc", local3, []types.RevID{local2.ID, base.ID})
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Conflict)
		So(res.Current, ShouldEqual, local3.ID)

		w, err := remote.ResolveConflict("doc")
		So(err, ShouldBeNil)
		So(w.Body["title"], ShouldEqual, "local 2")

		// the intermediate revision is known by id only
		n, err := remote.GetRevision("doc", local2.ID)
		So(err, ShouldEqual, ErrBodyMissing)
		So(n.Stub, ShouldBeTrue)

		// a later delivery of the stub body fills it in
		res, err = remote.AddRevisionWithHistory("doc", local2, []types.RevID{base.ID})
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Exists)
		n, err = remote.GetRevision("doc", local2.ID)
		So(err, ShouldBeNil)
		So(n.Body["title"], ShouldEqual, "local 1")
	})
	Convey("losing branch stays a tip and can be extended", t, func() {
		tr := NewTracker(0)
		base := child("", types.Body{"v": 0})
		a := types.Revision{ID: "2-aa", Parent: base.ID, Body: types.Body{"v": "a"}}
		b := types.Revision{ID: "2-bb", Parent: base.ID, Body: types.Body{"v": "b"}}
		_, _ = tr.AddRevision("doc", base)
		_, _ = tr.AddRevision("doc", a)
		res, err := tr.AddRevisionWithHistory("doc", b, nil)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Conflict)
		So(res.Current, ShouldEqual, b.ID)
		So(res.Tips, ShouldResemble, []types.RevID{b.ID, a.ID})

		a3 := types.Revision{ID: "3-00", Parent: a.ID, Body: types.Body{"v": "a3"}}
		res, err = tr.AddRevision("doc", a3)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Conflict)
		So(res.Current, ShouldEqual, a3.ID)
	})
	Convey("tombstoned branch wins", t, func() {
		tr := NewTracker(0)
		base := child("", types.Body{"v": 0})
		_, _ = tr.AddRevision("doc", base)
		live := child(base.ID, types.Body{"v": 1})
		_, _ = tr.AddRevision("doc", live)
		live3 := child(live.ID, types.Body{"v": 2})
		_, _ = tr.AddRevision("doc", live3)
		_, err := tr.AddRevisionWithHistory("doc", child(base.ID, types.Body{"v": "other"}), nil)
		So(err, ShouldBeNil)

		other := tr.Tips("doc")[1]
		tomb, res, err := tr.Tombstone("doc", other.ID)
		So(err, ShouldBeNil)
		So(tomb.Deleted, ShouldBeTrue)
		So(tomb.ID.Generation(), ShouldEqual, 3)
		So(res.Current, ShouldEqual, tomb.ID)
		cur, _ := tr.CurrentRevision("doc")
		So(cur.Deleted, ShouldBeTrue)
		So(cur.Body, ShouldBeNil)
	})
	Convey("grafting an unrelated history", t, func() {
		tr := NewTracker(0)
		r := types.Revision{ID: "4-dd", Parent: "3-cc", Body: types.Body{"v": 4}}
		res, err := tr.AddRevisionWithHistory("doc", r, []types.RevID{"3-cc", "2-bb"})
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
		So(res.Current, ShouldEqual, r.ID)
		hist, _ := tr.History("doc", r.ID)
		So(hist, ShouldResemble, []types.RevID{"3-cc", "2-bb"})

		res, err = tr.AddRevisionWithHistory("doc", types.Revision{ID: "2-ee", Parent: "1-ee", Body: types.Body{}}, nil)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Conflict)
		So(res.Current, ShouldEqual, r.ID)
	})
}

func TestTracker_Tombstone(t *testing.T) {
	Convey("tombstone keeps the revision id in history", t, func() {
		tr := NewTracker(0)
		r1 := child("", types.Body{"v": 1, "channels": []interface{}{"A"}})
		_, _ = tr.AddRevision("doc", r1)
		tomb, res, err := tr.Tombstone("doc", r1.ID)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
		So(tomb.Parent, ShouldEqual, r1.ID)
		So(tomb.Channels, ShouldResemble, []string{"A"})
		So(tr.Known("doc", r1.ID), ShouldBeTrue)

		again, res, err := tr.Tombstone("doc", r1.ID)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Exists)
		So(again.ID, ShouldEqual, tomb.ID)
		_, _, err = tr.Tombstone("missing", r1.ID)
		So(err, ShouldEqual, ErrNotFound)

		// recreate on top of the tombstone
		r3 := child(tomb.ID, types.Body{"v": 3})
		res, err = tr.AddRevision("doc", r3)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
		So(res.Current, ShouldEqual, r3.ID)

		_, _, err = tr.Tombstone("doc", tomb.ID)
		So(errors.Cause(err), ShouldEqual, ErrStale)
	})
	Convey("purge forgets the whole document", t, func() {
		tr := NewTracker(0)
		r1 := child("", types.Body{"v": 1})
		_, _ = tr.AddRevision("doc", r1)
		So(tr.Purge("doc"), ShouldBeTrue)
		So(tr.Purge("doc"), ShouldBeFalse)
		So(tr.Known("doc", r1.ID), ShouldBeFalse)
		_, err := tr.ResolveConflict("doc")
		So(err, ShouldEqual, ErrNotFound)
		So(tr.Tips("doc"), ShouldBeEmpty)
		_, err = tr.History("doc", r1.ID)
		So(err, ShouldEqual, ErrNotFound)

		res, err := tr.AddRevision("doc", r1)
		So(err, ShouldBeNil)
		So(res.Outcome, ShouldEqual, Accepted)
	})
}

func TestTracker_Prune(t *testing.T) {
	Convey("history is pruned to the revs limit", t, func() {
		tr := NewTracker(3)
		a1 := child("", types.Body{"v": 1})
		a2 := child(a1.ID, types.Body{"v": 2})
		b2 := child(a1.ID, types.Body{"v": "b"})
		_, _ = tr.AddRevision("doc", a1)
		_, _ = tr.AddRevision("doc", a2)
		_, _ = tr.AddRevisionWithHistory("doc", b2, nil)
		So(tr.Tips("doc"), ShouldHaveLength, 2)

		parent := a2.ID
		for v := 3; v <= 6; v++ {
			r := child(parent, types.Body{"v": v})
			_, err := tr.AddRevision("doc", r)
			So(err, ShouldBeNil)
			parent = r.ID
		}
		nodes := tr.Export("doc")
		So(nodes, ShouldHaveLength, 3)
		So(nodes[2].ID, ShouldEqual, parent)
		So(tr.Tips("doc"), ShouldHaveLength, 1)
		So(tr.Known("doc", b2.ID), ShouldBeFalse)
		So(tr.Known("doc", a1.ID), ShouldBeFalse)
	})
	Convey("export and import round trip", t, func() {
		tr := NewTracker(0)
		r1 := child("", types.Body{"v": 1})
		r2 := child(r1.ID, types.Body{"v": 2})
		_, _ = tr.AddRevision("doc", r1)
		_, _ = tr.AddRevision("doc", r2)
		nodes := tr.Export("doc")

		other := NewTracker(0)
		other.Import("doc", nodes)
		cur, err := other.CurrentRevision("doc")
		So(err, ShouldBeNil)
		So(cur.ID, ShouldEqual, r2.ID)
		So(other.Export("doc"), ShouldResemble, nodes)

		other.Import("doc", nil)
		So(other.DocIDs(), ShouldBeEmpty)
	})
}

func TestTracker_Concurrent(t *testing.T) {
	Convey("concurrent writers on distinct documents", t, func() {
		tr := NewTracker(5)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				docID := fmt.Sprintf("doc%d", i)
				parent := types.RevID("")
				for v := 0; v < 20; v++ {
					r := child(parent, types.Body{"v": v, "w": i})
					if _, err := tr.AddRevision(docID, r); err == nil {
						parent = r.ID
					}
					_, _ = tr.CurrentRevision(docID)
					_ = tr.DocIDs()
				}
			}(i)
		}
		wg.Wait()
		So(tr.DocIDs(), ShouldHaveLength, 8)
		for i := 0; i < 8; i++ {
			cur, err := tr.CurrentRevision(fmt.Sprintf("doc%d", i))
			So(err, ShouldBeNil)
			So(cur.ID.Generation(), ShouldEqual, 20)
			So(tr.Export(fmt.Sprintf("doc%d", i)), ShouldHaveLength, 5)
		}
	})
}
