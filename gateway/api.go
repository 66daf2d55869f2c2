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

package gateway

import (
	"encoding/json"
	"expvar"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

func sendResponse(code int, data interface{}, rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(data)
}

func sendError(err error, rw http.ResponseWriter) {
	code := statusCode(err)
	sendResponse(code, map[string]interface{}{
		"error":  http.StatusText(code),
		"reason": err.Error(),
	}, rw)
}

func readJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return errors.Wrap(ErrBadRequest, err.Error())
	}
	return nil
}

type adminAPI struct {
	g         *Gateway
	publisher *metric.ExpvarPublisher
}

type userRequest struct {
	Password      string   `json:"password"`
	AdminChannels []string `json:"admin_channels"`
	AdminRoles    []string `json:"admin_roles"`
	Disabled      bool     `json:"disabled"`
}

type userResponse struct {
	Name          string   `json:"name"`
	AdminChannels []string `json:"admin_channels"`
	AdminRoles    []string `json:"admin_roles,omitempty"`
	AllChannels   []string `json:"all_channels"`
	Disabled      bool     `json:"disabled"`
}

type roleRequest struct {
	AdminChannels []string `json:"admin_channels"`
}

type sessionRequest struct {
	Name string `json:"name"`
	// TTL in seconds
	TTL int64 `json:"ttl"`
}

type configRequest struct {
	DeltaSync *bool `json:"delta_sync"`
}

type purgeRequest map[string][]string

// NewAdminHandler returns the admin http API of a gateway.
func NewAdminHandler(g *Gateway, publisher *metric.ExpvarPublisher) http.Handler {
	api := &adminAPI{g: g, publisher: publisher}
	router := mux.NewRouter()

	router.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		sendResponse(http.StatusOK, map[string]interface{}{
			"couchdb": "Welcome",
			"vendor":  map[string]string{"name": "docsync", "version": version.Version},
		}, rw)
	}).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(metric.NewRegistry(g), promhttp.HandlerOpts{})).Methods("GET")
	router.Handle("/_expvar", expvar.Handler()).Methods("GET")
	if publisher != nil {
		router.Handle("/_debug/metrics", publisher.Handler()).Methods("GET")
	}
	router.HandleFunc("/_all_dbs", api.AllDatabases).Methods("GET")

	router.HandleFunc("/{db}/", api.CreateDatabase).Methods("PUT")
	router.HandleFunc("/{db}/", api.DeleteDatabase).Methods("DELETE")
	router.HandleFunc("/{db}/", api.DatabaseInfo).Methods("GET")
	router.HandleFunc("/{db}/_offline", api.SetOffline(true)).Methods("POST")
	router.HandleFunc("/{db}/_online", api.SetOffline(false)).Methods("POST")
	router.HandleFunc("/{db}/_config", api.UpdateConfig).Methods("PUT")
	router.HandleFunc("/{db}/_stats", api.Stats).Methods("GET")

	router.HandleFunc("/{db}/_user/", api.ListUsers).Methods("GET")
	router.HandleFunc("/{db}/_user/{name}", api.GetUser).Methods("GET")
	router.HandleFunc("/{db}/_user/{name}", api.PutUser).Methods("PUT")
	router.HandleFunc("/{db}/_user/{name}", api.DeleteUser).Methods("DELETE")
	router.HandleFunc("/{db}/_role/", api.ListRoles).Methods("GET")
	router.HandleFunc("/{db}/_role/{name}", api.GetRole).Methods("GET")
	router.HandleFunc("/{db}/_role/{name}", api.PutRole).Methods("PUT")
	router.HandleFunc("/{db}/_role/{name}", api.DeleteRole).Methods("DELETE")
	router.HandleFunc("/{db}/_session", api.CreateSession).Methods("POST")
	router.HandleFunc("/{db}/_session/{id}", api.DeleteSession).Methods("DELETE")

	router.HandleFunc("/{db}/_all_docs", api.AllDocs).Methods("GET")
	router.HandleFunc("/{db}/_purge", api.Purge).Methods("POST")
	router.HandleFunc("/{db}/{doc}", api.GetDocument).Methods("GET")
	router.HandleFunc("/{db}/{doc}", api.PutDocument).Methods("PUT")
	router.HandleFunc("/{db}/", api.PostDocument).Methods("POST")
	router.HandleFunc("/{db}/{doc}", api.DeleteDocument).Methods("DELETE")

	return handlers.RecoveryHandler()(router)
}

// NewLoggingHandler logs every request of handler at debug level.
func NewLoggingHandler(handler http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(log.WriterLevel(log.DebugLevel), handler)
}

func (a *adminAPI) database(rw http.ResponseWriter, r *http.Request) (d *Database, ok bool) {
	d, err := a.g.Database(mux.Vars(r)["db"])
	if err != nil {
		sendError(err, rw)
		return
	}
	return d, true
}

func (a *adminAPI) AllDatabases(rw http.ResponseWriter, r *http.Request) {
	names := a.g.DatabaseNames()
	if names == nil {
		names = []string{}
	}
	sendResponse(http.StatusOK, names, rw)
}

func (a *adminAPI) CreateDatabase(rw http.ResponseWriter, r *http.Request) {
	var cfg DatabaseConfig
	if err := readJSON(r, &cfg); err != nil {
		sendError(err, rw)
		return
	}
	cfg.Name = mux.Vars(r)["db"]
	if _, err := a.g.CreateDatabase(cfg); err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusCreated, map[string]bool{"ok": true}, rw)
}

func (a *adminAPI) DeleteDatabase(rw http.ResponseWriter, r *http.Request) {
	if err := a.g.DeleteDatabase(mux.Vars(r)["db"]); err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
}

func (a *adminAPI) DatabaseInfo(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		sendResponse(http.StatusOK, d.Info(), rw)
	}
}

func (a *adminAPI) SetOffline(offline bool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if d, ok := a.database(rw, r); ok {
			d.SetOffline(offline)
			sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
		}
	}
}

func (a *adminAPI) UpdateConfig(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	var req configRequest
	if err := readJSON(r, &req); err != nil {
		sendError(err, rw)
		return
	}
	if req.DeltaSync != nil {
		d.SetDeltaSync(*req.DeltaSync)
	}
	sendResponse(http.StatusOK, d.Info(), rw)
}

func (a *adminAPI) Stats(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		sendResponse(http.StatusOK, map[string]interface{}{
			"database":       d.stats.Snapshot(),
			"rev_cache_size": d.codec.Len(),
		}, rw)
	}
}

func (a *adminAPI) ListUsers(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		names := d.auth.UserNames()
		if names == nil {
			names = []string{}
		}
		sendResponse(http.StatusOK, names, rw)
	}
}

func (a *adminAPI) GetUser(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	if name == auth.GuestName {
		enabled, channels := d.auth.Guest()
		sendResponse(http.StatusOK, userResponse{
			Name:          name,
			AdminChannels: channels,
			AllChannels:   channels,
			Disabled:      !enabled,
		}, rw)
		return
	}
	u, err := d.auth.User(name)
	if err != nil {
		sendError(err, rw)
		return
	}
	resp := userResponse{
		Name:          u.Name,
		AdminChannels: u.Channels,
		AdminRoles:    u.Roles,
		Disabled:      u.Disabled,
	}
	if p, err := d.auth.Principal(name); err == nil {
		resp.AllChannels = p.Channels
	}
	sendResponse(http.StatusOK, resp, rw)
}

func (a *adminAPI) PutUser(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	var req userRequest
	if err := readJSON(r, &req); err != nil {
		sendError(err, rw)
		return
	}
	name := mux.Vars(r)["name"]
	if name == auth.GuestName {
		d.auth.SetGuest(!req.Disabled, req.AdminChannels)
		sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
		return
	}

	code := http.StatusOK
	if _, err := d.auth.User(name); err != nil {
		code = http.StatusCreated
	}
	var err error
	if req.Password != "" || code == http.StatusCreated {
		err = d.auth.PutUser(name, req.Password, req.AdminChannels, req.AdminRoles)
	} else if err = d.auth.SetUserChannels(name, req.AdminChannels); err == nil {
		err = d.auth.SetUserRoles(name, req.AdminRoles)
	}
	if err == nil {
		err = d.auth.SetUserDisabled(name, req.Disabled)
	}
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(code, map[string]bool{"ok": true}, rw)
}

func (a *adminAPI) DeleteUser(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		if err := d.auth.DeleteUser(mux.Vars(r)["name"]); err != nil {
			sendError(err, rw)
			return
		}
		sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
	}
}

func (a *adminAPI) ListRoles(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		names := d.auth.RoleNames()
		if names == nil {
			names = []string{}
		}
		sendResponse(http.StatusOK, names, rw)
	}
}

func (a *adminAPI) GetRole(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		rl, err := d.auth.Role(mux.Vars(r)["name"])
		if err != nil {
			sendError(err, rw)
			return
		}
		sendResponse(http.StatusOK, map[string]interface{}{
			"name":           rl.Name,
			"admin_channels": rl.Channels,
		}, rw)
	}
}

func (a *adminAPI) PutRole(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := readJSON(r, &req); err != nil {
		sendError(err, rw)
		return
	}
	if err := d.auth.PutRole(mux.Vars(r)["name"], req.AdminChannels); err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
}

func (a *adminAPI) DeleteRole(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		if err := d.auth.DeleteRole(mux.Vars(r)["name"]); err != nil {
			sendError(err, rw)
			return
		}
		sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
	}
}

func (a *adminAPI) CreateSession(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	var req sessionRequest
	if err := readJSON(r, &req); err != nil {
		sendError(err, rw)
		return
	}
	s, err := d.auth.CreateSession(req.Name, time.Duration(req.TTL)*time.Second)
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"session_id":  s.ID,
		"cookie_name": auth.DefaultSessionCookie,
		"expires":     s.Expires,
	}, rw)
}

func (a *adminAPI) DeleteSession(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		d.auth.DeleteSession(mux.Vars(r)["id"])
		sendResponse(http.StatusOK, map[string]bool{"ok": true}, rw)
	}
}

func (a *adminAPI) AllDocs(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	type row struct {
		ID    string            `json:"id"`
		Key   string            `json:"key"`
		Value map[string]string `json:"value"`
	}
	rows := []row{}
	for _, id := range d.docs.ListDocumentIDs() {
		doc, err := d.docs.GetDocument(id)
		if err != nil {
			continue
		}
		rows = append(rows, row{ID: id, Key: id, Value: map[string]string{"rev": string(doc.Rev)}})
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"total_rows": len(rows),
		"rows":       rows,
	}, rw)
}

func (a *adminAPI) Purge(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	var req purgeRequest
	if err := readJSON(r, &req); err != nil {
		sendError(err, rw)
		return
	}
	purged := make(map[string][]string)
	for docID := range req {
		if err := d.PurgeDocument(docID); err == nil {
			purged[docID] = []string{"*"}
		}
	}
	sendResponse(http.StatusOK, map[string]interface{}{"purged": purged}, rw)
}

func documentJSON(doc *types.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Body)+2)
	for k, v := range doc.Body {
		out[k] = v
	}
	out["_id"] = doc.ID
	out["_rev"] = string(doc.Rev)
	return out
}

func (a *adminAPI) GetDocument(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		doc, err := d.GetDocument(mux.Vars(r)["doc"])
		if err != nil {
			sendError(err, rw)
			return
		}
		sendResponse(http.StatusOK, documentJSON(doc), rw)
	}
}

func (a *adminAPI) putDocument(rw http.ResponseWriter, r *http.Request, d *Database, docID string) {
	var body types.Body
	if err := readJSON(r, &body); err != nil {
		sendError(err, rw)
		return
	}
	rev := types.RevID(r.URL.Query().Get("rev"))
	if v, ok := body["_rev"].(string); ok && rev == "" {
		rev = types.RevID(v)
	}
	delete(body, "_rev")
	delete(body, "_id")

	var (
		doc *types.Document
		err error
	)
	if rev != "" {
		doc, err = d.UpdateDocumentRev(docID, rev, body)
	} else {
		doc, err = d.PutDocument(docID, body)
	}
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"id":  doc.ID,
		"rev": string(doc.Rev),
	}, rw)
}

func (a *adminAPI) PutDocument(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		a.putDocument(rw, r, d, mux.Vars(r)["doc"])
	}
}

func (a *adminAPI) PostDocument(rw http.ResponseWriter, r *http.Request) {
	if d, ok := a.database(rw, r); ok {
		a.putDocument(rw, r, d, "")
	}
}

func (a *adminAPI) DeleteDocument(rw http.ResponseWriter, r *http.Request) {
	d, ok := a.database(rw, r)
	if !ok {
		return
	}
	docID := mux.Vars(r)["doc"]
	if rev := r.URL.Query().Get("rev"); rev != "" {
		if cur, err := d.docs.CurrentRevision(docID); err == nil && string(cur.ID) != rev {
			sendError(errors.Wrapf(docdb.ErrConflict, "delete %s at %s", docID, rev), rw)
			return
		}
	}
	doc, err := d.DeleteDocument(docID)
	if err != nil {
		sendError(err, rw)
		return
	}
	sendResponse(http.StatusOK, map[string]interface{}{
		"ok":  true,
		"id":  doc.ID,
		"rev": string(doc.Rev),
	}, rw)
}
