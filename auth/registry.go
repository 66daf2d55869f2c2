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

// Package auth holds users, roles, sessions and channel grants of a gateway database.
package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/CovenantSQL/docsync/types"
	"github.com/CovenantSQL/docsync/utils/log"
)

const (
	// DefaultSessionCookie is the cookie name carrying a session id.
	DefaultSessionCookie = "SyncGatewaySession"
	// DefaultSessionTTL is the lifetime of a new session.
	DefaultSessionTTL = 24 * time.Hour
	// GuestName names the anonymous principal.
	GuestName = "GUEST"
)

// Credentials identify the principal of a replication.
type Credentials struct {
	Username      string `yaml:"Username"`
	Password      string `yaml:"Password"`
	SessionCookie string `yaml:"SessionCookie"`
	SessionID     string `yaml:"SessionID"`
}

// Anonymous reports whether no credential is set.
func (c Credentials) Anonymous() bool {
	return c.Username == "" && c.SessionID == ""
}

// CookieName returns the session cookie name.
func (c Credentials) CookieName() string {
	if c.SessionCookie == "" {
		return DefaultSessionCookie
	}
	return c.SessionCookie
}

// Principal is an authenticated user with its effective channels.
type Principal struct {
	Name     string
	Channels []string
	Guest    bool
}

// CanSee reports whether a document declaring channels is visible to the principal.
func (p *Principal) CanSee(channels []string) bool {
	return Visible(p.Channels, channels)
}

// Visible reports whether granted channels intersect channels. The wildcard grant sees
// every document and the public channel is seen by every grant.
func Visible(granted, channels []string) bool {
	for _, g := range granted {
		if g == types.AllChannels {
			return true
		}
	}
	for _, c := range channels {
		if c == types.PublicChannel {
			return true
		}
		for _, g := range granted {
			if g == c {
				return true
			}
		}
	}
	return false
}

// User is a named principal with a password and grants.
type User struct {
	Name         string
	PasswordHash []byte
	Channels     []string
	Roles        []string
	Disabled     bool
}

// Role is a named channel grant shared by users.
type Role struct {
	Name     string
	Channels []string
}

// Session binds an id to a user until it expires.
type Session struct {
	ID       string
	Username string
	Expires  time.Time
}

// Options configures a registry.
type Options struct {
	Clock      clockwork.Clock
	SessionTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Registry stores principals of one database.
type Registry struct {
	sync.RWMutex
	users    map[string]*User
	roles    map[string]*Role
	sessions map[string]*Session

	guestEnabled  bool
	guestChannels []string

	clock      clockwork.Clock
	sessionTTL time.Duration
	cost       int
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		users:      make(map[string]*User),
		roles:      make(map[string]*Role),
		sessions:   make(map[string]*Session),
		clock:      opts.Clock,
		sessionTTL: opts.SessionTTL,
		cost:       opts.BcryptCost,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.sessionTTL <= 0 {
		r.sessionTTL = DefaultSessionTTL
	}
	if r.cost == 0 {
		r.cost = bcrypt.DefaultCost
	}
	return r
}

// PutUser creates or replaces a user.
func (r *Registry) PutUser(name, password string, channels, roles []string) (err error) {
	if name == "" || name == GuestName {
		return errors.Wrapf(ErrInvalidName, "user %q", name)
	}
	var hash []byte
	if hash, err = bcrypt.GenerateFromPassword([]byte(password), r.cost); err != nil {
		return errors.Wrap(err, "hash password failed")
	}
	r.Lock()
	defer r.Unlock()
	r.users[name] = &User{
		Name:         name,
		PasswordHash: hash,
		Channels:     types.NormalizeChannels(channels),
		Roles:        types.NormalizeChannels(roles),
	}
	log.WithFields(log.Fields{"user": name, "channels": channels, "roles": roles}).Debug("put user")
	return
}

// SetUserChannels replaces the direct grants of a user.
func (r *Registry) SetUserChannels(name string, channels []string) error {
	r.Lock()
	defer r.Unlock()
	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	u.Channels = types.NormalizeChannels(channels)
	return nil
}

// SetUserRoles replaces the roles of a user.
func (r *Registry) SetUserRoles(name string, roles []string) error {
	r.Lock()
	defer r.Unlock()
	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	u.Roles = types.NormalizeChannels(roles)
	return nil
}

// SetUserDisabled enables or disables a user.
func (r *Registry) SetUserDisabled(name string, disabled bool) error {
	r.Lock()
	defer r.Unlock()
	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	u.Disabled = disabled
	return nil
}

// DeleteUser removes a user and its sessions.
func (r *Registry) DeleteUser(name string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.users[name]; !ok {
		return errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	delete(r.users, name)
	for id, s := range r.sessions {
		if s.Username == name {
			delete(r.sessions, id)
		}
	}
	return nil
}

// UserNames returns the sorted user names.
func (r *Registry) UserNames() (names []string) {
	r.RLock()
	defer r.RUnlock()
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// PutRole creates or replaces a role.
func (r *Registry) PutRole(name string, channels []string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidName, "empty role name")
	}
	r.Lock()
	defer r.Unlock()
	r.roles[name] = &Role{Name: name, Channels: types.NormalizeChannels(channels)}
	return nil
}

// DeleteRole removes a role, users keep the dangling membership.
func (r *Registry) DeleteRole(name string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.roles[name]; !ok {
		return errors.Wrapf(ErrRoleNotFound, "role %q", name)
	}
	delete(r.roles, name)
	return nil
}

// SetGuest configures anonymous access.
func (r *Registry) SetGuest(enabled bool, channels []string) {
	r.Lock()
	defer r.Unlock()
	r.guestEnabled = enabled
	r.guestChannels = types.NormalizeChannels(channels)
}

// CreateSession opens a session for a user, ttl <= 0 uses the registry default.
func (r *Registry) CreateSession(name string, ttl time.Duration) (s *Session, err error) {
	if ttl <= 0 {
		ttl = r.sessionTTL
	}
	r.Lock()
	defer r.Unlock()
	if _, ok := r.users[name]; !ok {
		return nil, errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	s = &Session{
		ID:       uuid.Must(uuid.NewV4()).String(),
		Username: name,
		Expires:  r.clock.Now().Add(ttl),
	}
	r.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

// DeleteSession ends a session.
func (r *Registry) DeleteSession(id string) {
	r.Lock()
	defer r.Unlock()
	delete(r.sessions, id)
}

// Authenticate resolves credentials to a principal.
func (r *Registry) Authenticate(c Credentials) (p *Principal, err error) {
	r.Lock()
	defer r.Unlock()

	switch {
	case c.SessionID != "":
		s, ok := r.sessions[c.SessionID]
		if !ok {
			return nil, errors.Wrap(ErrUnauthorized, "unknown session")
		}
		if !r.clock.Now().Before(s.Expires) {
			delete(r.sessions, s.ID)
			return nil, errors.Wrap(ErrUnauthorized, "session expired")
		}
		return r.principalLocked(s.Username)
	case c.Username != "":
		u, ok := r.users[c.Username]
		if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(c.Password)) != nil {
			return nil, errors.Wrap(ErrUnauthorized, "invalid username or password")
		}
		return r.principalLocked(c.Username)
	default:
		if !r.guestEnabled {
			return nil, errors.Wrap(ErrUnauthorized, "guest access disabled")
		}
		return &Principal{
			Name:     GuestName,
			Channels: append([]string(nil), r.guestChannels...),
			Guest:    true,
		}, nil
	}
}

// Principal returns the current grants of a named principal.
func (r *Registry) Principal(name string) (p *Principal, err error) {
	r.RLock()
	defer r.RUnlock()
	if name == GuestName {
		if !r.guestEnabled {
			return nil, errors.Wrap(ErrUnauthorized, "guest access disabled")
		}
		return &Principal{Name: GuestName, Channels: append([]string(nil), r.guestChannels...), Guest: true}, nil
	}
	return r.principalLocked(name)
}

func (r *Registry) principalLocked(name string) (p *Principal, err error) {
	u, ok := r.users[name]
	if !ok || u.Disabled {
		return nil, errors.Wrapf(ErrUnauthorized, "user %q", name)
	}
	channels := append([]string(nil), u.Channels...)
	for _, role := range u.Roles {
		if rl, ok := r.roles[role]; ok {
			channels = append(channels, rl.Channels...)
		}
	}
	return &Principal{Name: name, Channels: types.NormalizeChannels(channels)}, nil
}

// User returns a copy of a user.
func (r *Registry) User(name string) (u User, err error) {
	r.RLock()
	defer r.RUnlock()
	p, ok := r.users[name]
	if !ok {
		err = errors.Wrapf(ErrUserNotFound, "user %q", name)
		return
	}
	u = *p
	u.Channels = append([]string(nil), p.Channels...)
	u.Roles = append([]string(nil), p.Roles...)
	return
}

// RoleNames returns the sorted role names.
func (r *Registry) RoleNames() (names []string) {
	r.RLock()
	defer r.RUnlock()
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Role returns a copy of a role.
func (r *Registry) Role(name string) (rl Role, err error) {
	r.RLock()
	defer r.RUnlock()
	p, ok := r.roles[name]
	if !ok {
		err = errors.Wrapf(ErrRoleNotFound, "role %q", name)
		return
	}
	rl = Role{Name: p.Name, Channels: append([]string(nil), p.Channels...)}
	return
}

// Guest returns the anonymous access settings.
func (r *Registry) Guest() (enabled bool, channels []string) {
	r.RLock()
	defer r.RUnlock()
	return r.guestEnabled, append([]string(nil), r.guestChannels...)
}
