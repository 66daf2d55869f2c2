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

package conf

import (
	"io/ioutil"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v2"

	"github.com/CovenantSQL/docsync/gateway"
	"github.com/CovenantSQL/docsync/metric"
	"github.com/CovenantSQL/docsync/utils"
	"github.com/CovenantSQL/docsync/utils/log"
)

// UserConfig defines a user of a hosted database.
type UserConfig struct {
	Password string   `yaml:"Password" validate:"required"`
	Channels []string `yaml:"Channels"`
	Roles    []string `yaml:"Roles"`
	Disabled bool     `yaml:"Disabled"`
}

// RoleConfig defines a role granting channels to its users.
type RoleConfig struct {
	Channels []string `yaml:"Channels"`
}

// GuestConfig defines anonymous access.
type GuestConfig struct {
	Enabled  bool     `yaml:"Enabled"`
	Channels []string `yaml:"Channels"`
}

// DeltaSyncConfig defines delta replication of a hosted database.
type DeltaSyncConfig struct {
	Enabled bool `yaml:"Enabled"`
	// RevMaxAge is the time a revision stays usable as delta source.
	RevMaxAge    time.Duration `yaml:"RevMaxAge" validate:"gte=0"`
	RevCacheSize int           `yaml:"RevCacheSize" validate:"gte=0"`
}

// DatabaseConfig defines a hosted database.
type DatabaseConfig struct {
	// Path of the database file relative to the working root, empty keeps it in memory.
	Path      string                 `yaml:"Path"`
	RevsLimit int                    `yaml:"RevsLimit" validate:"gte=0"`
	DeltaSync DeltaSyncConfig        `yaml:"DeltaSync"`
	Guest     GuestConfig            `yaml:"Guest"`
	Users     map[string]*UserConfig `yaml:"Users" validate:"dive,required"`
	Roles     map[string]*RoleConfig `yaml:"Roles"`
}

// GatewayConfig holds the gateway config read from a yaml file.
type GatewayConfig struct {
	WorkingRoot     string                     `yaml:"WorkingRoot"`
	ListenAddr      string                     `yaml:"ListenAddr"`
	AdminAddr       string                     `yaml:"AdminAddr"`
	LogLevel        string                     `yaml:"LogLevel"`
	SessionTTL      time.Duration              `yaml:"SessionTTL" validate:"gte=0"`
	LongPollTimeout time.Duration              `yaml:"LongPollTimeout" validate:"gte=0"`
	MetricsInterval time.Duration              `yaml:"MetricsInterval" validate:"gte=0"`
	Databases       map[string]*DatabaseConfig `yaml:"Databases" validate:"dive"`
}

// GConf is the global gateway config pointer.
var GConf *GatewayConfig

var validate = validator.New()

func readYAML(configPath string, v interface{}) (err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		log.WithError(err).Error("read config file failed")
		return
	}
	if err = yaml.Unmarshal(configBytes, v); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		return
	}
	if err = validate.Struct(v); err != nil {
		log.WithError(err).Error("validate config file failed")
	}
	return
}

// LoadGatewayConfig loads a gateway config from configPath.
func LoadGatewayConfig(configPath string) (config *GatewayConfig, err error) {
	config = &GatewayConfig{}
	if err = readYAML(utils.HomeDirExpand(configPath), config); err != nil {
		return nil, err
	}
	if config.WorkingRoot == "" {
		config.WorkingRoot = filepath.Dir(configPath)
	}
	config.setDefaults()
	return
}

func (c *GatewayConfig) setDefaults() {
	c.WorkingRoot = utils.HomeDirExpand(c.WorkingRoot)
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.AdminAddr == "" {
		c.AdminAddr = DefaultAdminAddr
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	for _, db := range c.Databases {
		if db == nil {
			continue
		}
		if db.RevsLimit == 0 {
			db.RevsLimit = DefaultRevsLimit
		}
		if db.RevsLimit > MaxRevsLimit {
			db.RevsLimit = MaxRevsLimit
		}
		if db.Path != "" && !filepath.IsAbs(db.Path) {
			db.Path = filepath.Join(c.WorkingRoot, db.Path)
		}
	}
}

// DatabaseNames returns the sorted names of the configured databases.
func (c *GatewayConfig) DatabaseNames() (names []string) {
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Options returns the gateway options of the config.
func (c *GatewayConfig) Options(publisher *metric.ExpvarPublisher) gateway.Options {
	return gateway.Options{
		SessionTTL:      c.SessionTTL,
		LongPollTimeout: c.LongPollTimeout,
		Publisher:       publisher,
	}
}

// Apply creates the configured databases with their roles, users and guest access.
func (c *GatewayConfig) Apply(g *gateway.Gateway) (err error) {
	for _, name := range c.DatabaseNames() {
		db := c.Databases[name]
		if db == nil {
			db = &DatabaseConfig{}
		}
		var d *gateway.Database
		if d, err = g.CreateDatabase(gateway.DatabaseConfig{
			Name:           name,
			Path:           db.Path,
			RevsLimit:      db.RevsLimit,
			DeltaSync:      db.DeltaSync.Enabled,
			DeltaResidency: db.DeltaSync.RevMaxAge,
			RevCacheSize:   db.DeltaSync.RevCacheSize,
			GuestEnabled:   db.Guest.Enabled,
			GuestChannels:  db.Guest.Channels,
		}); err != nil {
			return errors.Wrapf(err, "create database %q failed", name)
		}

		roles := make([]string, 0, len(db.Roles))
		for role := range db.Roles {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			var channels []string
			if r := db.Roles[role]; r != nil {
				channels = r.Channels
			}
			if err = d.Auth().PutRole(role, channels); err != nil {
				return errors.Wrapf(err, "create role %q of %q failed", role, name)
			}
		}

		users := make([]string, 0, len(db.Users))
		for user := range db.Users {
			users = append(users, user)
		}
		sort.Strings(users)
		for _, user := range users {
			u := db.Users[user]
			if err = d.Auth().PutUser(user, u.Password, u.Channels, u.Roles); err != nil {
				return errors.Wrapf(err, "create user %q of %q failed", user, name)
			}
			if u.Disabled {
				if err = d.Auth().SetUserDisabled(user, true); err != nil {
					return
				}
			}
		}
		log.WithFields(log.Fields{
			"db":    name,
			"users": len(users),
			"roles": len(roles),
			"delta": db.DeltaSync.Enabled,
		}).Info("database configured")
	}
	return
}
