// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported SQL drivers. "sqlite3" is accepted as an alias of "sqlite".
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

var sqlDrivers = []string{DriverPostgres, DriverMySQL, DriverSQLite, "sqlite3"}

// DatabaseConfig describes one SQL connection of the databases section.
//
// Example:
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: db.internal
//	    database: stratus
//	    username: stratus
//	    password: ${DB_PASSWORD}
type DatabaseConfig struct {
	// Driver is one of postgres, mysql or sqlite.
	Driver string `yaml:"driver" jsonschema:"title=Driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3"`

	// Host and Port of the server. Unused for SQLite.
	Host string `yaml:"host,omitempty" jsonschema:"title=Host"`
	Port int    `yaml:"port,omitempty" jsonschema:"title=Port,minimum=0,maximum=65535"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database" jsonschema:"title=Database"`

	Username string `yaml:"username,omitempty" jsonschema:"title=Username"`
	Password string `yaml:"password,omitempty" jsonschema:"title=Password"`

	// SSLMode is passed to PostgreSQL as sslmode.
	SSLMode string `yaml:"ssl_mode,omitempty" jsonschema:"title=SSL Mode,default=disable"`

	// MaxConns and MaxIdle size the connection pool. SQLite always uses one.
	MaxConns int `yaml:"max_conns,omitempty" jsonschema:"title=Max Open Connections,minimum=0,default=25"`
	MaxIdle  int `yaml:"max_idle,omitempty" jsonschema:"title=Max Idle Connections,minimum=0,default=5"`

	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" jsonschema:"title=Connection Max Lifetime,default=1h"`
}

func (c *DatabaseConfig) isSQLite() bool {
	return c.Dialect() == DriverSQLite
}

// SetDefaults applies default values to DatabaseConfig.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	switch c.Driver {
	case DriverPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	if !slices.Contains(sqlDrivers, c.Driver) {
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if !c.isSQLite() && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("conn_max_lifetime must be non-negative")
	}
	return nil
}

// DSN returns the connection string understood by the driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		return u.String()
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		// Task timestamps are scanned into time.Time.
		mc.ParseTime = true
		return mc.FormatDSN()
	case DriverSQLite:
		return c.Database
	}
	return ""
}

// String describes the connection without credentials.
func (c *DatabaseConfig) String() string {
	if c.isSQLite() {
		return "sqlite:" + c.Database
	}
	return fmt.Sprintf("%s://%s/%s", c.Driver, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database)
}

// DriverName is the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.isSQLite() {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect is the SQL dialect used to build task store queries.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return DriverSQLite
	}
	return c.Driver
}
