package clickhouse

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" default:"9000"`
	Database        string        `yaml:"database" default:"arbrelay"`
	User            string        `yaml:"user" default:"default"`
	Password        string        `yaml:"password"`
	UseHTTP         bool          `yaml:"use_http"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
	DialTimeout     time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecTime     time.Duration `yaml:"max_execution_time"`
	AsyncInsert     bool          `yaml:"async_insert"`
	WaitForAsync    bool          `yaml:"wait_for_async_insert"`
}

// DSN renders the clickhouse-go connection string.
func (c Config) DSN() string {
	scheme := "clickhouse"
	if c.UseHTTP {
		scheme = "http"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.DialTimeout > 0 {
		q.Set("dial_timeout", c.DialTimeout.String())
	}
	if c.ReadTimeout > 0 {
		q.Set("read_timeout", c.ReadTimeout.String())
	}
	if c.MaxExecTime > 0 {
		q.Set("max_execution_time", strconv.Itoa(int(c.MaxExecTime.Seconds())))
	}
	if c.AsyncInsert {
		q.Set("async_insert", "1")
		if c.WaitForAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
