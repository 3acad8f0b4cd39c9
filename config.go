package sqldb

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config holds the connection settings and the escaping conventions of a session.
// Use DefaultConfig (or ConfigFromMap / LoadConfig) to start from the defaults.
type Config struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	// Charset is applied with SET NAMES right after connecting. Default "utf8".
	Charset string `json:"charset" yaml:"charset"`
	// Port of the server. Zero leaves it to the driver (3306).
	Port int `json:"port" yaml:"port"`
	// BindMarker identifies values in a statement passed to Compile. Default "?".
	BindMarker string `json:"bind_marker" yaml:"bind_marker"`
	// EscapeChar wraps identifiers in EscapeIdentifier. Default `"`.
	EscapeChar string `json:"escape_char" yaml:"escape_char"`
	// LikeEscapeStr is the ESCAPE clause template; %s receives LikeEscapeChr.
	LikeEscapeStr string `json:"like_escape_str" yaml:"like_escape_str"`
	// LikeEscapeChr prefixes wildcards in EscapeLike. Default "!".
	LikeEscapeChr string `json:"like_escape_chr" yaml:"like_escape_chr"`
	// ConnectTimeout bounds the initial connect. Default 5s.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	// LiteralScan selects how markers inside literals are found: ScanSimple
	// (default) or ScanTokenizer.
	LiteralScan string `json:"literal_scan" yaml:"literal_scan"`
	// CacheSize bounds the compiled-template cache.
	// If = 0 it uses a default of 256; if < 0 caching is disabled.
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

const (
	defaultCharset        = "utf8"
	defaultBindMarker     = "?"
	defaultEscapeChar     = `"`
	defaultLikeEscapeStr  = " ESCAPE '%s' "
	defaultLikeEscapeChr  = "!"
	defaultConnectTimeout = 5 * time.Second
	defaultCacheSize      = 256
)

// DefaultConfig returns a Config with every default applied and no credentials.
func DefaultConfig() Config {
	return Config{
		Charset:        defaultCharset,
		BindMarker:     defaultBindMarker,
		EscapeChar:     defaultEscapeChar,
		LikeEscapeStr:  defaultLikeEscapeStr,
		LikeEscapeChr:  defaultLikeEscapeChr,
		LiteralScan:    ScanSimple,
		ConnectTimeout: defaultConnectTimeout,
		CacheSize:      defaultCacheSize,
	}
}

// withDefaults fills zero-valued fields with their defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Charset == "" {
		c.Charset = d.Charset
	}
	if c.BindMarker == "" {
		c.BindMarker = d.BindMarker
	}
	if c.EscapeChar == "" {
		c.EscapeChar = d.EscapeChar
	}
	if c.LikeEscapeStr == "" {
		c.LikeEscapeStr = d.LikeEscapeStr
	}
	if c.LikeEscapeChr == "" {
		c.LikeEscapeChr = d.LikeEscapeChr
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.LiteralScan == "" {
		c.LiteralScan = ScanSimple
	}
	if c.CacheSize == 0 {
		c.CacheSize = defaultCacheSize
	}
	return c
}

// Validate checks the fields a session depends on, with defaults applied to
// empty fields. Hostname is only required by Open, since Attach reuses an
// existing handle.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Key: "port", Err: ErrInvalidOption}
	}
	if !validCharset(c.Charset) {
		return &ConfigError{Key: "charset", Err: ErrInvalidCharset}
	}
	if c.BindMarker == "" {
		return &ConfigError{Key: "bind_marker", Err: ErrInvalidOption}
	}
	if len([]rune(c.LikeEscapeChr)) != 1 {
		return &ConfigError{Key: "like_escape_chr", Err: ErrInvalidOption}
	}
	if strings.Count(c.LikeEscapeStr, "%s") != 1 {
		return &ConfigError{Key: "like_escape_str", Err: ErrInvalidOption}
	}
	if c.LiteralScan != "" && c.LiteralScan != ScanSimple && c.LiteralScan != ScanTokenizer {
		return &ConfigError{Key: "literal_scan", Err: ErrInvalidOption}
	}
	return nil
}

// addr returns host[:port] for the driver; the driver adds its default port.
func (c Config) addr() string {
	if c.Port == 0 {
		return c.Hostname
	}
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// driverConfig translates c into the MySQL driver configuration.
func (c Config) driverConfig() *mysql.Config {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = c.addr()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.DBName = c.Database
	mc.Timeout = c.ConnectTimeout
	return mc
}

// ConfigFromMap builds a Config from option names to values, starting from the
// defaults; empty values keep the default. An empty map is rejected, as is any
// key Config does not know.
func ConfigFromMap(options map[string]any) (Config, error) {
	if len(options) == 0 {
		return Config{}, &ConfigError{Err: ErrEmptyConfig}
	}

	c := DefaultConfig()
	for key, raw := range options {
		var err error
		switch key {
		case "hostname":
			c.Hostname, err = stringOption(raw)
		case "username":
			c.Username, err = stringOption(raw)
		case "password":
			c.Password, err = stringOption(raw)
		case "database":
			c.Database, err = stringOption(raw)
		case "charset":
			c.Charset, err = stringOption(raw)
		case "port":
			c.Port, err = intOption(raw)
		case "bind_marker":
			c.BindMarker, err = stringOption(raw)
		case "escape_char":
			c.EscapeChar, err = stringOption(raw)
		case "like_escape_str":
			c.LikeEscapeStr, err = stringOption(raw)
		case "like_escape_chr":
			c.LikeEscapeChr, err = stringOption(raw)
		case "literal_scan":
			c.LiteralScan, err = stringOption(raw)
		case "connect_timeout":
			c.ConnectTimeout, err = durationOption(raw)
		case "cache_size":
			c.CacheSize, err = intOption(raw)
		default:
			return Config{}, &ConfigError{Key: key, Err: ErrUnknownOption}
		}
		if err != nil {
			return Config{}, &ConfigError{Key: key, Err: err}
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c.withDefaults(), nil
}

// LoadConfig reads a YAML (or JSON) document of options and passes it to
// ConfigFromMap.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sqldb: read config: %w", err)
	}
	var options map[string]any
	if err := yaml.Unmarshal(data, &options); err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("%w: %v", ErrInvalidOption, err)}
	}
	return ConfigFromMap(options)
}

func stringOption(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: want string, got %T", ErrInvalidOption, v)
	}
}

// intOption accepts numbers and numeric strings; empty values mean zero.
func intOption(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, fmt.Errorf("%w: %d is out of range", ErrInvalidOption, n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%w: %d is out of range", ErrInvalidOption, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidOption, n)
		}
		if n >= math.MaxInt || n < math.MinInt {
			return 0, fmt.Errorf("%w: %v is out of range", ErrInvalidOption, n)
		}
		return int(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidOption, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: want integer, got %T", ErrInvalidOption, v)
	}
}

// durationOption accepts time.Duration, Go duration strings, or seconds.
func durationOption(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		if dur, err := time.ParseDuration(d); err == nil {
			return dur, nil
		}
	}
	secs, err := intOption(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// validCharset reports whether name is safe to splice into SET NAMES.
func validCharset(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isAlphaNumUnderscore(name[i]) {
			return false
		}
	}
	return true
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '_'
}
