package config

import (
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

// DefaultLocation is the default path the daemon looks for its configuration.
const DefaultLocation = "/etc/curator/config.yml"

var (
	mu            sync.RWMutex
	_config       *Configuration
	_debugViaFlag bool
)

// Locker specific to writing the configuration to the disk, this happens
// in areas that might already be locked, so we don't want to crash the process.
var _writeLock sync.Mutex

// ApiConfiguration defines the configuration for the HTTP API exposed by the
// daemon for health checks, stats and collection requests.
type ApiConfiguration struct {
	// The interface that the internal webserver should bind to.
	Host string `default:"0.0.0.0" yaml:"host"`

	// The port that the internal webserver should bind to.
	Port int `default:"8080" yaml:"port"`

	// Token required in the Authorization header for all mutating routes.
	Token string `json:"-" yaml:"token"`

	// A list of IP address of proxies that may send a X-Forwarded-For header to
	// set the true clients IP.
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
}

// SystemConfiguration defines on-disk locations used by the daemon.
type SystemConfiguration struct {
	// Directory where the daemon stores its sqlite database file.
	DataDirectory string `default:"/var/lib/curator" yaml:"data"`

	// Directory where fetched pictures are written.
	StorageDirectory string `default:"/var/lib/curator/pictures" yaml:"storage"`

	// Directory where the daemon log file lives.
	LogDirectory string `default:"/var/log/curator" yaml:"log_directory"`
}

// HttpConfiguration controls the outbound HTTP client behavior shared by all
// provider modules.
type HttpConfiguration struct {
	// Timeout in seconds applied to every outbound provider request.
	TimeoutSeconds int `default:"30" yaml:"timeout_seconds"`

	// The User-Agent header sent on outbound requests.
	UserAgent string `default:"curator/1.0" yaml:"user_agent"`

	Retry RetryConfiguration `yaml:"retry"`
}

// RetryConfiguration controls retry behavior for rate-limited or failed
// upstream requests.
type RetryConfiguration struct {
	MaxRetries  int `default:"3" yaml:"max_retries"`
	BaseDelayMs int `default:"1000" yaml:"base_delay_ms"`
	MaxDelayMs  int `default:"60000" yaml:"max_delay_ms"`
}

// CollectionConfiguration controls the periodic refresh of stale records.
type CollectionConfiguration struct {
	// RefreshInterval is how often the scheduler re-queues stale records for
	// collection, expressed as a Go duration string such as "1h". An empty
	// value disables scheduled refresh.
	RefreshInterval string `default:"1h" yaml:"refresh_interval"`

	// StaleAfter marks a stored record as stale once its last update is older
	// than this duration.
	StaleAfter string `default:"168h" yaml:"stale_after"`

	// Workers is the number of queue workers draining collection tasks.
	Workers int `default:"4" yaml:"workers"`
}

// RefreshEvery returns the parsed refresh interval, or zero when scheduled
// refresh is disabled or the value cannot be parsed.
func (c CollectionConfiguration) RefreshEvery() time.Duration {
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0
	}
	return d
}

// StaleCutoff returns the parsed staleness threshold, defaulting to one week.
func (c CollectionConfiguration) StaleCutoff() time.Duration {
	d, err := time.ParseDuration(c.StaleAfter)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// ModuleConfig identifies one provider module. The set of modules and their
// settings are fixed for the lifetime of the process once the configuration
// has been loaded.
type ModuleConfig struct {
	// Name is the unique, stable identifier of the module. It selects the
	// module implementation from the registry.
	Name string `yaml:"name"`

	// Enabled determines whether the supervisor should even attempt to start
	// this module. Disabled modules are skipped, not failed.
	Enabled bool `yaml:"enabled"`

	// RateLimit is the number of requests the module may make per RateInterval.
	RateLimit int `default:"2" yaml:"rate_limit"`

	// RateInterval is the refill window for the module's token bucket,
	// expressed as a Go duration string such as "1s" or "500ms".
	RateInterval string `default:"1s" yaml:"rate_interval"`

	// RequiredFields lists the keys in Fields that must be present and
	// non-empty for the module to be considered startable.
	RequiredFields []string `yaml:"required_fields"`

	// Fields holds provider-specific settings such as api_key or endpoint.
	Fields map[string]string `yaml:"fields"`
}

// Field returns the provider-specific value stored under key, or an empty
// string when it is not set.
func (m ModuleConfig) Field(key string) string {
	return m.Fields[key]
}

// RateWindow returns the parsed refill window for the module's token bucket.
// Callers must validate the raw value first; an unparseable interval falls
// back to one second here so a limiter can always be constructed.
func (m ModuleConfig) RateWindow() time.Duration {
	d, err := time.ParseDuration(m.RateInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// Configuration is the root configuration object for the daemon.
type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the daemon should be running in debug mode.
	Debug bool `json:"debug" yaml:"debug"`

	// Timezone used by the scheduled refresh job, defaults to the system
	// timezone when unset or unparseable.
	Timezone string `yaml:"timezone"`

	Api        ApiConfiguration        `yaml:"api"`
	System     SystemConfiguration     `yaml:"system"`
	Http       HttpConfiguration       `yaml:"http"`
	Collection CollectionConfiguration `yaml:"collection"`

	// Modules is the ordered list of provider modules this instance knows
	// about. Order only affects log output, never scheduling.
	Modules []ModuleConfig `yaml:"modules"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file take priority over the
	// default values.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such that
// anything trying to set a different configuration value, or read the configuration
// will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	defer mu.Unlock()
	_config = c
}

// SetDebugViaFlag tracks if the application is running in debug mode because of
// a command line flag argument. If so we do not want to store that configuration
// change to the disk.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	defer mu.Unlock()
	_config.Debug = d
	_debugViaFlag = d
}

// Get returns the global configuration instance. This is a thread-safe operation
// that will block if the configuration is presently being modified.
//
// Be aware that you CANNOT make modifications to the currently stored configuration
// by modifying the struct returned by this function. The only way to make
// modifications is by using the Update() function and passing data through in
// the callback.
func Get() *Configuration {
	mu.RLock()
	// Create a copy of the struct so that all modifications made beyond this
	// point are immutable.
	c := *_config
	mu.RUnlock()
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock. This is the correct way to make modifications to
// the global configuration.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	defer mu.Unlock()
	callback(_config)
}

// Location resolves the configured timezone, falling back to the system
// timezone.
func (c *Configuration) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.WithField("timezone", c.Timezone).Warn("unknown timezone, using system default")
		return time.Local
	}
	return loc
}

// Path returns the file path where this configuration is stored.
func (c *Configuration) Path() string {
	return c.path
}

// Module returns the configuration block for the named module along with a
// boolean indicating whether it was declared at all.
func (c *Configuration) Module(name string) (ModuleConfig, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleConfig{}, false
}

// WriteToDisk writes the configuration to the disk. This is a thread safe
// operation and will only allow one write at a time. Additional calls while
// writing are queued up.
func WriteToDisk(c *Configuration) error {
	_writeLock.Lock()
	defer _writeLock.Unlock()

	ccopy := *c
	// If debugging is set with the flag, don't save that to the configuration file,
	// otherwise you'll always end up in debug mode.
	if _debugViaFlag {
		ccopy.Debug = false
	}
	if c.path == "" {
		return errors.New("cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(&ccopy)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0o600)
}

// FromFile reads the configuration from the provided file and stores it in the
// global singleton for this instance. A file that cannot be read or parsed is a
// fatal startup condition, distinct from any per-module validation failure.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "config: could not read file")
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrap(err, "config: could not parse file")
	}

	// Struct tag defaults never reach the module entries since the yaml
	// decoder creates the slice after defaults.Set has already run, so they
	// are applied per entry here.
	for i := range c.Modules {
		if err := defaults.Set(&c.Modules[i]); err != nil {
			return errors.Wrapf(err, "config: could not apply defaults for module %s", c.Modules[i].Name)
		}
	}

	// Store this configuration in the global state.
	Set(c)
	return nil
}

// ConfigureDirectories ensures that all the system directories exist on the
// system and are only readable by the owning user.
//
// This function IS NOT thread-safe.
func ConfigureDirectories() error {
	for _, dir := range []string{
		_config.System.DataDirectory,
		_config.System.StorageDirectory,
		_config.System.LogDirectory,
	} {
		log.WithField("path", dir).Debug("ensuring directory exists")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrapf(err, "config: could not create directory %s", dir)
		}
	}
	return nil
}
