// Package config loads the service configuration from the environment, with
// optional per charger overrides from an ini file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"gopkg.in/ini.v1"

	"ha_ocpp/centralsystem"
	natsnotifier "ha_ocpp/notifier/nats"
	"ha_ocpp/session"
	"ha_ocpp/storage/redis"
)

// ChargerSettings tune one charge point. The environment gives the defaults,
// a [charger.<identity>] section of the chargers file overrides them.
type ChargerSettings struct {
	HeartbeatInterval            int    `env:"OCPP_HEARTBEAT_INTERVAL,default=3600" ini:"heartbeat_interval" validate:"gt=0"`
	MeterInterval                int    `env:"OCPP_METER_INTERVAL,default=60" ini:"meter_interval" validate:"gte=0"`
	IdleInterval                 int    `env:"OCPP_IDLE_INTERVAL,default=900" ini:"idle_interval" validate:"gte=0"`
	MonitoredVariables           string `env:"OCPP_MONITORED_VARIABLES" ini:"monitored_variables"`
	MonitoredVariablesAutoconfig bool   `env:"OCPP_MONITORED_VARIABLES_AUTOCONFIG,default=true" ini:"monitored_variables_autoconfig"`
	ForceSmartCharging           bool   `env:"OCPP_FORCE_SMART_CHARGING,default=false" ini:"force_smart_charging"`
	RemoteIDTag                  string `env:"OCPP_REMOTE_ID_TAG" ini:"remote_id_tag" validate:"max=20"`
	DefaultAuthStatus            string `env:"OCPP_DEFAULT_AUTH_STATUS,default=Accepted" ini:"default_auth_status" validate:"oneof=Accepted Blocked Expired Invalid ConcurrentTx"`
	MaxPendingCalls              int    `env:"OCPP_MAX_PENDING_CALLS,default=16" ini:"max_pending_calls" validate:"gt=0"`
}

type Config struct {
	Host         string   `env:"OCPP_HOST,default=0.0.0.0"`
	Port         int      `env:"OCPP_PORT,default=9000" validate:"gt=0,lte=65535"`
	CSID         string   `env:"OCPP_CSID,default=central" validate:"required"`
	Subprotocols []string `env:"OCPP_SUBPROTOCOLS,default=ocpp1.6" validate:"min=1,dive,required"`
	CertFile     string   `env:"OCPP_SSL_CERTFILE"`
	KeyFile      string   `env:"OCPP_SSL_KEYFILE" validate:"required_with=CertFile"`
	// Charge points must present a client certificate signed by this CA when set.
	CAFile string `env:"OCPP_SSL_CAFILE" validate:"excluded_without=CertFile"`

	CallTimeout          time.Duration `env:"OCPP_CALL_TIMEOUT,default=60s" validate:"gt=0"`
	PingInterval         time.Duration `env:"OCPP_WEBSOCKET_PING_INTERVAL,default=20s" validate:"gte=0"`
	PingTimeout          time.Duration `env:"OCPP_WEBSOCKET_PING_TIMEOUT,default=20s" validate:"gte=0"`
	PingTries            int           `env:"OCPP_WEBSOCKET_PING_TRIES,default=2" validate:"gte=0"`
	SkipSchemaValidation bool          `env:"OCPP_SKIP_SCHEMA_VALIDATION,default=false"`

	Charger      ChargerSettings
	ChargersFile string `env:"OCPP_CHARGERS_FILE"`

	Store          string        `env:"OCPP_STORE,default=memory" validate:"oneof=memory redis"`
	RedisAddr      string        `env:"REDIS_ADDR,default=localhost:6379" validate:"required_if=Store redis"`
	RedisDB        int           `env:"REDIS_DB,default=0" validate:"gte=0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX,default=ocpp:transaction:"`
	RedisTTL       time.Duration `env:"REDIS_TTL,default=720h" validate:"gte=0"`

	NatsEnabled        bool          `env:"NATS_ENABLED,default=true"`
	NatsURL            string        `env:"NATS_URL,default=nats://127.0.0.1:4222" validate:"required_if=NatsEnabled true"`
	NatsSubject        string        `env:"NATS_SUBJECT,default=request"`
	NatsTimeout        time.Duration `env:"NATS_TIMEOUT,default=3m" validate:"gt=0"`
	NotificationBuffer int           `env:"NOTIFICATION_BUFFER,default=256" validate:"gt=0"`

	LogLevel string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error fatal panic"`

	chargers map[string]ChargerSettings
	authList map[string]types.AuthorizationStatus
}

var validate = validator.New()

// Load reads the environment and the chargers file it names.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if cfg.Charger.RemoteIDTag == "" {
		cfg.Charger.RemoteIDTag = strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}
	cfg.chargers = map[string]ChargerSettings{}
	cfg.authList = map[string]types.AuthorizationStatus{}
	if cfg.ChargersFile != "" {
		if err := cfg.loadChargers(cfg.ChargersFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for identity, charger := range c.chargers {
		if err := validate.Struct(charger); err != nil {
			return fmt.Errorf("invalid configuration for charger %s: %w", identity, err)
		}
	}
	for idTag, status := range c.authList {
		if err := validate.Var(string(status), "oneof=Accepted Blocked Expired Invalid ConcurrentTx"); err != nil {
			return fmt.Errorf("invalid status %q for id tag %s", status, idTag)
		}
	}
	return nil
}

// loadChargers reads [charger.<identity>] sections on top of the defaults and
// the [auth] section mapping id tags to authorization statuses.
func (c *Config) loadChargers(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("reading chargers file: %w", err)
	}
	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case strings.HasPrefix(name, "charger."):
			identity := strings.TrimPrefix(name, "charger.")
			if identity == "" {
				return fmt.Errorf("section %q has no charger identity", name)
			}
			charger := c.Charger
			if err := section.MapTo(&charger); err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
			c.chargers[identity] = charger
		case name == "auth":
			for _, key := range section.Keys() {
				c.authList[key.Name()] = types.AuthorizationStatus(strings.TrimSpace(key.String()))
			}
		}
	}
	return nil
}

// ChargerSettings returns the settings of identity, the defaults when the
// chargers file has no section for it.
func (c *Config) ChargerSettings(identity string) ChargerSettings {
	if charger, ok := c.chargers[identity]; ok {
		return charger
	}
	return c.Charger
}

// SessionSettings builds the session settings of identity.
func (c *Config) SessionSettings(identity string) session.Settings {
	charger := c.ChargerSettings(identity)
	settings := session.DefaultSettings()
	settings.CallTimeout = c.CallTimeout
	settings.MaxPendingCalls = charger.MaxPendingCalls
	settings.HeartbeatInterval = charger.HeartbeatInterval
	settings.MeterInterval = charger.MeterInterval
	settings.IdleInterval = charger.IdleInterval
	settings.MonitoredVariablesAutoconfig = charger.MonitoredVariablesAutoconfig
	settings.ForceSmartCharging = charger.ForceSmartCharging
	settings.RemoteIDTag = charger.RemoteIDTag
	settings.DefaultAuthStatus = types.AuthorizationStatus(charger.DefaultAuthStatus)
	if variables := splitList(charger.MonitoredVariables); len(variables) > 0 {
		settings.MonitoredVariables = variables
	}
	for idTag, status := range c.authList {
		settings.AuthList[idTag] = status
	}
	return settings
}

func (c *Config) ListenerConfig() centralsystem.ListenerConfig {
	return centralsystem.ListenerConfig{
		Host:         c.Host,
		Port:         c.Port,
		Subprotocols: c.Subprotocols,
		CertFile:     c.CertFile,
		KeyFile:      c.KeyFile,
		PingInterval: c.PingInterval,
		PingTimeout:  c.PingTimeout,
		PingTries:    c.PingTries,
	}
}

func (c *Config) NatsConfig() natsnotifier.Config {
	return natsnotifier.Config{
		URL:     c.NatsURL,
		Subject: c.NatsSubject,
		Name:    c.CSID,
		Timeout: c.NatsTimeout,
	}
}

// RedisConfig is the store configuration without a client; the caller dials.
func (c *Config) RedisConfig() redis.Config {
	return redis.Config{
		KeyPrefix: c.RedisKeyPrefix,
		TTL:       c.RedisTTL,
	}
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
