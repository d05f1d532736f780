// Package config loads the runtime Settings table (§6) via viper, the
// way the teacher's internal/config loads its server/websocket/metrics
// sections — same defaults-then-file-then-env layering, new env
// prefix and shape.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds every configuration knob the channel runtime and
// session layer consume (§6).
type Settings struct {
	Network  NetworkConfig  `mapstructure:"network"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Address  AddressConfig  `mapstructure:"address"`
	Identity IdentityConfig `mapstructure:"identity"`
	Lists    ListConfig     `mapstructure:"lists"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// NetworkConfig is the connection-count portion of §6.
type NetworkConfig struct {
	OutboundConnections int `mapstructure:"outbound_connections"`
	InboundConnections  int `mapstructure:"inbound_connections"`
	ConnectBatchSize    int `mapstructure:"connect_batch_size"`
	Threads             int `mapstructure:"threads"`
}

// TimeoutConfig is the §6 "Timeouts" table, seconds/minutes as named.
type TimeoutConfig struct {
	Connect            time.Duration `mapstructure:"connect_timeout"`
	Handshake          time.Duration `mapstructure:"handshake_timeout"`
	Seeding            time.Duration `mapstructure:"seeding_timeout"`
	Retry              time.Duration `mapstructure:"retry_timeout"`
	ChannelHeartbeat   time.Duration `mapstructure:"channel_heartbeat_minutes"`
	ChannelInactivity  time.Duration `mapstructure:"channel_inactivity_minutes"`
	ChannelExpiration  time.Duration `mapstructure:"channel_expiration_minutes"`
	MaximumSkew        time.Duration `mapstructure:"maximum_skew_minutes"`
	ChannelGermination time.Duration `mapstructure:"channel_germination"`
}

// ProtocolConfig is the §6 "Protocol policy" table.
type ProtocolConfig struct {
	ProtocolMinimum  uint32 `mapstructure:"protocol_minimum"`
	ProtocolMaximum  uint32 `mapstructure:"protocol_maximum"`
	ServicesMinimum  uint64 `mapstructure:"services_minimum"`
	ServicesMaximum  uint64 `mapstructure:"services_maximum"`
	InvalidServices  uint64 `mapstructure:"invalid_services"`
	EnableAddress    bool   `mapstructure:"enable_address"`
	EnableAddressV2  bool   `mapstructure:"enable_address_v2"`
	EnableWitnessTx  bool   `mapstructure:"enable_witness_tx"`
	EnableCompact    bool   `mapstructure:"enable_compact"`
	EnableAlert      bool   `mapstructure:"enable_alert"`
	EnableReject     bool   `mapstructure:"enable_reject"`
	EnableRelay      bool   `mapstructure:"enable_relay"`
	EnableIPv6       bool   `mapstructure:"enable_ipv6"`
	EnableLoopback   bool   `mapstructure:"enable_loopback"`
	ValidateChecksum bool   `mapstructure:"validate_checksum"`
}

// AddressConfig is the §6 "Address policy" table.
type AddressConfig struct {
	HostPoolCapacity    int     `mapstructure:"host_pool_capacity"`
	AddressLower        int     `mapstructure:"address_lower"`
	AddressUpper        int     `mapstructure:"address_upper"`
	MinimumBuffer       int     `mapstructure:"minimum_buffer"`
	MinimumAddressCount int     `mapstructure:"minimum_address_count"`
	RateLimit           float64 `mapstructure:"rate_limit"`
	HostsFile           string  `mapstructure:"hosts_file"`
}

// IdentityConfig is the §6 "Identity" table.
type IdentityConfig struct {
	Identifier uint32 `mapstructure:"identifier"`
	UserAgent  string `mapstructure:"user_agent"`
}

// ListConfig is the §6 "Lists" table.
type ListConfig struct {
	Peers      []string `mapstructure:"peers"`
	Seeds      []string `mapstructure:"seeds"`
	Selfs      []string `mapstructure:"selfs"`
	Binds      []string `mapstructure:"binds"`
	Blacklists []string `mapstructure:"blacklists"`
	Whitelists []string `mapstructure:"whitelists"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads Settings from environment variables (prefixed BN_, for
// "Bitcoin Network") and an optional config file, the way the teacher
// layers viper defaults-then-file-then-env.
func Load() (Settings, error) {
	v := viper.New()

	v.SetDefault("network.outbound_connections", 8)
	v.SetDefault("network.inbound_connections", 128)
	v.SetDefault("network.connect_batch_size", 5)
	v.SetDefault("network.threads", 0)

	v.SetDefault("timeouts.connect_timeout", 5*time.Second)
	v.SetDefault("timeouts.handshake_timeout", 30*time.Second)
	v.SetDefault("timeouts.seeding_timeout", 30*time.Second)
	v.SetDefault("timeouts.retry_timeout", 1*time.Minute)
	v.SetDefault("timeouts.channel_heartbeat_minutes", 5*time.Minute)
	v.SetDefault("timeouts.channel_inactivity_minutes", 30*time.Minute)
	v.SetDefault("timeouts.channel_expiration_minutes", 24*time.Hour)
	v.SetDefault("timeouts.maximum_skew_minutes", 2*time.Hour)
	v.SetDefault("timeouts.channel_germination", 10*time.Second)

	v.SetDefault("protocol.protocol_minimum", 31402)
	v.SetDefault("protocol.protocol_maximum", 70016)
	v.SetDefault("protocol.services_minimum", 0)
	v.SetDefault("protocol.services_maximum", 0)
	v.SetDefault("protocol.invalid_services", 0)
	v.SetDefault("protocol.enable_address", true)
	v.SetDefault("protocol.enable_address_v2", false)
	v.SetDefault("protocol.enable_witness_tx", true)
	v.SetDefault("protocol.enable_compact", false)
	v.SetDefault("protocol.enable_alert", false)
	v.SetDefault("protocol.enable_reject", false)
	v.SetDefault("protocol.enable_relay", true)
	v.SetDefault("protocol.enable_ipv6", false)
	v.SetDefault("protocol.enable_loopback", false)
	v.SetDefault("protocol.validate_checksum", false)

	v.SetDefault("address.host_pool_capacity", 1000)
	v.SetDefault("address.address_lower", 5)
	v.SetDefault("address.address_upper", 10)
	v.SetDefault("address.minimum_buffer", 10)
	v.SetDefault("address.minimum_address_count", 100)
	v.SetDefault("address.rate_limit", 50.0)
	v.SetDefault("address.hosts_file", "hosts.cache")

	v.SetDefault("identity.identifier", 0xd9b4bef9)
	v.SetDefault("identity.user_agent", "/libbitcoin-go:0.1/")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9096")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("network")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("BN")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("settings unmarshal: %w", err)
	}

	if settings.Network.OutboundConnections < 0 {
		settings.Network.OutboundConnections = 0
	}
	if settings.Address.AddressUpper <= settings.Address.AddressLower {
		settings.Address.AddressUpper = settings.Address.AddressLower + 1
	}

	return settings, nil
}
