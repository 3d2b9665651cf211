// Package config defines the typed configuration a someip.Runtime is built
// from, decoded from an already-produced map[string]any via
// github.com/mitchellh/mapstructure — the same decoding approach the
// teacher uses for generic tool-call arguments in server/registry.go.
// Parsing the YAML/JSON/TOML file that produces that map is an external
// concern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ServiceInstanceConfig describes one service this Runtime offers locally.
type ServiceInstanceConfig struct {
	ServiceID    uint16   `mapstructure:"service_id"`
	InstanceID   uint16   `mapstructure:"instance_id"`
	MajorVersion uint8    `mapstructure:"major_version"`
	MinorVersion uint32   `mapstructure:"minor_version"`
	TTLSeconds   uint32   `mapstructure:"ttl_seconds"`
	Eventgroups  []uint16 `mapstructure:"eventgroups"`
}

// ClientAliasConfig names a required (consumed) service by an alias the
// application uses with Runtime.CreateClient instead of raw numeric ids.
type ClientAliasConfig struct {
	Alias        string `mapstructure:"alias"`
	ServiceID    uint16 `mapstructure:"service_id"`
	InstanceID   uint16 `mapstructure:"instance_id"`
	MajorVersion uint8  `mapstructure:"major_version"`
}

// Config is the fully-typed configuration for one Runtime, per spec.md §6's
// "Config object" external interface, made concrete.
type Config struct {
	// UnicastAddr is "host:port" to bind the request/response/event socket,
	// or "host:0" to let the OS pick an ephemeral port (used by tests).
	UnicastAddr string `mapstructure:"unicast_addr"`

	// InterfaceName selects the network interface SD joins its multicast
	// group on; empty uses the OS default route's interface.
	InterfaceName string `mapstructure:"interface_name"`

	// SDMulticastGroup/Port default to sd.DefaultMulticastGroup/Port
	// (224.0.0.1:30490) when left zero.
	SDMulticastGroup string `mapstructure:"sd_multicast_group"`
	SDMulticastPort  int    `mapstructure:"sd_multicast_port"`

	// TPMTUPayload bounds the payload size of one TP segment; 0 uses
	// tp.DefaultMTUPayload.
	TPMTUPayload int `mapstructure:"tp_mtu_payload"`
	// TPAssemblyCap bounds the size of one reassembled message; 0 uses
	// tp.DefaultAssemblyCap.
	TPAssemblyCap int `mapstructure:"tp_assembly_cap"`

	// RequestTimeout is the default deadline for Client.Call when the
	// caller's context carries none; 0 uses reactor.DefaultRequestTimeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// WorkerPoolSize bounds concurrent method handler invocations; <=0
	// uses dispatch.DefaultWorkerPoolSize.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	// Services this Runtime offers.
	Services []ServiceInstanceConfig `mapstructure:"services"`
	// Clients this Runtime may create by alias.
	Clients []ClientAliasConfig `mapstructure:"clients"`
}

// Decode builds a Config from an already-parsed generic map, the way
// server/registry.go decodes generic tool-call argument maps into typed
// structs: case-insensitive field matching, weakly-typed input conversion.
func Decode(raw map[string]interface{}) (Config, error) {
	var cfg Config
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		ErrorUnused: false,
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return Config{}, fmt.Errorf("someip/config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("someip/config: decode: %w", err)
	}
	return cfg, nil
}

// FindClient returns the ClientAliasConfig registered under alias.
func (c Config) FindClient(alias string) (ClientAliasConfig, bool) {
	for _, cl := range c.Clients {
		if cl.Alias == alias {
			return cl, true
		}
	}
	return ClientAliasConfig{}, false
}
