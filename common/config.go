// Copyright 2024-2025 The pulseboard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Websocket Gateway Related Config

// WebsocketConfig defines websocket transport parameters
type WebsocketConfig struct {
	// HandshakeTimeout is the max duration of the websocket handshake in seconds
	HandshakeTimeout int `mapstructure:"handshake_timeout_sec" json:"handshake_timeout_sec" validate:"gte=1"`
	// WriteTimeout is the per-message send deadline in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// ReadLimit is the max inbound message size in bytes
	ReadLimit int64 `mapstructure:"read_limit_bytes" json:"read_limit_bytes" validate:"gte=64"`
}

// AuthConfig defines handshake authorization parameters.
//
// Token issuance and verification internals live outside this service.
// The bundled verifier only matches against a static allow list, which
// is sufficient for deployments where a fronting proxy mints tokens.
type AuthConfig struct {
	// AllowedTokens is the static list of accepted bearer tokens
	AllowedTokens []string `mapstructure:"allowed_tokens" json:"allowed_tokens"`
}

// GatewayServerConfig defines configuration for the connection gateway server
type GatewayServerConfig struct {
	// HTTPSetting is the HTTP server parameters for the gateway
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Websocket is the websocket transport parameters
	Websocket WebsocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// Auth is the handshake authorization parameters
	Auth AuthConfig `mapstructure:"auth" json:"auth"`
	// PathPrefix is the end-point path prefix for the gateway APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Stream Processor Related Config

// StreamProcessorConfig defines the background ingest / broadcast loop parameters
type StreamProcessorConfig struct {
	// CycleInterval is the duration between broadcast cycles in milliseconds
	CycleInterval int `mapstructure:"cycle_interval_ms" json:"cycle_interval_ms" validate:"gte=10"`
	// Metrics is the fixed set of metrics the ingester produces samples for
	Metrics []string `mapstructure:"metrics" json:"metrics" validate:"required,min=1"`
}

// ===============================================================================
// Sample Store Related Config

// SampleStoreConfig defines the shared sample store parameters
type SampleStoreConfig struct {
	// Backend selects the store implementation
	Backend string `mapstructure:"backend" json:"backend" validate:"required,oneof=nats memory"`
	// Bucket is the JetStream KV bucket holding latest samples
	Bucket string `mapstructure:"bucket" json:"bucket" validate:"required"`
	// CallTimeout is the max duration of one store operation in seconds
	CallTimeout int `mapstructure:"call_timeout_sec" json:"call_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the pulseboard server
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Gateway are the connection gateway server configs
	Gateway GatewayServerConfig `mapstructure:"gateway" json:"gateway" validate:"required,dive"`
	// Processor are the stream processor configs
	Processor StreamProcessorConfig `mapstructure:"processor" json:"processor" validate:"required,dive"`
	// Store are the sample store configs
	Store SampleStoreConfig `mapstructure:"store" json:"store" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default gateway server settings
	viper.SetDefault("gateway.path_prefix", "/")
	viper.SetDefault("gateway.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("gateway.api_server.server_config.listen_port", 3001)
	viper.SetDefault("gateway.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("gateway.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("gateway.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"gateway.api_server.logging_config.request_id_header", "Pulseboard-Request-ID",
	)
	viper.SetDefault(
		"gateway.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("gateway.websocket.handshake_timeout_sec", 10)
	viper.SetDefault("gateway.websocket.write_timeout_sec", 5)
	viper.SetDefault("gateway.websocket.read_limit_bytes", 4096)

	// Default stream processor settings
	viper.SetDefault("processor.cycle_interval_ms", 1000)
	viper.SetDefault("processor.metrics", []string{"sales", "users", "revenue"})

	// Default sample store settings
	viper.SetDefault("store.backend", "nats")
	viper.SetDefault("store.bucket", "pulseboard-samples")
	viper.SetDefault("store.call_timeout_sec", 5)
}
