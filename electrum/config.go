package electrum

import "time"

// Config carries the transport's dial parameters and background
// intervals. Modelled on internal/app.AppConfig's "plain struct + New*
// defaults" convention.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `json:"dialTimeout"`

	// PingInterval sets how often server.ping is sent on an idle
	// connection to detect a silently dropped socket (SPEC_FULL.md §C.1).
	PingInterval time.Duration `json:"pingInterval"`

	// ClientVersion/ProtocolVersion are sent in the server.version
	// handshake issued once per successful connect (SPEC_FULL.md §C.2).
	ClientVersion   string `json:"clientVersion"`
	ProtocolVersion string `json:"protocolVersion"`
}

// NewConfig returns a Config with the defaults this module ships.
func NewConfig(host string, port int) Config {
	return Config{
		Host:            host,
		Port:            port,
		DialTimeout:     10 * time.Second,
		PingInterval:    60 * time.Second,
		ClientVersion:   "electrumwallet/0.1",
		ProtocolVersion: "1.4",
	}
}
