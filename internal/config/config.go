package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the peercall client configuration
type Config struct {
	// Identity settings
	Identity string // Account id announced to the signaling server
	UID      uint   // Numeric media handle for the local side

	// Signaling settings
	SignalingURL string // WebSocket endpoint of the signaling server
	LogLevel     string

	// Media bridge pool settings
	BridgeAddrs           []string
	GRPCConnectTimeout    time.Duration
	GRPCKeepaliveInterval time.Duration
	GRPCKeepaliveTimeout  time.Duration

	// Call engine settings
	DialTimeout      time.Duration
	IncomingTimeout  time.Duration
	MailboxSize      int
	AutoPublishAudio bool
	AutoPublishVideo bool

	// HTTP API settings
	APIBind string // host:port for the local introspection API, empty disables it
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		GRPCConnectTimeout:    10 * time.Second,
		GRPCKeepaliveInterval: 30 * time.Second,
		GRPCKeepaliveTimeout:  10 * time.Second,
	}

	// Define flags
	flag.StringVar(&cfg.Identity, "identity", "", "Account id to register with the signaling server")
	flag.UintVar(&cfg.UID, "uid", 0, "Numeric media handle for the local side")
	flag.StringVar(&cfg.SignalingURL, "signaling", "ws://localhost:8080/ws", "Signaling server WebSocket URL")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.APIBind, "api", "127.0.0.1:7070", "Bind address for the local HTTP API (empty disables)")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 45*time.Second, "Overall outgoing dial deadline")
	flag.DurationVar(&cfg.IncomingTimeout, "incoming-timeout", 45*time.Second, "Unanswered incoming call deadline")
	flag.IntVar(&cfg.MailboxSize, "mailbox", 256, "Call engine command queue capacity")
	flag.BoolVar(&cfg.AutoPublishAudio, "publish-audio", true, "Publish the local audio track when a call connects")
	flag.BoolVar(&cfg.AutoPublishVideo, "publish-video", false, "Publish the local video track when a call connects")

	var bridgeAddrs string
	flag.StringVar(&bridgeAddrs, "bridge", "localhost:9090", "Media bridge gRPC addresses (comma-separated for multiple)")

	flag.Parse()

	cfg.BridgeAddrs = parseAddressList(bridgeAddrs)

	// Override with environment variables if set
	if identity := os.Getenv("IDENTITY"); identity != "" {
		cfg.Identity = identity
	}
	if uid := os.Getenv("UID_HANDLE"); uid != "" {
		if u, err := strconv.ParseUint(uid, 10, 32); err == nil {
			cfg.UID = uint(u)
		}
	}
	if signaling := os.Getenv("SIGNALING_URL"); signaling != "" {
		cfg.SignalingURL = signaling
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if bridge := os.Getenv("BRIDGE_ADDRS"); bridge != "" {
		cfg.BridgeAddrs = parseAddressList(bridge)
	}
	if api := os.Getenv("API_BIND"); api != "" {
		cfg.APIBind = api
	}
	if d := os.Getenv("DIAL_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.DialTimeout = v
		}
	}
	if d := os.Getenv("INCOMING_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.IncomingTimeout = v
		}
	}

	return cfg
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return errors.New("identity is required (flag -identity or env IDENTITY)")
	}
	if c.UID == 0 {
		return errors.New("uid is required (flag -uid or env UID_HANDLE)")
	}
	if len(c.BridgeAddrs) == 0 {
		return errors.New("at least one media bridge address is required")
	}
	return nil
}

// parseAddressList parses a comma-separated list of addresses
func parseAddressList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}
