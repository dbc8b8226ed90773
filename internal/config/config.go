// Package config provides configuration management for the committee node.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Build-time variables (set via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config holds the application configuration.
type Config struct {
	Port                  int
	ReceiptsServiceURL    string
	CacheDir              string
	StartPort             int
	Runtime               string
	APIKey                string
	LogFile               string
	MaxLogFileSize        int
	MaxConcurrentRequests int

	// Sandbox network configuration
	SandboxNetworkName    string
	SandboxNetworkSubnet  string
	SandboxNetworkGateway string
	SandboxProxyPort      int
	EnableFirewall        bool

	// LLM Proxy configuration
	LLMProxyEnabled      bool
	LLMProxyPort         int
	LLMUpstreamURL       string
	LLMAPIKey            string
	DisableLLMValidation bool

	// Blockchain configuration
	RPCURL               string
	SomniaAgentsContract string

	// Committee heartbeater configuration
	CommitteeInterval time.Duration
}

// BindFlags registers every recognized option on fs, writing parsed values
// into a new Config. Call fs.Parse (cobra does this for us) before reading
// the returned Config.
func BindFlags(fs *pflag.FlagSet) *Config {
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", 8080, "control-plane HTTP port")
	fs.StringVar(&cfg.ReceiptsServiceURL, "receipts-url", "https://agent-receipts-937722299914.us-central1.run.app", "URL for receipt uploads (empty to disable)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "./image-cache", "directory for cached workload image tarballs")
	fs.IntVar(&cfg.StartPort, "start-port", 10000, "first host port allocated to a workload container")
	fs.StringVar(&cfg.Runtime, "runtime", "", "container runtime name to request from Docker (e.g. runsc); empty = default")
	fs.StringVar(&cfg.APIKey, "api-key", "", "bearer token for non-metrics control endpoints (empty = open)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "path to log file (default: stdout)")
	fs.IntVar(&cfg.MaxLogFileSize, "max-log-file-size", 10*1024*1024, "max log file size in bytes before rotation")
	fs.IntVar(&cfg.MaxConcurrentRequests, "max-concurrent-requests", 8, "listener dispatch concurrency cap")

	// Sandbox network configuration
	fs.StringVar(&cfg.SandboxNetworkName, "sandbox-network", "agent-sandbox", "Docker network name for sandbox containers")
	fs.StringVar(&cfg.SandboxNetworkSubnet, "sandbox-subnet", "172.30.0.0/16", "subnet for the sandbox network")
	fs.StringVar(&cfg.SandboxNetworkGateway, "sandbox-gateway", "172.30.0.1", "gateway IP for the sandbox network (host-side)")
	fs.IntVar(&cfg.SandboxProxyPort, "sandbox-proxy-port", 3128, "port for the sandbox HTTP/HTTPS forward proxy")
	fs.BoolVar(&cfg.EnableFirewall, "enable-firewall", false, "apply iptables egress rules for sandbox isolation")

	// LLM Proxy configuration
	fs.BoolVar(&cfg.LLMProxyEnabled, "llm-proxy-enabled", false, "enable the OpenAI-compatible inference proxy")
	fs.IntVar(&cfg.LLMProxyPort, "llm-proxy-port", 11434, "port for the inference proxy")
	fs.StringVar(&cfg.LLMUpstreamURL, "llm-upstream-url", "https://api.openai.com", "upstream inference service URL")
	fs.StringVar(&cfg.LLMAPIKey, "llm-api-key", "", "API key for the upstream inference service")
	fs.BoolVar(&cfg.DisableLLMValidation, "disable-llm-validation", false, "skip the determinism check at startup (dev only)")

	// Blockchain configuration
	fs.StringVar(&cfg.RPCURL, "rpc-url", "https://dream-rpc.somnia.network/", "blockchain RPC URL (WS derived)")
	fs.StringVar(&cfg.SomniaAgentsContract, "somnia-agents-contract", "", "SomniaAgents contract address (required); registry and committee are resolved from it")

	// Committee heartbeater configuration
	fs.DurationVar(&cfg.CommitteeInterval, "committee-interval", 30*time.Second, "heartbeat period")

	return cfg
}
