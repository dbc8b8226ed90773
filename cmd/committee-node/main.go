// Committee node starts and manages Docker containers for running workloads,
// submits their responses on-chain, and maintains committee liveness.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/somnia-agents/committee-node/internal/api"
	"github.com/somnia-agents/committee-node/internal/config"
	"github.com/somnia-agents/committee-node/internal/heartbeater"
	"github.com/somnia-agents/committee-node/internal/listener"
	"github.com/somnia-agents/committee-node/internal/logging"
	"github.com/somnia-agents/committee-node/internal/sandbox"
	"github.com/somnia-agents/committee-node/internal/startup"
	"github.com/somnia-agents/committee-node/internal/submitter"
	"github.com/somnia-agents/committee-node/internal/workload"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "committee-node",
		Short:   "Committee node runtime",
		Long:    "committee-node observes on-chain work requests, executes the referenced workload in a sandboxed container, and returns the result on-chain.",
		Version: config.Version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("committee-node %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime))

	cfg := config.BindFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the committee node (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("committee-node %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	rootCmd.RunE = runCmd.RunE // bare `committee-node` runs the node

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	cleanupLog := logging.Setup(logging.Config{
		LogFile:        cfg.LogFile,
		MaxLogFileSize: cfg.MaxLogFileSize,
	})
	defer cleanupLog()

	fmt.Println("")
	slog.Info("committee-node starting",
		"version", config.Version,
		"commit", config.GitCommit,
		"built", config.BuildTime,
	)
	if cfg.SomniaAgentsContract == "" {
		slog.Error("--somnia-agents-contract is required")
		os.Exit(1)
	}
	slog.Info("SomniaAgents contract", "address", cfg.SomniaAgentsContract)
	fmt.Println("")

	// =========================================================================
	// Startup Checks
	// =========================================================================

	ctx := context.Background()
	checker := startup.NewChecker()

	// Check 1: Docker daemon
	if err := checker.CheckDocker(ctx); err != nil {
		os.Exit(1)
	}

	// Check 2: Sandbox network
	sandboxNet, err := checker.CheckSandboxNetwork(
		ctx,
		cfg.SandboxNetworkName,
		cfg.SandboxNetworkSubnet,
		cfg.SandboxNetworkGateway,
	)
	if err != nil {
		os.Exit(1)
	}

	// Check 3: Stale containers cleanup
	if _, err := checker.CheckStaleContainers(ctx); err != nil {
		slog.Warn("Some stale containers could not be removed", "error", err)
	}

	// Check 4: Firewall rules (created but not applied unless --enable-firewall)
	allowedPorts := []int{cfg.SandboxProxyPort}
	if cfg.LLMProxyEnabled {
		allowedPorts = append(allowedPorts, cfg.LLMProxyPort)
	}
	firewallRules, err := checker.CheckFirewall(
		sandboxNet,
		allowedPorts,
		cfg.EnableFirewall,
	)
	if err != nil {
		os.Exit(1)
	}

	// Check 5: LLM determinism (when LLM proxy is enabled)
	if cfg.LLMProxyEnabled && !cfg.DisableLLMValidation {
		if err := checker.CheckLLMDeterminism(ctx, startup.LLMDeterminismConfig{
			UpstreamURL: cfg.LLMUpstreamURL,
			APIKey:      cfg.LLMAPIKey,
		}); err != nil {
			os.Exit(1)
		}
	}

	checker.PrintSummary()
	fmt.Println("")

	// =========================================================================
	// Initialize Services
	// =========================================================================

	workloads := workload.NewManager(
		checker.DockerClient(),
		cfg.CacheDir,
		cfg.StartPort,
		cfg.Runtime,
	)

	llmProxyPort := 0
	if cfg.LLMProxyEnabled {
		llmProxyPort = cfg.LLMProxyPort
	}
	workloads.SetSandboxNetwork(sandboxNet.Name, sandboxNet.Gateway, cfg.SandboxProxyPort, llmProxyPort)

	proxyAddr := fmt.Sprintf("%s:%d", sandboxNet.Gateway, cfg.SandboxProxyPort)
	sandboxProxy := sandbox.NewProxy(proxyAddr)
	sandboxProxy.OnComplete = func(r *http.Request, statusCode int, bytesIn, bytesOut int64, duration time.Duration, err error) {
		if err != nil {
			slog.Warn("Proxy request failed", "method", r.Method, "host", r.Host, "error", err)
		} else {
			slog.Debug("Proxy request completed",
				"method", r.Method, "host", r.Host, "status", statusCode,
				"bytes_in", bytesIn, "bytes_out", bytesOut, "duration_ms", duration.Milliseconds(),
			)
		}
	}
	if err := sandboxProxy.Start(); err != nil {
		slog.Error("Failed to start sandbox proxy", "error", err)
		os.Exit(1)
	}
	slog.Info("Sandbox proxy started", "addr", proxyAddr)

	var llmProxy *sandbox.LLMProxy
	if cfg.LLMProxyEnabled {
		llmProxyAddr := fmt.Sprintf("%s:%d", sandboxNet.Gateway, cfg.LLMProxyPort)
		llmProxyCfg := sandbox.LLMProxyConfig{
			ListenAddr:  llmProxyAddr,
			UpstreamURL: cfg.LLMUpstreamURL,
			APIKey:      cfg.LLMAPIKey,
		}

		var err error
		llmProxy, err = sandbox.NewLLMProxy(llmProxyCfg)
		if err != nil {
			slog.Error("Failed to create LLM proxy", "error", err)
			os.Exit(1)
		}

		llmProxy.OnComplete = func(r *http.Request, statusCode int, duration time.Duration, streaming bool, err error) {
			if err != nil {
				slog.Warn("LLM proxy request failed", "path", r.URL.Path, "error", err)
			} else {
				slog.Debug("LLM proxy request completed",
					"path", r.URL.Path, "status", statusCode,
					"duration_ms", duration.Milliseconds(), "streaming", streaming,
				)
			}
		}

		if err := llmProxy.Start(); err != nil {
			slog.Error("Failed to start LLM proxy", "error", err)
			os.Exit(1)
		}
		slog.Info("LLM proxy started", "addr", llmProxyAddr, "upstream", cfg.LLMUpstreamURL)
	}

	// Submitter is the sole holder of the wallet key; Listener and
	// Heartbeater below receive a handle to it, never the key itself,
	// so heartbeats and response submissions share one nonce sequence.
	sub, err := submitter.New(cfg.RPCURL)
	if err != nil {
		slog.Error("Failed to create submitter", "error", err)
		os.Exit(1)
	}

	listenerCfg := listener.Config{
		SomniaAgentsContract:  cfg.SomniaAgentsContract,
		RPCURL:                cfg.RPCURL,
		ReceiptsServiceURL:    cfg.ReceiptsServiceURL,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
	}

	eventListener, err := listener.New(listenerCfg, workloads, sub)
	if err != nil {
		slog.Error("Failed to create event listener", "error", err)
		os.Exit(1)
	}

	workloads.SetAgentRegistryAddress(eventListener.AgentRegistryAddress())

	hbCfg := heartbeater.Config{
		ContractAddress: eventListener.CommitteeAddress(),
		RPCURL:          cfg.RPCURL,
		Interval:        cfg.CommitteeInterval,
	}

	hb, err := heartbeater.New(hbCfg, sub)
	if err != nil {
		slog.Error("Failed to create heartbeater", "error", err)
		os.Exit(1)
	}
	hb.Start()
	eventListener.Start()

	server := api.NewServer(cfg.APIKey)
	http.HandleFunc("/", server.HandleRequest)

	// =========================================================================
	// Graceful Shutdown
	// =========================================================================

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("")
		slog.Info("Shutting down...")

		// Order: stop new dispatch, wind down liveness, then externally
		// reachable surfaces, then reap containers, then drain the
		// submitter's queue and release its client.
		eventListener.Stop()
		hb.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sandboxProxy.Stop(shutdownCtx); err != nil {
			slog.Warn("Failed to stop sandbox proxy", "error", err)
		}
		if llmProxy != nil {
			if err := llmProxy.Stop(shutdownCtx); err != nil {
				slog.Warn("Failed to stop LLM proxy", "error", err)
			}
		}

		workloads.Cleanup()
		sub.Stop()
		os.Exit(0)
	}()

	// =========================================================================
	// Print Configuration & Start Server
	// =========================================================================

	apiKeyStatus := "disabled"
	if cfg.APIKey != "" {
		apiKeyStatus = "enabled"
	}

	firewallStatus := "disabled"
	if cfg.EnableFirewall && firewallRules != nil {
		firewallStatus = "enabled"
	}

	llmProxyStatus := "disabled"
	if cfg.LLMProxyEnabled {
		llmProxyStatus = fmt.Sprintf("enabled (%s:%d -> %s)", sandboxNet.Gateway, cfg.LLMProxyPort, cfg.LLMUpstreamURL)
	}

	committeeStatus := fmt.Sprintf("%s, interval=%s", eventListener.CommitteeAddress(), cfg.CommitteeInterval)
	listenerStatus := cfg.SomniaAgentsContract

	slog.Info("Configuration",
		"port", cfg.Port,
		"cache_dir", cfg.CacheDir,
		"start_port", cfg.StartPort,
		"runtime", cfg.Runtime,
		"receipts_url", cfg.ReceiptsServiceURL,
		"api_key", apiKeyStatus,
		"sandbox_network", sandboxNet.Name,
		"sandbox_gateway", sandboxNet.Gateway,
		"sandbox_proxy", proxyAddr,
		"firewall", firewallStatus,
		"llm_proxy", llmProxyStatus,
		"committee", committeeStatus,
		"listener", listenerStatus,
		"max_concurrent_requests", cfg.MaxConcurrentRequests,
		"wallet", sub.Address().Hex(),
	)

	fmt.Println("")
	fmt.Println("Endpoints:")
	fmt.Println("  GET /health  - Health check")
	fmt.Println("  GET /version - Version info")
	fmt.Println("  GET /metrics - Prometheus metrics")
	fmt.Println("")
	fmt.Println("Workload requests are driven by the blockchain event listener")
	fmt.Println("")

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("HTTP server listening", "addr", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	return nil
}
