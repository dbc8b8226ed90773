// Package listener provides blockchain event listening for agent request execution.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/somnia-agents/committee-node/internal/agentregistry"
	"github.com/somnia-agents/committee-node/internal/metrics"
	"github.com/somnia-agents/committee-node/internal/revert"
	"github.com/somnia-agents/committee-node/internal/somniaagents"
	"github.com/somnia-agents/committee-node/internal/submitter"
	"github.com/somnia-agents/committee-node/internal/workload"
)

// httpToWsURL converts an HTTP RPC URL to a WebSocket URL by adding /ws path.
func httpToWsURL(httpURL string) string {
	wsURL := httpURL
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimSuffix(wsURL, "/")
	wsURL += "/ws"
	return wsURL
}

// Config holds the configuration for the event listener.
type Config struct {
	SomniaAgentsContract  string
	RPCURL                string
	ReceiptsServiceURL    string
	MaxConcurrentRequests int
}

// Listener listens for RequestCreated events and drives workload execution.
// It holds a *submitter.Submitter rather than a private key directly — see
// the Submitter type doc in internal/submitter.
type Listener struct {
	client        *ethclient.Client
	somniaAgents  *somniaagents.SomniaAgents
	agentRegistry *agentregistry.AgentRegistry
	workloads     *workload.Manager
	submitter     *submitter.Submitter
	rpcURL        string
	wsURL         string

	// Resolved contract addresses
	somniaAgentsAddr  common.Address
	agentRegistryAddr common.Address
	committeeAddr     common.Address

	receiptsServiceURL string

	// dispatchSem bounds the number of concurrently in-flight per-request
	// goroutines; the Submitter queue is the only serialization point
	// beyond it.
	dispatchSem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed     map[string]bool
	processedLock sync.Mutex
}

// New creates a new Listener instance. sub is the shared Submitter used for
// every on-chain write this listener makes.
func New(cfg Config, workloads *workload.Manager, sub *submitter.Submitter) (*Listener, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}

	if !common.IsHexAddress(cfg.SomniaAgentsContract) {
		client.Close()
		return nil, fmt.Errorf("invalid SomniaAgents contract address: %s", cfg.SomniaAgentsContract)
	}
	somniaAgentsAddr := common.HexToAddress(cfg.SomniaAgentsContract)

	somniaAgentsContract, err := somniaagents.NewSomniaAgents(somniaAgentsAddr, client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SomniaAgents contract instance: %w", err)
	}

	agentRegistryAddr, err := somniaAgentsContract.AgentRegistry(&bind.CallOpts{Context: context.Background()})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get AgentRegistry address from SomniaAgents: %w", err)
	}
	slog.Info("Resolved AgentRegistry address from SomniaAgents", "address", agentRegistryAddr.Hex())

	committeeAddr, err := somniaAgentsContract.Committee(&bind.CallOpts{Context: context.Background()})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get Committee address from SomniaAgents: %w", err)
	}
	slog.Info("Resolved Committee address from SomniaAgents", "address", committeeAddr.Hex())

	agentRegistryContract, err := agentregistry.NewAgentRegistry(agentRegistryAddr, client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create AgentRegistry contract instance: %w", err)
	}

	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		client:             client,
		somniaAgents:       somniaAgentsContract,
		agentRegistry:      agentRegistryContract,
		workloads:          workloads,
		submitter:          sub,
		rpcURL:             cfg.RPCURL,
		wsURL:              httpToWsURL(cfg.RPCURL),
		somniaAgentsAddr:   somniaAgentsAddr,
		agentRegistryAddr:  agentRegistryAddr,
		committeeAddr:      committeeAddr,
		receiptsServiceURL: cfg.ReceiptsServiceURL,
		dispatchSem:        make(chan struct{}, maxConcurrent),
		ctx:                ctx,
		cancel:             cancel,
		processed:          make(map[string]bool),
	}, nil
}

// AgentRegistryAddress returns the resolved AgentRegistry contract address.
func (l *Listener) AgentRegistryAddress() string {
	return l.agentRegistryAddr.Hex()
}

// CommitteeAddress returns the resolved Committee contract address.
func (l *Listener) CommitteeAddress() string {
	return l.committeeAddr.Hex()
}

// Start begins listening for RequestCreated events.
func (l *Listener) Start() {
	slog.Info("Starting event listener",
		"somnia_agents", l.somniaAgents.Address().Hex(),
		"agent_registry", l.agentRegistry.Address().Hex(),
		"wallet", l.submitter.Address().Hex(),
	)

	l.wg.Add(1)
	go l.listenLoop()
}

// Stop gracefully shuts down the listener. New events stop being accepted
// immediately; in-flight per-request goroutines observe the same context
// and wind down on their own schedule.
func (l *Listener) Stop() {
	slog.Info("Stopping event listener...")
	l.cancel()
	l.wg.Wait()
	l.client.Close()
	slog.Info("Event listener stopped")
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
			l.subscribeAndListen()
		}

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(5 * time.Second):
			slog.Info("Reconnecting WebSocket subscription...")
		}
	}
}

func (l *Listener) subscribeAndListen() {
	wsClient, err := ethclient.Dial(l.wsURL)
	if err != nil {
		slog.Error("Failed to connect to WebSocket RPC", "url", l.wsURL, "error", err)
		return
	}
	defer wsClient.Close()

	slog.Info("Connected to WebSocket RPC", "url", l.wsURL)

	eventSignature := l.somniaAgents.ABI().Events["RequestCreated"].ID

	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.somniaAgents.Address()},
		Topics:    [][]common.Hash{{eventSignature}},
	}

	logs := make(chan types.Log)

	sub, err := wsClient.SubscribeFilterLogs(l.ctx, query, logs)
	if err != nil {
		slog.Error("Failed to subscribe to logs", "error", err)
		return
	}
	defer sub.Unsubscribe()

	slog.Info("Subscribed to RequestCreated events via WebSocket", "contract", l.somniaAgents.Address().Hex())

	for {
		select {
		case <-l.ctx.Done():
			return
		case err := <-sub.Err():
			slog.Error("Subscription error", "error", err)
			return
		case vLog := <-logs:
			l.handleLog(vLog)
		}
	}
}

func (l *Listener) handleLog(vLog types.Log) {
	event, err := l.somniaAgents.ParseRequestCreated(vLog)
	if err != nil {
		slog.Warn("Failed to parse RequestCreated event", "error", err, "txHash", vLog.TxHash.Hex())
		return
	}
	if event == nil {
		return
	}

	requestKey := fmt.Sprintf("%s-%d", vLog.TxHash.Hex(), event.RequestId.Uint64())

	l.processedLock.Lock()
	if l.processed[requestKey] {
		l.processedLock.Unlock()
		metrics.ListenerEventsTotal.WithLabelValues("duplicate").Inc()
		return
	}
	l.processed[requestKey] = true
	l.processedLock.Unlock()

	traceID := uuid.NewString()[:8]

	slog.Info("Received RequestCreated event",
		"requestId", event.RequestId,
		"agentId", event.AgentId,
		"requester", event.Requester.Hex(),
		"subcommitteeSize", len(event.Subcommittee),
		"txHash", vLog.TxHash.Hex(),
		"trace", traceID,
	)

	wallet := l.submitter.Address()
	inSubcommittee := false
	for _, member := range event.Subcommittee {
		if member == wallet {
			inSubcommittee = true
			break
		}
	}

	if !inSubcommittee {
		slog.Debug("Not in subcommittee for request", "requestId", event.RequestId)
		metrics.ListenerEventsTotal.WithLabelValues("not_in_subcommittee").Inc()
		return
	}

	slog.Info("We are in the subcommittee for request", "requestId", event.RequestId, "trace", traceID)
	metrics.ListenerEventsTotal.WithLabelValues("dispatched").Inc()

	// Bound concurrent in-flight requests; block here rather than inside
	// the goroutine so a saturated pool doesn't spawn unboundedly many
	// blocked goroutines.
	select {
	case l.dispatchSem <- struct{}{}:
	case <-l.ctx.Done():
		return
	}

	metrics.ListenerInFlightRequests.Inc()
	go func() {
		defer func() {
			<-l.dispatchSem
			metrics.ListenerInFlightRequests.Dec()
		}()
		l.handleRequest(event, traceID)
	}()
}

func (l *Listener) handleRequest(event *somniaagents.RequestCreatedEvent, traceID string) {
	ctx := l.ctx
	requestId := event.RequestId
	agentId := event.AgentId
	requester := event.Requester

	isPending, err := l.somniaAgents.IsRequestPending(&bind.CallOpts{Context: ctx}, requestId)
	if err != nil {
		slog.Error("Failed to check if request is pending", "requestId", requestId, "trace", traceID, "error", err)
		return
	}
	if !isPending {
		slog.Info("Request is no longer pending", "requestId", requestId, "trace", traceID)
		return
	}

	agent, err := l.agentRegistry.GetAgent(&bind.CallOpts{Context: ctx}, agentId)
	if err != nil {
		slog.Error("Failed to get agent from registry", "agentId", agentId, "trace", traceID, "error", err)
		return
	}
	if agent.ContainerImageUri == "" {
		slog.Error("Agent has no container image URI", "agentId", agentId, "trace", traceID)
		return
	}

	requestIdStr := fmt.Sprintf("blockchain-%d", requestId.Uint64())

	slog.Info("Forwarding request to agent",
		"requestId", requestId,
		"requester", requester.Hex(),
		"agentUrl", agent.ContainerImageUri,
		"payloadSize", len(event.Payload),
		"trace", traceID,
	)

	response, err := l.workloads.Forward(agent.ContainerImageUri, event.Payload, map[string]string{
		"X-Request-Id": requestIdStr,
	})
	if err != nil {
		slog.Error("Failed to forward request to agent", "requestId", requestId, "trace", traceID, "error", err)
		return
	}

	slog.Info("Agent responded",
		"requestId", requestId,
		"status", response.Status,
		"responseSize", len(response.Body),
		"trace", traceID,
	)

	// Receipt upload must never block response submission.
	if response.Receipt != nil {
		go l.uploadReceipt(requestIdStr, response.Receipt)
	}

	l.submitResponse(ctx, requestId, response.Body, agent.Cost, traceID)
}

// uploadReceipt uploads a receipt to the receipts service asynchronously.
func (l *Listener) uploadReceipt(requestID string, receipt map[string]interface{}) {
	if l.receiptsServiceURL == "" {
		return
	}

	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		slog.Error("Failed to marshal receipt", "request_id", requestID, "error", err)
		return
	}

	receiptURL := fmt.Sprintf("%s/agent-receipts?requestId=%s", l.receiptsServiceURL, url.QueryEscape(requestID))
	resp, err := http.Post(receiptURL, "application/json", bytes.NewReader(receiptJSON))
	if err != nil {
		slog.Error("Failed to upload receipt", "request_id", requestID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("Failed to upload receipt", "request_id", requestID, "status", resp.StatusCode)
	} else {
		slog.Info("Receipt uploaded", "request_id", requestID)
	}
}

func (l *Listener) submitResponse(ctx context.Context, requestId *big.Int, result []byte, agentCost *big.Int, traceID string) {
	isPending, err := l.somniaAgents.IsRequestPending(&bind.CallOpts{Context: ctx}, requestId)
	if err != nil {
		slog.Error("Failed to check if request is pending before submit", "requestId", requestId, "trace", traceID, "error", err)
		return
	}
	if !isPending {
		slog.Info("Request is no longer pending, skipping response submission", "requestId", requestId, "trace", traceID)
		return
	}

	price := agentCost
	if price == nil {
		price = big.NewInt(0)
	}
	receipt := big.NewInt(0)

	slog.Info("Submitting response to blockchain",
		"requestId", requestId,
		"resultSize", len(result),
		"price", price,
		"trace", traceID,
	)

	txResult := l.submitter.Submit(ctx, fmt.Sprintf("submitResponse(%s)", requestId), func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return l.somniaAgents.SubmitResponse(auth, requestId, result, receipt, price)
	})

	if txResult.Err != nil {
		slog.Error("Failed to submit response",
			"requestId", requestId,
			"trace", traceID,
			"error", txResult.Err,
			"revertReason", revert.Reason(txResult.Err),
		)
		return
	}

	if txResult.Receipt.Status == 1 {
		slog.Info("Response submitted successfully",
			"requestId", requestId,
			"txHash", txResult.Tx.Hash().Hex(),
			"block", txResult.Receipt.BlockNumber,
			"gasUsed", txResult.Receipt.GasUsed,
			"trace", traceID,
		)
		return
	}

	// Reverted: replay the call at the failing block to recover the reason.
	revertReason := "unknown"
	callMsg := ethereum.CallMsg{
		From:     l.submitter.Address(),
		To:       txResult.Tx.To(),
		Gas:      txResult.Tx.Gas(),
		GasPrice: txResult.Tx.GasPrice(),
		Value:    txResult.Tx.Value(),
		Data:     txResult.Tx.Data(),
	}
	if _, callErr := l.client.CallContract(ctx, callMsg, txResult.Receipt.BlockNumber); callErr != nil {
		revertReason = revert.Reason(callErr)
	}
	slog.Error("Response transaction reverted",
		"requestId", requestId,
		"txHash", txResult.Tx.Hash().Hex(),
		"status", txResult.Receipt.Status,
		"gasUsed", txResult.Receipt.GasUsed,
		"revertReason", revertReason,
		"trace", traceID,
	)
}
