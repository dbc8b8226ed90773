// Package heartbeater provides committee membership maintenance through periodic heartbeat transactions.
package heartbeater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/somnia-agents/committee-node/internal/committee"
	"github.com/somnia-agents/committee-node/internal/submitter"
)

// Config holds the configuration for the heartbeater.
type Config struct {
	ContractAddress string
	RPCURL          string
	Interval        time.Duration
}

// Heartbeater maintains active committee membership by sending periodic
// heartbeat transactions. It never holds the wallet key itself; every
// on-chain write goes through the shared Submitter, so heartbeats and
// response submissions share one nonce sequence.
type Heartbeater struct {
	client    *ethclient.Client
	contract  *committee.Committee
	submitter *submitter.Submitter
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Heartbeater instance bound to sub for signing.
func New(cfg Config, sub *submitter.Submitter) (*Heartbeater, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		client.Close()
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}
	contractAddr := common.HexToAddress(cfg.ContractAddress)

	committeeContract, err := committee.NewCommittee(contractAddr, client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create committee contract instance: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Heartbeater{
		client:    client,
		contract:  committeeContract,
		submitter: sub,
		interval:  cfg.Interval,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the heartbeat loop in a background goroutine.
func (h *Heartbeater) Start() {
	slog.Info("Starting heartbeat loop", "interval", h.interval, "contract", h.contract.Address().Hex())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		h.sendHeartbeat()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.ctx.Done():
				slog.Info("Heartbeat loop stopped")
				return
			case <-ticker.C:
				h.sendHeartbeat()
			}
		}
	}()
}

// Stop gracefully shuts down the heartbeater, sending a leave transaction
// only if the node is currently reported active.
func (h *Heartbeater) Stop() {
	slog.Info("Stopping heartbeater - leaving committee...")

	h.cancel()
	h.wg.Wait()

	h.sendLeaveMembership()
	h.client.Close()
}

func (h *Heartbeater) sendHeartbeat() {
	ctx := h.ctx

	result := h.submitter.Submit(ctx, "heartbeatMembership", func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return h.contract.HeartbeatMembership(auth)
	})

	if result.Err != nil {
		slog.Error("Heartbeater failed to send heartbeat", "error", result.Err)
		return
	}

	if result.Receipt.Status == 1 {
		slog.Info("Heartbeat confirmed",
			"txHash", result.Tx.Hash().Hex(),
			"block", result.Receipt.BlockNumber,
			"gasUsed", result.Receipt.GasUsed,
		)
	} else {
		slog.Error("Heartbeat transaction reverted",
			"txHash", result.Tx.Hash().Hex(),
			"status", result.Receipt.Status,
		)
	}
}

func (h *Heartbeater) sendLeaveMembership() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	isActive, err := h.contract.IsActive(&bind.CallOpts{Context: ctx}, h.submitter.Address())
	if err != nil {
		slog.Warn("Heartbeater failed to check active status", "error", err)
		return
	}
	if !isActive {
		slog.Info("Heartbeater not active in committee, skipping leave")
		return
	}

	result := h.submitter.Submit(ctx, "leaveMembership", func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return h.contract.LeaveMembership(auth)
	})

	if result.Err != nil {
		slog.Warn("Heartbeater failed to send leave membership (may still succeed)", "error", result.Err)
		return
	}

	if result.Receipt.Status == 1 {
		slog.Info("Left committee successfully",
			"txHash", result.Tx.Hash().Hex(),
			"block", result.Receipt.BlockNumber,
			"gasUsed", result.Receipt.GasUsed,
		)
	} else {
		slog.Error("Leave transaction reverted",
			"txHash", result.Tx.Hash().Hex(),
			"status", result.Receipt.Status,
		)
	}
}
