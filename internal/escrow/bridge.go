// Package escrow cross-checks on-chain escrow confirmations before the deal
// lifecycle accepts certain transitions.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// escrowABIJSON is the subset of the escrow contract's ABI the bridge needs:
// the confirmation event emitted when a party confirms a transaction.
const escrowABIJSON = `[{"type":"event","name":"TxConfirmed","anonymous":false,"inputs":[
	{"name":"transactionId","type":"uint256","indexed":false},
	{"name":"confirmee","type":"address","indexed":false}]}]`

var (
	escrowABI     abi.ABI
	txConfirmedID common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse escrow ABI: %v", err))
	}
	escrowABI = parsed
	txConfirmedID = escrowABI.Events["TxConfirmed"].ID
}

// EVMClient is the subset of the Ethereum RPC the bridge uses.
type EVMClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial initialises an RPC client for the configured endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ConfirmParams identify the confirmation the caller expects to find on chain.
type ConfirmParams struct {
	User          string
	TransactionID int64
	EscrowAddress string
	TxHash        string
}

// Bridge inspects transaction receipts for escrow confirmation events.
type Bridge struct {
	client       EVMClient
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewBridge wraps an EVM client.
func NewBridge(client EVMClient, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:       client,
		pollInterval: 2 * time.Second,
		logger:       logger,
	}
}

// ConfirmOnChain awaits the receipt for TxHash and reports whether it carries
// a TxConfirmed event from the escrow contract matching the expected
// transaction id and confirmee. A receipt with no matching event is a normal
// negative outcome (false, nil); only receipt retrieval failure is an error.
func (b *Bridge) ConfirmOnChain(ctx context.Context, p ConfirmParams) (bool, error) {
	receipt, err := b.waitForReceipt(ctx, common.HexToHash(p.TxHash))
	if err != nil {
		return false, fmt.Errorf("fetch receipt for %s: %w", p.TxHash, err)
	}

	escrowAddr := common.HexToAddress(p.EscrowAddress)
	confirmee := common.HexToAddress(p.User)
	expectedID := big.NewInt(p.TransactionID)

	for _, entry := range receipt.Logs {
		if entry.Address != escrowAddr {
			continue
		}
		if len(entry.Topics) == 0 || entry.Topics[0] != txConfirmedID {
			continue
		}
		values, err := escrowABI.Unpack("TxConfirmed", entry.Data)
		if err != nil || len(values) != 2 {
			b.logger.Warn("undecodable escrow log", "txHash", p.TxHash, "error", err)
			continue
		}
		gotID, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		gotConfirmee, ok := values[1].(common.Address)
		if !ok {
			continue
		}
		if gotID.Cmp(expectedID) == 0 && gotConfirmee == confirmee {
			return true, nil
		}
	}
	return false, nil
}

// waitForReceipt polls until the transaction is mined or the context expires.
// The caller's context carries the overall deadline.
func (b *Bridge) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
