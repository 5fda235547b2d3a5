package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	// DefaultReceiptTimeout bounds how long a broadcast transaction is tracked.
	DefaultReceiptTimeout = 5 * time.Minute
	// DefaultPollInterval is the receipt polling cadence.
	DefaultPollInterval = 2 * time.Second
)

var (
	// ErrReceiptTimeout is returned when no receipt arrives within the timeout.
	ErrReceiptTimeout = errors.New("chain: timed out waiting for receipt")
	// ErrReverted is returned for mined transactions with a failed status.
	ErrReverted = errors.New("chain: transaction reverted")
)

// ReceiptReader is the subset of the RPC used to poll for receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// WaitForReceipt polls for the receipt of hash until it is mined, ctx is
// cancelled or timeout elapses. A reverted receipt is returned together with
// ErrReverted. Transient RPC errors are retried until the deadline.
func WaitForReceipt(ctx context.Context, client ReceiptReader, hash common.Hash, timeout, interval time.Duration) (*gethtypes.Receipt, error) {
	if client == nil {
		return nil, fmt.Errorf("chain: receipt reader not initialised")
	}
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() != nil:
			return nil, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}
