// Package wallet defines the connected-account port of the transaction
// pipeline and a local, keystore-backed implementation of it.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ConnectorKind names the wallet connector behind a session.
type ConnectorKind string

const (
	ConnectorLocal         ConnectorKind = "local"
	ConnectorInjected      ConnectorKind = "injected"
	ConnectorWalletConnect ConnectorKind = "walletconnect"
	ConnectorSafe          ConnectorKind = "safe"
)

// Relayed reports whether the connector pays or manages gas itself, in which
// case the local balance gate does not apply.
func (k ConnectorKind) Relayed() bool {
	switch ConnectorKind(strings.ToLower(string(k))) {
	case ConnectorWalletConnect, ConnectorSafe:
		return true
	default:
		return false
	}
}

var (
	// ErrUserRejected is returned when the account holder declines a prompt.
	ErrUserRejected = errors.New("wallet: user rejected the request")
	// ErrNotConnected is returned by sessions without an account.
	ErrNotConnected = errors.New("wallet: not connected")
)

// SendRequest is a fully resolved transaction handed to the wallet.
type SendRequest struct {
	From    common.Address
	To      common.Address
	Data    []byte
	Value   *big.Int
	Gas     uint64
	ChainID *big.Int
}

// Session is the connected account.
type Session interface {
	// Address returns the connected account, or false when disconnected.
	Address() (common.Address, bool)
	ConnectorKind() ConnectorKind
	// SwitchChain moves the wallet to chainID and reports success. A false
	// return means the user declined or the wallet cannot switch.
	SwitchChain(ctx context.Context, chainID *big.Int) bool
	// SignTypedData returns a 65-byte EIP-712 signature with V in {27,28}.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendTransaction(ctx context.Context, req SendRequest) (common.Hash, error)
}

// FuncSession adapts callback functions to the Session interface.
type FuncSession struct {
	Account    common.Address
	Connected  bool
	Kind       ConnectorKind
	SwitchFunc func(ctx context.Context, chainID *big.Int) bool
	SignFunc   func(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendFunc   func(ctx context.Context, req SendRequest) (common.Hash, error)
}

// Address returns the configured account.
func (s FuncSession) Address() (common.Address, bool) { return s.Account, s.Connected }

// ConnectorKind returns the configured connector, defaulting to injected.
func (s FuncSession) ConnectorKind() ConnectorKind {
	if s.Kind == "" {
		return ConnectorInjected
	}
	return s.Kind
}

// SwitchChain delegates to the configured callback.
func (s FuncSession) SwitchChain(ctx context.Context, chainID *big.Int) bool {
	if s.SwitchFunc == nil {
		return true
	}
	return s.SwitchFunc(ctx, chainID)
}

// SignTypedData delegates to the configured callback.
func (s FuncSession) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if s.SignFunc == nil {
		return nil, ErrUserRejected
	}
	return s.SignFunc(ctx, data)
}

// SendTransaction delegates to the configured callback.
func (s FuncSession) SendTransaction(ctx context.Context, req SendRequest) (common.Hash, error) {
	if s.SendFunc == nil {
		return common.Hash{}, ErrUserRejected
	}
	return s.SendFunc(ctx, req)
}
