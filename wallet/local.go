package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"nounsgov/chain"
	"nounsgov/gov"
)

// PromptKind distinguishes the two things an approver is asked to confirm.
type PromptKind string

const (
	PromptSignTypedData PromptKind = "sign-typed-data"
	PromptSendTx        PromptKind = "send-transaction"
)

// Prompt describes a pending signature for an Approver.
type Prompt struct {
	Kind    PromptKind
	Request *SendRequest
	Typed   *apitypes.TypedData
}

// Approver stands in for the wallet's confirmation dialog. Returning an
// error rejects the prompt.
type Approver func(ctx context.Context, prompt Prompt) error

// AutoApprove accepts every prompt.
func AutoApprove(context.Context, Prompt) error { return nil }

// LocalSession signs with an in-process key and broadcasts through the chain
// client. It cannot switch networks.
type LocalSession struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	client   chain.Client
	approver Approver

	mu sync.Mutex
}

// LocalOption customises a LocalSession.
type LocalOption func(*LocalSession)

// WithApprover installs a confirmation hook.
func WithApprover(a Approver) LocalOption {
	return func(s *LocalSession) {
		if a != nil {
			s.approver = a
		}
	}
}

// NewLocalSession binds key to client.
func NewLocalSession(key *ecdsa.PrivateKey, client chain.Client, opts ...LocalOption) (*LocalSession, error) {
	if key == nil {
		return nil, errors.New("wallet: nil private key")
	}
	if client == nil {
		return nil, errors.New("wallet: chain client required")
	}
	s := &LocalSession{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		client:   client,
		approver: AutoApprove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *LocalSession) Address() (common.Address, bool) { return s.address, true }

func (s *LocalSession) ConnectorKind() ConnectorKind { return ConnectorLocal }

// SwitchChain succeeds only when the node already serves chainID.
func (s *LocalSession) SwitchChain(ctx context.Context, chainID *big.Int) bool {
	current, err := s.client.ChainID(ctx)
	if err != nil || chainID == nil {
		return false
	}
	return current.Cmp(chainID) == 0
}

// SignTypedData hashes data per EIP-712 and signs the digest.
func (s *LocalSession) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := s.approve(ctx, Prompt{Kind: PromptSignTypedData, Typed: &data}); err != nil {
		return nil, err
	}
	digest, err := gov.Digest(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction signs an EIP-1559 transaction and broadcasts it. Nonce
// lookup and broadcast are serialised so concurrent sends never share a nonce.
func (s *LocalSession) SendTransaction(ctx context.Context, req SendRequest) (common.Hash, error) {
	if req.From != (common.Address{}) && req.From != s.address {
		return common.Hash{}, fmt.Errorf("wallet: request from %s but session holds %s", req.From.Hex(), s.address.Hex())
	}
	if req.ChainID == nil {
		return common.Hash{}, errors.New("wallet: chain id required")
	}
	if err := s.approve(ctx, Prompt{Kind: PromptSendTx, Request: &req}); err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: fetch nonce: %w", err)
	}
	tip, feeCap, err := s.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   new(big.Int).Set(req.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       req.Gas,
		To:        &to,
		Value:     new(big.Int).Set(value),
		Data:      common.CopyBytes(req.Data),
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(req.ChainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("wallet: broadcast: %w", err)
	}
	return signed.Hash(), nil
}

// fees returns the tip and a fee cap of twice the base fee plus tip, falling
// back to the legacy gas price on chains without a base fee.
func (s *LocalSession) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet: suggest tip: %w", err)
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet: fetch head: %w", err)
	}
	if head == nil || head.BaseFee == nil {
		price, err := s.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("wallet: suggest gas price: %w", err)
		}
		return price, price, nil
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

func (s *LocalSession) approve(ctx context.Context, prompt Prompt) error {
	if err := s.approver(ctx, prompt); err != nil {
		if errors.Is(err, ErrUserRejected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	return nil
}
