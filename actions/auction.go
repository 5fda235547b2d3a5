package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nounsgov/chain"
	"nounsgov/gov"
	"nounsgov/txflow"
)

// BuyInput buys the noun generated at ExpectedBlock from the VRGDA pool. A
// nil MaxPrice accepts whatever the live price is at build time.
type BuyInput struct {
	ExpectedBlock  *big.Int `json:"expectedBlockNumber"`
	ExpectedNounID *big.Int `json:"expectedNounId"`
	MaxPrice       *big.Int `json:"maxPrice,omitempty"`
}

// poolQuote is one consistent read of the pool.
type poolQuote struct {
	noun     gov.FetchedNoun
	nounErr  error
	poolSize *big.Int
	price    *big.Int
	block    *big.Int
}

// quote reads fetchNoun, poolSize, the current price and the block number in
// a single batch.
func (a *Actions) quote(ctx context.Context, expectedBlock *big.Int) (poolQuote, *txflow.ValidationError) {
	results, err := a.read(ctx,
		callOf(gov.PoolABI, a.cfg.Pool, "fetchNoun", expectedBlock),
		callOf(gov.PoolABI, a.cfg.Pool, "poolSize"),
		callOf(gov.PoolABI, a.cfg.Pool, "getCurrentVRGDAPrice"),
		a.multicall.BlockNumberCall(),
	)
	if err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	var q poolQuote
	if q.nounErr = results[0].Err(); q.nounErr == nil {
		q.noun, q.nounErr = gov.DecodeFetchNoun(results[0].ReturnData)
	}
	if err := results[1].Err(); err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("poolSize: %w", err))
	}
	if q.poolSize, err = gov.DecodeBig(gov.PoolABI, "poolSize", results[1].ReturnData); err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	if err := results[2].Err(); err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("getCurrentVRGDAPrice: %w", err))
	}
	if q.price, err = gov.DecodeBig(gov.PoolABI, "getCurrentVRGDAPrice", results[2].ReturnData); err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	if q.block, err = chain.DecodeBlockNumber(results[3]); err != nil {
		return poolQuote{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	return q, nil
}

// InPoolWindow reports whether expected lies in
// [current-poolSize+1, current-1]. The lower bound clamps at zero.
func InPoolWindow(expected, current, poolSize *big.Int) bool {
	exp, o1 := uint256.FromBig(expected)
	cur, o2 := uint256.FromBig(current)
	size, o3 := uint256.FromBig(poolSize)
	if o1 || o2 || o3 || size.IsZero() || cur.IsZero() {
		return false
	}
	upper := new(uint256.Int).SubUint64(cur, 1)
	if exp.Gt(upper) {
		return false
	}
	lower, underflow := new(uint256.Int).SubOverflow(new(uint256.Int).AddUint64(cur, 1), size)
	if underflow {
		lower.Clear()
	}
	return !exp.Lt(lower)
}

// ValidateBuyNoun checks the block window, the noun id and the max price
// against one batched read of the pool.
func (a *Actions) ValidateBuyNoun(ctx context.Context, in BuyInput) *txflow.ValidationError {
	return a.validateBuy(ctx, in, in.MaxPrice)
}

// validateBuy compares the live price against ceiling, which inside the
// engine is the lower of the caller's max price and the value being sent.
func (a *Actions) validateBuy(ctx context.Context, in BuyInput, ceiling *big.Int) (ve *txflow.ValidationError) {
	defer a.guard("buy_noun", &ve)
	if _, ve := a.requireAccount(); ve != nil {
		return ve
	}
	if ve := a.requireContracts(a.cfg.Pool); ve != nil {
		return ve
	}
	if in.ExpectedBlock == nil || in.ExpectedBlock.Sign() < 0 {
		return txflow.NewValidationError(txflow.KindInvalidBlockNumber)
	}
	if in.ExpectedNounID == nil || in.ExpectedNounID.Sign() < 0 {
		return txflow.NewValidationError(txflow.KindInvalidNounID)
	}
	q, ve := a.quote(ctx, in.ExpectedBlock)
	if ve != nil {
		return ve
	}
	if !InPoolWindow(in.ExpectedBlock, q.block, q.poolSize) {
		return txflow.NewValidationError(txflow.KindInvalidBlockNumber)
	}
	if q.nounErr != nil {
		return txflow.WithDetail(txflow.KindContractError, fmt.Errorf("fetchNoun: %w", q.nounErr))
	}
	if q.noun.NounID.Cmp(in.ExpectedNounID) != 0 {
		return txflow.NewValidationError(txflow.KindInvalidNounID)
	}
	if ceiling != nil && q.price.Cmp(ceiling) > 0 {
		return txflow.NewValidationError(txflow.KindPriceIncreased)
	}
	return nil
}

// BuyNounVRGDA submits buyNow with the live price as value.
func (a *Actions) BuyNounVRGDA(ctx context.Context, tr *txflow.Tracker, in BuyInput) error {
	if ve := a.requireContracts(a.cfg.Pool); ve != nil {
		return reject(tr, ve)
	}
	if in.ExpectedBlock == nil || in.ExpectedNounID == nil {
		return reject(tr, txflow.NewValidationError(txflow.KindInvalidBlockNumber))
	}
	q, ve := a.quote(ctx, in.ExpectedBlock)
	if ve != nil {
		return reject(tr, ve)
	}
	if in.MaxPrice != nil && q.price.Cmp(in.MaxPrice) > 0 {
		return reject(tr, txflow.NewValidationError(txflow.KindPriceIncreased))
	}
	data, err := gov.PackBuyNow(in.ExpectedBlock, in.ExpectedNounID)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	value := new(big.Int).Set(q.price)
	ceiling := value
	if in.MaxPrice != nil && in.MaxPrice.Cmp(ceiling) < 0 {
		ceiling = in.MaxPrice
	}
	req := txflow.NewRequest(a.cfg.Pool, data, value, GasBuyNow)
	logging := txflow.Logging{Type: txflow.TxBuyVRGDA, Description: fmt.Sprintf("Buy Noun %s", in.ExpectedNounID)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.validateBuy(ctx, in, ceiling)
	})
}

// ApproveInput is an ERC-20 allowance. A zero Token means the deployment's
// governance token.
type ApproveInput struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (a *Actions) approveToken(in ApproveInput) common.Address {
	if in.Token != (common.Address{}) {
		return in.Token
	}
	return a.cfg.Token
}

// ValidateApproveToken requires a connected account and a non-zero spender.
func (a *Actions) ValidateApproveToken(_ context.Context, in ApproveInput) *txflow.ValidationError {
	if _, ve := a.requireAccount(); ve != nil {
		return ve
	}
	if ve := a.requireContracts(a.approveToken(in)); ve != nil {
		return ve
	}
	if in.Spender == (common.Address{}) {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	if in.Amount != nil && in.Amount.Sign() < 0 {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	return nil
}

// ApproveToken submits approve(spender, amount) on the token.
func (a *Actions) ApproveToken(ctx context.Context, tr *txflow.Tracker, in ApproveInput) error {
	token := a.approveToken(in)
	if ve := a.requireContracts(token); ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackApprove(in.Spender, in.Amount)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(token, data, nil, GasApprove)
	logging := txflow.Logging{Type: txflow.TxApproveToken, Description: fmt.Sprintf("Approve %s", shortAddress(in.Spender))}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateApproveToken(ctx, in)
	})
}
