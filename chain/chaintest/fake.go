// Package chaintest provides an in-memory chain.Client for tests. Contract
// reads are answered by per-method handlers, and Multicall3 batches are
// dispatched to the same handlers.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"nounsgov/chain"
)

// Handler answers a decoded contract call with output values.
type Handler func(args []interface{}) ([]interface{}, error)

type route struct {
	method  abi.Method
	handler Handler
}

// Fake is a scriptable chain.Client. Zero-value fields behave like an empty
// chain; use New for sensible defaults.
type Fake struct {
	mu sync.Mutex

	ID       *big.Int
	Block    uint64
	GasPrice *big.Int
	TipCap   *big.Int
	Gas      uint64
	GasErr   error
	SendErr  error
	// ReceiptStatus is applied to receipts of sent transactions.
	ReceiptStatus uint64
	// HoldReceipts keeps sent transactions unmined until Mine is called.
	HoldReceipts bool

	balances map[common.Address]*big.Int
	code     map[common.Address][]byte
	nonces   map[common.Address]uint64
	routes   map[common.Address]map[[4]byte]route
	receipts map[common.Hash]*gethtypes.Receipt

	Sent      []*gethtypes.Transaction
	Estimates []ethereum.CallMsg
	Calls     int
}

var _ chain.Client = (*Fake)(nil)

// New returns a mainnet-like fake at block 1000 with 1 gwei gas.
func New() *Fake {
	return &Fake{
		ID:            big.NewInt(1),
		Block:         1000,
		GasPrice:      big.NewInt(1_000_000_000),
		TipCap:        big.NewInt(1_000_000),
		Gas:           100_000,
		ReceiptStatus: gethtypes.ReceiptStatusSuccessful,
		balances:      make(map[common.Address]*big.Int),
		code:          make(map[common.Address][]byte),
		nonces:        make(map[common.Address]uint64),
		routes:        make(map[common.Address]map[[4]byte]route),
		receipts:      make(map[common.Hash]*gethtypes.Receipt),
	}
}

// SetBalance sets the wei balance of addr.
func (f *Fake) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(wei)
}

// SetCode marks addr as a contract.
func (f *Fake) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[addr] = common.CopyBytes(code)
}

// Handle routes calls of method on contract at target to fn.
func (f *Fake) Handle(target common.Address, contract abi.ABI, method string, fn Handler) {
	m, ok := contract.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes[target] == nil {
		f.routes[target] = make(map[[4]byte]route)
	}
	f.routes[target][sel] = route{method: m, handler: fn}
}

// Return answers method with fixed outputs.
func (f *Fake) Return(target common.Address, contract abi.ABI, method string, outputs ...interface{}) {
	f.Handle(target, contract, method, func([]interface{}) ([]interface{}, error) { return outputs, nil })
}

// Revert makes method fail.
func (f *Fake) Revert(target common.Address, contract abi.ABI, method string) {
	f.Handle(target, contract, method, func([]interface{}) ([]interface{}, error) {
		return nil, fmt.Errorf("execution reverted")
	})
}

// SetBlock moves the head.
func (f *Fake) SetBlock(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Block = n
}

// SentCount reports how many transactions were broadcast.
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// Mine produces receipts for every held transaction.
func (f *Fake) Mine() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.Sent {
		if _, ok := f.receipts[tx.Hash()]; !ok {
			f.receipts[tx.Hash()] = f.receiptFor(tx)
		}
	}
}

func (f *Fake) receiptFor(tx *gethtypes.Transaction) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status:      f.ReceiptStatus,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: new(big.Int).SetUint64(f.Block + 1),
	}
}

func (f *Fake) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.ID), nil
}

func (f *Fake) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Block, nil
}

func (f *Fake) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &gethtypes.Header{Number: new(big.Int).SetUint64(f.Block), BaseFee: new(big.Int).Set(f.GasPrice)}, nil
}

func (f *Fake) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bal, ok := f.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (f *Fake) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return common.CopyBytes(f.code[account]), nil
}

func (f *Fake) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *Fake) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *Fake) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.TipCap), nil
}

func (f *Fake) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Estimates = append(f.Estimates, call)
	if f.GasErr != nil {
		return 0, f.GasErr
	}
	return f.Gas, nil
}

func (f *Fake) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	signer := gethtypes.LatestSignerForChainID(f.ID)
	if from, err := gethtypes.Sender(signer, tx); err == nil {
		f.nonces[from] = tx.Nonce() + 1
	}
	if !f.HoldReceipts {
		f.receipts[tx.Hash()] = f.receiptFor(tx)
	}
	return nil
}

func (f *Fake) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// SetReceipt installs a receipt for an externally produced hash.
func (f *Fake) SetReceipt(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &gethtypes.Receipt{Status: status, TxHash: hash, BlockNumber: new(big.Int).SetUint64(f.Block + 1)}
}

func (f *Fake) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if call.To == nil {
		return nil, fmt.Errorf("chaintest: contract creation not supported")
	}
	if *call.To == chain.Multicall3Address && bytes.HasPrefix(call.Data, chain.Multicall3ABI.Methods["aggregate3"].ID) {
		return f.aggregate3(call.Data)
	}
	return f.dispatch(*call.To, call.Data)
}

func (f *Fake) aggregate3(data []byte) ([]byte, error) {
	method := chain.Multicall3ABI.Methods["aggregate3"]
	in, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	calls := *abi.ConvertType(in[0], new([]chain.Call)).(*[]chain.Call)
	results := make([]chain.Result, len(calls))
	for i, c := range calls {
		var out []byte
		var err error
		if c.Target == chain.Multicall3Address && bytes.HasPrefix(c.CallData, chain.Multicall3ABI.Methods["getBlockNumber"].ID) {
			out, err = chain.Multicall3ABI.Methods["getBlockNumber"].Outputs.Pack(new(big.Int).SetUint64(f.Block))
		} else {
			out, err = f.dispatch(c.Target, c.CallData)
		}
		if err != nil {
			if !c.AllowFailure {
				return nil, fmt.Errorf("execution reverted: multicall3 call %d: %w", i, err)
			}
			results[i] = chain.Result{Success: false, ReturnData: []byte{}}
			continue
		}
		results[i] = chain.Result{Success: true, ReturnData: out}
	}
	return method.Outputs.Pack(results)
}

func (f *Fake) dispatch(target common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("chaintest: short calldata")
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	r, ok := f.routes[target][sel]
	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %s %x", target.Hex(), sel)
	}
	args, err := r.method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	outputs, err := r.handler(args)
	if err != nil {
		return nil, err
	}
	return r.method.Outputs.Pack(outputs...)
}
