package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"nounsgov/observability/metrics"
)

// Multicall3Address is the canonical Multicall3 deployment, identical on every
// supported network.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// ErrCallFailed marks a batched call that reverted while partial failure was allowed.
var ErrCallFailed = errors.New("chain: call failed")

const multicall3ABIJSON = `[
 {"type":"function","name":"aggregate3","stateMutability":"payable","inputs":[
  {"name":"calls","type":"tuple[]","components":[
   {"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],
  "outputs":[{"name":"returnData","type":"tuple[]","components":[
   {"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]},
 {"type":"function","name":"getBlockNumber","stateMutability":"view","inputs":[],"outputs":[{"name":"blockNumber","type":"uint256"}]}
]`

// Multicall3ABI is the subset of Multicall3 used for batched reads.
var Multicall3ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse multicall3 abi: %v", err))
	}
	return parsed
}()

// Call is one entry of an aggregate3 batch. Field names follow the ABI tuple.
type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result is the outcome of one Call.
type Result struct {
	Success    bool
	ReturnData []byte
}

// Err returns ErrCallFailed for unsuccessful results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return ErrCallFailed
}

// NewCall packs method on contract. The call tolerates failure so one
// reverting read does not sink the whole batch.
func NewCall(contract abi.ABI, target common.Address, method string, args ...interface{}) (Call, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return Call{Target: target, AllowFailure: true, CallData: data}, nil
}

// Multicaller batches reads through Multicall3.
type Multicaller struct {
	reader  Reader
	address common.Address
}

// NewMulticaller returns a batcher bound to the canonical Multicall3 address.
func NewMulticaller(reader Reader) *Multicaller {
	return &Multicaller{reader: reader, address: Multicall3Address}
}

// WithAddress returns a copy bound to a non-canonical deployment.
func (m *Multicaller) WithAddress(addr common.Address) *Multicaller {
	clone := *m
	clone.address = addr
	return &clone
}

// Address reports the Multicall3 contract used.
func (m *Multicaller) Address() common.Address { return m.address }

// BlockNumberCall reads the current block number inside the same batch, so
// the height is consistent with the other results.
func (m *Multicaller) BlockNumberCall() Call {
	data, _ := Multicall3ABI.Pack("getBlockNumber")
	return Call{Target: m.address, AllowFailure: false, CallData: data}
}

// Aggregate3 executes calls in a single eth_call against the latest block.
// The returned slice is index-aligned with calls.
func (m *Multicaller) Aggregate3(ctx context.Context, calls []Call) ([]Result, error) {
	if m == nil || m.reader == nil {
		return nil, fmt.Errorf("chain: multicaller not initialised")
	}
	if len(calls) == 0 {
		return nil, nil
	}
	data, err := Multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("chain: pack aggregate3: %w", err)
	}
	to := m.address
	start := time.Now()
	raw, err := m.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	metrics.Reads().ObserveMulticall(len(calls), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("chain: aggregate3: %w", err)
	}
	out, err := Multicall3ABI.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack aggregate3: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: unpack aggregate3: %d outputs", len(out))
	}
	results := *abi.ConvertType(out[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("chain: aggregate3 returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}

// DecodeBlockNumber unpacks the result of BlockNumberCall.
func DecodeBlockNumber(r Result) (*big.Int, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	out, err := Multicall3ABI.Unpack("getBlockNumber", r.ReturnData)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack getBlockNumber: %w", err)
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unpack getBlockNumber: unexpected %T", out[0])
	}
	return n, nil
}
