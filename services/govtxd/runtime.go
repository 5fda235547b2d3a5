package govtxd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"nounsgov/actions"
	"nounsgov/chain"
	"nounsgov/config"
	"nounsgov/crypto"
	"nounsgov/history"
	"nounsgov/observability/logging"
	"nounsgov/subgraph"
	"nounsgov/txflow"
	"nounsgov/wallet"
)

// RuntimeOptions selects the deployment and signer a Runtime is built on.
type RuntimeOptions struct {
	Network      string
	NetworksFile string
	RPCURL       string
	SubgraphURL  string
	SubgraphKey  string

	Keystore   string
	Passphrase func() (string, error)
	Approver   wallet.Approver

	HistoryDriver string
	HistoryDSN    string

	GasMultiplierPercent uint64
	ReceiptTimeout       time.Duration
	PollInterval         time.Duration
	Simulate             bool
	SignatureLifetime    time.Duration

	Logger *slog.Logger
}

// Runtime is the wired pipeline shared by the daemon and the CLI.
type Runtime struct {
	Network  config.Network
	Client   *ethclient.Client
	Session  *wallet.LocalSession
	Pipeline *txflow.Service
	Indexer  *subgraph.Client
	Actions  *actions.Actions
	History  *history.Store
	Logger   *slog.Logger
}

// NewRuntime dials the node, unlocks the keystore and binds the builders to
// the selected network.
func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nets, err := config.Load(opts.NetworksFile)
	if err != nil {
		return nil, err
	}
	network, err := nets.Lookup(opts.Network)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.RPCURL) != "" {
		network.RPCURL = strings.TrimSpace(opts.RPCURL)
	}
	if strings.TrimSpace(opts.SubgraphURL) != "" {
		network.SubgraphURL = strings.TrimSpace(opts.SubgraphURL)
	}
	deployment, err := network.Deployment()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(network.SubgraphURL) == "" {
		return nil, fmt.Errorf("network %s: subgraph url required", network.Name)
	}

	rt := &Runtime{Network: network, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	rt.Client, err = chain.Dial(dialCtx, network.RPCURL)
	cancel()
	if err != nil {
		return nil, err
	}

	if opts.Passphrase == nil {
		return nil, fmt.Errorf("keystore passphrase source required")
	}
	pass, err := opts.Passphrase()
	if err != nil {
		return nil, fmt.Errorf("keystore passphrase: %w", err)
	}
	key, err := crypto.LoadFromKeystore(opts.Keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	var sessionOpts []wallet.LocalOption
	if opts.Approver != nil {
		sessionOpts = append(sessionOpts, wallet.WithApprover(opts.Approver))
	}
	rt.Session, err = wallet.NewLocalSession(key.PrivateKey, rt.Client, sessionOpts...)
	if err != nil {
		return nil, err
	}

	var subOpts []subgraph.Option
	if opts.SubgraphKey != "" {
		subOpts = append(subOpts, subgraph.WithAPIKey(opts.SubgraphKey))
	}
	rt.Indexer, err = subgraph.New(network.SubgraphURL, subOpts...)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []txflow.Option{
		txflow.WithLogger(logger),
		txflow.WithChainID(deployment.ChainID),
		txflow.WithSimulation(opts.Simulate),
	}
	if opts.GasMultiplierPercent > 0 {
		pipelineOpts = append(pipelineOpts, txflow.WithGasMultiplier(opts.GasMultiplierPercent, 100))
	}
	if opts.ReceiptTimeout > 0 {
		pipelineOpts = append(pipelineOpts, txflow.WithReceiptTimeout(opts.ReceiptTimeout))
	}
	if opts.PollInterval > 0 {
		pipelineOpts = append(pipelineOpts, txflow.WithPollInterval(opts.PollInterval))
	}
	if strings.TrimSpace(opts.HistoryDSN) != "" {
		rt.History, err = history.Open(opts.HistoryDriver, opts.HistoryDSN)
		if err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, txflow.WithHistory(rt.History))
	}
	rt.Pipeline = txflow.New(rt.Client, rt.Session, pipelineOpts...)
	rt.Actions = actions.New(deployment, rt.Pipeline, rt.Indexer,
		actions.WithLogger(logger),
		actions.WithSignatureLifetime(opts.SignatureLifetime),
	)

	addr, _ := rt.Session.Address()
	logger.Info("runtime ready",
		slog.String("network", network.Name),
		slog.Uint64("chain_id", network.ChainID),
		logging.MaskField("rpc_url", network.RPCURL),
		logging.MaskField("subgraph_url", network.SubgraphURL),
		slog.String("account", addr.Hex()))
	ok = true
	return rt, nil
}

// Close releases the node connection and the history database.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.History != nil {
		if err := r.History.Close(); err != nil {
			r.Logger.Warn("close history", slog.Any("error", err))
		}
	}
	if r.Client != nil {
		r.Client.Close()
	}
}
