package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"nounsgov/gov"
	"nounsgov/history"
	"nounsgov/txflow"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := &cli{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestParseSupport(t *testing.T) {
	for raw, want := range map[string]gov.VoteSupport{"for": gov.VoteFor, "AGAINST": gov.VoteAgainst, " abstain ": gov.VoteAbstain, "1": gov.VoteFor} {
		got, err := parseSupport(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}
	_, err := parseSupport("maybe")
	require.Error(t, err)
}

func TestParseProposalID(t *testing.T) {
	id, err := parseProposalID("742")
	require.NoError(t, err)
	require.Equal(t, int64(742), id.Int64())
	for _, raw := range []string{"0", "-3", "abc", ""} {
		_, err := parseProposalID(raw)
		require.Error(t, err, raw)
	}
}

func TestReadActionsFromStdin(t *testing.T) {
	c := &cli{stdin: strings.NewReader(`[{"target":"0x0000000000000000000000000000000000000dad","value":1,"signature":"","calldata":"0x"}]`)}
	acts, err := readActions(c, "-")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, common.HexToAddress("0xdad"), acts[0].Target)

	c.stdin = strings.NewReader("not json")
	_, err = readActions(c, "-")
	require.Error(t, err)
}

func TestKeyNewAndAddress(t *testing.T) {
	t.Setenv("TEST_GOVTX_PASS", "correct horse")
	path := filepath.Join(t.TempDir(), "signer.json")

	out, _, err := runCLI(t, "", "key", "new", path, "--pass-env", "TEST_GOVTX_PASS",
		"--import", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	created := strings.TrimSpace(out)
	require.True(t, common.IsHexAddress(created))

	out, _, err = runCLI(t, "", "key", "address", path)
	require.NoError(t, err)
	require.True(t, strings.EqualFold(created, strings.TrimSpace(out)))

	_, _, err = runCLI(t, "", "key", "new", path, "--pass-env", "TEST_GOVTX_PASS")
	require.ErrorContains(t, err, "already exists")
}

func TestNetworksListsPresets(t *testing.T) {
	out, _, err := runCLI(t, "", "networks")
	require.NoError(t, err)
	require.Contains(t, out, "mainnet")
	require.Contains(t, out, "0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
}

func TestSubmitRequiresKeystore(t *testing.T) {
	_, _, err := runCLI(t, "", "vote", "1", "for")
	require.ErrorContains(t, err, "--keystore")

	_, _, err = runCLI(t, "", "vote", "1", "sideways", "--keystore", "k.json")
	require.ErrorContains(t, err, "invalid support")

	_, _, err = runCLI(t, "", "approve", "--spender", "0xnope")
	require.ErrorContains(t, err, "invalid address")
}

func TestHistoryExport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, store.RecordBroadcast(context.Background(), txflow.Broadcast{
		TrackerID: "trk-1",
		Hash:      common.HexToHash("0x01"),
		From:      common.HexToAddress("0xa1"),
		To:        common.HexToAddress("0xda0"),
		Logging:   txflow.Logging{Type: txflow.TxCastVote, Description: "Vote FOR on proposal 1"},
		At:        time.Now(),
	}))
	require.NoError(t, store.Close())

	out, stderr, err := runCLI(t, "", "history", "export", "--history", dsn, "--type", "cast-vote")
	require.NoError(t, err)
	require.Contains(t, stderr, "exported 1 records")
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	parquetPath := filepath.Join(t.TempDir(), "out.parquet")
	_, _, err = runCLI(t, "", "history", "export", "--history", dsn, "--format", "parquet", "--out", parquetPath)
	require.NoError(t, err)

	_, _, err = runCLI(t, "", "history", "export", "--history", dsn, "--format", "xml")
	require.Error(t, err)
}
