package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nounsgov/txflow"
)

var (
	sender = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	dao    = common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func broadcast(n int64, kind txflow.TxType, at time.Time) txflow.Broadcast {
	return txflow.Broadcast{
		TrackerID: "trk-" + big.NewInt(n).String(),
		Hash:      common.BigToHash(big.NewInt(n)),
		From:      sender,
		To:        dao,
		Value:     big.NewInt(n * 10),
		Gas:       135_000,
		ChainID:   big.NewInt(1),
		Logging:   txflow.Logging{Type: kind, Description: "Vote FOR on proposal " + big.NewInt(n).String()},
		At:        at,
	}
}

func TestBroadcastThenOutcome(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordBroadcast(ctx, broadcast(1, txflow.TxCastVote, at)))
	rec, err := store.Get(ctx, common.BigToHash(big.NewInt(1)))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, "10", rec.ValueWei)
	require.Equal(t, sender.Hex(), rec.Sender)
	require.Nil(t, rec.SettledAt)

	receipt := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1001), GasUsed: 90_000}
	require.NoError(t, store.RecordOutcome(ctx, common.BigToHash(big.NewInt(1)), txflow.StateSuccess, receipt, nil))
	rec, err = store.Get(ctx, common.BigToHash(big.NewInt(1)))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, uint64(1001), rec.BlockNumber)
	require.Equal(t, uint64(90_000), rec.GasUsed)
	require.NotNil(t, rec.SettledAt)
}

func TestDuplicateBroadcastIsIgnored(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	b := broadcast(2, txflow.TxPropose, time.Now())
	require.NoError(t, store.RecordBroadcast(ctx, b))
	b.Logging.Description = "changed"
	require.NoError(t, store.RecordBroadcast(ctx, b))

	records, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotEqual(t, "changed", records[0].Description)
}

func TestOutcomeForUnknownHash(t *testing.T) {
	store := setupStore(t)
	err := store.RecordOutcome(context.Background(), common.HexToHash("0xdead"), txflow.StateFailed, nil, errors.New("reverted"))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), common.HexToHash("0xdead"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordBroadcast(ctx, broadcast(1, txflow.TxCastVote, base)))
	require.NoError(t, store.RecordBroadcast(ctx, broadcast(2, txflow.TxPropose, base.Add(time.Hour))))
	require.NoError(t, store.RecordBroadcast(ctx, broadcast(3, txflow.TxCastVote, base.Add(2*time.Hour))))
	require.NoError(t, store.RecordOutcome(ctx, common.BigToHash(big.NewInt(3)), txflow.StateFailed, nil, errors.New("reverted")))

	votes, err := store.List(ctx, Filter{Type: txflow.TxCastVote})
	require.NoError(t, err)
	require.Len(t, votes, 2)
	require.Equal(t, common.BigToHash(big.NewInt(3)).Hex(), votes[0].Hash)

	failed, err := store.List(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "reverted", failed[0].Error)

	window, err := store.List(ctx, Filter{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := store.List(ctx, Filter{Sender: dao})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestExportCSV(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.RecordBroadcast(ctx, broadcast(1, txflow.TxCastVote, time.Now())))

	var buf bytes.Buffer
	n, err := store.Export(ctx, &buf, FormatCSV, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, string(txflow.TxCastVote), rows[1][8])
	require.Equal(t, "PENDING", rows[1][10])
}

func TestExportParquet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.RecordBroadcast(ctx, broadcast(1, txflow.TxCastVote, time.Now())))

	var buf bytes.Buffer
	n, err := store.Export(ctx, &buf, FormatParquet, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte("PAR1")))
	require.True(t, bytes.HasSuffix(out, []byte("PAR1")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xlsx")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "xlsx"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
	_, err = Open("sqlite", " ")
	require.Error(t, err)
}
