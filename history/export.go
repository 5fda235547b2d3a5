package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "csv" or "parquet".
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("history: unknown export format %q", raw)
	}
}

// Export writes the records matching f to w.
func (s *Store) Export(ctx context.Context, w io.Writer, format Format, f Filter) (int, error) {
	records, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	switch format {
	case FormatCSV:
		err = WriteCSV(w, records)
	case FormatParquet:
		err = WriteParquet(w, records)
	default:
		err = fmt.Errorf("history: unknown export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

var csvHeader = []string{
	"id", "tracker_id", "hash", "chain_id", "sender", "target", "value_wei", "gas_limit",
	"type", "description", "status", "error", "block_number", "gas_used", "created_at", "settled_at",
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("history: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID.String(),
			r.TrackerID,
			r.Hash,
			r.ChainID,
			r.Sender,
			r.Target,
			r.ValueWei,
			strconv.FormatUint(r.GasLimit, 10),
			r.Type,
			r.Description,
			string(r.Status),
			r.Error,
			strconv.FormatUint(r.BlockNumber, 10),
			strconv.FormatUint(r.GasUsed, 10),
			r.CreatedAt.UTC().Format(time.RFC3339),
			formatTime(r.SettledAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("history: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("history: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TrackerID   string `parquet:"name=tracker_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash        string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChainID     string `parquet:"name=chain_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sender      string `parquet:"name=sender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target      string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueWei    string `parquet:"name=value_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasLimit    int64  `parquet:"name=gas_limit, type=INT64"`
	Type        string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Description string `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status      string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error       string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	BlockNumber int64  `parquet:"name=block_number, type=INT64"`
	GasUsed     int64  `parquet:"name=gas_used, type=INT64"`
	CreatedAt   string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt   string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet writes records as a snappy-compressed parquet file.
func WriteParquet(w io.Writer, records []Record) error {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("history: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		row := &parquetRow{
			ID:          r.ID.String(),
			TrackerID:   r.TrackerID,
			Hash:        r.Hash,
			ChainID:     r.ChainID,
			Sender:      r.Sender,
			Target:      r.Target,
			ValueWei:    r.ValueWei,
			GasLimit:    int64(r.GasLimit),
			Type:        r.Type,
			Description: r.Description,
			Status:      string(r.Status),
			Error:       r.Error,
			BlockNumber: int64(r.BlockNumber),
			GasUsed:     int64(r.GasUsed),
			CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
			SettledAt:   formatTime(r.SettledAt),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("history: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("history: parquet flush: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
