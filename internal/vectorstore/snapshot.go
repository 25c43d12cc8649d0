package vectorstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

type snapshotRow struct {
	ConnectionID    string    `parquet:"connection_id"`
	TableName       string    `parquet:"table_name"`
	Content         string    `parquet:"content"`
	ContentHash     string    `parquet:"content_hash"`
	Embedding       []float32 `parquet:"embedding"`
	UpdatedAtUnixMs int64     `parquet:"updated_at_unix_ms"`
}

// ExportParquet encodes entries as a parquet file.
func ExportParquet(entries []Entry) ([]byte, error) {
	rows := make([]snapshotRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, snapshotRow{
			ConnectionID:    entry.ConnectionID,
			TableName:       entry.Table,
			Content:         entry.Content,
			ContentHash:     entry.ContentHash,
			Embedding:       entry.Embedding,
			UpdatedAtUnixMs: entry.UpdatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[snapshotRow](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write snapshot rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close snapshot writer: %w", err)
	}
	return buf.Bytes(), nil
}

func ImportParquet(data []byte) ([]Entry, error) {
	reader := parquet.NewGenericReader[snapshotRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	total := reader.NumRows()
	rows := make([]snapshotRow, total)
	if total > 0 {
		count, err := reader.Read(rows)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read snapshot rows: %w", err)
		}
		rows = rows[:count]
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			ConnectionID: row.ConnectionID,
			Table:        row.TableName,
			Content:      row.Content,
			ContentHash:  row.ContentHash,
			Embedding:    row.Embedding,
			UpdatedAt:    time.UnixMilli(row.UpdatedAtUnixMs).UTC(),
		})
	}
	return entries, nil
}
