package journal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevHash   string `parquet:"name=prev_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash       string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every entry to a snappy-compressed parquet file and
// returns the number of rows written.
func (j *Journal) ExportParquet(ctx context.Context, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("journal: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var (
		after uint64
		rows  int
	)
	for {
		batch, err := j.List(ctx, after, 500)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return rows, err
		}
		if len(batch) == 0 {
			break
		}
		for _, entry := range batch {
			row := &parquetRow{
				ID:         entry.ID.String(),
				Sequence:   int64(entry.Sequence),
				Type:       entry.Type,
				Attributes: entry.Attributes,
				PrevHash:   entry.PrevHash,
				Hash:       entry.Hash,
				CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return rows, fmt.Errorf("journal: parquet write: %w", err)
			}
			rows++
			after = entry.Sequence
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return rows, fmt.Errorf("journal: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return rows, fmt.Errorf("journal: close parquet file: %w", err)
	}
	return rows, nil
}
