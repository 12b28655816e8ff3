package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// archivedRow is the parquet layout of one archived telemetry row. Telemetry
// tables have heterogeneous columns, so the row itself is carried as a JSON
// document; the envelope columns are what archive queries filter on.
type archivedRow struct {
	TableName string `parquet:"name=table_name,type=BYTE_ARRAY,convertedtype=UTF8"`
	CutoffMS  int64  `parquet:"name=cutoff_ms,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	PurgedMS  int64  `parquet:"name=purged_ms,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Row       string `parquet:"name=row,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// Archiver writes expired telemetry rows to local parquet files before the
// retention sweep deletes them.
type Archiver struct {
	cfg config.ArchiveConfig
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg *config.Config) *Archiver {
	return &Archiver{cfg: cfg.Ingest.Retention.Archive}
}

// Enabled reports whether pre-purge archiving is switched on.
func (a *Archiver) Enabled() bool {
	return a.cfg.Enabled
}

// Archive writes one parquet file holding the given rows and returns its
// path. Files land under BaseDir/<table>/dt=YYYY-MM-DD/ with a unique name so
// concurrent sweeps never collide.
func (a *Archiver) Archive(ctx context.Context, tableName string, cutoff time.Time, rows []map[string]interface{}) (string, error) {
	const op = "Archiver.Archive"
	if len(rows) == 0 {
		return "", nil
	}

	codec, err := compressionCodec(a.cfg.Compression)
	if err != nil {
		return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: invalid compression for table '%s'", op, tableName), err, false, false)
	}

	now := time.Now()
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(archivedRow), int64(len(rows)))
	if err != nil {
		return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: failed to create parquet writer for table '%s'", op, tableName), err, false, false)
	}
	pw.CompressionType = codec

	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: failed to encode row of table '%s'", op, tableName), err, false, false)
		}
		item := archivedRow{
			TableName: tableName,
			CutoffMS:  cutoff.UnixMilli(),
			PurgedMS:  now.UnixMilli(),
			Row:       string(payload),
		}
		if err := pw.Write(item); err != nil {
			return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: failed to write row of table '%s'", op, tableName), err, false, false)
		}
	}
	if err := stopWriter(pw, tableName); err != nil {
		return "", err
	}

	dir := filepath.Join(a.cfg.BaseDir, tableName, "dt="+now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: failed to create archive directory '%s'", op, dir), err, false, false)
	}
	path := filepath.Join(dir, fmt.Sprintf("purge_%s_%s.parquet", now.Format("20060102150405"), randomSuffix(8)))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", exception.NewPipelineError("retention", fmt.Sprintf("%s: failed to write archive file '%s'", op, path), err, false, false)
	}

	logger.Infof("Archived %d expired rows of '%s' to %s (%d bytes).", len(rows), tableName, path, buf.Len())
	return path, nil
}

// stopWriter finalizes a parquet writer, converting library panics to errors.
func stopWriter(pw *writer.ParquetWriter, tableName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewPipelineError("retention",
				fmt.Sprintf("parquet writer panicked finalizing archive of table '%s': %v", tableName, r), nil, false, false)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		return exception.NewPipelineError("retention",
			fmt.Sprintf("failed to finalize archive of table '%s'", tableName), stopErr, false, false)
	}
	return nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

func randomSuffix(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	seeded := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seeded.Intn(len(charset))]
	}
	return string(b)
}
