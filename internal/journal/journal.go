// Package journal records per-segment outcomes for a run.
//
// On success the run writes a zstd-compressed parquet journal next to the
// other run artifacts, one row per segment (timings, attempts, strategy,
// artifact size), suitable for loading into a warehouse alongside other
// pipeline telemetry. Failed segments additionally get their ffmpeg stderr
// archived zstd-compressed for forensics.
package journal

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
)

// SegmentRecord is a single journal row.
type SegmentRecord struct {
	Index       int32     `parquet:"index"`
	OffsetMs    int64     `parquet:"offset_ms"`
	LengthMs    int64     `parquet:"length_ms"`
	EncodeMs    int64     `parquet:"encode_ms"`
	Attempts    int32     `parquet:"attempts"`
	Strategy    string    `parquet:"strategy"`
	Skipped     bool      `parquet:"skipped"`
	ArtifactLen int64     `parquet:"artifact_bytes"`
	CompletedAt time.Time `parquet:"completed_at,timestamp(millisecond)"`
}

// Write persists records as a zstd-compressed parquet file at path.
func Write(path string, records []SegmentRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create journal %s: %w", path, err)
	}

	w := parquet.NewGenericWriter[SegmentRecord](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(records); err != nil {
		w.Close()
		f.Close()
		return fmt.Errorf("write journal rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close journal writer: %w", err)
	}
	return f.Close()
}

// Read loads all journal rows from path.
func Read(path string) ([]SegmentRecord, error) {
	rows, err := parquet.ReadFile[SegmentRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	return rows, nil
}

// ArchiveStderr writes data zstd-compressed to path. Encoder stderr for a
// segment that exhausted all strategies can run to megabytes; keeping it
// compressed makes retaining every failure cheap.
func ArchiveStderr(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create stderr archive %s: %w", path, err)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("compress stderr archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish stderr archive: %w", err)
	}
	return f.Close()
}

// ReadStderrArchive decompresses a stderr archive written by ArchiveStderr.
func ReadStderrArchive(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stderr archive %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress stderr archive: %w", err)
	}
	return data, nil
}
