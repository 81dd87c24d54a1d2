// Package publish uploads the final artifact, its manifest, and the run
// journal to a blob bucket.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/mediaforge/segpipe/internal/logging"
)

// Manifest describes a published output for downstream consumers.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Output    string    `json:"output"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	Segments  int       `json:"segments"`
	Producer  string    `json:"producer"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher writes run outputs to a bucket under a key prefix.
type Publisher struct {
	bucket   *blob.Bucket
	prefix   string
	producer string
	log      *slog.Logger
}

// Open connects to the bucket named by url (file://, gs://, s3://) and
// returns a publisher rooted at prefix. Callers own Close.
func Open(ctx context.Context, url, prefix, producer string) (*Publisher, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return NewWithBucket(bucket, prefix, producer), nil
}

// NewWithBucket wraps an already-open bucket. Used by Open and by tests
// with an in-memory bucket.
func NewWithBucket(bucket *blob.Bucket, prefix, producer string) *Publisher {
	return &Publisher{
		bucket:   bucket,
		prefix:   prefix,
		producer: producer,
		log:      logging.Component("publish"),
	}
}

// Close releases the bucket connection.
func (p *Publisher) Close() error {
	return p.bucket.Close()
}

// Publish uploads the final artifact, a JSON manifest beside it, and the
// run journal when journalPath is non-empty. The artifact lands under its
// final key only after the full body has been written: it is staged under
// a temporary key first, then copied and the stage deleted, so a reader
// listing the prefix never sees a partial artifact.
func (p *Publisher) Publish(ctx context.Context, runID, outPath, journalPath string, segments int) (Manifest, error) {
	sum, size, err := Checksum(outPath)
	if err != nil {
		return Manifest{}, err
	}

	name := path.Base(outPath)
	finalKey := p.key(name)
	if err := p.uploadStaged(ctx, finalKey, outPath, "video/mp4"); err != nil {
		return Manifest{}, err
	}

	man := Manifest{
		RunID:     runID,
		Output:    name,
		SHA256:    sum,
		SizeBytes: size,
		Segments:  segments,
		Producer:  p.producer,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	manKey := finalKey + ".manifest.json"
	if err := p.bucket.WriteAll(ctx, manKey, body, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return Manifest{}, fmt.Errorf("write manifest %s: %w", manKey, err)
	}

	if journalPath != "" {
		jKey := p.key(name + ".journal.parquet")
		if err := p.uploadStaged(ctx, jKey, journalPath, "application/vnd.apache.parquet"); err != nil {
			return Manifest{}, err
		}
	}

	p.log.Info("published output",
		"key", finalKey,
		"bytes", size,
		"sha256", sum,
	)
	return man, nil
}

func (p *Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// uploadStaged writes the file under a temporary key, then copies it to
// key and removes the stage.
func (p *Publisher) uploadStaged(ctx context.Context, key, srcPath, contentType string) error {
	tmpKey := key + ".tmp-" + uuid.NewString()

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, tmpKey, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("stage %s: %w", tmpKey, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		p.bucket.Delete(ctx, tmpKey)
		return fmt.Errorf("upload %s: %w", tmpKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload %s: %w", tmpKey, err)
	}

	if err := p.bucket.Copy(ctx, key, tmpKey, nil); err != nil {
		p.bucket.Delete(ctx, tmpKey)
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	if err := p.bucket.Delete(ctx, tmpKey); err != nil {
		p.log.Warn("stage key left behind", "key", tmpKey, "error", err)
	}
	return nil
}

// Checksum returns the hex SHA-256 and byte length of the file at path.
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
