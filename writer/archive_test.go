package writer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "gascap/config"
	"gascap/internal/models"
	"gascap/logger"
)

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	size int
}

func (f *fakePutter) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *input.Key)
	buf := make([]byte, 1024*1024)
	n, _ := input.Body.Read(buf)
	f.size = n
	return &s3.PutObjectOutput{}, nil
}

func TestRecordBuffersTicks(t *testing.T) {
	w := &ArchiveWriter{log: logger.GetLogger()}
	w.Record(models.Tick{Price: 50, Time: 100})
	w.Record(models.Tick{Price: 51, Time: 105})
	if len(w.buffer) != 2 {
		t.Fatalf("expected 2 buffered ticks, got %d", len(w.buffer))
	}
}

func TestFlushUploadsBatch(t *testing.T) {
	putter := &fakePutter{}
	w := &ArchiveWriter{
		config:   appconfig.S3Config{Bucket: "gascap-archive", Prefix: "ticks"},
		s3Client: putter,
		log:      logger.GetLogger(),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	defer w.cancel()

	w.Record(models.Tick{Price: 50, Time: 100})
	w.Record(models.Tick{Price: 51, Time: 105})
	w.flushBuffer("test")

	if len(putter.keys) != 1 {
		t.Fatalf("expected one upload, got %d", len(putter.keys))
	}
	if !strings.HasPrefix(putter.keys[0], "ticks/year=") {
		t.Fatalf("key should be time partitioned under the prefix: %s", putter.keys[0])
	}
	if !strings.HasSuffix(putter.keys[0], ".parquet") {
		t.Fatalf("key should name a parquet object: %s", putter.keys[0])
	}
	if putter.size == 0 {
		t.Fatalf("uploaded object should not be empty")
	}
	if len(w.buffer) != 0 {
		t.Fatalf("flush should drain the buffer")
	}
}

func TestFlushSkipsEmptyBuffer(t *testing.T) {
	putter := &fakePutter{}
	w := &ArchiveWriter{
		config:   appconfig.S3Config{Bucket: "gascap-archive"},
		s3Client: putter,
		log:      logger.GetLogger(),
	}
	w.flushBuffer("test")
	if len(putter.keys) != 0 {
		t.Fatalf("empty buffer should not upload")
	}
}

func TestBatchKeyPartitioning(t *testing.T) {
	w := &ArchiveWriter{config: appconfig.S3Config{Prefix: "ticks"}}
	ts := time.Date(2026, time.March, 7, 14, 0, 0, 0, time.UTC)
	key := w.batchKey(ts)
	for _, part := range []string{"ticks/", "year=2026", "month=03", "day=07", "hour=14"} {
		if !strings.Contains(key, part) {
			t.Fatalf("key %s missing partition %s", key, part)
		}
	}
}

func TestEncodeParquetRoundTrip(t *testing.T) {
	data, err := encodeParquet([]models.Tick{{Price: 50.5, Time: 100}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("encoded batch should not be empty")
	}
	// Parquet files start and end with the PAR1 magic.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output does not look like a parquet file")
	}
}
