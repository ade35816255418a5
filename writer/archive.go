// Package writer archives accepted ticks to S3 as parquet batches for
// offline analysis. The pipeline does not depend on it; a disabled or
// failing archive never affects the serving path.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "gascap/config"
	"gascap/internal/metrics"
	"gascap/internal/models"
	"gascap/logger"
)

// tickRecord is the parquet row layout for one archived tick.
type tickRecord struct {
	Price float64 `parquet:"name=price, type=DOUBLE"`
	Time  int64   `parquet:"name=time, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface over a byte buffer
// so batches can be encoded without touching the filesystem.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// objectPutter is the slice of the S3 client the writer needs.
type objectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type archiveWriter struct {
	config   appconfig.S3Config
	s3Client objectPutter
	log      *logger.Log

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	buffer      []models.Tick
	flushTicker *time.Ticker
}

// ArchiveWriter is an exported alias for archiveWriter allowing external
// packages to interact with the writer while keeping the implementation
// private.
type ArchiveWriter = archiveWriter

func newArchiveWriter(cfg appconfig.S3Config) (*archiveWriter, error) {
	log := logger.GetLogger()

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	w := &archiveWriter{
		config:   cfg,
		s3Client: s3.NewFromConfig(awsCfg),
		log:      log,
	}

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
		"prefix": cfg.Prefix,
	}).Info("archive writer initialized")

	return w, nil
}

// NewArchiveWriter constructs a new ArchiveWriter instance.
func NewArchiveWriter(cfg appconfig.S3Config) (*ArchiveWriter, error) {
	return newArchiveWriter(cfg)
}

func (w *archiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	interval := w.config.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)

	w.log.WithComponent("archive").WithFields(logger.Fields{
		"flush_interval": interval.String(),
	}).Info("starting archive writer")

	w.wg.Add(1)
	go w.flushWorker()
	return nil
}

func (w *archiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.flushTicker.Stop()
	w.cancel()
	w.wg.Wait()
	w.log.WithComponent("archive").Info("archive writer stopped")
}

// Record buffers one tick for the next flush.
func (w *archiveWriter) Record(tick models.Tick) {
	w.mu.Lock()
	w.buffer = append(w.buffer, tick)
	w.mu.Unlock()
}

func (w *archiveWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffer("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffer("interval")
		}
	}
}

func (w *archiveWriter) flushBuffer(reason string) {
	w.mu.Lock()
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	log := w.log.WithComponent("archive").WithFields(logger.Fields{
		"batch_size": len(batch),
		"reason":     reason,
	})
	log.Info("flushing tick batch")

	data, err := encodeParquet(batch)
	if err != nil {
		metrics.ArchiveUploads.WithLabelValues("encode_failure").Inc()
		log.WithError(err).Error("failed to encode parquet batch")
		return
	}

	key := w.batchKey(time.Now().UTC())
	if err := w.upload(key, data); err != nil {
		metrics.ArchiveUploads.WithLabelValues("upload_failure").Inc()
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Bucket, "s3_key": key}).
			Error("failed to upload batch to S3")
		return
	}

	metrics.ArchiveUploads.WithLabelValues("success").Inc()
	log.LogMetric("archive", "ticks_archived", len(batch), logger.Fields{})
	log.LogMetric("archive", "batch_bytes", len(data), logger.Fields{})
	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("batch archived")
}

// batchKey builds a time-partitioned object key for one batch.
func (w *archiveWriter) batchKey(ts time.Time) string {
	filename := fmt.Sprintf("ticks_%s_%s.parquet", ts.Format("20060102150405"), uuid.New().String())
	return path.Join(
		w.config.Prefix,
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		filename,
	)
}

func encodeParquet(ticks []models.Tick) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(tickRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, tick := range ticks {
		record := tickRecord{Price: tick.Price, Time: tick.Time}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *archiveWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
		},
	}

	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Bucket, err)
	}
	return nil
}
