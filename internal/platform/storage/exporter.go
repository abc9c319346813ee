package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/car-rental/populate/internal/services"
)

const reportContentType = "application/json"

type writerFactory func(ctx context.Context, bucket, object string) io.WriteCloser

// ReportExporter writes population reports as JSON objects to Cloud Storage.
type ReportExporter struct {
	bucket    string
	prefix    string
	newWriter writerFactory
	now       func() time.Time
}

// NewReportExporter constructs an exporter backed by the provided Cloud Storage client. Objects are
// created only when absent, so a report is never overwritten.
func NewReportExporter(client *gcs.Client, bucket, prefix string) (*ReportExporter, error) {
	if client == nil {
		return nil, errors.New("storage report exporter: client is required")
	}
	return newReportExporter(bucket, prefix, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = reportContentType
		return w
	})
}

func newReportExporter(bucket, prefix string, factory writerFactory) (*ReportExporter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage report exporter: bucket is required")
	}
	return &ReportExporter{
		bucket:    bucket,
		prefix:    prefix,
		newWriter: factory,
		now:       time.Now,
	}, nil
}

// ExportReport uploads the report and returns its gs:// URI.
func (e *ReportExporter) ExportReport(ctx context.Context, report services.PopulationReport) (string, error) {
	if e == nil || e.newWriter == nil {
		return "", errors.New("storage report exporter: not initialised")
	}

	at := report.FinishedAt
	if at.IsZero() {
		at = e.now()
	}
	object, err := BuildReportPath(ReportPathParams{
		Prefix:     e.prefix,
		DatabaseID: report.DatabaseID,
		RunID:      report.RunID,
		At:         at,
	})
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage report exporter: marshal report: %w", err)
	}

	w := e.newWriter(ctx, e.bucket, object)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage report exporter: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage report exporter: finalise %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", e.bucket, object), nil
}
