package pipeline

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"audio-extractor/internal/heartbeat"
	"audio-extractor/internal/scheduler"
	"audio-extractor/internal/status"
	"audio-extractor/pkg/models"
)

// Fetcher probes and downloads remote videos.
type Fetcher interface {
	Probe(ctx context.Context, locator models.ResourceLocator) (models.MediaMetadata, error)
	Download(ctx context.Context, locator models.ResourceLocator, outputDir string) (string, error)
}

// BatchStarter starts a conversion batch.
type BatchStarter interface {
	Start(ctx context.Context, dir, destDir string) (*scheduler.Batch, error)
}

// ReportSender delivers a finished batch report.
type ReportSender interface {
	SendReport(ctx context.Context, report models.BatchReport) error
}

// Options tune a Service.
type Options struct {
	// HeartbeatSeconds is the keepalive interval during a batch; 0 disables it.
	HeartbeatSeconds int
	// Reports receives every non-empty batch report when set.
	Reports ReportSender
}

// Service is the command interface for presentation layers. Every command
// runs on the background pool and reports progress to the status log.
type Service struct {
	fetcher  Fetcher
	batches  BatchStarter
	bg       *Background
	reporter status.Reporter
	opts     Options
}

func NewService(fetcher Fetcher, batches BatchStarter, bg *Background, reporter status.Reporter, opts Options) *Service {
	return &Service{
		fetcher:  fetcher,
		batches:  batches,
		bg:       bg,
		reporter: reporter,
		opts:     opts,
	}
}

// Search probes locator without downloading.
func (s *Service) Search(ctx context.Context, locator models.ResourceLocator) *Task[models.MediaMetadata] {
	return Submit(s.bg, func() (models.MediaMetadata, error) {
		md, err := s.fetcher.Probe(ctx, locator)
		if err != nil {
			s.reporter.Appendf("Error: %v", err)
			return md, err
		}
		s.reporter.Append(FormatMetadata(md))
		return md, nil
	})
}

// Download stores the video at locator in dir and returns the file path.
func (s *Service) Download(ctx context.Context, locator models.ResourceLocator, dir string) *Task[string] {
	return Submit(s.bg, func() (string, error) {
		path, err := s.fetcher.Download(ctx, locator, dir)
		if err != nil {
			s.reporter.Appendf("Error: %v", err)
			return "", err
		}
		s.reporter.Appendf("Download Successful! %s", path)
		return path, nil
	})
}

// ConvertBatch converts every video in dir into destDir. onOutcome, when not
// nil, sees each outcome as it completes. Item failures are part of the
// report; the task only fails when the batch could not start.
func (s *Service) ConvertBatch(ctx context.Context, dir, destDir string, onOutcome func(models.ConversionOutcome)) *Task[models.BatchReport] {
	if destDir == "" {
		destDir = dir
	}

	return Submit(s.bg, func() (models.BatchReport, error) {
		report := models.BatchReport{
			BatchID:     newTaskID(),
			Directory:   dir,
			Destination: destDir,
			Outcomes:    []models.ConversionOutcome{},
			StartedAt:   time.Now(),
		}

		b, err := s.batches.Start(ctx, dir, destDir)
		if err != nil {
			return report, fmt.Errorf("batch %s: %w", report.BatchID, err)
		}
		report.GPUProfile = b.GPU

		total := len(b.Items)
		var done atomic.Int64
		hb := heartbeat.New(s.opts.HeartbeatSeconds, s.reporter, func() (int, int) {
			return int(done.Load()), total
		})
		stop := hb.Start(ctx)

		for o := range b.Outcomes {
			report.Add(o)
			done.Add(1)
			if onOutcome != nil {
				onOutcome(o)
			}
		}
		stop()
		report.FinishedAt = time.Now()

		if total == 0 {
			return report, nil
		}

		log.Printf("[Pipeline] Batch %s finished in %s: %d converted, %d failed",
			report.BatchID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.Succeeded, report.Failed)
		s.reporter.Appendf("Batch finished: %d converted, %d failed", report.Succeeded, report.Failed)

		if s.opts.Reports != nil {
			if err := s.opts.Reports.SendReport(ctx, report); err != nil {
				log.Printf("[Pipeline] %v", err)
				s.reporter.Appendf("Error: %v", err)
			}
		}
		return report, nil
	})
}

// FormatMetadata renders a successful search as one status entry.
func FormatMetadata(md models.MediaMetadata) string {
	length := "unknown"
	if md.DurationSeconds != nil {
		length = strconv.Itoa(*md.DurationSeconds) + " seconds"
	}

	var b strings.Builder
	b.WriteString("Search Successful!")
	b.WriteString("\nTitle: " + orUnknown(md.Title))
	b.WriteString("\nAuthor: " + orUnknown(md.Author))
	b.WriteString("\nLength: " + length)
	b.WriteString("\nThumbnail URL: " + orUnknown(md.ThumbnailURL))
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
