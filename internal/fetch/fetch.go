package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"audio-extractor/internal/status"
	"audio-extractor/pkg/models"
)

// Download settings: best video merged with best audio, falling back to the
// best single file, named after the video title.
const (
	DownloadFormat = "bestvideo+bestaudio/best"
	OutputTemplate = "%(title)s.%(ext)s"
)

// progressStep is the percentage granularity of download status lines.
const progressStep = 25

// ErrInvalidLocator is returned for a locator that is not an absolute
// http(s) URL.
var ErrInvalidLocator = errors.New("invalid resource locator")

// ExtractionError wraps a network or extraction failure reported by the
// extractor. The underlying message is kept verbatim.
type ExtractionError struct {
	Locator string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Locator, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Info is what the extractor reports about one video. Missing values are
// left zero.
type Info struct {
	Title     string
	Uploader  string
	Duration  *float64
	Thumbnail string
	Filename  string
}

// Extractor talks to the video host.
type Extractor interface {
	// Extract reads metadata without downloading.
	Extract(ctx context.Context, locator string) (Info, error)
	// Download fetches the video to output (a yt-dlp output template) and
	// calls progress with byte counts as they change.
	Download(ctx context.Context, locator, format, output string, progress func(done, total int64)) (Info, error)
}

// ToolChecker makes sure the transcoder can be executed; merged downloads
// need it to mux the audio and video streams.
type ToolChecker interface {
	EnsureAvailable(ctx context.Context) error
}

// Adapter probes and downloads remote videos.
type Adapter struct {
	extractor Extractor
	tool      ToolChecker
	reporter  status.Reporter
}

// New creates an Adapter.
func New(extractor Extractor, tool ToolChecker, reporter status.Reporter) *Adapter {
	return &Adapter{extractor: extractor, tool: tool, reporter: reporter}
}

// ValidateLocator trims locator and checks that it is an absolute http(s)
// URL with a host.
func ValidateLocator(locator models.ResourceLocator) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidLocator, locator)
	}
	return locator, nil
}

// Probe returns the metadata of the video at locator without downloading it.
func (a *Adapter) Probe(ctx context.Context, locator models.ResourceLocator) (models.MediaMetadata, error) {
	loc, err := ValidateLocator(locator)
	if err != nil {
		return models.MediaMetadata{}, err
	}

	info, err := a.extractor.Extract(ctx, loc)
	if err != nil {
		return models.MediaMetadata{}, &ExtractionError{Locator: loc, Err: err}
	}
	return metadataFrom(info), nil
}

// Download stores the video at locator in outputDir as <title>.<ext> and
// returns the path of the written file. The transcoder is checked first.
// There is a single attempt; a failed download is not retried.
func (a *Adapter) Download(ctx context.Context, locator models.ResourceLocator, outputDir string) (string, error) {
	loc, err := ValidateLocator(locator)
	if err != nil {
		return "", err
	}

	if err := a.tool.EnsureAvailable(ctx); err != nil {
		return "", fmt.Errorf("transcoder unavailable: %w", err)
	}

	a.reporter.Append("Downloading video...")
	log.Printf("[Fetch] Downloading %s into %s", loc, outputDir)

	steps := &progressSteps{next: progressStep, report: func(pct int) {
		a.reporter.Appendf("Download progress: %d%%", pct)
	}}

	info, err := a.extractor.Download(ctx, loc, DownloadFormat, filepath.Join(outputDir, OutputTemplate), steps.update)
	if err != nil {
		return "", &ExtractionError{Locator: loc, Err: err}
	}
	if info.Filename == "" {
		return "", &ExtractionError{Locator: loc, Err: errors.New("extractor did not report an output file")}
	}
	return info.Filename, nil
}

func metadataFrom(info Info) models.MediaMetadata {
	md := models.MediaMetadata{
		Title:        info.Title,
		Author:       info.Uploader,
		ThumbnailURL: info.Thumbnail,
	}
	if info.Duration != nil && *info.Duration >= 0 {
		secs := int(math.Round(*info.Duration))
		md.DurationSeconds = &secs
	}
	return md
}

// progressSteps turns byte counts into one report per crossed step.
type progressSteps struct {
	mu     sync.Mutex
	next   int
	report func(pct int)
}

func (p *progressSteps) update(done, total int64) {
	if total <= 0 {
		return
	}
	pct := int(done * 100 / total)

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.next <= 100 && pct >= p.next {
		p.report(p.next)
		p.next += progressStep
	}
}
