package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"audio-extractor/internal/status"
	"audio-extractor/pkg/models"
)

// VideoExtensions is the allow-list of source containers, compared
// case-insensitively.
var VideoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".webm"}

// ErrNoEligibleFiles means a directory held no file with an allowed
// extension. RunBatch reports it to the status log instead of returning it.
var ErrNoEligibleFiles = errors.New("no eligible video files")

// ToolChecker makes sure the transcoder can be executed.
type ToolChecker interface {
	EnsureAvailable(ctx context.Context) error
}

// GPUProber detects GPU acceleration.
type GPUProber interface {
	HasGpuAccel(ctx context.Context) bool
}

// Converter converts a single item.
type Converter interface {
	Convert(ctx context.Context, item models.WorkItem, gpuAvailable bool) models.ConversionOutcome
}

// Scheduler fans a directory of videos out to a bounded pool of conversions.
type Scheduler struct {
	tool     ToolChecker
	gpu      GPUProber
	worker   Converter
	fs       afero.Fs
	workers  int
	reporter status.Reporter
}

// Batch is a started conversion run. Outcomes is buffered for every item and
// closed once the last outcome has been delivered.
type Batch struct {
	Directory   string
	Destination string
	Items       []models.WorkItem
	GPU         bool
	Outcomes    <-chan models.ConversionOutcome
}

// New creates a scheduler. workers <= 0 sizes the pool to GOMAXPROCS.
func New(tool ToolChecker, gpu GPUProber, worker Converter, fsys afero.Fs, workers int, reporter status.Reporter) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		tool:     tool,
		gpu:      gpu,
		worker:   worker,
		fs:       fsys,
		workers:  workers,
		reporter: reporter,
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Scan lists dir once and returns a work item for every regular file whose
// extension is allowed, sorted by file name. Subdirectories are not entered.
// It returns ErrNoEligibleFiles when nothing qualifies.
func Scan(fsys afero.Fs, dir, destDir string) ([]models.WorkItem, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var items []models.WorkItem
	for _, fi := range entries {
		if !fi.Mode().IsRegular() || !IsVideo(fi.Name()) {
			continue
		}
		items = append(items, models.NewWorkItem(filepath.Join(dir, fi.Name()), destDir))
	}
	if len(items) == 0 {
		return nil, ErrNoEligibleFiles
	}

	slices.SortFunc(items, func(a, b models.WorkItem) int {
		return strings.Compare(a.SourcePath, b.SourcePath)
	})
	return items, nil
}

// IsVideo reports whether name carries an allowed extension.
func IsVideo(name string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(name)))
}

// RunBatch converts every eligible video in dir into destDir and returns the
// outcomes in completion order. The channel is closed after the last outcome.
func (s *Scheduler) RunBatch(ctx context.Context, dir, destDir string) (<-chan models.ConversionOutcome, error) {
	b, err := s.Start(ctx, dir, destDir)
	if err != nil {
		return nil, err
	}
	return b.Outcomes, nil
}

// Start is RunBatch with the batch plan exposed.
//
// The transcoder is checked once before the listing. An empty listing yields a
// single status line and a closed channel without running anything, the GPU
// probe included. Otherwise the GPU is probed once and the same profile is
// used for every item.
func (s *Scheduler) Start(ctx context.Context, dir, destDir string) (*Batch, error) {
	if destDir == "" {
		destDir = dir
	}

	if err := s.tool.EnsureAvailable(ctx); err != nil {
		return nil, fmt.Errorf("transcoder unavailable: %w", err)
	}

	items, err := Scan(s.fs, dir, destDir)
	if errors.Is(err, ErrNoEligibleFiles) {
		log.Printf("[Scheduler] %s: %v", dir, err)
		s.reporter.Appendf("Error: No video file found in %s", dir)
		out := make(chan models.ConversionOutcome)
		close(out)
		return &Batch{Directory: dir, Destination: destDir, Outcomes: out}, nil
	}
	if err != nil {
		s.reporter.Appendf("Error: %v", err)
		return nil, err
	}

	if err := s.fs.MkdirAll(destDir, 0o755); err != nil {
		s.reporter.Appendf("Error: cannot create %s: %v", destDir, err)
		return nil, fmt.Errorf("failed to create destination %s: %w", destDir, err)
	}

	gpu := s.gpu.HasGpuAccel(ctx)
	log.Printf("[Scheduler] Converting %d file(s) from %s with %d worker(s), gpu=%v", len(items), dir, s.workers, gpu)

	out := make(chan models.ConversionOutcome, len(items))
	convert, claimed := claimDestinations(items)

	// Later files mapping onto an already claimed destination fail right away
	// and keep their source.
	for _, item := range items {
		if owner := claimed[item.SourcePath]; owner != "" {
			out <- s.finish(models.Failed(item, "destination already claimed by "+owner))
		}
	}

	p := pool.New().WithMaxGoroutines(s.workers)
	for _, item := range convert {
		p.Go(func() {
			out <- s.finish(s.convertItem(ctx, item, gpu))
		})
	}

	go func() {
		p.Wait()
		close(out)
	}()

	return &Batch{
		Directory:   dir,
		Destination: destDir,
		Items:       items,
		GPU:         gpu,
		Outcomes:    out,
	}, nil
}

// convertItem isolates a panicking conversion to its own item.
func (s *Scheduler) convertItem(ctx context.Context, item models.WorkItem, gpu bool) models.ConversionOutcome {
	var outcome models.ConversionOutcome
	var pc panics.Catcher
	pc.Try(func() {
		outcome = s.worker.Convert(ctx, item, gpu)
	})
	if r := pc.Recovered(); r != nil {
		log.Printf("[Scheduler] Conversion of %s panicked: %s", item.SourcePath, r.String())
		return models.Failed(item, fmt.Sprintf("conversion panicked: %v", r.Value))
	}
	return outcome
}

// finish reports the terminal status line for o.
func (s *Scheduler) finish(o models.ConversionOutcome) models.ConversionOutcome {
	if o.IsSuccess() {
		s.reporter.Appendf("Conversion Successful and file deleted: %s", o.Item.DerivedTitle)
	} else {
		s.reporter.Appendf("Error: Conversion failed for %s: %s", o.Item.DerivedTitle, o.Reason)
	}
	return o
}

// claimDestinations gives each destination to the first item (in order) that
// maps onto it. It returns the items to convert and, for every loser, the
// source path of the winner.
func claimDestinations(items []models.WorkItem) ([]models.WorkItem, map[string]string) {
	owners := make(map[string]string, len(items))
	claimed := make(map[string]string)
	var convert []models.WorkItem

	for _, item := range items {
		key := filepath.Clean(item.DestinationPath)
		if owner, ok := owners[key]; ok {
			claimed[item.SourcePath] = owner
			continue
		}
		owners[key] = item.SourcePath
		convert = append(convert, item)
	}
	return convert, claimed
}
