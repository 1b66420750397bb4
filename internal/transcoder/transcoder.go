package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"

	"github.com/spf13/afero"

	"audio-extractor/internal/status"
	"audio-extractor/pkg/models"
)

// Audio encoding settings. Both profiles encode with libmp3lame; the GPU
// profile only drops the thread bound.
const (
	AudioCodec   = "libmp3lame"
	AudioBitrate = "320k"
)

// Worker converts one video file into one MP3 file with the transcoder and
// removes the source once the MP3 is on disk.
type Worker struct {
	binary   string
	runner   Runner
	fs       afero.Fs
	threads  int
	reporter status.Reporter
}

// NewWorker creates a worker. threads is the CPU profile bound, normally
// EncoderThreads(LogicalCores()). fs must see the same files the transcoder
// writes; production code passes afero.NewOsFs().
func NewWorker(binary string, runner Runner, fsys afero.Fs, threads int, reporter status.Reporter) *Worker {
	if threads < 1 {
		threads = 1
	}
	return &Worker{
		binary:   binary,
		runner:   runner,
		fs:       fsys,
		threads:  threads,
		reporter: reporter,
	}
}

// Threads returns the CPU profile thread bound.
func (w *Worker) Threads() int {
	return w.threads
}

// Convert runs the transcoder for item and decides the outcome by looking for
// the destination file, not by the exit status. The source is deleted only
// when the destination exists; a source that is already gone is not an error.
func (w *Worker) Convert(ctx context.Context, item models.WorkItem, gpuAvailable bool) models.ConversionOutcome {
	w.reporter.Appendf("Converting %s to MP3...", item.SourcePath)
	if gpuAvailable {
		w.reporter.Append("Using GPU for conversion...")
	} else {
		w.reporter.Append("Using CPU for conversion with optimized thread usage...")
	}

	output, runErr := w.runner.Run(ctx, w.binary, BuildArgs(item, gpuAvailable, w.threads)...)

	exists, statErr := afero.Exists(w.fs, item.DestinationPath)
	if statErr != nil || !exists {
		perr := &ProcessError{Diagnostic: tail(output, diagnosticTailLines), Err: runErr}
		if statErr != nil {
			perr.Err = errors.Join(runErr, statErr)
		}
		return models.Failed(item, perr.Error())
	}

	if runErr != nil {
		log.Printf("[Transcoder] %s reported %v but %s exists; treating as converted", w.binary, runErr, item.DestinationPath)
	}

	if err := w.fs.Remove(item.SourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.Failed(item, fmt.Sprintf("audio written to %s but source could not be removed: %v", item.DestinationPath, err))
	}

	return models.Succeeded(item)
}

// BuildArgs constructs the transcoder argument list:
//
//	-i <src> -vn -c:a libmp3lame -b:a 320k [-threads N] -y <dst>
//
// The CPU profile adds -threads; the GPU profile leaves threading to ffmpeg.
func BuildArgs(item models.WorkItem, gpuAvailable bool, threads int) []string {
	args := []string{
		"-i", item.SourcePath,
		"-vn",
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
	}
	if !gpuAvailable {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	return append(args, "-y", item.DestinationPath)
}
