package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// YTDLP is the Extractor backed by the yt-dlp binary.
type YTDLP struct {
	// AutoInstall fetches a yt-dlp binary on first use when none is found.
	AutoInstall bool

	once       sync.Once
	installErr error
}

func (y *YTDLP) ensureInstalled(ctx context.Context) error {
	if !y.AutoInstall {
		return nil
	}
	y.once.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			y.installErr = fmt.Errorf("yt-dlp install failed: %w", err)
			return
		}
		log.Printf("[Fetch] yt-dlp is ready")
	})
	return y.installErr
}

// Extract dumps the video's JSON metadata without downloading.
func (y *YTDLP) Extract(ctx context.Context, locator string) (Info, error) {
	if err := y.ensureInstalled(ctx); err != nil {
		return Info{}, err
	}

	res, err := ytdlp.New().
		NoPlaylist().
		SkipDownload().
		DumpJSON().
		Run(ctx, locator)
	if err != nil {
		return Info{}, err
	}
	return firstInfo(res)
}

// Download fetches the video and reports byte progress.
func (y *YTDLP) Download(ctx context.Context, locator, format, output string, progress func(done, total int64)) (Info, error) {
	if err := y.ensureInstalled(ctx); err != nil {
		return Info{}, err
	}

	dl := ytdlp.New().
		Format(format).
		Output(output).
		NoPlaylist().
		ForceOverwrites().
		PrintJSON().
		NoSimulate()

	if progress != nil {
		dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			progress(int64(update.DownloadedBytes), int64(update.TotalBytes))
		})
	}

	res, err := dl.Run(ctx, locator)
	if err != nil {
		return Info{}, err
	}
	return firstInfo(res)
}

func firstInfo(res *ytdlp.Result) (Info, error) {
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return Info{}, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	if len(infos) == 0 {
		return Info{}, errors.New("yt-dlp returned no video information")
	}

	ei := infos[0]
	return Info{
		Title:     deref(ei.Title),
		Uploader:  deref(ei.Uploader),
		Duration:  ei.Duration,
		Thumbnail: deref(ei.Thumbnail),
		Filename:  deref(ei.Filename),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
