package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"audio-extractor/internal/client"
	"audio-extractor/internal/config"
	"audio-extractor/internal/fetch"
	"audio-extractor/internal/monitor"
	"audio-extractor/internal/pipeline"
	"audio-extractor/internal/scheduler"
	"audio-extractor/internal/server"
	"audio-extractor/internal/status"
	"audio-extractor/internal/transcoder"
)

const usage = `Usage: extractor [flags] <command> [args]

Commands:
  search <url>     show title, author, length and thumbnail of a video
  download <url>   download a video into the download directory
  convert          convert every video in --dir to MP3 in --dest
  doctor           show ffmpeg, GPU and host details
  serve            accept commands over HTTP

Flags:
`

// app wires the pipeline for one invocation.
type app struct {
	cfg     *config.Config
	sink    *status.Sink
	tool    *transcoder.Tool
	gpu     *transcoder.GPUProbe
	service *pipeline.Service
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("extractor", pflag.ContinueOnError)
	configPath := flags.String("config", "config.yml", "path to the YAML config file")
	flags.String("dir", "", "directory scanned for videos (default: current directory)")
	flags.String("dest", "", "directory MP3 files are written to (default: --dir)")
	flags.Int("workers", 0, "parallel conversions (default: GOMAXPROCS)")
	flags.String("listen", "", "listen address for serve (default :8080)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	// 1. Load Configuration
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	// 2. Setup Context for Graceful Shutdown
	// We catch SIGINT (Ctrl+C) and SIGTERM (OS shutdown).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)

	switch cmd := flags.Arg(0); cmd {
	case "search":
		return a.search(ctx, flags.Arg(1))
	case "download":
		return a.download(ctx, flags.Arg(1))
	case "convert":
		return a.convert(ctx)
	case "doctor":
		return a.doctor(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flags.Usage()
		return 2
	}
}

func newApp(cfg *config.Config) *app {
	sink := status.NewSink()
	sink.Subscribe(func(l status.Line) {
		fmt.Println(l.Text)
	})

	runner := transcoder.ExecRunner{Debug: cfg.Debug()}
	tool := transcoder.NewTool(cfg.FFmpegPath, cfg.InstallCommand, runner, sink)
	gpu := transcoder.NewGPUProbe(cfg.GPUProbeCommand, runner)

	osFs := afero.NewOsFs()
	worker := transcoder.NewWorker(tool.Binary(), runner, osFs, transcoder.EncoderThreads(transcoder.LogicalCores()), sink)
	sched := scheduler.New(tool, gpu, worker, osFs, cfg.MaxWorkers, sink)
	adapter := fetch.New(&fetch.YTDLP{AutoInstall: cfg.AutoInstallYTDLP}, tool, sink)

	opts := pipeline.Options{HeartbeatSeconds: cfg.HeartbeatSec}
	if cfg.WebhookURL != "" {
		opts.Reports = client.NewReportClient(cfg.WebhookURL)
	}

	return &app{
		cfg:     cfg,
		sink:    sink,
		tool:    tool,
		gpu:     gpu,
		service: pipeline.NewService(adapter, sched, pipeline.NewBackground(cfg.BackgroundWorkers), sink, opts),
	}
}

func (a *app) search(ctx context.Context, url string) int {
	if _, err := a.service.Search(ctx, url).Wait(); err != nil {
		return 1
	}
	return 0
}

func (a *app) download(ctx context.Context, url string) int {
	if _, err := a.service.Download(ctx, url, a.cfg.DownloadDir).Wait(); err != nil {
		return 1
	}
	return 0
}

func (a *app) convert(ctx context.Context) int {
	report, err := a.service.ConvertBatch(ctx, a.cfg.WorkDir, a.cfg.DestDir, nil).Wait()
	if err != nil {
		log.Printf("Conversion failed: %v", err)
		return 1
	}
	if report.Failed > 0 {
		return 1
	}
	return 0
}

func (a *app) doctor(ctx context.Context) int {
	report, err := monitor.NewSystemMonitor(a.tool, a.gpu).Report(ctx)
	if err != nil {
		log.Printf("Failed to read system stats: %v", err)
	}

	ffmpeg := "not found"
	if report.ToolAvailable {
		ffmpeg = report.FFmpegPath
	}
	profile := "CPU (libmp3lame, bounded threads)"
	if report.GPUAvailable {
		profile = "GPU (libmp3lame, unbounded threads)"
	}

	fmt.Printf("ffmpeg:          %s\n", ffmpeg)
	fmt.Printf("gpu:             %v\n", report.GPUAvailable)
	fmt.Printf("profile:         %s\n", profile)
	fmt.Printf("cpu:             %s\n", report.CPUModel)
	fmt.Printf("logical cores:   %d\n", report.LogicalCores)
	fmt.Printf("encoder threads: %d\n", report.EncoderThreads)
	fmt.Printf("ram available:   %.1f GiB (%.0f%% used)\n", float64(report.RAMFreeBytes)/(1<<30), report.RAMUsedPercent)
	fmt.Printf("cpu load:        %.0f%%\n", report.CPUUsagePercent)

	if !report.ToolAvailable || err != nil {
		return 1
	}
	return 0
}

func (a *app) serve(ctx context.Context) int {
	dirs := server.Dirs{Work: a.cfg.WorkDir, Dest: a.cfg.DestDir, Download: a.cfg.DownloadDir}
	srv := server.NewCommandServer(ctx, a.cfg.ListenAddr, a.service, a.sink, dirs)
	if err := srv.Start(); err != nil {
		log.Printf("Server failed: %v", err)
		return 1
	}
	log.Println("Shutting down extractor...")
	return 0
}
