package scheduler

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"audio-extractor/internal/status"
	"audio-extractor/internal/transcoder"
	"audio-extractor/pkg/models"
)

type fakeTool struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTool) EnsureAvailable(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type fakeGPU struct {
	available bool
	calls     atomic.Int32
}

func (f *fakeGPU) HasGpuAccel(context.Context) bool {
	f.calls.Add(1)
	return f.available
}

// fakeConverter writes the destination and removes the source, except for
// titles listed in fail. A title in explode panics instead.
type fakeConverter struct {
	fs      afero.Fs
	fail    map[string]bool
	explode map[string]bool

	mu      sync.Mutex
	seen    []string
	gpuSeen []bool
	running atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
}

func (f *fakeConverter) Convert(_ context.Context, item models.WorkItem, gpu bool) models.ConversionOutcome {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.seen = append(f.seen, item.SourcePath)
	f.gpuSeen = append(f.gpuSeen, gpu)
	f.mu.Unlock()

	if f.explode[item.DerivedTitle] {
		panic("decoder blew up")
	}
	if f.fail[item.DerivedTitle] {
		return models.Failed(item, "no output file produced: exit status 1")
	}
	_ = afero.WriteFile(f.fs, item.DestinationPath, []byte("ID3"), 0o644)
	_ = f.fs.Remove(item.SourcePath)
	return models.Succeeded(item)
}

func seed(t *testing.T, fsys afero.Fs, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := afero.WriteFile(fsys, dir+"/"+name, []byte("data"), 0o644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}
}

func collect(ch <-chan models.ConversionOutcome) []models.ConversionOutcome {
	var outcomes []models.ConversionOutcome
	for o := range ch {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func TestIsVideo(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"clip.mp4", true},
		{"CLIP.MP4", true},
		{"movie.MkV", true},
		{"old.avi", true},
		{"phone.mov", true},
		{"web.webm", true},
		{"notes.txt", false},
		{"song.mp3", false},
		{"mp4", false},
		{"archive.mp4.zip", false},
	}

	for _, tt := range tests {
		if got := IsVideo(tt.name); got != tt.expected {
			t.Errorf("IsVideo(%q) = %v, expected %v", tt.name, got, tt.expected)
		}
	}
}

func TestScan(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "b.mkv", "a.MP4", "notes.txt")
	if err := fsys.MkdirAll("/videos/nested.mp4", 0o755); err != nil {
		t.Fatal(err)
	}
	seed(t, fsys, "/videos/sub", "deep.mp4")

	items, err := Scan(fsys, "/videos", "/music")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for _, it := range items {
		got = append(got, it.SourcePath+"->"+it.DestinationPath)
	}
	expected := []string{"/videos/a.MP4->/music/a.mp3", "/videos/b.mkv->/music/b.mp3"}
	if !slices.Equal(got, expected) {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := Scan(afero.NewMemMapFs(), "/nope", "/nope")
	if err == nil || errors.Is(err, ErrNoEligibleFiles) {
		t.Fatalf("expected a listing error, got %v", err)
	}
}

func TestRunBatchNoEligibleFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "notes.txt", "cover.jpg")

	tool := &fakeTool{}
	gpu := &fakeGPU{}
	conv := &fakeConverter{fs: fsys}
	sink := status.NewSink()

	s := New(tool, gpu, conv, fsys, 4, sink)
	ch, err := s.RunBatch(context.Background(), "/videos", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcomes := collect(ch); len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
	lines := sink.Lines()
	if len(lines) != 1 || lines[0] != "Error: No video file found in /videos" {
		t.Errorf("expected a single no-file line, got %q", lines)
	}
	if gpu.calls.Load() != 0 {
		t.Error("GPU must not be probed for an empty batch")
	}
	if len(conv.seen) != 0 {
		t.Error("no conversion should run for an empty batch")
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "a.mp4", "b.mkv", "c.avi", "d.webm")

	conv := &fakeConverter{fs: fsys, fail: map[string]bool{"c": true}}
	sink := status.NewSink()
	s := New(&fakeTool{}, &fakeGPU{}, conv, fsys, 4, sink)

	ch, err := s.RunBatch(context.Background(), "/videos", "/videos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := collect(ch)

	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	var failed []string
	for _, o := range outcomes {
		if !o.IsSuccess() {
			failed = append(failed, o.Item.DerivedTitle)
		}
	}
	if !slices.Equal(failed, []string{"c"}) {
		t.Errorf("expected only c to fail, got %q", failed)
	}

	for _, name := range []string{"a.mp4", "b.mkv", "d.webm"} {
		if ok, _ := afero.Exists(fsys, "/videos/"+name); ok {
			t.Errorf("%s should have been deleted", name)
		}
	}
	if ok, _ := afero.Exists(fsys, "/videos/c.avi"); !ok {
		t.Error("c.avi must survive its failed conversion")
	}

	text := strings.Join(sink.Lines(), "\n")
	if !strings.Contains(text, "Error: Conversion failed for c: no output file produced") {
		t.Errorf("missing failure line in %q", text)
	}
	if strings.Count(text, "Conversion Successful and file deleted:") != 3 {
		t.Errorf("expected 3 success lines in %q", text)
	}
}

func TestRunBatchRecoversPanics(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "good.mp4", "bad.mp4")

	conv := &fakeConverter{fs: fsys, explode: map[string]bool{"bad": true}}
	s := New(&fakeTool{}, &fakeGPU{}, conv, fsys, 2, status.NewSink())

	ch, err := s.RunBatch(context.Background(), "/videos", "/videos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := map[string]models.ConversionOutcome{}
	for _, o := range collect(ch) {
		results[o.Item.DerivedTitle] = o
	}
	if !results["good"].IsSuccess() {
		t.Errorf("expected good to succeed, got %+v", results["good"])
	}
	bad := results["bad"]
	if bad.IsSuccess() || !strings.Contains(bad.Reason, "decoder blew up") {
		t.Errorf("expected bad to fail with the panic value, got %+v", bad)
	}
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "1.mp4", "2.mp4", "3.mp4", "4.mp4", "5.mp4", "6.mp4")

	conv := &fakeConverter{fs: fsys, delay: 20 * time.Millisecond}
	s := New(&fakeTool{}, &fakeGPU{}, conv, fsys, 2, status.NewSink())

	ch, err := s.RunBatch(context.Background(), "/videos", "/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(collect(ch)); n != 6 {
		t.Fatalf("expected 6 outcomes, got %d", n)
	}
	if peak := conv.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent conversions, saw %d", peak)
	}
}

func TestRunBatchProbesGPUOnce(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "a.mp4", "b.mp4", "c.mp4")

	gpu := &fakeGPU{available: true}
	conv := &fakeConverter{fs: fsys}
	s := New(&fakeTool{}, gpu, conv, fsys, 3, status.NewSink())

	b, err := s.Start(context.Background(), "/videos", "/videos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collect(b.Outcomes)

	if gpu.calls.Load() != 1 {
		t.Errorf("expected one GPU probe, got %d", gpu.calls.Load())
	}
	if !b.GPU {
		t.Error("batch should record the GPU profile")
	}
	for _, g := range conv.gpuSeen {
		if !g {
			t.Error("every item should use the GPU profile")
		}
	}
}

func TestRunBatchToolUnavailable(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "a.mp4")

	tool := &fakeTool{err: transcoder.ErrInstallFailed}
	gpu := &fakeGPU{}
	conv := &fakeConverter{fs: fsys}
	s := New(tool, gpu, conv, fsys, 1, status.NewSink())

	_, err := s.RunBatch(context.Background(), "/videos", "/videos")
	if !errors.Is(err, transcoder.ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if gpu.calls.Load() != 0 || len(conv.seen) != 0 {
		t.Error("nothing should run when the transcoder is unavailable")
	}
	if ok, _ := afero.Exists(fsys, "/videos/a.mp4"); !ok {
		t.Error("source must be untouched")
	}
}

func TestRunBatchDestinationCollision(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/videos", "talk.mp4", "talk.mkv")

	conv := &fakeConverter{fs: fsys}
	s := New(&fakeTool{}, &fakeGPU{}, conv, fsys, 2, status.NewSink())

	ch, err := s.RunBatch(context.Background(), "/videos", "/videos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := map[string]models.ConversionOutcome{}
	for _, o := range collect(ch) {
		results[o.Item.SourcePath] = o
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(results))
	}
	// talk.mkv sorts first and claims talk.mp3
	if !results["/videos/talk.mkv"].IsSuccess() {
		t.Errorf("expected talk.mkv to convert, got %+v", results["/videos/talk.mkv"])
	}
	loser := results["/videos/talk.mp4"]
	if loser.IsSuccess() || !strings.Contains(loser.Reason, "destination already claimed by /videos/talk.mkv") {
		t.Errorf("expected talk.mp4 to lose the claim, got %+v", loser)
	}
	if ok, _ := afero.Exists(fsys, "/videos/talk.mp4"); !ok {
		t.Error("losing source must be kept")
	}
}

// pipeRunner stands in for ffmpeg by writing the last argument.
type pipeRunner struct {
	fs afero.Fs
}

func (r pipeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	return nil, afero.WriteFile(r.fs, args[len(args)-1], []byte("ID3"), 0o644)
}

func TestRunBatchWithTranscodeWorker(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/work", "clip1.mp4", "notes.txt")

	sink := status.NewSink()
	worker := transcoder.NewWorker("ffmpeg", pipeRunner{fs: fsys}, fsys, 2, sink)
	s := New(&fakeTool{}, &fakeGPU{}, worker, fsys, 0, sink)

	ch, err := s.RunBatch(context.Background(), "/work", "/work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := collect(ch)

	if len(outcomes) != 1 || !outcomes[0].IsSuccess() {
		t.Fatalf("expected one success, got %+v", outcomes)
	}
	entries, _ := afero.ReadDir(fsys, "/work")
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if !slices.Equal(names, []string{"clip1.mp3", "notes.txt"}) {
		t.Errorf("expected clip1.mp3 and notes.txt, got %q", names)
	}

	expected := []string{
		"Converting /work/clip1.mp4 to MP3...",
		"Using CPU for conversion with optimized thread usage...",
		"Conversion Successful and file deleted: clip1",
	}
	if !slices.Equal(sink.Lines(), expected) {
		t.Errorf("expected %q, got %q", expected, sink.Lines())
	}
}

func TestNewDefaultsWorkers(t *testing.T) {
	s := New(&fakeTool{}, &fakeGPU{}, &fakeConverter{}, afero.NewMemMapFs(), 0, status.NewSink())
	if s.Workers() < 1 {
		t.Errorf("expected a positive pool size, got %d", s.Workers())
	}
}
