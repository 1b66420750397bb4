package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"audio-extractor/internal/fetch"
	"audio-extractor/internal/pipeline"
	"audio-extractor/internal/status"
	"audio-extractor/pkg/models"
)

// Commands is the pipeline surface the server drives.
type Commands interface {
	Search(ctx context.Context, locator models.ResourceLocator) *pipeline.Task[models.MediaMetadata]
	Download(ctx context.Context, locator models.ResourceLocator, dir string) *pipeline.Task[string]
	ConvertBatch(ctx context.Context, dir, destDir string, onOutcome func(models.ConversionOutcome)) *pipeline.Task[models.BatchReport]
}

// StatusLog is the read side of the status log.
type StatusLog interface {
	Since(seq int) []status.Line
}

// Dirs are used when a request leaves a directory out.
type Dirs struct {
	Work     string
	Dest     string
	Download string
}

// CommandServer accepts commands over HTTP and runs them in the background.
// Progress is polled from GET /status.
type CommandServer struct {
	addr     string
	commands Commands
	log      StatusLog
	dirs     Dirs

	// base context for background work; request contexts end with the response
	ctx context.Context
}

func NewCommandServer(ctx context.Context, addr string, commands Commands, statusLog StatusLog, dirs Dirs) *CommandServer {
	return &CommandServer{
		addr:     addr,
		commands: commands,
		log:      statusLog,
		dirs:     dirs,
		ctx:      ctx,
	}
}

type searchRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL string `json:"url"`
	Dir string `json:"dir"`
}

type convertRequest struct {
	Dir     string `json:"dir"`
	DestDir string `json:"dest_dir"`
}

type acceptedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	Lines []status.Line `json:"lines"`
	Next  int           `json:"next"`
}

// Handler returns the routes of the server.
func (s *CommandServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/convert", s.handleConvert)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start serves until the server context is cancelled.
func (s *CommandServer) Start() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-s.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[Server] Listening for commands on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *CommandServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodePost(w, r, &req) {
		return
	}
	if _, err := fetch.ValidateLocator(req.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task := s.commands.Search(s.ctx, req.URL)
	log.Printf("[Server] Search %s queued as %s", req.URL, task.ID)
	accepted(w, task.ID)
}

func (s *CommandServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodePost(w, r, &req) {
		return
	}
	if _, err := fetch.ValidateLocator(req.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Dir == "" {
		req.Dir = s.dirs.Download
	}

	task := s.commands.Download(s.ctx, req.URL, req.Dir)
	log.Printf("[Server] Download %s queued as %s", req.URL, task.ID)
	accepted(w, task.ID)
}

func (s *CommandServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Dir == "" {
		req.Dir = s.dirs.Work
	}
	if req.DestDir == "" {
		req.DestDir = s.dirs.Dest
	}

	task := s.commands.ConvertBatch(s.ctx, req.Dir, req.DestDir, nil)
	log.Printf("[Server] Conversion of %s queued as %s", req.Dir, task.ID)
	accepted(w, task.ID)
}

func (s *CommandServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	lines := s.log.Since(since)
	next := since
	if len(lines) > 0 {
		next = lines[len(lines)-1].Seq + 1
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Lines: lines, Next: next})
}

// decodePost enforces POST and decodes the JSON body into v. It writes the
// error response and returns false when the request is unusable.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func accepted(w http.ResponseWriter, taskID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(acceptedResponse{TaskID: taskID, Status: "started"})
}
