package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/linemark/internal/annotation"
	"github.com/dshills/linemark/internal/blobstore"
	"github.com/dshills/linemark/internal/engine/linerange"
	"github.com/dshills/linemark/internal/engine/tracking"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tracker requests as JSON lines on stdin/stdout",
		Long: `Serve tracker requests as JSON lines on stdin/stdout.

The host editor writes one request object per line and reads one response
object per line. Records are kept in memory between requests and written
behind after a quiet period; pending writes are flushed on EOF or on
SIGINT/SIGTERM.

Requests:
  {"op":"edit","filePath":"a.go","changeStartLine":3,"changeEndLine":3,"insertedNewlineCount":2}
  {"op":"markRange","id":"...","startLine":10,"endLine":12}
  {"op":"markRead","filePath":"a.go","startLine":10,"endLine":12}
  {"op":"unmarkLine","id":"...","line":11}
  {"op":"unmarkRange","id":"...","startLine":10,"endLine":12}
  {"op":"isLineMarked","id":"...","line":11}
  {"op":"count","id":"...","since":"2026-01-02T15:04:05Z"}
  {"op":"create","kind":"note","filePath":"a.go","startLine":1,"endLine":1,"text":"..."}
  {"op":"delete","id":"..."}
  {"op":"records","filePath":"a.go"}
  {"op":"rename","filePath":"a.go","newPath":"b.go"}
  {"op":"evict","filePath":"a.go"}
  {"op":"flush"}

Responses:
  {"ok":true,"result":...}
  {"ok":false,"error":"..."}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if metricsAddr != "" {
					stop := serveMetrics(a, metricsAddr)
					defer stop()
				}
				if a.cfg.Store.Watch {
					watchStore(ctx, a)
				}
				return newServer(a).serve(ctx, cmd.InOrStdin())
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// request is one host message. Line fields follow the edit-event shape for
// edits (0-indexed) and are 1-indexed everywhere else.
type request struct {
	Op       string     `json:"op"`
	ID       string     `json:"id,omitempty"`
	FilePath string     `json:"filePath,omitempty"`
	NewPath  string     `json:"newPath,omitempty"`
	Kind     string     `json:"kind,omitempty"`
	Text     string     `json:"text,omitempty"`
	Color    string     `json:"color,omitempty"`
	Line     int        `json:"line,omitempty"`
	Start    int        `json:"startLine,omitempty"`
	End      int        `json:"endLine,omitempty"`
	MarkedAt *time.Time `json:"markedAt,omitempty"`
	Since    *time.Time `json:"since,omitempty"`

	ChangeStart int `json:"changeStartLine,omitempty"`
	ChangeEnd   int `json:"changeEndLine,omitempty"`
	Inserted    int `json:"insertedNewlineCount,omitempty"`
}

type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errUnknownOp = errors.New("unknown op")

type server struct {
	app     *app
	tracker *annotation.Tracker
	now     func() time.Time
}

func newServer(a *app) *server {
	return &server{app: a, tracker: a.tracker, now: time.Now}
}

// serve handles requests from r until EOF or ctx is done.
func (s *server) serve(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	enc := json.NewEncoder(s.app.out)
	for {
		select {
		case <-ctx.Done():
			s.app.logger.Info("shutting down", "reason", context.Cause(ctx))
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			if err := enc.Encode(s.handleLine(ctx, line)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

func (s *server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{Error: fmt.Sprintf("bad request: %v", err)}
	}
	result, err := s.handle(ctx, req)
	if err != nil {
		s.app.logger.Debug("request failed", "op", req.Op, "error", err)
		return response{Error: err.Error()}
	}
	return response{OK: true, Result: result}
}

func (s *server) handle(ctx context.Context, req request) (any, error) {
	at := s.now()
	if req.MarkedAt != nil {
		at = *req.MarkedAt
	}

	switch req.Op {
	case "edit":
		e := tracking.Edit{
			Path:          req.FilePath,
			StartLine:     req.ChangeStart,
			EndLine:       req.ChangeEnd,
			InsertedLines: req.Inserted,
		}
		return nil, s.tracker.OnEdit(ctx, e)

	case "markRange":
		if err := s.tracker.MarkRange(ctx, req.ID, req.Start, req.End, at); err != nil {
			return nil, err
		}
		return s.tracker.Get(ctx, req.ID)

	case "markRead":
		return s.tracker.MarkRead(ctx, req.FilePath, req.Start, req.End, at)

	case "unmarkLine":
		return s.tracker.UnmarkLine(ctx, req.ID, req.Line)

	case "unmarkRange":
		return s.tracker.UnmarkRange(ctx, req.ID, req.Start, req.End)

	case "isLineMarked":
		return s.tracker.IsLineMarked(ctx, req.ID, req.Line)

	case "count":
		if req.Since != nil {
			return s.tracker.MarkedLineCountSince(ctx, req.ID, *req.Since)
		}
		return s.tracker.UniqueMarkedLineCount(ctx, req.ID)

	case "create":
		kind, err := annotation.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		end := req.End
		if end == 0 {
			end = req.Start
		}
		return s.tracker.Create(ctx, kind, req.FilePath, []linerange.Range{linerange.New(req.Start, end)},
			annotation.WithText(req.Text), annotation.WithColor(req.Color))

	case "delete":
		return nil, s.tracker.Delete(ctx, req.ID)

	case "records":
		recs, err := s.tracker.Records(ctx, req.FilePath)
		if recs == nil && err == nil {
			recs = []annotation.Record{}
		}
		return recs, err

	case "rename":
		return nil, s.tracker.Rename(ctx, req.FilePath, req.NewPath)

	case "evict":
		return nil, s.tracker.Evict(ctx, req.FilePath)

	case "flush":
		return nil, s.tracker.Flush(ctx)

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownOp, req.Op)
	}
}

// watchStore evicts clean documents whenever another process rewrites the
// state file, so the next request reloads them.
func watchStore(ctx context.Context, a *app) {
	fs, ok := a.store.(*blobstore.FileStore)
	if !ok {
		a.logger.Warn("store.watch ignored: not a file store", "backend", a.cfg.Store.Backend)
		return
	}

	go func() {
		err := fs.Watch(ctx, func() {
			n, err := a.tracker.EvictClean(ctx)
			if err != nil {
				a.logger.Error("reload after external change failed", "error", err)
				return
			}
			a.logger.Info("state file changed externally", "evicted", n)
		})
		if err != nil {
			a.logger.Error("watch stopped", "error", err)
		}
	}()
}

func serveMetrics(a *app, addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
