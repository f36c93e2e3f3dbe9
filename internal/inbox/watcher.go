// Package inbox implements a hot-folder watcher: image files dropped into a
// directory are ingested into blob storage and run through the pipeline.
package inbox

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/dagaz/internal/checksum"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
)

// settleDelay is how long a file must stay quiet before ingestion. Copies
// into the inbox arrive as a Create followed by a burst of Writes, so the
// watcher waits for the burst to end instead of ingesting a half-written
// file.
const settleDelay = 500 * time.Millisecond

// imageExts lists the file extensions the watcher picks up.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Runner is the slice of the pipeline the watcher needs.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// Watcher ingests images from a hot folder on behalf of a fixed user.
type Watcher struct {
	dir      string
	userID   string
	timezone string
	blobs    storage.Provider
	runner   Runner
	logger   *slog.Logger
}

// New creates a Watcher for dir. Ingested runs are attributed to userID and
// normalized in timezone.
func New(dir, userID, timezone string, blobs storage.Provider, runner Runner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		userID:   userID,
		timezone: timezone,
		blobs:    blobs,
		runner:   runner,
		logger:   logger,
	}
}

// Watch processes file events until ctx is cancelled. Files already present
// in the inbox when the watcher starts are ingested first.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("inbox: started", slog.String("dir", w.dir))

	w.ingestExisting(ctx)

	// Per-path settle timers. Each Create/Write resets the file's timer;
	// expiry delivers the path on pending.
	timers := make(map[string]*time.Timer)
	pending := make(chan string, 64)

	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox: stopped")
			return nil

		case path := <-pending:
			delete(timers, path)
			w.ingest(ctx, path)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !imageExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			path := ev.Name
			if t, exists := timers[path]; exists {
				t.Reset(settleDelay)
			} else {
				timers[path] = time.AfterFunc(settleDelay, func() {
					select {
					case pending <- path:
					case <-ctx.Done():
					}
				})
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("inbox: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// ingestExisting picks up files left in the inbox from before this process
// started.
func (w *Watcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("inbox: scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// ingest moves one file into blob storage, runs the pipeline, and removes
// the inbox file on success. Failures leave the file in place so a restart
// retries it.
func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if len(data) == 0 {
		return
	}

	contentType := http.DetectContentType(data)
	key := "uploads/" + checksum.Sum(data) + strings.ToLower(filepath.Ext(path))
	if err := w.blobs.Put(key, data, contentType); err != nil {
		w.logger.Error("inbox: store failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	res, err := w.runner.Run(ctx, pipeline.Input{
		ImageKey: key,
		UserID:   w.userID,
		Timezone: w.timezone,
	})
	if err != nil {
		w.logger.Error("inbox: pipeline failed",
			slog.String("path", path),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Info("inbox: ingested",
		slog.String("path", path),
		slog.String("run_id", res.RunID),
		slog.String("title", res.Event.Title))

	if err := os.Remove(path); err != nil {
		w.logger.Warn("inbox: cleanup failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
