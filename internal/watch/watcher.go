// Package watch resyncs the local report tree when its files change.
package watch

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/pipeline"
)

// Syncer runs the sync pipeline.
type Syncer interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Watcher monitors a directory tree and runs a local sync once changes
// have settled for the debounce interval.
type Watcher struct {
	dir      string
	syncer   Syncer
	debounce time.Duration
}

// New creates a Watcher. A debounce of zero uses two seconds.
func New(dir string, syncer Syncer, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{dir: dir, syncer: syncer, debounce: debounce}
}

// Start watches every directory under dir and returns once the watches
// are in place. Events are handled in the background until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fw, w.dir); err != nil {
		fw.Close()
		return err
	}
	log.Printf("watching %s", w.dir)

	go func() {
		defer fw.Close()
		w.loop(ctx, fw)
	}()
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if ignored(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := addTree(fw, evt.Name); err != nil {
						log.Printf("watcher error: %v", err)
					}
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		case <-timer.C:
			if w.sync(ctx) {
				timer.Reset(w.debounce)
			}
		}
	}
}

// sync runs one local sync. It reports true when another sync was
// already running and this one should be retried.
func (w *Watcher) sync(ctx context.Context) (retry bool) {
	res, err := w.syncer.Run(ctx, pipeline.Options{Trigger: "watch", SkipRefresh: true})
	switch {
	case apperr.Is(err, apperr.KindConflict):
		log.Printf("sync already running, retrying in %s", w.debounce)
		return true
	case err != nil:
		log.Printf("watch sync failed: %v", err)
	default:
		log.Printf("watch sync %s: %d records, %d languages", res.RunID, res.Records, len(res.Languages))
	}
	return false
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && ignored(p) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// ignored skips hidden entries such as .git and editor temp files.
func ignored(p string) bool {
	base := filepath.Base(p)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}
