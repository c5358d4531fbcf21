package crontab

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MetricsSink records table reload observations.
// Methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TableReloaded(entries, rejected int)
}

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the crontab when the file changes and swaps the
// resulting table into the holder. The directory is watched rather than
// the file itself so editor rename-and-replace saves are picked up.
type Watcher struct {
	path    string
	parser  *Parser
	holder  *Holder
	metrics MetricsSink // optional, nil = disabled
}

// NewWatcher creates a watcher for the crontab at path.
func NewWatcher(path string, parser *Parser, holder *Holder) *Watcher {
	return &Watcher{path: path, parser: parser, holder: holder}
}

// WithMetrics attaches a metrics sink to the watcher.
func (w *Watcher) WithMetrics(sink MetricsSink) *Watcher {
	w.metrics = sink
	return w
}

// Run blocks until ctx is cancelled, reloading on file change events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	log.Printf("crontab: watching %s for changes", w.path)

	// Debounce timer, drained before reuse. Editors produce bursts of
	// events per save and partial writes must settle before re-parsing.
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			log.Println("crontab: watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
			}
			debounce.Reset(reloadDebounce)
			pending = true
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("crontab: watch error: %v", err)
		case <-debounce.C:
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	table, lineErrs, err := w.parser.ParseFile(w.path)
	if err != nil {
		// Keep the current table; a half-saved or briefly missing file
		// must not wipe the schedule.
		log.Printf("crontab: reload failed, keeping previous table: %v", err)
		return
	}

	for _, le := range lineErrs {
		log.Printf("crontab: %v", le)
	}

	w.holder.Swap(table)
	if w.metrics != nil {
		w.metrics.TableReloaded(table.Len(), len(lineErrs))
	}
	log.Printf("crontab: reloaded %s (entries=%d, rejected=%d)", w.path, table.Len(), len(lineErrs))
}
