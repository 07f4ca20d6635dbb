package watch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skyquery/skyquery/internal/common"
)

// Watcher emits the path of each query workbook dropped into the watched
// directory. Bursts from editors that write-then-rename are coalesced by
// the debounce interval.
type Watcher struct {
	cfg    common.WatchConfig
	logger *slog.Logger
}

func NewWatcher(cfg common.WatchConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, logger: logger}
}

// Start watches the configured directory until ctx is cancelled. The
// returned channel closes on cancellation or on an unrecoverable watcher
// error.
func (w *Watcher) Start(ctx context.Context) (<-chan string, error) {
	if w.cfg.Dir == "" {
		return nil, errors.New("watch: no directory configured")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(w.cfg.Dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	out := make(chan string, 16)
	go w.loop(ctx, fsw, out)
	w.logger.Info("watch.start", "dir", w.cfg.Dir, "debounce", w.cfg.Debounce.String())
	return out, nil
}

// loop owns the pending set and the debounce timer; flushes only ever run
// here, driven by the timer's channel in the select.
func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, out chan<- string) {
	defer close(out)
	defer fsw.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	pending := map[string]struct{}{}

	flush := func() {
		for p := range pending {
			select {
			case out <- p:
			default:
				w.logger.Warn("watch.dropped", "path", p)
			}
			delete(pending, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isWorkbook(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounce := w.cfg.Debounce.Std()
			if debounce <= 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			flush()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch.error", "error", err)
		}
	}
}

// isWorkbook filters for Excel files, ignoring the ~$ lock files Excel
// leaves next to an open workbook.
func isWorkbook(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}
