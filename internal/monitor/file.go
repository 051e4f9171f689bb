package monitor

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileOptions configures the file integrity monitor.
type FileOptions struct {
	// Dirs are the directories to watch.
	Dirs []string

	// Interval between polling sweeps (also the fallback cadence when
	// fsnotify is unavailable). Defaults to 10s, minimum 1s.
	Interval time.Duration

	// MaxPerPoll bounds how many files one polling sweep examines so very
	// large trees cannot block the loop. Defaults to 5000.
	MaxPerPoll int

	Logger *log.Logger
}

type fileState struct {
	modTime time.Time
	size    int64
}

// FileMonitor watches a set of directories and emits a candidate per
// created, modified, or deleted file. It prefers push-based fsnotify events
// and falls back to polling stat diffs when a watch cannot be established.
type FileMonitor struct {
	opts FileOptions
	out  chan<- Candidate

	known map[string]fileState
}

// NewFileMonitor constructs a file monitor with sane defaults and clamps.
func NewFileMonitor(out chan<- Candidate, opts FileOptions) *FileMonitor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[file-monitor] ", log.LstdFlags)
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Second
	}
	if opts.MaxPerPoll <= 0 {
		opts.MaxPerPoll = 5000
	}
	return &FileMonitor{
		opts:  opts,
		out:   out,
		known: make(map[string]fileState),
	}
}

func (fm *FileMonitor) Name() string { return "file-monitor" }

// Run starts the monitor. The initial sweep establishes a baseline without
// emitting candidates so pre-existing files are not reported as new.
func (fm *FileMonitor) Run(ctx context.Context) error {
	fm.sweep(ctx, false)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fm.opts.Logger.Printf("fsnotify unavailable (%v), falling back to polling", err)
		return fm.pollLoop(ctx)
	}
	defer watcher.Close()

	watching := 0
	for _, dir := range fm.opts.Dirs {
		if err := watcher.Add(dir); err != nil {
			fm.opts.Logger.Printf("cannot watch %s: %v", dir, err)
			continue
		}
		watching++
	}
	if watching == 0 {
		fm.opts.Logger.Printf("no directories watchable, falling back to polling")
		return fm.pollLoop(ctx)
	}

	// The polling sweep still runs alongside fsnotify to cover
	// subdirectories and watches lost to directory removal.
	ticker := time.NewTicker(fm.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fm.pollLoop(ctx)
			}
			fm.handleEvent(ctx, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fm.pollLoop(ctx)
			}
			if err != nil {
				fm.opts.Logger.Printf("watch error: %v", err)
			}
		case <-ticker.C:
			fm.sweep(ctx, true)
		}
	}
}

func (fm *FileMonitor) handleEvent(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if st, err := os.Stat(ev.Name); err == nil && !st.IsDir() {
			fm.known[ev.Name] = fileState{modTime: st.ModTime(), size: st.Size()}
			fm.emitChange(ctx, ev.Name, ChangeCreated)
		}
	case ev.Op&fsnotify.Write != 0:
		if st, err := os.Stat(ev.Name); err == nil && !st.IsDir() {
			fm.known[ev.Name] = fileState{modTime: st.ModTime(), size: st.Size()}
			fm.emitChange(ctx, ev.Name, ChangeModified)
		}
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		if _, ok := fm.known[ev.Name]; ok {
			delete(fm.known, ev.Name)
			fm.emitChange(ctx, ev.Name, ChangeDeleted)
		}
	}
}

func (fm *FileMonitor) pollLoop(ctx context.Context) error {
	for {
		if err := sleep(ctx, fm.opts.Interval); err != nil {
			return err
		}
		fm.sweep(ctx, true)
	}
}

// sweep walks the watched directories, diffing against the known state.
// When report is false only the baseline is recorded. Work per sweep is
// bounded by MaxPerPoll; anything beyond the cap is picked up next cycle.
func (fm *FileMonitor) sweep(ctx context.Context, report bool) {
	seen := make(map[string]bool, len(fm.known))
	examined := 0

	for _, dir := range fm.opts.Dirs {
		if _, err := os.Stat(dir); err != nil {
			// Watched directories may disappear; warn and keep polling.
			fm.opts.Logger.Printf("watched directory unavailable: %s: %v", dir, err)
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				// Permission or race errors skip the entry, not the sweep.
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if examined >= fm.opts.MaxPerPoll {
				return filepath.SkipAll
			}
			examined++
			seen[path] = true

			info, err := d.Info()
			if err != nil {
				return nil
			}
			prev, ok := fm.known[path]
			cur := fileState{modTime: info.ModTime(), size: info.Size()}
			fm.known[path] = cur

			if !report {
				return nil
			}
			if !ok {
				fm.emitChange(ctx, path, ChangeCreated)
			} else if !prev.modTime.Equal(cur.modTime) || prev.size != cur.size {
				fm.emitChange(ctx, path, ChangeModified)
			}
			return nil
		})
		if err != nil && err != ctx.Err() {
			fm.opts.Logger.Printf("sweep error in %s: %v", dir, err)
		}
	}

	// Deletions only detectable when the sweep completed under the cap,
	// otherwise unvisited files would be misreported as deleted.
	if report && examined < fm.opts.MaxPerPoll {
		for path := range fm.known {
			if !seen[path] {
				delete(fm.known, path)
				fm.emitChange(ctx, path, ChangeDeleted)
			}
		}
	}
}

func (fm *FileMonitor) emitChange(ctx context.Context, path string, change Change) {
	emit(ctx, fm.out, Candidate{
		Kind:       KindFile,
		Component:  fm.Name(),
		Target:     path,
		Change:     change,
		ObservedAt: time.Now(),
	})
}
