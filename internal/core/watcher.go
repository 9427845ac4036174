package core

// watcher.go imports files dropped into a folder.
//
// Layout, one subdirectory per ingestible entity type:
//
//	<dir>/revenue/janeiro.csv           waiting
//	<dir>/revenue/Imported/janeiro.csv  committed
//	<dir>/revenue/Rejected/janeiro.csv  validation failed
//	<dir>/revenue/Rejected/janeiro.csv.errors.txt
//
// A file is imported once it has not changed for the settle delay. Files that
// fail for a transient reason stay in place and are retried on the next start.
// A committed file gets a <name>.imported sidecar holding its batch key until
// it is moved, so a file the move left behind is never imported twice.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	importedDir    = "Imported"
	rejectedDir    = "Rejected"
	importedSuffix = ".imported"

	// DropFolderActor is recorded as the actor of drop-folder imports.
	DropFolderActor = "drop-folder"
)

// DropFolder watches a directory tree and imports new *.csv files.
type DropFolder struct {
	svc    *Service
	dir    string
	settle time.Duration
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewDropFolder creates a watcher rooted at dir.
func NewDropFolder(svc *Service, dir string, settle time.Duration, log *slog.Logger) *DropFolder {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &DropFolder{
		svc:     svc,
		dir:     dir,
		settle:  settle,
		log:     log.With("component", "drop_folder"),
		pending: make(map[string]*time.Timer),
	}
}

// Run imports files already waiting, then watches for new ones until ctx is
// cancelled.
func (d *DropFolder) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, entityType := range Ingestible() {
		sub := filepath.Join(d.dir, entityType)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
		if err := watcher.Add(sub); err != nil {
			return fmt.Errorf("watch %s: %w", sub, err)
		}
	}
	d.log.Info("drop folder watching", "dir", d.dir, "entity_types", Ingestible())

	d.ScanExisting(ctx)

	ready := make(chan string)
	for {
		select {
		case <-ctx.Done():
			d.stopTimers()
			d.log.Info("drop folder stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				d.schedule(ctx, ev.Name, ready)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("watch error", "error", err)

		case path := <-ready:
			d.processPath(ctx, path)
		}
	}
}

// ScanExisting imports every waiting file once.
func (d *DropFolder) ScanExisting(ctx context.Context) {
	for _, entityType := range Ingestible() {
		entries, err := os.ReadDir(filepath.Join(d.dir, entityType))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			if !entry.IsDir() && isCSV(entry.Name()) {
				d.processPath(ctx, filepath.Join(d.dir, entityType, entry.Name()))
			}
		}
	}
}

// schedule (re)starts the settle timer of path.
func (d *DropFolder) schedule(ctx context.Context, path string, ready chan<- string) {
	if !isCSV(path) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[path]; ok {
		t.Stop()
	}
	d.pending[path] = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (d *DropFolder) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
}

// processPath derives the entity type from the parent directory.
func (d *DropFolder) processPath(ctx context.Context, path string) {
	entityType := filepath.Base(filepath.Dir(path))
	if err := d.ProcessFile(ctx, entityType, path); err != nil {
		d.log.Warn("drop folder file left in place", "path", path, "error", err)
	}
}

// ProcessFile imports one file and moves it to Imported or Rejected. A
// transient failure leaves the file where it is and is returned.
func (d *DropFolder) ProcessFile(ctx context.Context, entityType, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if key, ok := importedBatch(path, digest); ok {
		dest, err := d.finishImported(path)
		if err != nil {
			return err
		}
		d.log.Info("drop folder file already imported", "batch_key", key, "moved_to", dest)
		return nil
	}

	name := filepath.Base(path)
	ctx = WithOrigin(ctx, Origin{Actor: DropFolderActor, Address: "file://" + filepath.ToSlash(path)})

	result, err := d.svc.Import(ctx, entityType, name, data)
	switch {
	case err == nil:
		if werr := os.WriteFile(path+importedSuffix, []byte(result.BatchKey+" "+digest+"\n"), 0o644); werr != nil {
			d.log.Warn("drop folder sidecar not written", "path", path, "error", werr)
		}
		dest, moveErr := d.finishImported(path)
		if moveErr != nil {
			return fmt.Errorf("batch %s committed: %w", result.BatchKey, moveErr)
		}
		d.log.Info("drop folder file imported", "batch_key", result.BatchKey, "rows", result.RowCount, "moved_to", dest)
		return nil

	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrFileTooLarge):
		dest, moveErr := moveInto(path, rejectedDir)
		if moveErr != nil {
			return moveErr
		}
		report := FormatUserError(err) + "\n\n" + rejectionReport(err)
		if werr := os.WriteFile(dest+".errors.txt", []byte(report), 0o644); werr != nil {
			return fmt.Errorf("write rejection report: %w", werr)
		}
		d.log.Info("drop folder file rejected", "moved_to", dest, "error", err)
		return nil

	default:
		return err
	}
}

// importedBatch reads the sidecar of path and returns its batch key when it
// was written for the same content.
func importedBatch(path, digest string) (string, bool) {
	raw, err := os.ReadFile(path + importedSuffix)
	if err != nil {
		return "", false
	}
	key, sum, ok := strings.Cut(strings.TrimSpace(string(raw)), " ")
	if !ok || sum != digest {
		return "", false
	}
	return key, true
}

// finishImported moves a committed file to Imported and drops its sidecar.
func (d *DropFolder) finishImported(path string) (string, error) {
	dest, err := moveInto(path, importedDir)
	if err != nil {
		return "", err
	}
	if err := os.Remove(path + importedSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.log.Warn("drop folder sidecar not removed", "path", path, "error", err)
	}
	return dest, nil
}

// rejectionReport lists every row error, one per line.
func rejectionReport(err error) string {
	var vf *ValidationFailedError
	if !errors.As(err, &vf) {
		return err.Error() + "\n"
	}
	var b strings.Builder
	for _, re := range vf.Errors {
		b.WriteString(re.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// moveInto moves path into the named sibling directory, keeping earlier
// files of the same name.
func moveInto(path, sub string) (string, error) {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, time.Now().UTC().Format("20060102T150405")+"_"+filepath.Base(path))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move to %s: %w", sub, err)
	}
	return dest, nil
}

func isCSV(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}
