package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// JSONL line scanning buffers. Span batches with large attribute
	// maps can produce long lines.
	jsonlBufferInitial = 1 * 1024 * 1024
	jsonlBufferMax     = 10 * 1024 * 1024
)

// FileSource replays and tails span JSONL files from a directory,
// feeding each line's payload into the sink. Lines use the same shapes
// the stream channel delivers (single span, array, or envelope), so a
// captured stream can be replayed against the console verbatim.
type FileSource struct {
	directory string
	sink      SpanSink
	verbose   bool

	watcher *fsnotify.Watcher

	// Read positions per file, so watch events only consume new data.
	mu          sync.Mutex
	fileOffsets map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// FileConfig holds configuration for a FileSource.
type FileConfig struct {
	Directory string
	Verbose   bool
}

// NewFileSource creates a source reading .jsonl files from the given
// directory.
func NewFileSource(cfg FileConfig, sink SpanSink) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory is required")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FileSource{
		directory:   cfg.Directory,
		sink:        sink,
		verbose:     cfg.Verbose,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start loads existing files, then keeps tailing in the background.
func (fs *FileSource) Start(ctx context.Context) error {
	if err := fs.watcher.Add(fs.directory); err != nil {
		return fmt.Errorf("cannot watch %s: %w", fs.directory, err)
	}

	files, err := fs.findJSONLFiles()
	if err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}
	for _, file := range files {
		count, err := fs.readNewLines(file)
		if err != nil {
			log.Printf("⚠️  filesource: error loading %s: %v", file, err)
			continue
		}
		if fs.verbose && count > 0 {
			log.Printf("📁 filesource: loaded %d lines from %s", count, filepath.Base(file))
		}
	}

	fs.wg.Add(1)
	go fs.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the tail loop to finish.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Directory returns the watched directory.
func (fs *FileSource) Directory() string { return fs.directory }

// findJSONLFiles returns the directory's .jsonl files sorted by
// modification time so replay is chronological.
func (fs *FileSource) findJSONLFiles() ([]string, error) {
	entries, err := os.ReadDir(fs.directory)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(fs.directory, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.ctx.Done():
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := fs.readNewLines(event.Name); err != nil {
				log.Printf("⚠️  filesource: %s: %v", filepath.Base(event.Name), err)
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  filesource: watcher: %v", err)
		}
	}
}

// readNewLines consumes lines appended since the last read of a file,
// resuming from the recorded offset. Malformed lines are skipped.
func (fs *FileSource) readNewLines(path string) (int, error) {
	fs.mu.Lock()
	offset := fs.fileOffsets[path]
	fs.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, jsonlBufferInitial), jsonlBufferMax)

	count := 0
	read := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}

		spans, err := DecodeSpanPayload(line)
		if err != nil {
			if fs.verbose {
				log.Printf("⚠️  filesource: skipping line: %v", err)
			}
			continue
		}
		fs.sink.Ingest("file", spans)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}

	fs.mu.Lock()
	fs.fileOffsets[path] = read
	fs.mu.Unlock()
	return count, nil
}
