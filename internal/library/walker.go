package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileEntry is a media file found by the walker.
type fileEntry struct {
	Path  string
	Kind  Kind
	Size  int64
	MTime time.Time
}

// errorReporter receives filesystem errors met during traversal.
type errorReporter func(path string, err error)

// folderQueue hands library folders to walker goroutines. It is a stack, so
// an album's sub-folders are read before its siblings and the backlog stays
// proportional to the tree depth rather than its width.
//
// open counts folders that were added but not yet finished. The queue shuts
// itself when open drops to zero, which is how walkers learn the tree is
// exhausted.
type folderQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	folders []string
	open    int
	shut    bool
}

func newFolderQueue(roots ...string) *folderQueue {
	q := &folderQueue{}
	q.cond = sync.NewCond(&q.mu)
	q.add(roots...)
	return q
}

// add schedules folders for reading.
func (q *folderQueue) add(folders ...string) {
	if len(folders) == 0 {
		return
	}
	q.mu.Lock()
	q.folders = append(q.folders, folders...)
	q.open += len(folders)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// next blocks until a folder is available. It returns false once the queue
// is shut.
func (q *folderQueue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.folders) == 0 && !q.shut {
		q.cond.Wait()
	}
	if q.shut {
		return "", false
	}
	last := len(q.folders) - 1
	folder := q.folders[last]
	q.folders[last] = ""
	q.folders = q.folders[:last]
	return folder, true
}

// finish marks one folder as read. Sub-folders must be added first.
func (q *folderQueue) finish() {
	q.mu.Lock()
	q.open--
	done := q.open == 0
	q.mu.Unlock()
	if done {
		q.close()
	}
}

func (q *folderQueue) close() {
	q.mu.Lock()
	q.shut = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// walk reads roots with numWorkers goroutines and sends every image and
// video file to out, closing out when the tree is exhausted or ctx ends.
// Excluded paths are pruned together with their subtree.
func walk(ctx context.Context, roots []string, excludes map[string]struct{}, numWorkers int, out chan<- fileEntry, report errorReporter) {
	defer close(out)
	if len(roots) == 0 {
		return
	}
	numWorkers = max(numWorkers, 1)

	q := newFolderQueue(roots...)
	stop := context.AfterFunc(ctx, q.close)
	defer stop()

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				folder, ok := q.next()
				if !ok {
					return
				}
				sub := readFolder(ctx, folder, excludes, out, report)
				q.add(sub...)
				q.finish()
			}
		}()
	}
	wg.Wait()
}

// readFolder emits the media files directly inside folder and returns its
// sub-folders. Symlinks and special files are ignored.
func readFolder(ctx context.Context, folder string, excludes map[string]struct{}, out chan<- fileEntry, report errorReporter) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		report(folder, err)
		return nil
	}

	var sub []string
	for _, entry := range entries {
		path := filepath.Join(folder, entry.Name())
		if _, skip := excludes[path]; skip {
			continue
		}
		switch mode := entry.Type(); {
		case mode.IsDir():
			sub = append(sub, path)
			continue
		case mode&fs.ModeSymlink != 0, !mode.IsRegular():
			continue
		}

		kind := Detect(path)
		if kind == KindOther {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			report(path, err)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case out <- fileEntry{Path: path, Kind: kind, Size: info.Size(), MTime: info.ModTime()}:
		}
	}
	return sub
}
