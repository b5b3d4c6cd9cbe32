package funclog

import (
	"fmt"
	"os"
	"sync"
)

// rotatingFile is an append-only log file that rotates to "<path>.1",
// shifting older generations up to maxFiles, once it exceeds maxSize
// bytes. Rotation is serialized by mu so concurrent writers never
// interleave a write with a rename, and writes queue behind an in-flight
// rotation rather than being dropped.
type rotatingFile struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func newRotatingFile(path string, maxSize int64, maxFiles int) (*rotatingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingFile{path: path, maxSize: maxSize, maxFiles: maxFiles, f: f, size: info.Size()}, nil
}

// write appends line, rotating first if it would push the file past
// maxSize. Caller holds Stream.mu already; rotatingFile's own mutex guards
// against the rare case of multiple Streams sharing one file (they don't
// today, but the lock keeps the type safe to reuse).
func (rf *rotatingFile) write(line []byte) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.size+int64(len(line)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return err
		}
	}

	n, err := rf.f.Write(line)
	rf.size += int64(n)
	return err
}

func (rf *rotatingFile) rotate() error {
	if err := rf.f.Close(); err != nil {
		return err
	}

	oldest := fmt.Sprintf("%s.%d", rf.path, rf.maxFiles)
	os.Remove(oldest)

	for i := rf.maxFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", rf.path, i)
		dst := fmt.Sprintf("%s.%d", rf.path, i+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if err := os.Rename(rf.path, rf.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	rf.f = f
	rf.size = 0
	return nil
}
