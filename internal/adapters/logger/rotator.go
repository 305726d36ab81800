package logger

import (
	"fmt"
	"os"
	"sync"
)

// Rotator is an io.Writer that appends to a file and rotates it once it would exceed MaxSize.
// Rotated files are kept as name.1 .. name.MaxBackups, newest first.
type Rotator struct {
	Filename   string
	MaxSize    int64 // Bytes
	MaxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotator opens (or creates) filename for appending.
func NewRotator(filename string, maxSize int64, maxBackups int) (*Rotator, error) {
	r := &Rotator{Filename: filename, MaxSize: maxSize, MaxBackups: maxBackups}
	if err := r.open(); err != nil {
		return nil, fmt.Errorf("open log file %s: %w", filename, err)
	}
	return r, nil
}

func (r *Rotator) open() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write appends p, rotating first when the file would grow past MaxSize.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.MaxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate shifts name.i to name.i+1, moves the live file to name.1 and reopens.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	if r.MaxBackups > 0 {
		for i := r.MaxBackups - 1; i >= 1; i-- {
			oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
			if _, err := os.Stat(oldPath); err == nil {
				os.Rename(oldPath, fmt.Sprintf("%s.%d", r.Filename, i+1))
			}
		}
		if err := os.Rename(r.Filename, r.Filename+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.Remove(r.Filename); err != nil && !os.IsNotExist(err) {
		return err
	}
	return r.open()
}

// Close closes the underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
