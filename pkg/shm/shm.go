// Package shm manages the named, file-backed shared-memory regions varbus
// uses for inter-process data exchange: the per-client transport segment
// that carries the request header and work buffer, and the render buffer
// (VarFP) another process can map to read rendered output without a pipe.
//
// Regions live under a runtime directory (tmpfs when available) and are
// addressed by a process-id-qualified name, so collaborating processes
// can derive the path without a directory service. The creating process
// owns the backing file and unlinks it on Close; attaching processes only
// unmap.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Region name prefixes. The numeric suffix is always the owning client's
// process id.
const (
	segmentPrefix = "varbus-seg"
	renderPrefix  = "varbus-fp"
)

// SegmentName returns the transport segment name for a client pid.
func SegmentName(pid int) string {
	return fmt.Sprintf("%s.%d", segmentPrefix, pid)
}

// RenderName returns the shared render buffer (VarFP) name for a pid.
func RenderName(pid int) string {
	return fmt.Sprintf("%s.%d", renderPrefix, pid)
}

// DoorbellSocket returns the server's datagram doorbell path under dir.
// Clients ring it with their pid to signal a request waiting in their
// segment.
func DoorbellSocket(dir string) string {
	return filepath.Join(dir, "varbusd.sock")
}

// ClientSocket returns the per-client reply datagram path under dir. The
// server rings it when the response is ready in the segment.
func ClientSocket(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("varbus-client.%d.sock", pid))
}

// DefaultDir returns the runtime directory for regions: /dev/shm when
// present so regions never touch a disk, the system temp dir otherwise.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Region is one mapped shared-memory area.
type Region struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	owner  bool
	closed bool
}

// Create builds and maps a fresh region of exactly size bytes, replacing
// any stale file left by a previous incarnation of the same pid. The
// caller becomes the owner: its Close unlinks the backing file.
//
// Each step surfaces its own OS error: file creation, sizing, and the
// map itself (ENOMEM from mmap is the out-of-memory case).
func Create(dir, name string, size int) (*Region, error) {
	if name == "" || size <= 0 {
		return nil, fmt.Errorf("create region: bad name or size")
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create region file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("size region file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("map region: %w", err)
	}

	return &Region{path: path, file: f, data: data, owner: true}, nil
}

// Attach maps an existing region created by another process. The size is
// taken from the backing file.
func Attach(dir, name string) (*Region, error) {
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open region file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat region file: %w", err)
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("region %s is empty", name)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map region: %w", err)
	}

	return &Region{path: path, file: f, data: data}, nil
}

// Bytes returns the mapped area. The slice is invalid after Close.
func (r *Region) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Size returns the mapped length in bytes.
func (r *Region) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Sync flushes dirty pages to the backing file synchronously.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync region: %w", err)
	}
	return nil
}

// Detach unmaps the region and closes the backing file without
// unlinking it, leaving the content in place for other processes to
// attach later. The handle is spent afterwards; a later Close is a
// no-op, so an owner that detaches publishes the file for good.
func (r *Region) Detach() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var first error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			first = fmt.Errorf("unmap region: %w", err)
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && first == nil {
			first = fmt.Errorf("close region file: %w", err)
		}
		r.file = nil
	}
	return first
}

// Close unmaps the region, closes the backing file, and, for the owner,
// unlinks it. Idempotent: the first call zeroes the handle, later calls
// are no-ops.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var first error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil && first == nil {
			first = fmt.Errorf("unmap region: %w", err)
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && first == nil {
			first = fmt.Errorf("close region file: %w", err)
		}
		r.file = nil
	}
	if r.owner {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && first == nil {
			first = fmt.Errorf("unlink region file: %w", err)
		}
	}
	return first
}
