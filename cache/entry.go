// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

type status int32

const (
	statusNotReady status = iota
	statusReady
)

// entry is the per-chunk cache state record. Exactly one NotReady->Ready
// transition ever happens during its lifetime; the reverse never occurs.
// All mutation happens under mu, which callers acquire strictly after any
// cache-state lock (state.mu) is released -- never the other way around.
type entry struct {
	mu     sync.Mutex
	status status
	chunk  ChunkInfo
	file   *os.File // shared blob cache file; positional I/O only (ReadAt/WriteAt)
}

func newEntry(chunk ChunkInfo, file *os.File) *entry {
	return &entry{status: statusNotReady, chunk: chunk, file: file}
}

// isReady must be called with e.mu held.
func (e *entry) isReady() bool {
	return e.status == statusReady
}

// readPartial reads up to maxSize bytes at the given absolute file offset,
// scattering into bufs. Must be called with e.mu held.
func (e *entry) readPartial(bufs [][]byte, offset int64, maxSize int) (int, error) {
	return readv(e.file, bufs, offset, maxSize)
}

// cache persists buf at offset in the entry's blob file and marks the entry
// Ready. EINTR is retried internally and never surfaces; any other I/O error
// is returned wrapped with context and the entry is left NotReady so a future read will
// retry the whole recovery/backend path.
func (e *entry) cache(buf []byte, offset int64) error {
	for {
		_, err := e.file.WriteAt(buf, offset)
		if err == nil {
			break
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return errors.Wrap(err, "write chunk to cache file")
	}
	e.status = statusReady
	return nil
}

// streamReader returns an io.Reader positioned at offset within the entry's
// blob file, sized to n bytes, for handing to a streaming decompressor.
// io.SectionReader gives an independent read cursor over a shared *os.File
// without touching the file's (unused, since we only ever use ReadAt/WriteAt)
// offset.
func (e *entry) streamReader(offset int64, n int64) io.Reader {
	return io.NewSectionReader(e.file, offset, n)
}
