// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import "io"

// readv performs a positional read of up to maxSize bytes from r at offset,
// scattering the result across bufs in order. io.ReaderAt already gives
// positional, offset-explicit reads without disturbing any shared file
// cursor, so no raw preadv call is needed.
func readv(r io.ReaderAt, bufs [][]byte, offset int64, maxSize int) (int, error) {
	var total int
	for _, b := range bufs {
		if maxSize <= 0 {
			break
		}
		n := len(b)
		if n > maxSize {
			n = maxSize
		}
		if n == 0 {
			continue
		}
		read, err := r.ReadAt(b[:n], offset+int64(total))
		total += read
		maxSize -= read
		if err != nil {
			if err == io.EOF && read == n {
				continue
			}
			return total, err
		}
		if read < n {
			return total, io.ErrShortBuffer
		}
	}
	return total, nil
}

// copyv gather-copies up to size bytes from src, starting at src[offset:],
// into bufs in order.
func copyv(src []byte, bufs [][]byte, offset int64, size int) (int, error) {
	if offset < 0 || offset > int64(len(src)) {
		return 0, ErrInvalidArgument
	}
	src = src[offset:]
	if size > len(src) {
		size = len(src)
	}
	var total int
	for _, b := range bufs {
		if size <= 0 {
			break
		}
		n := copy(b, src[:minInt(size, len(src))])
		total += n
		src = src[n:]
		size -= n
	}
	return total, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
