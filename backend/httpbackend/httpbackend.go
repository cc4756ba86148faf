// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package httpbackend implements a reference cache.Backend over plain HTTP
// ranged GETs, including Content-Range and multipart/byteranges response
// parsing. It is a reference/test backend: production object-store or
// registry clients are out of this module's scope, but a concrete HTTP
// implementation is needed to exercise the cache end-to-end.
package httpbackend

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/changweige/image-service/cache"
)

var contentRangeRegexp = regexp.MustCompile(`bytes ([0-9]+)-([0-9]+)/([0-9]+|\*)`)

// Resolver maps a blob-id to the URL serving its bytes and, optionally, a
// descriptor describing it (mirroring ocispec.Descriptor's role in
// meigma-blob's registry pull path).
type Resolver func(blobID string) (url string, desc ocispec.Descriptor, err error)

// Backend is a reference cache.Backend that fetches blob byte ranges over
// HTTP using the Range header, one GET per call; ReadChunks accepts the reply
// either as a single range or as multipart/byteranges. ReadChunks decodes
// each chunk via compressor before returning it, matching the
// cache.Backend contract that ReadChunks always hands back decompressed
// bytes; TryRead stays raw, since callers of TryRead (compressed-cache
// persist) want the as-stored bytes.
type Backend struct {
	client     *http.Client
	resolve    Resolver
	compressor cache.Compressor
}

// New returns an HTTP-backed cache.Backend. client defaults to
// http.DefaultClient if nil. compressor decodes each chunk's as-stored
// bytes for ReadChunks and must not be nil.
func New(resolve Resolver, client *http.Client, compressor cache.Compressor) *Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &Backend{client: client, resolve: resolve, compressor: compressor}
}

func (b *Backend) TryRead(blobID string, buf []byte, offset int64) (int, error) {
	url, _, err := b.resolve(blobID)
	if err != nil {
		return 0, errors.Wrap(cache.ErrBackendError, err.Error())
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(buf))-1))

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, cache.ErrNotFound
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, errors.Wrapf(cache.ErrBackendError, "unexpected status %d", resp.StatusCode)
	}

	return io.ReadFull(resp.Body, buf)
}

// ReadChunks fetches [offset, offset+size) of blobID in one ranged request
// (single-range, or multipart/byteranges if the server replies that way),
// splits the response into one as-stored slice per descriptor according to
// each descriptor's position within the fetched span, and decompresses each
// slice before returning it -- ReadChunks always hands back one decompressed
// buffer per descriptor, never the as-stored bytes.
func (b *Backend) ReadChunks(blobID string, offset int64, size int64, descriptors []cache.ChunkInfo) ([][]byte, error) {
	url, _, err := b.resolve(blobID)
	if err != nil {
		return nil, errors.Wrap(cache.ErrBackendError, err.Error())
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, cache.ErrNotFound
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(cache.ErrBackendError, "unexpected status %d", resp.StatusCode)
	}

	span, err := readSpan(resp, offset)
	if err != nil {
		return nil, errors.Wrap(cache.ErrBackendError, err.Error())
	}

	out := make([][]byte, len(descriptors))
	for i, d := range descriptors {
		start := d.CompressOffset() - offset
		n := int64(d.CompressSize())
		if start < 0 || start+n > int64(len(span)) {
			return nil, cache.ErrInvalidArgument
		}
		raw := span[start : start+n]

		if !d.IsCompressed() {
			buf := make([]byte, len(raw))
			copy(buf, raw)
			out[i] = buf
			continue
		}

		decoded := make([]byte, d.DecompressSize())
		var decodedN int
		var err error
		if b.compressor.Streaming() {
			decodedN, err = b.compressor.DecompressStream(bytes.NewReader(raw), decoded)
		} else {
			decodedN, err = b.compressor.Decompress(raw, decoded)
		}
		if err != nil {
			return nil, errors.Wrapf(cache.ErrBackendError, "decompress chunk %s: %s", d.ChunkDigest(), err)
		}
		out[i] = decoded[:decodedN]
	}
	return out, nil
}

// readSpan reads the full ranged response body, coalescing a
// multipart/byteranges response into one contiguous buffer covering the
// originally requested span (gaps, if any, are left zeroed). Content-Range
// offsets are absolute blob offsets; base, the requested span's start, is
// subtracted so the buffer is indexed from the start of the span.
func readSpan(resp *http.Response, base int64) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/byteranges" {
		return io.ReadAll(resp.Body)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	var full []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		m := contentRangeRegexp.FindStringSubmatch(part.Header.Get("Content-Range"))
		if m == nil {
			return nil, errors.New("missing or malformed Content-Range in multipart response")
		}
		begin, _ := strconv.ParseInt(m[1], 10, 64)
		end, _ := strconv.ParseInt(m[2], 10, 64)
		if begin < base || end < begin {
			return nil, errors.New("Content-Range outside the requested span in multipart response")
		}
		begin, end = begin-base, end-base
		if need := end + 1; int64(len(full)) < need {
			grown := make([]byte, need)
			copy(grown, full)
			full = grown
		}
		if _, err := io.ReadFull(part, full[begin:end+1]); err != nil {
			return nil, err
		}
	}
	return full, nil
}

func (b *Backend) BlobSize(blobID string) (int64, error) {
	url, desc, err := b.resolve(blobID)
	if err != nil {
		return 0, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	if desc.Size > 0 {
		return desc.Size, nil
	}

	resp, err := b.client.Head(url)
	if err != nil {
		return 0, errors.Wrap(cache.ErrBackendError, err.Error())
	}
	defer resp.Body.Close()
	return resp.ContentLength, nil
}

// PrefetchBlob issues a ranged GET for [offset, offset+size) and discards the
// body; its only purpose is to warm whatever cache (CDN, proxy) sits in
// front of this backend.
func (b *Backend) PrefetchBlob(blobID string, offset int64, size int64) error {
	if size <= 0 {
		return nil
	}
	url, _, err := b.resolve(blobID)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
