// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simpleperf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/klauspost/compress/gzip"
)

// Longer lines are skipped and counted as anomalies.
const maxLineLength = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Parse reads a complete report-sample dump from r.
func Parse(logger log.Logger, r io.Reader) ([]Sample, Stats, error) {
	p := NewParser(logger)

	var (
		br      = bufio.NewReaderSize(r, 64*1024)
		line    []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Keep whatever was reconstructed so far, the caller decides.
			samples, stats := p.Finish()
			return samples, stats, fmt.Errorf("read sample dump: %w", err)
		}

		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineLength {
				tooLong = true
				line = line[:0]
			}
		}
		if isPrefix {
			continue
		}

		if tooLong {
			p.skipLine(fmt.Errorf("line exceeds %d bytes", maxLineLength))
			tooLong = false
			continue
		}
		p.Feed(string(line))
		line = line[:0]
	}

	samples, stats := p.Finish()
	return samples, stats, nil
}

// ParseFile parses the dump stored at path. Gzip compressed dumps are
// decompressed transparently.
func ParseFile(logger log.Logger, path string) ([]Sample, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open sample dump: %w", err)
	}
	defer f.Close()

	r, err := maybeDecompress(bufio.NewReader(f))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open sample dump %s: %w", path, err)
	}
	return Parse(logger, r)
}

func maybeDecompress(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(len(gzipMagic))
	if err != nil {
		// Shorter than the magic, cannot be compressed.
		return br, nil //nolint:nilerr
	}
	if !bytes.Equal(magic, gzipMagic) {
		return br, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return zr, nil
}
