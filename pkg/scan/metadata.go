// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zlib"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/metacatalog/pkg/catalog"
)

// MetadataReader extracts the tags of one artifact. ok is false when the
// artifact could not be read; such artifacts are skipped.
type MetadataReader interface {
	ReadMetadata(path string) (tags catalog.Tags, ok bool)
}

// MetadataReaderFunc adapts a function to MetadataReader.
type MetadataReaderFunc func(path string) (catalog.Tags, bool)

// ReadMetadata calls f.
func (f MetadataReaderFunc) ReadMetadata(path string) (catalog.Tags, bool) {
	return f(path)
}

// Chain asks each reader in turn and returns the first successful answer.
type Chain []MetadataReader

// ReadMetadata implements MetadataReader.
func (c Chain) ReadMetadata(path string) (catalog.Tags, bool) {
	for _, r := range c {
		if tags, ok := r.ReadMetadata(path); ok {
			return tags, true
		}
	}

	return nil, false
}

// DefaultSidecarSuffix is appended to an artifact path to find its tag file.
const DefaultSidecarSuffix = ".tags.yaml"

// SidecarReader reads tags from a YAML mapping stored next to the artifact,
// e.g. plot.png.tags.yaml for plot.png.
type SidecarReader struct {
	Suffix string
}

// ReadMetadata implements MetadataReader.
func (r SidecarReader) ReadMetadata(path string) (catalog.Tags, bool) {
	suffix := r.Suffix
	if suffix == "" {
		suffix = DefaultSidecarSuffix
	}

	data, err := os.ReadFile(path + suffix)
	if err != nil {
		return nil, false
	}

	var tags catalog.Tags
	if err := yaml.Unmarshal(data, &tags); err != nil {
		return nil, false
	}
	if tags == nil {
		tags = catalog.Tags{}
	}

	return tags, true
}

// PNGReader reads tags from the textual chunks (tEXt, zTXt, iTXt) of a PNG
// file, one tag per keyword.
type PNGReader struct{}

// ReadMetadata implements MetadataReader.
func (PNGReader) ReadMetadata(path string) (catalog.Tags, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()

	tags, err := ReadPNGText(bufio.NewReader(f))
	if err != nil {
		return nil, false
	}

	return tags, true
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// maxChunkLength bounds the size of a textual chunk held in memory.
const maxChunkLength = 16 << 20

// ErrNotPNG is returned for input without the PNG signature.
var ErrNotPNG = errors.New("not a PNG file")

// ReadPNGText returns the keyword/text pairs of every textual chunk in the PNG
// stream r. Later chunks win for repeated keywords.
func ReadPNGText(r io.Reader) (catalog.Tags, error) {
	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, ErrNotPNG
	}

	tags := catalog.Tags{}
	header := make([]byte, 8)

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		length := binary.BigEndian.Uint32(header[:4])
		kind := string(header[4:8])

		switch kind {
		case "IEND":
			return tags, nil
		case "tEXt", "zTXt", "iTXt":
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)+4); err != nil {
				return nil, fmt.Errorf("failed to skip %s chunk: %w", kind, err)
			}

			continue
		}

		if length > maxChunkLength {
			return nil, fmt.Errorf("%s chunk of %d bytes is too large", kind, length)
		}

		body := make([]byte, length+4)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("failed to read %s chunk: %w", kind, err)
		}

		data, sum := body[:length], binary.BigEndian.Uint32(body[length:])
		crc := crc32.NewIEEE()
		_, _ = crc.Write(header[4:8])
		_, _ = crc.Write(data)
		if crc.Sum32() != sum {
			return nil, fmt.Errorf("%s chunk has a bad checksum", kind)
		}

		key, value, err := decodeTextChunk(kind, data)
		if err != nil {
			return nil, err
		}
		tags[key] = value
	}
}

func decodeTextChunk(kind string, data []byte) (string, string, error) {
	keyword, rest, found := bytes.Cut(data, []byte{0})
	if !found || len(keyword) == 0 {
		return "", "", fmt.Errorf("%s chunk has no keyword", kind)
	}
	key := latin1(keyword)

	switch kind {
	case "tEXt":
		return key, latin1(rest), nil
	case "zTXt":
		if len(rest) < 1 || rest[0] != 0 {
			return "", "", fmt.Errorf("zTXt chunk %q uses an unknown compression method", key)
		}
		text, err := inflate(rest[1:])
		if err != nil {
			return "", "", fmt.Errorf("zTXt chunk %q: %w", key, err)
		}

		return key, latin1(text), nil
	default:
		// compression flag, compression method, language tag, translated keyword
		if len(rest) < 2 {
			return "", "", fmt.Errorf("iTXt chunk %q is truncated", key)
		}
		compressed := rest[0] == 1
		_, rest, _ = bytes.Cut(rest[2:], []byte{0})
		_, text, found := bytes.Cut(rest, []byte{0})
		if !found {
			return "", "", fmt.Errorf("iTXt chunk %q is truncated", key)
		}

		if compressed {
			var err error
			if text, err = inflate(text); err != nil {
				return "", "", fmt.Errorf("iTXt chunk %q: %w", key, err)
			}
		}

		return key, string(text), nil
	}
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	return io.ReadAll(io.LimitReader(zr, maxChunkLength))
}

func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}

	return sb.String()
}
