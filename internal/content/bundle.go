package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"
)

const (
	// maxBundleSize caps the compressed bundle read from S3
	maxBundleSize int64 = 50 << 20

	// maxSingleFile caps one extracted file
	maxSingleFile int64 = 10 << 20

	// maxTotalExtract caps the whole extracted tree
	maxTotalExtract int64 = 100 << 20

	// maxSignatureSize caps the detached signature object
	maxSignatureSize int64 = 16 << 10
)

// readWithHash reads r up to maxSize bytes, hashing as it goes.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", fmt.Errorf("content exceeds max size (limit %d bytes)", maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// cleanArchivePath normalizes a tar entry name. A leading "./" is allowed,
// absolute and parent-relative names are not.
func cleanArchivePath(name string) (string, error) {
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return "", fmt.Errorf("invalid path in archive: %q", name)
	}
	if path.IsAbs(name) {
		return "", fmt.Errorf("absolute path in archive: %s", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path traversal in archive: %s", name)
	}
	return clean, nil
}

// extractTarGzToMem extracts a .tar.gz into an in-memory filesystem.
func extractTarGzToMem(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		name, err := cleanArchivePath(hdr.Name)
		if err != nil {
			return nil, err
		}
		if name == "." {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// implicit in MapFS
			continue
		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, fmt.Errorf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
			}
			body, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			if int64(len(body)) > maxSingleFile {
				return nil, fmt.Errorf("file %s exceeds max size after read", name)
			}
			total += int64(len(body))
			if total > maxTotalExtract {
				return nil, fmt.Errorf("total extracted size exceeds limit (max %d bytes)", maxTotalExtract)
			}
			mfs[name] = &fstest.MapFile{Data: body, Mode: hdr.FileInfo().Mode().Perm()}
		default:
			return nil, fmt.Errorf("unsupported file type in archive: %s (type=%d)", name, hdr.Typeflag)
		}
	}
	return mfs, nil
}
