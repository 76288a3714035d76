package handler

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"turboprint/pkg/turboprint"
)

// Compression is the codec applied to rotated archives.
type Compression string

const (
	CompressNone Compression = ""
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

var compressions = []struct {
	kind Compression
	ext  string
}{
	{CompressGzip, ".gz"},
	{CompressZstd, ".zst"},
	{CompressNone, ""},
}

// ParseCompression accepts "", "none", "gzip"/"gz" and "zstd"/"zst".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressNone, nil
	case "gzip", "gz":
		return CompressGzip, nil
	case "zstd", "zst":
		return CompressZstd, nil
	}
	return CompressNone, turboprint.ConfigError("compression", "unknown codec %q", s)
}

// Ext returns the file suffix for the codec.
func (c Compression) Ext() string {
	for _, x := range compressions {
		if x.kind == c {
			return x.ext
		}
	}
	return ""
}

// compressFile writes src compressed to src+ext and removes src.
// On failure the uncompressed archive is left in place.
func compressFile(src string, c Compression) (string, error) {
	c, err := ParseCompression(string(c))
	if err != nil || c == CompressNone {
		return src, err
	}
	dst := src + c.Ext()
	in, err := os.Open(src)
	if err != nil {
		return src, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return src, err
	}
	if err := encode(out, in, c); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return src, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return src, err
	}
	_ = in.Close()
	if err := os.Remove(src); err != nil {
		return dst, err
	}
	return dst, nil
}

func encode(w io.Writer, r io.Reader, c Compression) error {
	switch c {
	case CompressGzip:
		zw, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, r); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	case CompressZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, r); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	default:
		_, err := io.Copy(w, r)
		return err
	}
}
