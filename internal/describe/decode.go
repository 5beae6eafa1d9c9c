package describe

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const maxResponseBody = 2 << 20 // 2MB decoded

// acceptEncoding is advertised on description requests. Setting it by hand
// disables net/http's transparent gzip, so every listed coding is decoded here.
const acceptEncoding = "br, gzip, zstd"

// readBody fully reads r, undoing the given Content-Encoding.
func readBody(contentEncoding string, r io.Reader) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch enc {
	case "", "identity":
		return readLimited(r)

	case "br":
		return readLimited(brotli.NewReader(r))

	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)

	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)

	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening deflate stream: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)

	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing response: %w", err)
	}
	if len(b) > maxResponseBody {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseBody)
	}
	return b, nil
}
