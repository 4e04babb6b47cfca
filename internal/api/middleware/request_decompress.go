package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	apperrors "github.com/asoloa/ambot/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedBytes caps a decoded request body.
const MaxDecompressedBytes = 4 << 20

// RequestDecompressionMiddleware decodes gzip, br and zstd request bodies.
// net/http leaves Content-Encoding on requests untouched, so JSON handlers
// would otherwise see compressed bytes.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		reader, closeFn, err := decoderFor(enc, c.Request.Body)
		if err != nil {
			abortWith(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, err.Error(), err))
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedBytes+1))
		if err != nil {
			abortWith(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest,
				fmt.Sprintf("failed to decompress %s request body", enc), err))
			return
		}
		if len(decoded) > MaxDecompressedBytes {
			abortWith(c, apperrors.New(http.StatusRequestEntityTooLarge, apperrors.CodeInvalidRequest,
				"decompressed request body too large", nil))
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func decoderFor(enc string, body io.Reader) (io.Reader, func(), error) {
	switch enc {
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid gzip request body")
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case "br":
		return brotli.NewReader(body), func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid zstd request body")
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.Data(appErr.HTTPStatusCode, "application/json; charset=utf-8", appErr.ToJSON())
	c.Abort()
}
