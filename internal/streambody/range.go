package streambody

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/haileys/hailsplay/internal/domain"
)

const rangePrefix = "bytes="

// ParseByteRange parses a single-range HTTP Range header value against
// a resource of the given size. Multi-range requests (containing a
// comma) are reported as domain.ErrRangeInvalid, same as any other
// malformed spec — callers degrade to a full response rather than
// implementing multipart/byteranges, per spec.md §4.5's explicit
// implementer's choice. start >= size is reported as
// domain.ErrRangeNotSatisfiable.
func ParseByteRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, rangePrefix)
	if !ok {
		return 0, 0, domain.ErrRangeInvalid
	}
	if strings.Contains(spec, ",") {
		return 0, 0, domain.ErrRangeInvalid
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, domain.ErrRangeInvalid
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// suffix range: last N bytes
		if endStr == "" {
			return 0, 0, domain.ErrRangeInvalid
		}
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, domain.ErrRangeInvalid
		}
		if n > size {
			n = size
		}
		start = size - n
		end = size - 1
	} else {
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || s < 0 {
			return 0, 0, domain.ErrRangeInvalid
		}
		start = s
		if endStr == "" {
			end = size - 1
		} else {
			e, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return 0, 0, domain.ErrRangeInvalid
			}
			end = e
			if end > size-1 {
				end = size - 1
			}
		}
	}

	if start >= size {
		return 0, 0, domain.ErrRangeNotSatisfiable
	}
	if end < start {
		return 0, 0, domain.ErrRangeInvalid
	}
	return start, end, nil
}

// Serve writes an HTTP response for body, honoring a Range request
// header if present. It blocks (via Body.Seek/Read) until the
// requested bytes have been produced by the download.
func Serve(w http.ResponseWriter, r *http.Request, body *Body, contentType string) error {
	size := body.ByteSize()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		return serveFull(w, r, body, size)
	}

	start, end, err := ParseByteRange(rangeHeader, size)
	if err == domain.ErrRangeNotSatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil {
		// Malformed or multi-range: degrade to a full response.
		return serveFull(w, r, body, size)
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return nil
	}
	if err := body.Seek(start); err != nil {
		return err
	}
	_, err = io.CopyN(w, body, length)
	if err == io.EOF {
		return nil
	}
	return err
}

func serveFull(w http.ResponseWriter, r *http.Request, body *Body, size int64) error {
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err := io.CopyN(w, body, size)
	if err == io.EOF {
		return nil
	}
	return err
}
