package mount

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nzbstream/nzbstream/pkg/logger"
)

//go:embed assets/failure.mp4 assets/novideo.mp4
var fallbackAssets embed.FS

// hopByHopHeaders are stripped from the mount service's response before it
// is forwarded to the player (§4.10).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// videoContentTypes is consulted when the mount service answers with the
// generic application/octet-stream and the proxy must infer a real type
// from the chosen file's extension.
var videoContentTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".m2ts": "video/mp2t",
	".ts":   "video/mp2t",
}

// PlaybackRequest describes what the orchestrator resolved before handing a
// request to the proxy: the file to stream and a descriptive title for the
// Content-Disposition header.
type PlaybackRequest struct {
	File  *File
	Title string
}

// ErrNoVideoFound is the sentinel the orchestrator passes to Serve when the
// WebDAV walk completed but found no playable video, selecting the
// "no video found" fallback asset instead of the generic failure one.
var ErrNoVideoFound = errors.New("no playable video found")

// Serve forwards a GET/HEAD range request to the mount service's WebDAV
// surface and rewrites the response per §4.10. On resolution failure it
// serves a fallback asset with the failure surfaced in X-NZBDav-Failure.
func (c *Client) Serve(w http.ResponseWriter, r *http.Request, req *PlaybackRequest, resolveErr error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if resolveErr != nil || req == nil || req.File == nil {
		asset := "assets/failure.mp4"
		if errors.Is(resolveErr, ErrNoVideoFound) {
			asset = "assets/novideo.mp4"
		}
		serveFallback(w, r, asset, resolveErr)
		return
	}

	rangeHeader := r.Header.Get("Range")
	total := req.File.Size

	if rangeHeader != "" {
		start, end, ok := parseRange(rangeHeader, total)
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		c.forward(w, r, req, start, end, total)
		return
	}

	c.forward(w, r, req, 0, total-1, total)
}

// parseRange parses a "bytes=a-b" header against a known total size. An
// empty b means "to EOF". a >= total is unsatisfiable (§4.10).
func parseRange(header string, total int64) (start, end int64, ok bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if a >= total {
		return 0, 0, false
	}
	if parts[1] == "" {
		return a, total - 1, true
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || b < a {
		return 0, 0, false
	}
	if b >= total {
		b = total - 1
	}
	return a, b, true
}

// forward issues the ranged request to the WebDAV file and streams the
// (rewritten) response back to the player.
func (c *Client) forward(w http.ResponseWriter, r *http.Request, req *PlaybackRequest, start, end, total int64) {
	target := c.WebDAVURL + req.File.Path
	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
	if err != nil {
		serveFallback(w, r, "assets/failure.mp4", err)
		return
	}
	upstream.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	if c.WebDAVUser != "" {
		upstream.SetBasicAuth(c.WebDAVUser, c.WebDAVPass)
	}

	resp, err := c.HTTP.Do(upstream)
	if err != nil {
		serveFallback(w, r, "assets/failure.mp4", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		serveFallback(w, r, "assets/failure.mp4", fmt.Errorf("mount webdav GET: status %d", resp.StatusCode))
		return
	}

	header := w.Header()
	for k, v := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		header[k] = v
	}

	var body io.Reader = resp.Body
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		ext := strings.ToLower(path.Ext(req.File.Name))
		switch {
		case videoContentTypes[ext] != "":
			contentType = videoContentTypes[ext]
		case mime.TypeByExtension(ext) != "":
			contentType = mime.TypeByExtension(ext)
		default:
			// Extension gave nothing usable; sniff the first bytes of the
			// body instead of guessing from application/octet-stream.
			buffered := bufio.NewReaderSize(resp.Body, 512)
			if peek, err := buffered.Peek(512); err == nil || err == io.EOF {
				contentType = mimetype.Detect(peek).String()
			}
			body = buffered
		}
	}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	header.Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, sanitizeFilename(req.Title)))
	header.Set("Access-Control-Allow-Origin", "*")

	status := http.StatusPartialContent
	if start == 0 && end == total-1 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, body); err != nil {
		if isClientDisconnect(err) {
			logger.Debug("stream proxy: client disconnected", "path", r.URL.Path)
			return
		}
		logger.Debug("stream proxy: copy error", "err", err)
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func isClientDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "connection reset")
}

// serveFallback streams one of the two embedded fallback videos and
// surfaces the original failure in X-NZBDav-Failure, honoring HEAD.
func serveFallback(w http.ResponseWriter, r *http.Request, asset string, cause error) {
	data, err := fallbackAssets.ReadFile(asset)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	message := "mount unavailable"
	if cause != nil {
		message = cause.Error()
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("X-NZBDav-Failure", message)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// sanitizeFilename strips characters that would break a quoted
// Content-Disposition header value.
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(`"`, "", "\r", "", "\n", "")
	return r.Replace(name)
}
