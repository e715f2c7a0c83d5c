package mount

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// maxWalkDepth bounds the breadth-first WebDAV walk (§4.10: "depth ≤ 6").
const maxWalkDepth = 6

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true,
	".mov": true, ".wmv": true, ".flv": true, ".webm": true,
	".mpg": true, ".mpeg": true, ".m2ts": true, ".ts": true,
}

// File is one entry discovered on the mount's WebDAV surface.
type File struct {
	Path  string // WebDAV path, relative to the mount root
	Name  string
	Size  int64
	IsDir bool
}

// davMultiStatus mirrors the subset of a PROPFIND multistatus response this
// walker needs: resource path, size, and collection flag.
type davMultiStatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href string `xml:"href"`
	Prop struct {
		ContentLength string   `xml:"prop>getcontentlength"`
		ResourceType  struct {
			Collection *struct{} `xml:"collection"`
		} `xml:"prop>resourcetype"`
	} `xml:"propstat"`
}

// propfindChildren issues a depth-1 PROPFIND against dir and returns its
// immediate children. No ecosystem WebDAV client library appears in the
// reference set (golang.org/x/net/webdav only implements the server side),
// so the request is hand-built and the multistatus XML is parsed with
// encoding/xml.
func (c *Client) propfindChildren(ctx context.Context, dir string) ([]File, error) {
	body := strings.NewReader(`<?xml version="1.0"?><propfind xmlns="DAV:"><prop><resourcetype/><getcontentlength/></prop></propfind>`)
	target := c.WebDAVURL + dir
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")
	if c.WebDAVUser != "" {
		req.SetBasicAuth(c.WebDAVUser, c.WebDAVPass)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdav propfind %s: %w", dir, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webdav propfind %s: status %d", dir, resp.StatusCode)
	}

	var parsed davMultiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("webdav propfind %s: decode: %w", dir, err)
	}

	var out []File
	for _, r := range parsed.Responses {
		p := r.Href
		if p == dir || strings.TrimSuffix(p, "/") == strings.TrimSuffix(dir, "/") {
			continue // the directory's own entry
		}
		isDir := r.Prop.ResourceType.Collection != nil
		var size int64
		if r.Prop.ContentLength != "" {
			if n, err := strconv.ParseInt(r.Prop.ContentLength, 10, 64); err == nil {
				size = n
			}
		}
		out = append(out, File{
			Path:  p,
			Name:  path.Base(strings.TrimSuffix(p, "/")),
			Size:  size,
			IsDir: isDir,
		})
	}
	return out, nil
}

// FindPlayableFile walks root breadth-first (depth ≤ maxWalkDepth) and
// returns the largest video file. When episodeHint is non-empty, only
// names containing it are considered (§4.10: series pick the largest
// matching-episode file, movies the largest video file overall).
func (c *Client) FindPlayableFile(ctx context.Context, root, episodeHint string) (*File, error) {
	type queued struct {
		path  string
		depth int
	}
	queue := []queued{{path: root, depth: 0}}

	var best *File
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := c.propfindChildren(ctx, cur.path)
		if err != nil {
			continue // one unreadable directory must not abort the walk
		}
		for _, child := range children {
			if child.IsDir {
				if cur.depth < maxWalkDepth {
					queue = append(queue, queued{path: child.Path, depth: cur.depth + 1})
				}
				continue
			}
			if !isVideoFile(child.Name) {
				continue
			}
			if episodeHint != "" && !strings.Contains(strings.ToLower(child.Name), strings.ToLower(episodeHint)) {
				continue
			}
			if best == nil || child.Size > best.Size {
				c := child
				best = &c
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no playable video found under %s", root)
	}
	return best, nil
}

func isVideoFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return videoExtensions[ext]
}
