package httpserver

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// handleStatic implements spec §4.4.5's GET/HEAD path: stat, mmap, respond,
// unmap. Directory requests are rewritten to their index.html member first
// (supplemented from original_source/HttpHandler.cpp's parseURI(), which
// spec.md is silent on).
func (c *Connection) handleStatic() (*httpError, bool) {
	fi, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errNotFound, false
		}
		return errInternal, false
	}

	path := c.path
	if fi.IsDir() {
		path = filepath.Join(path, "index.html")
		fi, err = os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errNotFound, false
			}
			return errInternal, false
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return errNotFound, false
	}
	defer f.Close()

	size := fi.Size()
	var data []byte
	if size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			return errInternal, false
		}
		defer unix.Munmap(data)
	}

	includeBody := c.method != http.MethodHead
	if err := c.sendResponse(http.StatusOK, "OK", mimeType(path), data, includeBody); err != nil {
		return nil, true
	}
	return nil, false
}

// mimeType selects a Content-Type by the substring after the last '.' of
// path, per the fixed suffix table in spec.md §6. Unknown and absent
// suffixes both fall back to text/plain.
func mimeType(path string) string {
	ext := ""
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	}
	switch ext {
	case "doc":
		return "application/msword"
	case "gz":
		return "application/x-gzip"
	case "ico":
		return "application/x-ico"
	case "gif":
		return "image/gif"
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "bmp":
		return "image/bmp"
	case "mp3":
		return "audio/mp3"
	case "avi":
		return "video/x-msvideo"
	case "html", "htm", "css", "js":
		return "text/html"
	case "c", "txt":
		return "text/plain"
	default:
		return "text/plain"
	}
}
