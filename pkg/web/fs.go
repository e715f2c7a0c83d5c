// Package web serves the embedded admin dashboard: a single-page app built
// separately and embedded into the binary, mounted under /admin by the
// orchestrator.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed static/*
var staticFS embed.FS

// spaFallback is served for any request path that doesn't resolve to a real
// embedded file, so client-side routes (e.g. /admin/jobs/42) land on the
// app shell instead of a 404.
const spaFallback = "index.html"

// Handler serves the embedded dashboard assets, falling back to index.html
// for any path that isn't a real static file (SPA client-side routing).
func Handler() http.Handler {
	root, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	server := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if servesRealFile(root, r.URL.Path) {
			server.ServeHTTP(w, r)
			return
		}
		r.URL.Path = "/" + spaFallback
		server.ServeHTTP(w, r)
	})
}

// servesRealFile reports whether reqPath names an actual non-directory
// entry in root, the condition under which the file server should handle
// the request directly instead of falling back to the app shell.
func servesRealFile(root fs.FS, reqPath string) bool {
	clean := path.Clean(path.Join("/", reqPath))[1:]
	if clean == "" {
		return false
	}
	f, err := root.Open(clean)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
