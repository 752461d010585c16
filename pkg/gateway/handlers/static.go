package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// IndexHandler serves <Dir>/index.html for "/" and a JSON 404 for any other
// path that reaches it.
type IndexHandler struct {
	Dir string
}

func (h IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r)
		return
	}
	index := filepath.Join(h.Dir, "index.html")
	if fi, err := os.Stat(index); err != nil || fi.IsDir() {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	http.ServeFile(w, r, index)
}

// StaticHandler serves files under Dir without directory listings. It is
// mounted with http.StripPrefix.
func StaticHandler(dir string) http.Handler {
	files := http.FileServer(noListingFS{http.Dir(dir)})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			NotFoundHandler{}.ServeHTTP(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
