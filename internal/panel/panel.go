package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler for the kiosk display, mounted with any
// prefix already stripped.
//
// When dir names an existing directory its files are served; otherwise the
// embedded assets are. Panics if the embedded assets are missing (build error).
func Handler(dir string) http.Handler {
	assets := embeddedAssets()
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			assets = os.DirFS(dir)
		}
	}
	return newHandler(assets)
}

func embeddedAssets() fs.FS {
	sub, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: embedded assets unavailable: %v", err))
	}
	return sub
}

// newHandler serves assets with index.html as the fallback for unknown paths.
func newHandler(assets fs.FS) http.Handler {
	files := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name != "" && !exists(assets, name) {
			r = r.Clone(r.Context())
			r.URL.Path = "/"
		}
		files.ServeHTTP(w, r)
	})
}

func exists(assets fs.FS, name string) bool {
	info, err := fs.Stat(assets, name)
	return err == nil && !info.IsDir()
}
