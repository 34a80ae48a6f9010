package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type builtinAsset struct {
	contentType string
	body        string
}

// assetHandler serves files from dir and falls back to the built-in page
// assets, so the scanner page works without a deployed assets directory.
type assetHandler struct {
	dir     string
	builtin map[string]builtinAsset
}

func newAssetHandler(dir string) *assetHandler {
	return &assetHandler{
		dir: dir,
		builtin: map[string]builtinAsset{
			"scanner.js":  {contentType: "application/javascript; charset=utf-8", body: scannerJS},
			"scanner.css": {contentType: "text/css; charset=utf-8", body: scannerCSS},
		},
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if filename == "." || filename == "/" || strings.HasPrefix(filename, "..") {
		http.NotFound(w, r)
		return
	}

	if h.dir != "" {
		assetPath := filepath.Join(h.dir, filename)
		if fileExists(assetPath) {
			http.ServeFile(w, r, assetPath)
			return
		}
	}

	if a, ok := h.builtin[filename]; ok {
		w.Header().Set("Content-Type", a.contentType)
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(a.body))
		return
	}
	http.NotFound(w, r)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
