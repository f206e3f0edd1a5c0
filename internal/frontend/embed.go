// Package frontend serves the embedded admin dashboard.
package frontend

import (
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

//go:embed all:dist
var distFS embed.FS

// Handler serves the dashboard. basePath is "" for root deployments or
// "/subpath" behind a proxy; it is injected into index.html as a <base>
// tag and window.__BASE_PATH__ so relative asset and API URLs resolve.
func Handler(basePath string) fasthttp.RequestHandler {
	basePath = strings.TrimSuffix(basePath, "/")

	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		return notEmbeddedHandler("Dashboard not embedded: " + err.Error())
	}
	index, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		return notEmbeddedHandler("Dashboard not embedded: index.html not found")
	}
	page := injectBasePath(index, basePath)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(path.Clean(r.URL.Path), "/")

		// Unknown paths without an extension are dashboard routes
		if p == "" || p == "." || !strings.Contains(path.Base(p), ".") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(page)
			return
		}

		content, err := fs.ReadFile(sub, p)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		ctype := mime.TypeByExtension(path.Ext(p))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		_, _ = w.Write(content)
	})

	return fasthttpadaptor.NewFastHTTPHandler(h)
}

func injectBasePath(index []byte, basePath string) []byte {
	html := strings.Replace(string(index), "<head>", fmt.Sprintf(`<head><base href="%s/">`, basePath), 1)
	script := fmt.Sprintf(`<script>window.__BASE_PATH__ = "%s";</script></head>`, basePath)
	return []byte(strings.Replace(html, "</head>", script, 1))
}

// IsEmbedded returns true if the dist folder has content.
func IsEmbedded() bool {
	entries, err := distFS.ReadDir("dist")
	if err != nil {
		return false
	}
	return len(entries) > 0
}

func notEmbeddedHandler(message string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.WriteString(message)
	}
}
