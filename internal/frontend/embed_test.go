package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func serve(t *testing.T, h fasthttp.RequestHandler, path string) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)
	ctx.Request.Header.SetMethod("GET")
	h(ctx)
	return ctx
}

func TestHandler(t *testing.T) {
	t.Parallel()
	require.True(t, IsEmbedded())

	tests := []struct {
		name        string
		basePath    string
		path        string
		wantStatus  int
		wantType    string
		wantContain string
	}{
		{"root", "", "/", fasthttp.StatusOK, "text/html", `<base href="/">`},
		{"dashboard route", "", "/admin", fasthttp.StatusOK, "text/html", `window.__BASE_PATH__ = ""`},
		{"base path", "/bot/", "/", fasthttp.StatusOK, "text/html", `<base href="/bot/">`},
		{"script", "", "/app.js", fasthttp.StatusOK, "javascript", "set_phone"},
		{"stylesheet", "", "/style.css", fasthttp.StatusOK, "text/css", "#messages"},
		{"missing asset", "", "/missing.png", fasthttp.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := serve(t, Handler(tt.basePath), tt.path)
			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
			assert.Contains(t, string(ctx.Response.Header.ContentType()), tt.wantType)
			assert.Contains(t, string(ctx.Response.Body()), tt.wantContain)
		})
	}
}

func TestInjectBasePath(t *testing.T) {
	t.Parallel()
	out := string(injectBasePath([]byte("<html><head><title>x</title></head></html>"), "/sub"))
	assert.Equal(t, `<html><head><base href="/sub/"><title>x</title><script>window.__BASE_PATH__ = "/sub";</script></head></html>`, out)
}
