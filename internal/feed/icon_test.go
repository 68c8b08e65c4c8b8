package feed

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 4), B: uint8(y * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// icoBytes is an ICO header the image package cannot decode.
var icoBytes = []byte{0, 0, 1, 0, 1, 0, 16, 16, 0, 0, 1, 0, 32, 0, 0x68, 4, 0, 0, 22, 0, 0, 0}

type testServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *testServer {
	s := &testServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func serveBytes(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestIconResolver_LinkInDocument(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/img/icon.png": serveBytes(testPNG(t, 64)),
	})
	doc := []byte(`<html><head>
		<link rel="apple-touch-icon" href="/img/touch.png">
		<link rel="icon" href="">
		<link rel="Shortcut icon" href="img/icon.png">
	</head></html>`)

	icon := NewIconResolver(testTransport()).Resolve(context.Background(), srv.URL+"/feed.xml", doc)

	require.NotEmpty(t, icon)
	w, h := decodeSize(t, icon)
	assert.Equal(t, IconSize, w)
	assert.Equal(t, IconSize, h)
	assert.Equal(t, 0, srv.count("/feed.xml"), "document was supplied, source must not be refetched")
	assert.Equal(t, 0, srv.count("/img/touch.png"))
	assert.Equal(t, 0, srv.count("/favicon.ico"))
}

func TestIconResolver_RefetchesSourceWhenNoDocument(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/feed.xml": serveBytes([]byte(`<rss><channel><link rel="icon" href="/i.png"/></channel></rss>`)),
		"/i.png":    serveBytes(testPNG(t, 8)),
	})

	icon := NewIconResolver(testTransport()).Resolve(context.Background(), srv.URL+"/feed.xml", nil)

	require.NotEmpty(t, icon)
	w, _ := decodeSize(t, icon)
	assert.Equal(t, IconSize, w)
	assert.Equal(t, 1, srv.count("/feed.xml"))
}

func TestIconResolver_FallsBackToFavicon(t *testing.T) {
	tests := []struct {
		name   string
		doc    []byte
		routes map[string]http.HandlerFunc
	}{
		{
			name:   "no link",
			doc:    []byte(`<rss><channel><title>x</title></channel></rss>`),
			routes: map[string]http.HandlerFunc{},
		},
		{
			name:   "linked icon missing",
			doc:    []byte(`<link rel="icon" href="/gone.png">`),
			routes: map[string]http.HandlerFunc{},
		},
		{
			name:   "linked icon empty",
			doc:    []byte(`<link rel="icon" href="/empty.png">`),
			routes: map[string]http.HandlerFunc{"/empty.png": serveBytes(nil)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.routes["/favicon.ico"] = serveBytes(icoBytes)
			srv := newTestServer(t, tt.routes)

			icon := NewIconResolver(testTransport()).Resolve(context.Background(), srv.URL+"/a/b/feed.xml", tt.doc)

			assert.Equal(t, icoBytes, icon, "undecodable icons are kept as received")
			assert.Equal(t, 1, srv.count("/favicon.ico"))
		})
	}
}

func TestIconResolver_NoIcon(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/favicon.ico": serveBytes(nil),
	})

	icon := NewIconResolver(testTransport()).Resolve(context.Background(), srv.URL+"/feed.xml", []byte("<rss/>"))
	assert.Empty(t, icon)
}

func TestFindIconLink(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"exact token", `<link rel="icon" href="/a.ico">`, "/a.ico"},
		{"token among others", `<link rel="shortcut icon" href="/b.ico">`, "/b.ico"},
		{"first match wins", `<link rel="icon" href="/1.png"><link rel="icon" href="/2.png">`, "/1.png"},
		{"partial token ignored", `<link rel="apple-touch-icon" href="/t.png">`, ""},
		{"empty href skipped", `<link rel="icon" href=" "><link rel="icon" href="/c.png">`, "/c.png"},
		{"no rel", `<link href="/d.png">`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findIconLink([]byte(tt.doc)))
		})
	}
}

func TestFaviconURL(t *testing.T) {
	got, err := faviconURL("https://blog.test:8443/deep/path/feed.xml?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://blog.test:8443/favicon.ico", got)
}

func TestNormalizeIcon(t *testing.T) {
	small := testPNG(t, IconSize)
	assert.Equal(t, small, normalizeIcon(small), "16x16 PNG kept as is")

	w, h := decodeSize(t, normalizeIcon(testPNG(t, 48)))
	assert.Equal(t, IconSize, w)
	assert.Equal(t, IconSize, h)

	assert.Equal(t, icoBytes, normalizeIcon(icoBytes))
}
