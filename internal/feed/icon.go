package feed

import (
	"bytes"
	"context"
	"image"
	_ "image/gif" // favicon decoders
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/validation"
)

// IconSize is the edge length icons are scaled to.
const IconSize = 16

// IconResolver finds a representative icon for a feed source. The cascade is
// a <link rel="icon"> in the feed or site document, then /favicon.ico on the
// source host.
type IconResolver struct {
	transport Transport
}

func NewIconResolver(transport Transport) *IconResolver {
	return &IconResolver{transport: transport}
}

// Resolve runs the cascade for sourceURL. doc is the already fetched source
// document, or nil to fetch it again. A nil result means no icon was found;
// the caller stores that as the final answer.
func (r *IconResolver) Resolve(ctx context.Context, sourceURL string, doc []byte) []byte {
	if doc == nil {
		doc = r.get(ctx, sourceURL)
	}

	if doc != nil {
		if href := findIconLink(doc); href != "" {
			if iconURL, err := resolveReference(sourceURL, href); err == nil {
				if data := r.get(ctx, iconURL); len(data) > 0 {
					debuglog.Debugf("icon for %s from link %s", sourceURL, iconURL)
					return normalizeIcon(data)
				}
			}
		}
	}

	faviconURL, err := faviconURL(sourceURL)
	if err != nil {
		return nil
	}
	if data := r.get(ctx, faviconURL); len(data) > 0 {
		debuglog.Debugf("icon for %s from %s", sourceURL, faviconURL)
		return normalizeIcon(data)
	}
	debuglog.Debugf("no icon for %s", sourceURL)
	return nil
}

// get returns the body of a 200 response, or nil.
func (r *IconResolver) get(ctx context.Context, target string) []byte {
	resp, err := r.transport.Do(ctx, Request{URL: target, Accept: acceptAny})
	if err != nil {
		debuglog.Debugf("icon fetch %s: %v", target, err)
		return nil
	}
	if resp.Status != http.StatusOK {
		return nil
	}
	return resp.Body
}

// findIconLink returns the href of the first <link> whose rel list contains
// the token "icon" and whose href is not empty.
func findIconLink(doc []byte) string {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ""
	}

	var href string
	d.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		for _, tok := range strings.Fields(rel) {
			if tok != "icon" {
				continue
			}
			if h, ok := s.Attr("href"); ok && strings.TrimSpace(h) != "" {
				href = strings.TrimSpace(h)
				return false
			}
			return true
		}
		return true
	})
	return href
}

func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// faviconURL is scheme://host/favicon.ico for the source.
func faviconURL(sourceURL string) (string, error) {
	origin, err := validation.Origin(sourceURL)
	if err != nil {
		return "", err
	}
	return origin + "/favicon.ico", nil
}

// normalizeIcon scales decodable images to IconSize and re-encodes them as
// PNG. Formats the image package cannot decode (ICO in particular) are kept
// as received.
func normalizeIcon(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	b := src.Bounds()
	if b.Dx() == IconSize && b.Dy() == IconSize && bytes.HasPrefix(data, pngMagic) {
		return data
	}

	dst := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	scaler := draw.Interpolator(draw.CatmullRom)
	if b.Dx() < IconSize || b.Dy() < IconSize {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return data
	}
	return buf.Bytes()
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")
