package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"golang.org/x/net/html/charset"
)

// RawItem is one parsed item before reconciliation.
type RawItem struct {
	ID         string
	Title      string
	Link       string
	Published  *time.Time
	Updated    *time.Time
	Content    string
	Summary    string
	Categories []string
}

// Identifier returns the item id, falling back to its link.
func (it *RawItem) Identifier() (string, error) {
	if id := strings.TrimSpace(it.ID); id != "" {
		return id, nil
	}
	if link := strings.TrimSpace(it.Link); link != "" {
		return link, nil
	}
	return "", ErrNoIdentifier
}

// Timestamp picks published, then updated, then now.
func (it *RawItem) Timestamp(now time.Time) int64 {
	if it.Published != nil {
		return it.Published.Unix()
	}
	if it.Updated != nil {
		return it.Updated.Unix()
	}
	return now.Unix()
}

// Body picks the full content, then the summary.
func (it *RawItem) Body() string {
	if it.Content != "" {
		return it.Content
	}
	return it.Summary
}

type ParsedFeed struct {
	Title string
	Items []RawItem
}

type Parser struct {
	parser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
	}
}

// Parse turns a retrieved document into a ParsedFeed. Documents the feed
// library accepts but that are not well-formed XML are rejected too. Errors
// are returned as *ParseError with an empty URL; the caller fills it in.
func (p *Parser) Parse(body []byte) (pf *ParsedFeed, err error) {
	defer func() {
		if r := recover(); r != nil {
			pf, err = nil, &ParseError{Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Err: errors.New("empty document")}
	}

	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
		if err := checkWellFormed(body); err != nil {
			return nil, &ParseError{Err: fmt.Errorf("malformed xml: %w", err)}
		}
	}

	feed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	parsed := &ParsedFeed{
		Title: strings.TrimSpace(feed.Title),
		Items: make([]RawItem, 0, len(feed.Items)),
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		parsed.Items = append(parsed.Items, RawItem{
			ID:         item.GUID,
			Title:      item.Title,
			Link:       item.Link,
			Published:  item.PublishedParsed,
			Updated:    item.UpdatedParsed,
			Content:    item.Content,
			Summary:    item.Description,
			Categories: cleanCategories(item.Categories),
		})
	}
	return parsed, nil
}

// checkWellFormed scans the whole document with a strict XML decoder. HTML
// named entities are accepted since feeds use them freely.
func checkWellFormed(body []byte) error {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func cleanCategories(cats []string) []string {
	if len(cats) == 0 {
		return nil
	}
	out := lo.Uniq(lo.Compact(lo.Map(cats, func(c string, _ int) string {
		return strings.TrimSpace(c)
	})))
	if len(out) == 0 {
		return nil
	}
	return out
}
