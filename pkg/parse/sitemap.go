package parse

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// maxSitemapBytes bounds a decompressed sitemap (the sitemaps.org limit is 50MiB)
const maxSitemapBytes = 50 << 20

// SitemapEntry is a <url> or <sitemap> element
type SitemapEntry struct {
	Loc     string `xml:"loc" json:"loc" yaml:"loc"`
	LastMod string `xml:"lastmod,omitempty" json:"lastmod,omitempty" yaml:"lastmod,omitempty"`
}

// Sitemap is one decoded sitemap document
// A urlset fills URLs; a sitemapindex fills Children
type Sitemap struct {
	URLs     []SitemapEntry
	Children []SitemapEntry
}

type xmlURLSet struct {
	XMLName xml.Name       `xml:"urlset"`
	URLs    []SitemapEntry `xml:"url"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []SitemapEntry `xml:"sitemap"`
}

// ParseSitemap decodes a urlset or sitemapindex document, gunzipping it first if needed
// Locations resolve against base; empty or non-http(s) locations are dropped
func ParseSitemap(body []byte, base *url.URL) (*Sitemap, error) {
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: sitemap gzip: %w", utils.ErrParsing, err)
		}
		defer zr.Close()
		body, err = io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: sitemap gzip: %w", utils.ErrParsing, err)
		}
	}

	root, err := rootElement(body)
	if err != nil {
		return nil, fmt.Errorf("%w: sitemap XML: %w", utils.ErrParsing, err)
	}

	sm := &Sitemap{}
	switch root {
	case "urlset":
		var set xmlURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, fmt.Errorf("%w: sitemap XML: %w", utils.ErrParsing, err)
		}
		sm.URLs = resolveEntries(set.URLs, base)
	case "sitemapindex":
		var index xmlSitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("%w: sitemap XML: %w", utils.ErrParsing, err)
		}
		sm.Children = resolveEntries(index.Sitemaps, base)
	default:
		return nil, utils.WrapErrorf(utils.ErrParsing, "sitemap XML: unexpected root element <%s>", root)
	}
	return sm, nil
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no root element")
			}
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func resolveEntries(entries []SitemapEntry, base *url.URL) []SitemapEntry {
	out := make([]SitemapEntry, 0, len(entries))
	for _, e := range entries {
		loc := strings.TrimSpace(e.Loc)
		if loc == "" {
			continue
		}
		ref, err := url.Parse(loc)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			continue
		}
		out = append(out, SitemapEntry{Loc: ref.String(), LastMod: strings.TrimSpace(e.LastMod)})
	}
	return out
}
