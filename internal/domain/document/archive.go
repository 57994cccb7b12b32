package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// extractDOCX walks word/document.xml, keeping run text and turning paragraph
// ends, tabs and breaks into whitespace.
func extractDOCX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", fmt.Errorf("open DOCX: %w", err)
	}
	content, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}

	var buf strings.Builder
	dec := xml.NewDecoder(bytes.NewReader(content))
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteByte('\t')
			case "br", "cr":
				buf.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return buf.String(), nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB reads the spine documents in reading order. Books without a
// usable package file fall back to every (X)HTML entry in name order. The
// page count is the number of documents read.
func extractEPUB(data []byte) (string, int, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", 0, fmt.Errorf("open EPUB: %w", err)
	}

	docs := epubSpine(zr)
	if len(docs) == 0 {
		for _, f := range zr.File {
			if ext := strings.ToLower(path.Ext(f.Name)); ext == ".xhtml" || ext == ".html" || ext == ".htm" {
				docs = append(docs, f.Name)
			}
		}
		sort.Strings(docs)
	}

	var parts []string
	for _, name := range docs {
		content, err := readZipFile(zr, name)
		if err != nil {
			continue
		}
		text, err := htmlText(content)
		if err != nil {
			return "", 0, fmt.Errorf("parse %s: %w", name, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), len(parts), nil
}

func epubSpine(zr *zip.Reader) []string {
	raw, err := readZipFile(zr, "META-INF/container.xml")
	if err != nil {
		return nil
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil || len(container.Rootfiles) == 0 {
		return nil
	}

	opfPath := container.Rootfiles[0].FullPath
	raw, err = readZipFile(zr, opfPath)
	if err != nil {
		return nil
	}
	var pkg epubPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}
	var docs []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		docs = append(docs, path.Join(path.Dir(opfPath), href))
	}
	return docs
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "article": true,
}

// htmlText returns the visible text of an (X)HTML document with block
// elements separated by newlines.
func htmlText(content []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			buf.WriteByte('\n')
		}
	}
	walk(root)
	return buf.String(), nil
}
