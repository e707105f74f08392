package decoder

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText strips markup from an HTML body and returns its visible text.
// Script and style subtrees are discarded entirely; block-level boundaries
// become newlines so amounts and dates in adjacent table cells do not fuse.
func HTMLToText(htmlBody string) string {
	tok := html.NewTokenizer(strings.NewReader(htmlBody))
	var sb strings.Builder
	skipDepth := 0

	for {
		switch tok.Next() {
		case html.ErrorToken:
			return sb.String()

		case html.StartTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if isSkippedTag(tag) {
				skipDepth++
			} else if isBlockTag(tag) {
				sb.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if isSkippedTag(tag) && skipDepth > 0 {
				skipDepth--
			} else if isBlockTag(tag) {
				sb.WriteByte('\n')
			}

		case html.SelfClosingTagToken:
			name, _ := tok.TagName()
			if string(name) == "br" {
				sb.WriteByte('\n')
			}

		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tok.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isSkippedTag(tag string) bool {
	switch tag {
	case "script", "style", "head", "title":
		return true
	}
	return false
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "tr", "td", "th", "table", "li", "ul", "ol",
		"h1", "h2", "h3", "h4", "h5", "h6", "br":
		return true
	}
	return false
}
