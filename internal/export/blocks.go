package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// noteDoc is the block JSON stored for note documents.
type noteDoc struct {
	Blocks []noteBlock `json:"blocks"`
}

type noteBlock struct {
	Type    string     `json:"type"`
	Level   int        `json:"level,omitempty"`
	Text    string     `json:"text,omitempty"`
	Spans   []noteSpan `json:"spans,omitempty"`
	Ordered bool       `json:"ordered,omitempty"`
	Items   []string   `json:"items,omitempty"`
}

type noteSpan struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Code   bool   `json:"code,omitempty"`
	Strike bool   `json:"strike,omitempty"`
	Href   string `json:"href,omitempty"`
}

// BlocksToHTML converts note block JSON to HTML. Unknown block types are
// skipped so old exports keep working when the editor grows new blocks.
func BlocksToHTML(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var doc noteDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	var result strings.Builder
	for _, block := range doc.Blocks {
		result.WriteString(renderBlock(block))
	}
	return result.String()
}

func renderBlock(block noteBlock) string {
	switch block.Type {
	case "heading":
		level := block.Level
		if level < 1 || level > 6 {
			level = 1
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, renderInline(block), level)
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", renderInline(block))
	case "list":
		tag := "ul"
		if block.Ordered {
			tag = "ol"
		}
		var items strings.Builder
		for _, item := range block.Items {
			fmt.Fprintf(&items, "<li>%s</li>\n", html.EscapeString(item))
		}
		return fmt.Sprintf("<%s>\n%s</%s>\n", tag, items.String(), tag)
	case "quote":
		return fmt.Sprintf("<blockquote>\n<p>%s</p>\n</blockquote>\n", renderInline(block))
	case "code":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(block.Text))
	case "divider":
		return "<hr>\n"
	default:
		return ""
	}
}

func renderInline(block noteBlock) string {
	if len(block.Spans) == 0 {
		return html.EscapeString(block.Text)
	}

	var result strings.Builder
	for _, span := range block.Spans {
		result.WriteString(renderSpan(span))
	}
	return result.String()
}

func renderSpan(span noteSpan) string {
	text := html.EscapeString(span.Text)
	if span.Code {
		text = fmt.Sprintf("<code>%s</code>", text)
	}
	if span.Bold {
		text = fmt.Sprintf("<strong>%s</strong>", text)
	}
	if span.Italic {
		text = fmt.Sprintf("<em>%s</em>", text)
	}
	if span.Strike {
		text = fmt.Sprintf("<s>%s</s>", text)
	}
	if span.Href != "" {
		text = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(span.Href), text)
	}
	return text
}
