package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"curio/api/internal/reconstruct"
)

// Node is a block in the rich-text editor's document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting on a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Blocks converts a reconstructed document into editor blocks: one level 2
// heading per section, then one paragraph per line ending in a marker node.
func Blocks(doc reconstruct.Document) Node {
	root := Node{Type: "doc", Content: []Node{}}
	for _, section := range doc.Sections {
		root.Content = append(root.Content, Node{
			Type:    "heading",
			Attrs:   map[string]any{"level": 2, "nodeId": section.AnchorID},
			Content: []Node{{Type: "text", Text: section.Heading}},
		})
		for _, line := range section.Lines {
			root.Content = append(root.Content, Node{
				Type:  "paragraph",
				Attrs: map[string]any{"nodeId": line.NodeID},
				Content: []Node{
					{Type: "text", Text: line.Body + " "},
					{Type: "marker", Attrs: map[string]any{"marker": line.Marker, "title": line.Title, "nodeId": line.NodeID}},
				},
			})
		}
	}
	return root
}

// ParseBlocks decodes stored blocks. Empty input yields an empty doc.
func ParseBlocks(raw []byte) (Node, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Node{Type: "doc"}, nil
	}
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return Node{}, fmt.Errorf("decode blocks: %w", err)
	}
	return node, nil
}

// BlocksToHTML renders a block tree as HTML.
func BlocksToHTML(node Node) string {
	var b strings.Builder
	renderNode(&b, node)
	return b.String()
}

func renderNode(b *strings.Builder, node Node) {
	switch node.Type {
	case "doc":
		renderContent(b, node.Content)
	case "paragraph":
		wrap(b, "p", node.Content)
		b.WriteString("\n")
	case "heading":
		level := headingLevel(node.Attrs)
		fmt.Fprintf(b, "<h%d>", level)
		renderContent(b, node.Content)
		fmt.Fprintf(b, "</h%d>\n", level)
	case "bulletList":
		b.WriteString("<ul>\n")
		renderContent(b, node.Content)
		b.WriteString("</ul>\n")
	case "orderedList":
		b.WriteString("<ol>\n")
		renderContent(b, node.Content)
		b.WriteString("</ol>\n")
	case "listItem":
		wrap(b, "li", node.Content)
		b.WriteString("\n")
	case "blockquote":
		b.WriteString("<blockquote>\n")
		renderContent(b, node.Content)
		b.WriteString("</blockquote>\n")
	case "marker":
		marker, _ := node.Attrs["marker"].(string)
		nodeID, _ := node.Attrs["nodeId"].(string)
		fmt.Fprintf(b, `<sup class="marker" data-node-id="%s">%s</sup>`, html.EscapeString(nodeID), html.EscapeString(marker))
	case "text":
		b.WriteString(renderTextWithMarks(node.Text, node.Marks))
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	default:
		renderContent(b, node.Content)
	}
}

func renderContent(b *strings.Builder, content []Node) {
	for _, child := range content {
		renderNode(b, child)
	}
}

func wrap(b *strings.Builder, tag string, content []Node) {
	b.WriteString("<" + tag + ">")
	renderContent(b, content)
	b.WriteString("</" + tag + ">")
}

// headingLevel reads attrs.level, which is an int when built here and a
// float64 after a JSON round trip.
func headingLevel(attrs map[string]any) int {
	level := 2
	switch v := attrs["level"].(type) {
	case int:
		level = v
	case float64:
		level = int(v)
	}
	if level < 1 || level > 6 {
		return 2
	}
	return level
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		case "strike":
			out = "<s>" + out + "</s>"
		}
	}
	return out
}
