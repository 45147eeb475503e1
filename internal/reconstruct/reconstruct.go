// Package reconstruct renders ordered sequences into a flat document with
// numbered cross-reference markers.
package reconstruct

import (
	"strconv"
	"strings"

	"curio/api/internal/canvas"
	"curio/api/internal/sequence"
)

// UntitledHeading replaces a blank anchor title.
const UntitledHeading = "Untitled"

// Marker is one numbered reference and the item it points at.
type Marker struct {
	Marker string `json:"marker"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	NodeID string `json:"nodeId"`
}

// MarkerMap is the two-way marker/title lookup. Entries keeps marker order.
type MarkerMap struct {
	MarkerToTitle map[string]string `json:"markerToTitle"`
	TitleToMarker map[string]string `json:"titleToMarker"`
	Entries       []Marker          `json:"entries"`
}

func newMarkerMap() MarkerMap {
	return MarkerMap{
		MarkerToTitle: map[string]string{},
		TitleToMarker: map[string]string{},
		Entries:       []Marker{},
	}
}

// Title returns the title behind a marker such as "[2]".
func (m MarkerMap) Title(marker string) (string, bool) {
	title, ok := m.MarkerToTitle[marker]
	return title, ok
}

// Marker returns the first marker given to a title.
func (m MarkerMap) Marker(title string) (string, bool) {
	marker, ok := m.TitleToMarker[title]
	return marker, ok
}

// Line is one emitted item.
type Line struct {
	NodeID string `json:"nodeId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Marker string `json:"marker"`
}

// String renders the line as it appears in the text.
func (l Line) String() string {
	return l.Body + " " + l.Marker
}

// Section is one sequence: its heading and emitted lines.
type Section struct {
	AnchorID string `json:"anchorId"`
	Heading  string `json:"heading"`
	Lines    []Line `json:"lines"`
}

// Document is the result of a reconstruction.
type Document struct {
	Text        string              `json:"text"`
	Markers     MarkerMap           `json:"markers"`
	Sections    []Section           `json:"sections"`
	Skipped     []string            `json:"skipped"`
	Diagnostics []canvas.Diagnostic `json:"diagnostics"`
}

// Empty returns the document used when nothing could be reconstructed.
func Empty() Document {
	return Document{Markers: newMarkerMap(), Sections: []Section{}, Skipped: []string{}}
}

// FormatMarker renders marker number n.
func FormatMarker(n int) string {
	return "[" + strconv.Itoa(n) + "]"
}

// Build renders sequences in order. Each sequence opens with "## <title>";
// every following node with a non-blank title and body becomes one line
// "<body> [n]", n counting up across the whole document, with the body
// folded onto a single line. Nodes without both
// are listed in Skipped. Sections are separated by a blank line and trailing
// whitespace is trimmed. A title seen twice keeps its first marker.
func Build(seqs []sequence.Sequence) Document {
	doc := Empty()
	var b strings.Builder
	next := 1

	for i, seq := range seqs {
		if i > 0 {
			b.WriteString("\n")
		}
		section := Section{
			AnchorID: seq.Anchor.ID,
			Heading:  headingFor(seq.Anchor),
			Lines:    []Line{},
		}
		b.WriteString("## ")
		b.WriteString(section.Heading)
		b.WriteString("\n")

		for _, node := range seq.Items() {
			title := strings.TrimSpace(node.Data.Title)
			body := strings.Join(strings.Fields(node.Data.Body), " ")
			if title == "" || body == "" {
				doc.Skipped = append(doc.Skipped, node.ID)
				continue
			}
			marker := FormatMarker(next)
			line := Line{NodeID: node.ID, Title: title, Body: body, Marker: marker}
			section.Lines = append(section.Lines, line)
			b.WriteString(line.String())
			b.WriteString("\n")

			doc.Markers.MarkerToTitle[marker] = title
			if _, seen := doc.Markers.TitleToMarker[title]; !seen {
				doc.Markers.TitleToMarker[title] = marker
			}
			doc.Markers.Entries = append(doc.Markers.Entries, Marker{
				Marker: marker, Number: next, Title: title, NodeID: node.ID,
			})
			next++
		}
		doc.Sections = append(doc.Sections, section)
	}

	doc.Text = strings.TrimRight(b.String(), " \t\r\n")
	return doc
}

// FromResult renders a sequence result and carries its diagnostics along.
func FromResult(result sequence.Result) Document {
	doc := Build(result.Sequences)
	doc.Diagnostics = append(doc.Diagnostics, result.Diagnostics...)
	return doc
}

func headingFor(anchor canvas.Node) string {
	title := strings.TrimSpace(anchor.Data.Title)
	if title == "" {
		return UntitledHeading
	}
	return title
}
