package loader

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// extractMarkdown parses the source with goldmark and renders the block
// structure back as plain text: heading text on its own line, paragraph and
// code content verbatim, blocks separated by blank lines. Fenced code keeps
// its braces intact so the chunker can recognise code regions.
func extractMarkdown(source []byte) (string, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var block string
		switch n := node.(type) {
		case *ast.Heading:
			block = extractText(n, source)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			block = rawLines(node, source)
		case *ast.List:
			var items []string
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				if t := extractText(item, source); t != "" {
					items = append(items, t)
				}
			}
			block = strings.Join(items, "\n")
		case *ast.ThematicBreak:
			continue
		default:
			block = extractText(node, source)
			if block == "" {
				block = rawLines(node, source)
			}
		}
		block = strings.TrimRight(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n"), nil
}

// extractText collects the plain text beneath a node.
func extractText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if textNode, ok := n.(*ast.Text); ok {
				buf.Write(textNode.Segment.Value(source))
				if textNode.SoftLineBreak() || textNode.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// rawLines returns a node's source lines verbatim.
func rawLines(node ast.Node, source []byte) string {
	lines, ok := node.(interface{ Lines() *text.Segments })
	if !ok {
		return ""
	}
	segs := lines.Lines()
	if segs.Len() == 0 {
		return ""
	}
	var buf bytes.Buffer
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimSpace(buf.String())
}
