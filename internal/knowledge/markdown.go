// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package knowledge

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Section is a heading and the text under it, up to the next heading of
// any level.
type Section struct {
	Title string
	Body  string
}

var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func parser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// SplitSections parses markdown and returns one Section per heading. Text
// before the first heading is titled fallbackTitle. Sections without body
// text are dropped.
func SplitSections(source []byte, fallbackTitle string) []Section {
	doc := parser().Parser().Parse(text.NewReader(source))

	var (
		sections []Section
		title    = fallbackTitle
		body     strings.Builder
	)
	flush := func() {
		if b := strings.TrimSpace(body.String()); b != "" {
			sections = append(sections, Section{Title: title, Body: b})
		}
		body.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			title = strings.TrimSpace(nodeText(h, source))
			if title == "" {
				title = fallbackTitle
			}
			continue
		}
		body.WriteString(nodeText(n, source))
		body.WriteString("\n")
	}
	flush()
	return sections
}

// nodeText flattens the text content of n. Code blocks keep their lines;
// inline markup is dropped.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			switch {
			case v.HardLineBreak():
				b.WriteString("\n")
			case v.SoftLineBreak():
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.Label(source))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
