package tplengine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// emptyIfMissingFunc is appended to every printing action so that missing or
// nil values render as empty strings.
const emptyIfMissingFunc = "__idcEmptyIfMissing"

// GoTemplateEngine renders text/template strings with the sprig function map.
// Missing keys, including chained lookups through a missing key, render as
// empty strings.
type GoTemplateEngine struct {
	cache *lru.Cache[string, *template.Template]
}

func NewGoTemplateEngine(cacheSize int) (*GoTemplateEngine, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}
	return &GoTemplateEngine{cache: cache}, nil
}

// HasTemplate returns true if the string contains template markers
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func (e *GoTemplateEngine) Evaluate(_ context.Context, expr string, data any) (any, error) {
	if !HasTemplate(expr) {
		return expr, nil
	}
	tmpl, err := e.parse(expr)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

func (e *GoTemplateEngine) parse(expr string) (*template.Template, error) {
	if tmpl, ok := e.cache.Get(expr); ok {
		return tmpl, nil
	}
	funcs := sprig.TxtFuncMap()
	funcs[emptyIfMissingFunc] = emptyIfMissing
	tmpl, err := template.New("inline").Funcs(funcs).Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			guardActions(t.Tree.Root, t.Tree)
		}
	}
	e.cache.Add(expr, tmpl)
	return tmpl, nil
}

func emptyIfMissing(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// guardActions pipes the result of every printing action through
// emptyIfMissing. Declarations and assignments are left untouched.
func guardActions(node parse.Node, tree *parse.Tree) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			guardActions(child, tree)
		}
	case *parse.ActionNode:
		if n.Pipe == nil || len(n.Pipe.Decl) > 0 {
			return
		}
		pos := n.Pipe.Position()
		n.Pipe.Cmds = append(n.Pipe.Cmds, &parse.CommandNode{
			NodeType: parse.NodeCommand,
			Pos:      pos,
			Args:     []parse.Node{parse.NewIdentifier(emptyIfMissingFunc).SetTree(tree).SetPos(pos)},
		})
	case *parse.IfNode:
		guardActions(n.List, tree)
		guardActions(n.ElseList, tree)
	case *parse.RangeNode:
		guardActions(n.List, tree)
		guardActions(n.ElseList, tree)
	case *parse.WithNode:
		guardActions(n.List, tree)
		guardActions(n.ElseList, tree)
	}
}
