// Package tmplx renders the configurable text templates of the gateway:
// backend routes and user facing notices.
package tmplx

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

var (
	ErrParseTemplate  = errors.New("tmplx: parse error")
	ErrRenderTemplate = errors.New("tmplx: render error")
	ErrMissingField   = errors.New("tmplx: missing field")
)

var funcs = template.FuncMap{
	"default":    orDefault,
	"json":       toJSON,
	"jsonGet":    func(path, raw string) string { return gjson.Get(raw, path).String() },
	"pathEscape": func(v any) string { return url.PathEscape(cast.ToString(v)) },
	"query":      query,
	"hasPrefix":  func(s, prefix any) bool { return strings.HasPrefix(cast.ToString(s), cast.ToString(prefix)) },
}

type Template struct {
	t      *template.Template
	fields []string
}

type Option func(*options)

type options struct {
	required []string
	extra    template.FuncMap
}

// WithRequiredFields fails Parse unless the template reads every field.
func WithRequiredFields(fields ...string) Option {
	return func(o *options) { o.required = append(o.required, fields...) }
}

func WithFunc(name string, fn any) Option {
	return func(o *options) {
		if o.extra == nil {
			o.extra = template.FuncMap{}
		}
		o.extra[name] = fn
	}
}

func Parse(name, text string, opts ...Option) (*Template, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	t, err := template.New(name).Option("missingkey=zero").Funcs(funcs).Funcs(o.extra).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseTemplate, err)
	}
	tmpl := &Template{t: t, fields: fieldsOf(t)}
	for _, f := range o.required {
		if !slices.Contains(tmpl.fields, f) {
			return nil, fmt.Errorf("%w: %s does not use .%s", ErrMissingField, name, f)
		}
	}
	return tmpl, nil
}

func MustParse(name, text string, opts ...Option) *Template {
	t, err := Parse(name, text, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) Name() string { return t.t.Name() }

// Fields lists the top level fields the template reads, in order of first use.
func (t *Template) Fields() []string { return slices.Clone(t.fields) }

// RenderString executes the template and trims surrounding whitespace.
func (t *Template) RenderString(data any) (string, error) {
	var sb strings.Builder
	if err := t.t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRenderTemplate, t.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func fieldsOf(t *template.Template) []string {
	fields := []string{}
	if t.Tree == nil {
		return fields
	}
	var walk func(parse.Node)
	walk = func(n parse.Node) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c)
			}
		case *parse.ActionNode:
			walk(n.Pipe)
		case *parse.IfNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.RangeNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.WithNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.TemplateNode:
			walk(n.Pipe)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, c := range n.Cmds {
				walk(c)
			}
		case *parse.CommandNode:
			for _, a := range n.Args {
				walk(a)
			}
		case *parse.ChainNode:
			walk(n.Node)
		case *parse.FieldNode:
			if !slices.Contains(fields, n.Ident[0]) {
				fields = append(fields, n.Ident[0])
			}
		}
	}
	walk(t.Tree.Root)
	return fields
}

func orDefault(def, v any) any {
	if v == nil || v == "" {
		return def
	}
	return v
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// query encodes alternating key value pairs. A trailing key gets an empty
// value.
func query(kv ...any) string {
	q := url.Values{}
	for i := 0; i < len(kv); i += 2 {
		var v string
		if i+1 < len(kv) {
			v = cast.ToString(kv[i+1])
		}
		q.Add(cast.ToString(kv[i]), v)
	}
	return q.Encode()
}
