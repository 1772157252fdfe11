// Command docgen renders a Markdown reference page for every registered
// module. Input tables combine the reflected yaml fields with the field
// comments in the module sources and the richer descriptions modules
// provide through the doc interfaces.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg"
	_ "github.com/AlexanderGrooff/drover/pkg/modules"
)

// fieldComments maps struct name to field name to the comment attached to
// that field, for every struct in the module sources.
type fieldComments map[string]map[string]string

// collectFieldComments parses the module source directory once and gathers
// all struct field comments. Parse failures yield an empty map; the doc
// tables then simply have no source-derived descriptions.
func collectFieldComments(dir string) fieldComments {
	all := fieldComments{}
	fset := token.NewFileSet()
	parsed, err := parser.ParseDir(fset, dir, nil, parser.ParseComments)
	if err != nil {
		return all
	}
	for _, p := range parsed {
		for _, file := range p.Files {
			ast.Inspect(file, func(n ast.Node) bool {
				spec, ok := n.(*ast.TypeSpec)
				if !ok {
					return true
				}
				structType, ok := spec.Type.(*ast.StructType)
				if !ok {
					return true
				}
				for _, field := range structType.Fields.List {
					if len(field.Names) == 0 {
						continue
					}
					text := field.Comment.Text()
					if text == "" {
						text = field.Doc.Text()
					}
					if text = strings.TrimSpace(text); text != "" {
						byField := all[spec.Name.Name]
						if byField == nil {
							byField = map[string]string{}
							all[spec.Name.Name] = byField
						}
						byField[field.Names[0].Name] = text
					}
				}
				return true
			})
		}
	}
	return all
}

// yamlName returns the wire name of a struct field, or "" when the field is
// not part of the module's yaml surface.
func yamlName(sf reflect.StructField) string {
	if sf.PkgPath != "" || sf.Anonymous {
		return ""
	}
	tag, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
	if tag == "-" {
		return ""
	}
	return tag
}

// renderType spells a reflect type the way the docs present types.
func renderType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice:
		return "[" + renderType(t.Elem()) + "]"
	case reflect.Map:
		return "map[" + renderType(t.Key()) + "]" + renderType(t.Elem())
	case reflect.Interface:
		return "any"
	case reflect.Struct:
		return t.Name()
	default:
		return t.String()
	}
}

type paramRow struct {
	Name        string
	Type        string
	Description string
	Required    string
	Default     string
}

// inputRows builds the parameter table for one module, preferring the
// module's own ParameterDocs over comments scraped from the source.
func inputRows(mod pkg.Module, comments fieldComments) []paramRow {
	t := mod.InputType()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var paramDocs map[string]pkg.ParameterDoc
	if provider, ok := mod.(pkg.ParameterDocsProvider); ok {
		paramDocs = provider.ParameterDocs()
	}
	byField := comments[t.Name()]

	var rows []paramRow
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := yamlName(sf)
		if name == "" {
			continue
		}
		row := paramRow{
			Name:        name,
			Type:        renderType(sf.Type),
			Description: strings.ReplaceAll(byField[sf.Name], "\n", " "),
		}
		if doc, ok := paramDocs[name]; ok {
			if doc.Description != "" {
				row.Description = doc.Description
			}
			if doc.Required != nil {
				row.Required = fmt.Sprintf("%t", *doc.Required)
			}
			row.Default = doc.Default
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func renderPage(name string, mod pkg.Module, rows []paramRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s module\n\n", name)

	if provider, ok := mod.(pkg.DocProvider); ok {
		if text := strings.TrimSpace(provider.Doc()); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("**Inputs**\n\n")
	if len(rows) == 0 {
		b.WriteString("No input parameters.\n\n")
		return b.String()
	}
	b.WriteString("| Parameter | Type | Description | Required | Default |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			row.Name, row.Type, row.Description, row.Required, row.Default)
	}
	b.WriteString("\n")
	return b.String()
}

func main() {
	repoRoot := flag.String("repo", ".", "path to the repo root")
	docsDir := flag.String("out", "docs/modules", "output docs directory")
	only := flag.String("only", "", "generate only this module")
	flag.Parse()

	comments := collectFieldComments(filepath.Join(*repoRoot, "pkg", "modules"))
	if err := os.MkdirAll(*docsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "docgen: %v\n", err)
		os.Exit(1)
	}

	// Modules register under both bare and collection-prefixed names; one
	// page per bare name is enough.
	pages := map[string]pkg.Module{}
	for _, name := range pkg.RegisteredModuleNames() {
		if *only != "" && name != *only {
			continue
		}
		base := name[strings.LastIndex(name, ".")+1:]
		if _, done := pages[base]; done {
			continue
		}
		if mod, ok := pkg.GetModule(name); ok {
			pages[base] = mod
		}
	}

	names := make([]string, 0, len(pages))
	for base := range pages {
		names = append(names, base)
	}
	sort.Strings(names)

	for _, base := range names {
		mod := pages[base]
		page := renderPage(base, mod, inputRows(mod, comments))
		target := filepath.Join(*docsDir, base+".md")
		if err := os.WriteFile(target, []byte(page), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "docgen: writing %s: %v\n", target, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", target)
	}
}
