// Package e2e provides end-to-end tests that drive the HTTP API with a generated code corpus.
package e2e

import (
	"fmt"
	"strings"
)

// CodeFile is one source file in the corpus.
type CodeFile struct {
	Name     string
	FileType string
	Content  string
}

// QueryCase is a question whose best match must come from ExpectedDocument.
type QueryCase struct {
	Query            string
	ExpectedDocument string
}

// Corpus holds the files to upload and the queries to run against them.
type Corpus struct {
	Files []CodeFile
	Cases []QueryCase
}

type template struct {
	ext      string
	fileType string
	body     func(name string, i int) string
}

var templates = []template{
	{".go", "go", func(name string, i int) string {
		return fmt.Sprintf("package %s\n\n// %s returns the %d-th retry delay.\nfunc %s(attempt int) int {\n\treturn attempt * %d\n}", name, capitalize(name), i, capitalize(name), i+1)
	}},
	{".py", "python", func(name string, i int) string {
		return fmt.Sprintf("def %s(items):\n    \"\"\"Filter items above %d.\"\"\"\n    return [x for x in items if x > %d]", name, i, i)
	}},
	{".ts", "typescript", func(name string, i int) string {
		return fmt.Sprintf("export function %s(user: string): boolean {\n  return user.length > %d;\n}", name, i)
	}},
	{".java", "java", func(name string, i int) string {
		return fmt.Sprintf("public class %s {\n    public int limit() { return %d; }\n}", capitalize(name), i)
	}},
	{".sql", "sql", func(name string, i int) string {
		return fmt.Sprintf("SELECT id, name FROM %s WHERE version = %d;", name, i)
	}},
}

var subjects = []string{
	"backoff", "tokenize", "authorize", "paginate", "throttle",
	"serialize", "migrate", "checksum", "schedule", "resolve",
}

// BuildCorpus returns n generated files, cycling through languages and subjects, with one
// query per file that quotes the file in full.
func BuildCorpus(n int) *Corpus {
	c := &Corpus{}
	for i := 0; i < n; i++ {
		tpl := templates[i%len(templates)]
		name := fmt.Sprintf("%s%d", subjects[i%len(subjects)], i)
		file := CodeFile{
			Name:     name + tpl.ext,
			FileType: tpl.fileType,
			Content:  tpl.body(name, i),
		}
		c.Files = append(c.Files, file)
		c.Cases = append(c.Cases, QueryCase{Query: file.Content, ExpectedDocument: file.Name})
	}
	return c
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
