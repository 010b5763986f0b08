package rag

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/augmented.md
var augmentedPromptTmpl string

//go:embed prompt/system.md
var systemPrompt string

var augmentedPrompt = template.Must(template.New("augmented").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(augmentedPromptTmpl))

// BuildAugmentedPrompt renders the query with its retrieved context
func BuildAugmentedPrompt(query string, rc *Context) (string, error) {
	data := struct {
		Query string
		Items []Item
	}{Query: query}
	if rc != nil {
		data.Items = rc.RankedInformation
	}

	var buf bytes.Buffer
	if err := augmentedPrompt.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render augmented prompt")
	}
	return buf.String(), nil
}
