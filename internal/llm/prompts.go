package llm

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed prompts/*.txt
var promptFiles embed.FS

// PromptTemplate returns the raw text of an embedded prompt and whether it exists.
func PromptTemplate(name string) (string, bool) {
	data, err := promptFiles.ReadFile("prompts/" + name + ".txt")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// RenderPrompt executes an embedded prompt as a text/template with data.
func RenderPrompt(name string, data any) (string, error) {
	raw, ok := PromptTemplate(name)
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse prompt %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}
