// ABOUTME: Renders the tool manual served at / from Markdown with goldmark.
// ABOUTME: Built once at startup from the registered packs and configured rooms.

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/roborock-gateway/internal/packs"
)

var manualPage = template.Must(template.New("manual").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>roborock-gateway</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; vertical-align: top; }
code { background: #f4f4f4; padding: 0 0.2rem; }
</style>
</head>
<body>
{{.}}
</body>
</html>
`))

// manualMarkdown builds the Markdown source of the tool manual.
func manualMarkdown(registry *packs.Registry, rooms map[string]int, version string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# roborock-gateway %s\n\n", version)
	b.WriteString("Controls one Roborock vacuum over MCP. Connect an agent to `/mcp` ")
	b.WriteString("(or `/mcp/<token>`). Every command reuses one device session; a failed ")
	b.WriteString("command resets it and the next command logs in again.\n\n")

	for _, pack := range registry.Packs() {
		fmt.Fprintf(&b, "## %s\n\n", pack.ID)
		b.WriteString("| Tool | Arguments | Capabilities | Description |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, tool := range pack.Tools {
			def := tool.Definition
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n",
				def.GetName(),
				schemaArguments(def.InputSchemaJSON),
				strings.Join(def.GetRequiredCapabilities(), ", "),
				escapeCell(def.Description),
			)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rooms\n\n")
	if len(rooms) == 0 {
		b.WriteString("No rooms configured. Add a `rooms` section mapping names to segment ids.\n")
		return b.String()
	}
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString("| Room | Segment |\n|---|---|\n")
	for _, name := range names {
		fmt.Fprintf(&b, "| %s | %d |\n", escapeCell(name), rooms[name])
	}
	return b.String()
}

// schemaArguments lists the property names of a JSON object schema.
func schemaArguments(schema string) string {
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal([]byte(schema), &s); err != nil || len(s.Properties) == 0 {
		return "none"
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	args := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		if required[name] {
			args = append(args, "`"+name+"`")
		} else {
			args = append(args, "`"+name+"`?")
		}
	}
	sort.Strings(args)
	return strings.Join(args, ", ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// renderManual converts the manual to a complete HTML page.
func renderManual(registry *packs.Registry, rooms map[string]int, version string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := md.Convert([]byte(manualMarkdown(registry, rooms, version)), &body); err != nil {
		return nil, fmt.Errorf("converting manual: %w", err)
	}

	var page bytes.Buffer
	if err := manualPage.Execute(&page, template.HTML(body.String())); err != nil {
		return nil, fmt.Errorf("rendering manual: %w", err)
	}
	return page.Bytes(), nil
}

// handleManual serves the rendered manual at exactly "/".
func (g *Gateway) handleManual(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(g.manual)
}
