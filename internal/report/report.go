// Package report renders a finished run into a markdown document and,
// through goldmark, into a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/harrison/tripsmith/internal/models"
	"github.com/harrison/tripsmith/internal/store"
)

// Generator renders run results. Safe for reuse across runs.
type Generator struct {
	markdown goldmark.Markdown
}

func NewGenerator() *Generator {
	return &Generator{
		markdown: goldmark.New(),
	}
}

// Markdown builds the report document for a run. Sections appear in
// registry order; producers with no section record are listed as
// unavailable alongside the failed ones.
func (g *Generator) Markdown(run *models.Run, outcomes []models.TaskOutcome, errs []models.RunError, order []string) string {
	var sb strings.Builder

	destination := run.Subject["destination_country"]
	if destination == "" {
		destination = "Unknown Destination"
	}

	fmt.Fprintf(&sb, "# Trip Report: %s\n\n", destination)
	fmt.Fprintf(&sb, "- **Run**: %s\n", run.ID)
	fmt.Fprintf(&sb, "- **Status**: %s\n", run.Status)
	if from, to := run.Subject["departure_date"], run.Subject["return_date"]; from != "" || to != "" {
		fmt.Fprintf(&sb, "- **Dates**: %s to %s\n", from, to)
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&sb, "- **Completed**: %s\n", run.CompletedAt.UTC().Format(time.RFC3339))
	}
	sb.WriteString("\n")

	byName := make(map[string]models.TaskOutcome, len(outcomes))
	for _, o := range outcomes {
		byName[o.ProducerName] = o
	}

	var unavailable []string
	for _, name := range orderedNames(outcomes, order) {
		o, ok := byName[name]
		if !ok || !o.Succeeded() {
			unavailable = append(unavailable, name)
			continue
		}
		writeSection(&sb, o)
	}

	if len(unavailable) > 0 {
		sb.WriteString("## Unavailable Sections\n\n")
		for _, name := range unavailable {
			if o, ok := byName[name]; ok && o.ErrorMessage != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", store.TitleFor(name), o.ErrorMessage)
			} else {
				fmt.Fprintf(&sb, "- %s\n", store.TitleFor(name))
			}
		}
		sb.WriteString("\n")
	}

	if len(errs) > 0 {
		sb.WriteString("## Run Errors\n\n")
		for _, e := range errs {
			if e.ProducerName != "" {
				fmt.Fprintf(&sb, "- `%s`: %s\n", e.ProducerName, e.Message)
			} else {
				fmt.Fprintf(&sb, "- %s\n", e.Message)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// HTML renders the markdown report into a self-contained HTML page.
func (g *Generator) HTML(run *models.Run, outcomes []models.TaskOutcome, errs []models.RunError, order []string) ([]byte, error) {
	md := g.Markdown(run, outcomes, errs, order)

	var body bytes.Buffer
	if err := g.markdown.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render report for run %s: %w", run.ID, err)
	}

	destination := run.Subject["destination_country"]
	if destination == "" {
		destination = run.ID
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Trip Report: %s</title>\n</head>\n<body>\n", html.EscapeString(destination))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// writeSection renders one successful section. Payloads carrying a
// "markdown" string are embedded as-is; everything else becomes a
// key-sorted bullet list.
func writeSection(sb *strings.Builder, o models.TaskOutcome) {
	fmt.Fprintf(sb, "## %s\n\n", store.TitleFor(o.ProducerName))

	if md, ok := o.Payload["markdown"].(string); ok && md != "" {
		sb.WriteString(strings.TrimRight(md, "\n"))
		sb.WriteString("\n\n")
	} else if len(o.Payload) > 0 {
		keys := make([]string, 0, len(o.Payload))
		for k := range o.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(sb, "- **%s**: %v\n", k, o.Payload[k])
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(sb, "_Confidence: %d%%_\n\n", models.ScaleConfidence(o.Confidence))

	if len(o.Sources) > 0 {
		sb.WriteString("Sources:\n\n")
		for _, src := range o.Sources {
			title := src.Title
			if title == "" {
				title = src.URL
			}
			fmt.Fprintf(sb, "- [%s](%s)\n", title, src.URL)
		}
		sb.WriteString("\n")
	}
}

// orderedNames returns producer names in the given registry order,
// followed by any stored producers the order does not mention, sorted.
func orderedNames(outcomes []models.TaskOutcome, order []string) []string {
	seen := make(map[string]bool, len(order))
	names := make([]string, 0, len(order))
	for _, name := range order {
		names = append(names, name)
		seen[name] = true
	}

	var extra []string
	for _, o := range outcomes {
		if !seen[o.ProducerName] {
			seen[o.ProducerName] = true
			extra = append(extra, o.ProducerName)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
