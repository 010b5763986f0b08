package notion

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Service reads product documentation pages from a Notion database
type Service interface {
	// QueryUpdatedPages yields pages of dbID edited on or after since
	QueryUpdatedPages(ctx context.Context, dbID string, since time.Time) iter.Seq2[*Page, error]
}

// Page is a documentation page with its properties and body
type Page struct {
	ID             string
	Properties     map[string]interface{}
	Blocks         Blocks
	CreatedTime    time.Time
	LastEditedTime time.Time
	URL            string
}

// Block is a text-bearing body block. Text is already flattened from rich
// text; links are kept as "text (url)".
type Block struct {
	ID       string
	Type     string
	Text     string
	Checked  bool
	Children Blocks
}

type Blocks []Block

var blockPrefix = map[string]string{
	"heading_1":          "# ",
	"heading_2":          "## ",
	"heading_3":          "### ",
	"bulleted_list_item": "- ",
	"quote":              "> ",
	"callout":            "> ",
}

// Render flattens blocks to the outline stored as product docs. Nested
// blocks are indented by two spaces per level; numbering restarts after
// any non-numbered block and inside every nesting level.
func (b Blocks) Render() string {
	var sb strings.Builder
	b.render(&sb, "")
	return sb.String()
}

func (b Blocks) render(sb *strings.Builder, indent string) {
	n := 0
	for _, block := range b {
		if block.Type == "numbered_list_item" {
			n++
		} else {
			n = 0
		}

		switch block.Type {
		case "divider":
			sb.WriteString(indent + "---\n")
		case "code":
			fmt.Fprintf(sb, "%s```\n%s%s\n%s```\n", indent, indent, block.Text, indent)
		case "numbered_list_item":
			fmt.Fprintf(sb, "%s%d. %s\n", indent, n, block.Text)
		case "to_do":
			mark := " "
			if block.Checked {
				mark = "x"
			}
			fmt.Fprintf(sb, "%s- [%s] %s\n", indent, mark, block.Text)
		default:
			prefix, ok := blockPrefix[block.Type]
			if ok || block.Text != "" {
				sb.WriteString(indent + prefix + block.Text + "\n")
			}
		}

		block.Children.render(sb, indent+"  ")
	}
}

func flatten(rts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range rts {
		sb.WriteString(rt.PlainText)
		if rt.Href != "" && rt.Href != rt.PlainText {
			fmt.Fprintf(&sb, " (%s)", rt.Href)
		}
	}
	return sb.String()
}
