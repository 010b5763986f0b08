package notion

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// Property names recognized on a product documentation database
const (
	PropertyFeatures = "Features"
	PropertyTags     = "Tags"
	PropertyURL      = "URL"
)

// maxDocsLength caps the markdown stored as ProductInfo.Docs
const maxDocsLength = 4000

// Title returns the text of the page title property
func (p *Page) Title() string {
	for _, prop := range p.Properties {
		if t, ok := prop.(notionapi.TitleProperty); ok {
			return strings.TrimSpace(plainText(t.Title))
		}
	}
	return ""
}

// PropertyText renders a property as plain text. Multi-valued properties are
// joined with ", ". Missing properties yield "".
func (p *Page) PropertyText(name string) string {
	prop, ok := p.Properties[name]
	if !ok {
		return ""
	}
	return strings.Join(propertyValues(prop), ", ")
}

func propertyValues(prop interface{}) []string {
	switch v := prop.(type) {
	case notionapi.TitleProperty:
		return []string{plainText(v.Title)}
	case notionapi.RichTextProperty:
		return []string{plainText(v.RichText)}
	case notionapi.SelectProperty:
		return []string{v.Select.Name}
	case notionapi.StatusProperty:
		return []string{v.Status.Name}
	case notionapi.MultiSelectProperty:
		out := make([]string, 0, len(v.MultiSelect))
		for _, o := range v.MultiSelect {
			out = append(out, o.Name)
		}
		return out
	case notionapi.NumberProperty:
		return []string{fmt.Sprint(v.Number)}
	case notionapi.CheckboxProperty:
		return []string{fmt.Sprint(v.Checkbox)}
	case notionapi.URLProperty:
		return []string{v.URL}
	}
	return nil
}

// derefProperty normalizes the pointer properties returned by the API to
// values so that page helpers match on a single form
func derefProperty(prop notionapi.Property) interface{} {
	switch v := prop.(type) {
	case *notionapi.TitleProperty:
		return *v
	case *notionapi.RichTextProperty:
		return *v
	case *notionapi.SelectProperty:
		return *v
	case *notionapi.StatusProperty:
		return *v
	case *notionapi.MultiSelectProperty:
		return *v
	case *notionapi.NumberProperty:
		return *v
	case *notionapi.CheckboxProperty:
		return *v
	case *notionapi.URLProperty:
		return *v
	}
	return prop
}

func plainText(rts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range rts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// Features returns the feature list of a page: the Features property when
// present, otherwise the top level bulleted items of the body
func (p *Page) Features() []string {
	if prop, ok := p.Properties[PropertyFeatures]; ok {
		var out []string
		for _, v := range propertyValues(prop) {
			for _, f := range strings.Split(v, ",") {
				if f = strings.TrimSpace(f); f != "" {
					out = append(out, f)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	var out []string
	for _, b := range p.Blocks {
		if b.Type != "bulleted_list_item" {
			continue
		}
		if text := strings.TrimSpace(b.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// ProductEntryID derives the knowledge ID of an imported page revision. A
// newer edit of the same page yields a new ID and supersedes the old entry.
func ProductEntryID(p *Page) model.KnowledgeID {
	return model.KnowledgeID(fmt.Sprintf("notion-%s-%d", p.ID, p.LastEditedTime.Unix()))
}

// ToProductEntry converts a documentation page to a product knowledge entry
func ToProductEntry(p *Page) (*model.KnowledgeEntry, error) {
	name := p.Title()
	if name == "" {
		return nil, goerr.New("notion page has no title", goerr.T(model.TagInput), goerr.V("pageID", p.ID))
	}

	docs := p.Blocks.Render()
	if r := []rune(docs); len(r) > maxDocsLength {
		docs = string(r[:maxDocsLength])
	}

	url := p.PropertyText(PropertyURL)
	if url == "" {
		url = p.URL
	}

	tags := []string{"source:notion"}
	if prop, ok := p.Properties[PropertyTags]; ok {
		for _, t := range propertyValues(prop) {
			if t != "" && !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}

	entry := &model.KnowledgeEntry{
		ID:        ProductEntryID(p),
		Kind:      types.KnowledgeKindProductInfo,
		Tags:      tags,
		CreatedAt: p.LastEditedTime,
		ProductInfo: &model.ProductInfo{
			Name:     name,
			Features: p.Features(),
			Docs:     strings.TrimSpace(docs),
			URL:      url,
		},
	}
	if err := entry.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid product entry", goerr.V("pageID", p.ID))
	}
	return entry, nil
}
