package notion_test

import (
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/notion"
)

func productPage() *notion.Page {
	return &notion.Page{
		ID:             "page-1",
		URL:            "https://notion.so/page-1",
		LastEditedTime: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Properties: map[string]interface{}{
			"Name": notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: "Analytics Pro"}},
			},
			"Tags": notionapi.MultiSelectProperty{
				MultiSelect: []notionapi.Option{{Name: "analytics"}, {Name: "dashboard"}},
			},
			"Plan": notionapi.SelectProperty{Select: notionapi.Option{Name: "Enterprise"}},
		},
		Blocks: notion.Blocks{
			{Type: "heading_2", Text: "Features"},
			{Type: "bulleted_list_item", Text: "リアルタイムダッシュボード"},
			{Type: "bulleted_list_item", Text: "CSV export"},
			{Type: "paragraph", Text: "詳細はマニュアルを参照"},
		},
	}
}

func TestPage_Properties(t *testing.T) {
	page := productPage()
	gt.Value(t, page.Title()).Equal("Analytics Pro")
	gt.Value(t, page.PropertyText("Tags")).Equal("analytics, dashboard")
	gt.Value(t, page.PropertyText("Plan")).Equal("Enterprise")
	gt.Value(t, page.PropertyText("Missing")).Equal("")
}

func TestPage_Features(t *testing.T) {
	t.Run("from bulleted items", func(t *testing.T) {
		gt.Value(t, productPage().Features()).Equal([]string{"リアルタイムダッシュボード", "CSV export"})
	})

	t.Run("property takes precedence", func(t *testing.T) {
		page := productPage()
		page.Properties["Features"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: "SSO, audit log"}},
		}
		gt.Value(t, page.Features()).Equal([]string{"SSO", "audit log"})
	})
}

func TestToProductEntry(t *testing.T) {
	t.Run("converts page", func(t *testing.T) {
		page := productPage()
		entry, err := notion.ToProductEntry(page)
		gt.NoError(t, err).Required()

		gt.Value(t, entry.Kind).Equal(types.KnowledgeKindProductInfo)
		gt.Value(t, entry.ID).Equal(model.KnowledgeID("notion-page-1-1775034000"))
		gt.Value(t, entry.ProductInfo.Name).Equal("Analytics Pro")
		gt.Value(t, entry.ProductInfo.URL).Equal("https://notion.so/page-1")
		gt.Array(t, entry.ProductInfo.Features).Length(2)
		gt.String(t, entry.ProductInfo.Docs).Contains("## Features")
		gt.Bool(t, entry.HasTag("source:notion")).True()
		gt.Bool(t, entry.HasTag("dashboard")).True()
		gt.NoError(t, entry.Validate())
	})

	t.Run("new edit yields new ID", func(t *testing.T) {
		page := productPage()
		first := notion.ProductEntryID(page)
		page.LastEditedTime = page.LastEditedTime.Add(time.Hour)
		gt.Value(t, notion.ProductEntryID(page)).NotEqual(first)
	})

	t.Run("URL property overrides page URL", func(t *testing.T) {
		page := productPage()
		page.Properties["URL"] = notionapi.URLProperty{URL: "https://docs.example.com/analytics"}
		entry, err := notion.ToProductEntry(page)
		gt.NoError(t, err).Required()
		gt.Value(t, entry.ProductInfo.URL).Equal("https://docs.example.com/analytics")
	})

	t.Run("page without title is rejected", func(t *testing.T) {
		page := productPage()
		delete(page.Properties, "Name")
		_, err := notion.ToProductEntry(page)
		gt.Bool(t, model.IsInputError(err)).True()
	})
}
