package notion_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/service/notion"
)

func TestParseDatabaseID(t *testing.T) {
	const want = "a1b2c3d4-e5f6-a7b8-c9d0-e1f2a3b4c5d6"

	valid := map[string]string{
		"raw hex":            "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		"dashed":             want,
		"uppercase":          "A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6",
		"padded":             "  a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6  ",
		"url with title":     "https://www.notion.so/acme/Product-Docs-a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6?v=abc",
		"url without www":    "https://notion.so/acme/a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		"url trailing slash": "https://www.notion.so/a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6/",
		"url dashed id":      "https://www.notion.so/acme/a1b2c3d4-e5f6-a7b8-c9d0-e1f2a3b4c5d6",
	}
	for name, input := range valid {
		t.Run(name, func(t *testing.T) {
			got, err := notion.ParseDatabaseID(input)
			gt.NoError(t, err).Required()
			gt.Value(t, got).Equal(want)
		})
	}

	invalid := map[string]string{
		"empty":        "",
		"blank":        "   ",
		"short":        "a1b2c3d4",
		"non hex":      "g1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		"other host":   "https://example.com/a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		"no id in url": "https://www.notion.so/acme/some-page",
	}
	for name, input := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := notion.ParseDatabaseID(input)
			gt.Bool(t, errors.Is(err, notion.ErrInvalidDatabaseID)).True()
		})
	}
}
