package usecase

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

type seedFAQ struct {
	ID       string   `toml:"id"`
	Question string   `toml:"question"`
	Answer   string   `toml:"answer"`
	Tags     []string `toml:"tags"`
}

type seedCaseStudy struct {
	ID       string   `toml:"id"`
	Problem  string   `toml:"problem"`
	Solution string   `toml:"solution"`
	Steps    []string `toml:"steps"`
	Success  bool     `toml:"success"`
	Score    int      `toml:"score"`
	Tags     []string `toml:"tags"`
}

type seedProduct struct {
	ID       string   `toml:"id"`
	Name     string   `toml:"name"`
	Features []string `toml:"features"`
	Docs     string   `toml:"docs"`
	URL      string   `toml:"url"`
	Tags     []string `toml:"tags"`
}

type seedFile struct {
	FAQ       []seedFAQ       `toml:"faq"`
	CaseStudy []seedCaseStudy `toml:"case_study"`
	Product   []seedProduct   `toml:"product"`
}

// ParseSeed reads knowledge entries from a TOML document with [[faq]],
// [[case_study]] and [[product]] tables. Success patterns are learned, not
// seeded.
func ParseSeed(data []byte) ([]*model.KnowledgeEntry, error) {
	var file seedFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse seed file", goerr.T(model.TagParse))
	}

	var entries []*model.KnowledgeEntry
	for _, f := range file.FAQ {
		entries = append(entries, &model.KnowledgeEntry{
			ID:   model.KnowledgeID(f.ID),
			Kind: types.KnowledgeKindFAQ,
			Tags: f.Tags,
			FAQ:  &model.FAQ{Question: f.Question, Answer: f.Answer},
		})
	}
	for _, c := range file.CaseStudy {
		entries = append(entries, &model.KnowledgeEntry{
			ID:           model.KnowledgeID(c.ID),
			Kind:         types.KnowledgeKindCaseStudy,
			Tags:         c.Tags,
			SuccessScore: c.Score,
			CaseStudy: &model.CaseStudy{
				Problem:  c.Problem,
				Solution: c.Solution,
				Steps:    c.Steps,
				Success:  c.Success,
			},
		})
	}
	for _, p := range file.Product {
		entries = append(entries, &model.KnowledgeEntry{
			ID:   model.KnowledgeID(p.ID),
			Kind: types.KnowledgeKindProductInfo,
			Tags: p.Tags,
			ProductInfo: &model.ProductInfo{
				Name:     p.Name,
				Features: p.Features,
				Docs:     p.Docs,
				URL:      p.URL,
			},
		})
	}
	return entries, nil
}
