package notion

import (
	"context"
	"iter"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

type client struct {
	api *notionapi.Client
}

// New creates a new Notion service with the provided API token
func New(token string) (Service, error) {
	if token == "" {
		return nil, goerr.New("Notion API token is required", goerr.T(model.TagInput))
	}

	return &client{
		api: notionapi.NewClient(
			notionapi.Token(token),
			notionapi.WithRetry(3), // Retry up to 3 times on rate limit (HTTP 429)
		),
	}, nil
}

// QueryUpdatedPages retrieves product documentation pages edited on or after since
func (c *client) QueryUpdatedPages(ctx context.Context, dbID string, since time.Time) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		var cursor notionapi.Cursor

		for {
			onOrAfter := notionapi.Date(since)
			resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), &notionapi.DatabaseQueryRequest{
				Filter: &notionapi.TimestampFilter{
					Timestamp: "last_edited_time",
					LastEditedTime: &notionapi.DateFilterCondition{
						OnOrAfter: &onOrAfter,
					},
				},
				StartCursor: cursor,
				PageSize:    100,
			})

			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to query database", goerr.V("dbID", dbID), goerr.V("since", since), goerr.T(model.TagExternal)))
				return
			}

			for _, obj := range resp.Results {
				if obj.Archived {
					continue
				}
				page, err := c.fetchPage(ctx, obj.ID.String())
				if err != nil {
					if !yield(nil, err) {
						return
					}
					continue
				}

				if !yield(page, nil) {
					return
				}
			}

			if !resp.HasMore {
				break
			}
			cursor = resp.NextCursor
		}
	}
}

func (c *client) fetchPage(ctx context.Context, pageID string) (*Page, error) {
	pageObj, err := c.api.Page.Get(ctx, notionapi.PageID(pageID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get page", goerr.V("pageID", pageID), goerr.T(model.TagExternal))
	}

	blocks, err := c.fetchBlocks(ctx, pageID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch page blocks", goerr.V("pageID", pageID))
	}

	props := make(map[string]interface{}, len(pageObj.Properties))
	for key, prop := range pageObj.Properties {
		props[key] = derefProperty(prop)
	}

	page := &Page{
		ID:             pageObj.ID.String(),
		Properties:     props,
		Blocks:         blocks,
		CreatedTime:    time.Time(pageObj.CreatedTime),
		LastEditedTime: time.Time(pageObj.LastEditedTime),
		URL:            pageObj.URL,
	}

	return page, nil
}

func (c *client) fetchBlocks(ctx context.Context, blockID string) (Blocks, error) {
	var blocks Blocks
	var cursor notionapi.Cursor

	for {
		resp, err := c.api.Block.GetChildren(ctx, notionapi.BlockID(blockID), &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    100,
		})

		if err != nil {
			return nil, goerr.Wrap(err, "failed to get block children", goerr.V("blockID", blockID), goerr.T(model.TagExternal))
		}

		for _, blockObj := range resp.Results {
			block, err := c.convertBlock(ctx, blockObj)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read block", goerr.V("blockID", blockObj.GetID()))
			}
			blocks = append(blocks, block)
		}

		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	return blocks, nil
}

func (c *client) convertBlock(ctx context.Context, blockObj notionapi.Block) (Block, error) {
	block := Block{
		ID:   blockObj.GetID().String(),
		Type: string(blockObj.GetType()),
	}

	switch b := blockObj.(type) {
	case *notionapi.ParagraphBlock:
		block.Text = flatten(b.Paragraph.RichText)
	case *notionapi.Heading1Block:
		block.Text = flatten(b.Heading1.RichText)
	case *notionapi.Heading2Block:
		block.Text = flatten(b.Heading2.RichText)
	case *notionapi.Heading3Block:
		block.Text = flatten(b.Heading3.RichText)
	case *notionapi.BulletedListItemBlock:
		block.Text = flatten(b.BulletedListItem.RichText)
	case *notionapi.NumberedListItemBlock:
		block.Text = flatten(b.NumberedListItem.RichText)
	case *notionapi.CodeBlock:
		block.Text = flatten(b.Code.RichText)
	case *notionapi.QuoteBlock:
		block.Text = flatten(b.Quote.RichText)
	case *notionapi.CalloutBlock:
		block.Text = flatten(b.Callout.RichText)
	case *notionapi.ToggleBlock:
		block.Text = flatten(b.Toggle.RichText)
	case *notionapi.ToDoBlock:
		block.Text = flatten(b.ToDo.RichText)
		block.Checked = b.ToDo.Checked
	}

	if blockObj.GetHasChildren() {
		children, err := c.fetchBlocks(ctx, blockObj.GetID().String())
		if err != nil {
			return block, goerr.Wrap(err, "failed to fetch child blocks", goerr.V("blockID", blockObj.GetID()))
		}
		block.Children = children
	}
	return block, nil
}
