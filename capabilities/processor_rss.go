package capabilities

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
)

// RSSProcessor parses RSS and Atom documents into entry descriptors.
type RSSProcessor struct {
	parser *gofeed.Parser
}

func NewRSSProcessor() *RSSProcessor {
	return &RSSProcessor{
		parser: gofeed.NewParser(),
	}
}

func (p *RSSProcessor) Process(_ context.Context, raw []byte) ([]Item, error) {
	parsed, err := p.parser.ParseString(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failure parsing feed document")
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, feedItem := range parsed.Items {
		uid := feedItem.GUID
		if uid == "" {
			uid = feedItem.Link
		}

		var publishedAt time.Time
		if feedItem.PublishedParsed != nil {
			publishedAt = *feedItem.PublishedParsed
		}

		data := ItemData{
			Title:       feedItem.Title,
			Link:        feedItem.Link,
			Description: feedItem.Description,
		}
		if feedItem.Image != nil {
			data.ImageURL = feedItem.Image.URL
		}

		rawData, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrap(err, "failure encoding entry data")
		}

		items = append(items, Item{
			UID:         uid,
			PublishedAt: publishedAt,
			RawData:     rawData,
		})
	}

	return items, nil
}
