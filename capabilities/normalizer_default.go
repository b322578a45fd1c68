package capabilities

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"gitlab.com/Refeed/Worker/feed"
)

const maxContentLength = 1500

// DefaultNormalizer builds a post from the ItemData payload written by the
// built-in processors: title plus trimmed description as the body, the
// source link as a comment.
type DefaultNormalizer struct{}

func (n *DefaultNormalizer) Normalize(_ context.Context, f *feed.Feed, entry *feed.Entry) (*feed.Post, error) {
	var data ItemData

	err := json.Unmarshal(entry.RawData.RawMessage, &data)
	if err != nil {
		return nil, errors.Wrap(err, "failure decoding entry data")
	}

	content := strings.TrimSpace(data.Title)
	if description := strings.TrimSpace(data.Description); description != "" {
		if content != "" {
			content += "\n\n"
		}
		content += description
	}
	if runes := []rune(content); len(runes) > maxContentLength {
		content = string(runes[:maxContentLength-1]) + "…"
	}

	post := &feed.Post{
		FeedID:      entry.FeedID,
		FeedEntryID: entry.ID,
		UID:         entry.UID,
		Content:     content,
		SourceURL:   data.Link,
		PublishedAt: entry.PublishedAt,
		Status:      feed.PostStatusDraft,
	}

	if data.ImageURL != "" {
		post.Attachments = pq.StringArray{data.ImageURL}
	}
	if data.Link != "" {
		post.CommentBodies = pq.StringArray{data.Link}
	}

	var validationErrors []string
	if content == "" {
		validationErrors = append(validationErrors, "content is blank")
	}
	post.ValidationErrors = validationErrors

	return post, nil
}
