package capabilities

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Seklfreak/ginside"
	"github.com/pkg/errors"

	"gitlab.com/Refeed/Worker/feed"
)

// GallLoader scrapes a DCInside board. The feed URL holds the board id.
type GallLoader struct {
	gall *ginside.GInside
}

func NewGallLoader(client *http.Client) *GallLoader {
	return &GallLoader{
		gall: ginside.NewGInside(client),
	}
}

func (l *GallLoader) Load(ctx context.Context, f *feed.Feed) ([]byte, error) {
	posts, err := l.gall.BoardPosts(ctx, f.URL, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failure fetching board posts for %s", f.URL)
	}

	raw, err := json.Marshal(posts)
	if err != nil {
		return nil, errors.Wrap(err, "failure encoding board posts")
	}

	return raw, nil
}

// GallProcessor turns scraped board posts into entry descriptors.
type GallProcessor struct{}

func (p *GallProcessor) Process(_ context.Context, raw []byte) ([]Item, error) {
	var posts []ginside.Post

	err := json.Unmarshal(raw, &posts)
	if err != nil {
		return nil, errors.Wrap(err, "failure decoding board posts")
	}

	items := make([]Item, 0, len(posts))
	for _, post := range posts {
		rawData, err := json.Marshal(ItemData{
			Title: post.Title,
			Link:  post.URL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failure encoding entry data")
		}

		items = append(items, Item{
			UID:         post.ID,
			PublishedAt: post.Date,
			RawData:     rawData,
		})
	}

	return items, nil
}
