package capabilities

import (
	"context"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"

	"gitlab.com/Refeed/Worker/feed"
)

// HTTPLoader fetches a feed source with a plain GET request.
type HTTPLoader struct {
	client *http.Client
}

func NewHTTPLoader(client *http.Client) *HTTPLoader {
	return &HTTPLoader{client: client}
}

func (l *HTTPLoader) Load(ctx context.Context, f *feed.Feed) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failure creating feed source request")
	}

	resp, err := l.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "failure performing feed source request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf(
			"received unexpected status from feed source: %s", resp.Status,
		)
	}

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failure reading feed source response body")
	}

	return raw, nil
}
