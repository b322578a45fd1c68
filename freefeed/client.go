package freefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// Client talks to the FreeFeed API on behalf of one access token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failure performing FreeFeed API request")
	}
	defer resp.Body.Close()

	respData, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failure reading FreeFeed API response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf(
			"received unexpected status from FreeFeed API: %s: %s",
			resp.Status, strings.TrimSpace(string(respData)),
		)
	}

	return respData, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failure encoding FreeFeed API request body")
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failure creating FreeFeed API request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req.WithContext(ctx))
}

// CreatePost creates a post in the given group and returns its id.
func (c *Client) CreatePost(ctx context.Context, body string, attachmentIDs []string, group string) (string, error) {
	payload := createPostRequest{}
	payload.Post.Body = body
	payload.Post.Attachments = attachmentIDs
	payload.Meta.Feeds = []string{group}

	respData, err := c.postJSON(ctx, "/v1/posts", payload)
	if err != nil {
		return "", err
	}

	var resp createPostResponse
	err = json.Unmarshal(respData, &resp)
	if err != nil {
		return "", errors.Wrap(err, "failure parsing FreeFeed API response body")
	}
	if resp.Posts.ID == "" {
		return "", errors.New("FreeFeed API returned no post id")
	}

	return resp.Posts.ID, nil
}

// UploadAttachment uploads the file behind a URL or local path and returns
// the attachment id.
func (c *Client) UploadAttachment(ctx context.Context, source string) (string, error) {
	content, err := c.readSource(ctx, source)
	if err != nil {
		return "", err
	}

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	part, err := writer.CreateFormFile("file", attachmentName(source))
	if err != nil {
		return "", errors.Wrap(err, "failure creating attachment form file")
	}

	_, err = io.Copy(part, bytes.NewReader(content))
	if err != nil {
		return "", errors.Wrap(err, "failure writing attachment form file")
	}

	err = writer.Close()
	if err != nil {
		return "", errors.Wrap(err, "failure finalising attachment form")
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/attachments", &buffer)
	if err != nil {
		return "", errors.Wrap(err, "failure creating FreeFeed API request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	respData, err := c.do(req.WithContext(ctx))
	if err != nil {
		return "", err
	}

	var resp uploadAttachmentResponse
	err = json.Unmarshal(respData, &resp)
	if err != nil {
		return "", errors.Wrap(err, "failure parsing FreeFeed API response body")
	}
	if resp.Attachments.ID == "" {
		return "", errors.New("FreeFeed API returned no attachment id")
	}

	return resp.Attachments.ID, nil
}

// CreateComment adds a comment to an existing post.
func (c *Client) CreateComment(ctx context.Context, postID, body string) error {
	payload := createCommentRequest{}
	payload.Comment.Body = body
	payload.Comment.PostID = postID

	_, err := c.postJSON(ctx, "/v1/comments", payload)
	return err
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/v1/posts/"+postID, nil)
	if err != nil {
		return errors.Wrap(err, "failure creating FreeFeed API request")
	}

	_, err = c.do(req.WithContext(ctx))
	return err
}

func (c *Client) readSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequest(http.MethodGet, source, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failure creating attachment download request")
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrap(err, "failure downloading attachment")
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errors.Errorf(
				"received unexpected status downloading attachment: %s", resp.Status,
			)
		}

		return ioutil.ReadAll(resp.Body)
	}

	content, err := ioutil.ReadFile(source)
	if err != nil {
		return nil, errors.Wrap(err, "failure reading attachment file")
	}

	return content, nil
}

func attachmentName(source string) string {
	name := path.Base(strings.SplitN(source, "?", 2)[0])
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}

	return name
}

type createPostRequest struct {
	Post struct {
		Body        string   `json:"body"`
		Attachments []string `json:"attachments,omitempty"`
	} `json:"post"`
	Meta struct {
		Feeds []string `json:"feeds"`
	} `json:"meta"`
}

type createPostResponse struct {
	Posts struct {
		ID string `json:"id"`
	} `json:"posts"`
}

type uploadAttachmentResponse struct {
	Attachments struct {
		ID string `json:"id"`
	} `json:"attachments"`
}

type createCommentRequest struct {
	Comment struct {
		Body   string `json:"body"`
		PostID string `json:"postId"`
	} `json:"comment"`
}
