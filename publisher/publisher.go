package publisher

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/feed"
	"gitlab.com/Refeed/Worker/freefeed"
)

// API is the slice of the FreeFeed client the publisher uses.
type API interface {
	UploadAttachment(ctx context.Context, source string) (string, error)
	CreatePost(ctx context.Context, body string, attachmentIDs []string, group string) (string, error)
	CreateComment(ctx context.Context, postID, body string) error
}

// Publisher pushes enqueued posts to FreeFeed, idempotent via the stored
// external post id.
type Publisher struct {
	logger *zap.Logger
	posts  feed.PostStore
	newAPI func(f *feed.Feed) API
}

func New(logger *zap.Logger, posts feed.PostStore, httpClient *http.Client, apiBase string) *Publisher {
	return &Publisher{
		logger: logger,
		posts:  posts,
		newAPI: func(f *feed.Feed) API {
			return freefeed.NewClient(httpClient, apiBase, f.AccessToken)
		},
	}
}

// NewWithAPI builds a publisher with a custom API factory.
func NewWithAPI(logger *zap.Logger, posts feed.PostStore, newAPI func(f *feed.Feed) API) *Publisher {
	return &Publisher{
		logger: logger,
		posts:  posts,
		newAPI: newAPI,
	}
}

// Publish uploads the post's attachments, creates the remote post and its
// comments, and persists the external post id. A post with a populated
// external post id is returned unchanged without any network call.
func (p *Publisher) Publish(ctx context.Context, f *feed.Feed, post *feed.Post) (string, error) {
	if post.ExternalPostID != "" {
		p.logger.Debug("post already published, skipping",
			zap.Uint("post_id", post.ID),
			zap.String("external_post_id", post.ExternalPostID),
		)
		return post.ExternalPostID, nil
	}

	var reasons []string
	if strings.TrimSpace(post.Content) == "" {
		reasons = append(reasons, "post content is blank")
	}
	if f.AccessToken == "" || !f.AccessTokenActive {
		reasons = append(reasons, "feed has no active publishing credential")
	}
	if f.TargetGroup == "" {
		reasons = append(reasons, "feed has no target group")
	}
	if len(reasons) > 0 {
		return "", &Error{
			Phase: PhaseValidation,
			Err:   &ValidationError{Reasons: reasons},
		}
	}

	api := p.newAPI(f)

	attachmentIDs := make([]string, 0, len(post.Attachments))
	for _, source := range post.Attachments {
		attachmentID, err := api.UploadAttachment(ctx, source)
		if err != nil {
			return "", &Error{
				Phase: PhaseAttachmentUpload,
				Err:   errors.Wrapf(err, "failure uploading attachment %s", source),
			}
		}

		attachmentIDs = append(attachmentIDs, attachmentID)
	}

	externalPostID, err := api.CreatePost(ctx, post.Content, attachmentIDs, f.TargetGroup)
	if err != nil {
		return "", &Error{
			Phase: PhasePostCreation,
			Err:   err,
		}
	}

	for _, body := range post.CommentBodies {
		if strings.TrimSpace(body) == "" {
			continue
		}

		err = api.CreateComment(ctx, externalPostID, body)
		if err != nil {
			// the remote post stays, the external id is only stored once
			// everything succeeded
			return "", &Error{
				Phase: PhaseCommentCreation,
				Err:   errors.Wrapf(err, "failure commenting on post %s", externalPostID),
			}
		}
	}

	err = p.posts.SetPublished(post.ID, externalPostID)
	if err != nil {
		return "", &Error{
			Phase: PhaseStatusUpdate,
			Err:   err,
		}
	}

	post.Status = feed.PostStatusPublished
	post.ExternalPostID = externalPostID

	return externalPostID, nil
}
