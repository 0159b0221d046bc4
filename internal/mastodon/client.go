// Package mastodon is a minimal Mastodon REST API client covering the calls
// the sync engine needs: credential verification, account status windows,
// media uploads and status posting.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

// Client talks to one Mastodon instance with a static access token. It
// implements domain.PlatformClient.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a new Mastodon API client for the given instance using
// the given HTTP client. A bare hostname is promoted to https.
func NewClient(instanceURL, accessToken string, httpClient *http.Client) *Client {
	if !strings.HasPrefix(instanceURL, "http") {
		instanceURL = "https://" + instanceURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(instanceURL, "/"),
		accessToken: accessToken,
		httpClient:  httpClient,
	}
}

// Account is the subset of the Mastodon account entity the engine uses.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

// VerifyCredentials confirms the access token and returns the owning
// account. The account id feeds FetchRecentPosts.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.get(ctx, "/api/v1/accounts/verify_credentials", nil, &account); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	return &account, nil
}

// FetchRecentPosts returns the account's most recent statuses in the order
// the instance returns them.
func (c *Client) FetchRecentPosts(ctx context.Context, accountID string, limit int) ([]domain.SourcePost, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var statuses []status
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/statuses"
	if err := c.get(ctx, path, query, &statuses); err != nil {
		return nil, fmt.Errorf("fetch account statuses: %w", err)
	}

	posts := make([]domain.SourcePost, 0, len(statuses))
	for _, st := range statuses {
		posts = append(posts, st.toSourcePost())
	}
	return posts, nil
}

// Publish creates a new status from the transcoded post. Media refs
// produced by UploadMedia are attached as media_ids.
func (c *Client) Publish(ctx context.Context, post *domain.TranscodedPost) (domain.PublishResult, error) {
	form := url.Values{}
	form.Set("status", post.Text)
	if len(post.Langs) > 0 {
		form.Set("language", post.Langs[0])
	}
	for _, m := range post.Media {
		form.Add("media_ids[]", m.Ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/statuses", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	var created status
	if err := c.do(req, &created); err != nil {
		return domain.PublishResult{}, fmt.Errorf("post status: %w", err)
	}

	result := domain.PublishResult{ID: created.ID}
	for _, m := range post.Media {
		result.MediaRefs = append(result.MediaRefs, m.Ref)
	}
	return result, nil
}

// UploadMedia uploads media bytes as a multipart attachment and returns the
// media id to reference from Publish.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType, altText string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileNameForMime(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if altText != "" {
		if err := writer.WriteField("description", altText); err != nil {
			return "", fmt.Errorf("write description field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/media", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	var media struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &media); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if media.ID == "" {
		return "", fmt.Errorf("upload response missing media id")
	}
	return media.ID, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

func apiError(statusCode int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("mastodon API error (status %d): %s: %w", statusCode, e.Error, domain.ErrAuthentication)
	}
	return fmt.Errorf("mastodon API error (status %d): %s", statusCode, string(body))
}

func fileNameForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "media.png"
	case "image/gif":
		return "media.gif"
	default:
		return "media.jpg"
	}
}

// status is the subset of the Mastodon status entity the engine uses.
// Nullable API fields map to pointers so absence stays explicit.
type status struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	Content     string  `json:"content"`
	Visibility  string  `json:"visibility"`
	InReplyToID *string `json:"in_reply_to_id"`
	Language    *string `json:"language"`
	Account     struct {
		Acct string `json:"acct"`
	} `json:"account"`
	Reblog *struct {
		ID string `json:"id"`
	} `json:"reblog"`
	Mentions []struct {
		Acct string `json:"acct"`
	} `json:"mentions"`
	MediaAttachments []struct {
		Type        string  `json:"type"`
		URL         string  `json:"url"`
		Description *string `json:"description"`
	} `json:"media_attachments"`
}

func (st status) toSourcePost() domain.SourcePost {
	post := domain.SourcePost{
		Platform:   domain.PlatformMastodon,
		ID:         st.ID,
		Author:     st.Account.Acct,
		Body:       st.Content,
		Visibility: domain.Visibility(st.Visibility),
	}

	if t, err := time.Parse(time.RFC3339, st.CreatedAt); err == nil {
		post.CreatedAt = t
	}
	if st.InReplyToID != nil {
		post.InReplyTo = *st.InReplyToID
	}
	if st.Reblog != nil {
		post.BoostOf = st.Reblog.ID
	}
	if st.Language != nil {
		post.Language = *st.Language
	}
	for _, m := range st.Mentions {
		post.Mentions = append(post.Mentions, m.Acct)
	}
	for _, m := range st.MediaAttachments {
		att := domain.MediaAttachment{
			Kind: mediaKind(m.Type),
			URL:  m.URL,
		}
		if m.Description != nil {
			att.AltText = *m.Description
		}
		post.Media = append(post.Media, att)
	}

	return post
}

func mediaKind(apiType string) domain.MediaKind {
	switch apiType {
	case "image":
		return domain.MediaImage
	case "video", "gifv":
		return domain.MediaVideo
	default:
		return domain.MediaOther
	}
}
