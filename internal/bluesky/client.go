// Package bluesky is a minimal Bluesky/AT Protocol API client covering the
// calls the sync engine needs: session login, author feed windows, blob
// uploads and post creation.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

const defaultPDS = "https://bsky.social"

// postCollection is the NSID of the record collection posts live in.
const postCollection = "app.bsky.feed.post"

// Client talks to a PDS. It implements domain.PlatformClient and
// domain.SessionRefresher.
type Client struct {
	pds        string
	httpClient *http.Client

	// populated after Login
	identifier string
	password   string
	accessJwt  string
	did        string
	handle     string
}

// NewClient creates a new Bluesky API client using the given HTTP client.
// If pds is empty, it defaults to https://bsky.social.
func NewClient(pds string, httpClient *http.Client) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		pds:        pds,
		httpClient: httpClient,
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password. The credentials are retained so
// Refresh can re-establish the session later.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.identifier = identifier
	c.password = password
	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	c.handle = resp.Handle
	return nil
}

// Refresh re-establishes the session with the credentials from Login. It
// implements domain.SessionRefresher.
func (c *Client) Refresh(ctx context.Context) error {
	if c.identifier == "" {
		return fmt.Errorf("refresh session: no credentials, call Login first")
	}
	return c.Login(ctx, c.identifier, c.password)
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// Handle returns the authenticated user's handle. Only valid after Login.
func (c *Client) Handle() string {
	return c.handle
}

// FetchRecentPosts returns the actor's most recent posts, replies excluded
// server-side, in feed order. Reposts and quote posts are surfaced with
// BoostOf set so the eligibility filter rejects them.
func (c *Client) FetchRecentPosts(ctx context.Context, accountID string, limit int) ([]domain.SourcePost, error) {
	if c.accessJwt == "" {
		return nil, fmt.Errorf("not authenticated: call Login first: %w", domain.ErrAuthentication)
	}

	query := url.Values{}
	query.Set("actor", accountID)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("filter", "posts_no_replies")

	var resp authorFeedResponse
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getAuthorFeed", query, &resp); err != nil {
		return nil, fmt.Errorf("get author feed: %w", err)
	}

	posts := make([]domain.SourcePost, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		posts = append(posts, item.toSourcePost())
	}
	return posts, nil
}

// Publish creates a post record in the authenticated user's repo via
// com.atproto.repo.createRecord. Media refs produced by UploadMedia are
// assembled into an images embed.
func (c *Client) Publish(ctx context.Context, post *domain.TranscodedPost) (domain.PublishResult, error) {
	if c.accessJwt == "" {
		return domain.PublishResult{}, fmt.Errorf("not authenticated: call Login first: %w", domain.ErrAuthentication)
	}

	langs := post.Langs
	if langs == nil {
		langs = []string{}
	}

	record := postRecordOut{
		Type:      postCollection,
		Text:      post.Text,
		CreatedAt: post.CreatedAt.UTC().Format(time.RFC3339),
		Langs:     langs,
	}

	if len(post.Media) > 0 {
		embed := &imagesEmbedOut{Type: "app.bsky.embed.images"}
		for _, m := range post.Media {
			embed.Images = append(embed.Images, imageEmbedOut{
				Alt:   m.AltText,
				Image: json.RawMessage(m.Ref),
			})
		}
		record.Embed = embed
	}

	body := createRecordRequest{
		Repo:       c.did,
		Collection: postCollection,
		Record:     record,
	}

	var resp createRecordResponse
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return domain.PublishResult{}, fmt.Errorf("create record: %w", err)
	}

	result := domain.PublishResult{ID: resp.CID}
	for _, m := range post.Media {
		result.MediaRefs = append(result.MediaRefs, m.Ref)
	}
	return result, nil
}

// UploadMedia uploads raw image bytes as a blob via
// com.atproto.repo.uploadBlob. The returned reference is the blob JSON
// verbatim; Publish embeds it back into the post record unchanged. A
// response without a blob is a failure the caller's retry loop handles.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType, _ string) (string, error) {
	if c.accessJwt == "" {
		return "", fmt.Errorf("not authenticated: call Login first: %w", domain.ErrAuthentication)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.apiError(resp.StatusCode, respBody)
	}

	var result uploadBlobResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Blob) == 0 || string(result.Blob) == "null" {
		return "", fmt.Errorf("upload response missing blob reference")
	}

	return string(result.Blob), nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	return c.do(req, result)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pds+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

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
		return c.apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// authErrorNames are the XRPC error codes that indicate an invalid or
// expired session rather than a transient failure.
var authErrorNames = map[string]bool{
	"AuthenticationRequired": true,
	"AuthMissing":            true,
	"ExpiredToken":           true,
	"InvalidToken":           true,
}

func (c *Client) apiError(status int, body []byte) error {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &e)

	if status == http.StatusUnauthorized || authErrorNames[e.Error] {
		return fmt.Errorf("bluesky API error (status %d): %s %s: %w", status, e.Error, e.Message, domain.ErrAuthentication)
	}
	return fmt.Errorf("bluesky API error (status %d): %s", status, string(body))
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type authorFeedResponse struct {
	Feed []feedItem `json:"feed"`
}

type feedItem struct {
	Post   postView    `json:"post"`
	Reason *feedReason `json:"reason"`
}

type feedReason struct {
	Type string `json:"$type"`
}

type postView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record postRecordView `json:"record"`
	Embed  *embedView     `json:"embed"`
}

type postRecordView struct {
	Text      string           `json:"text"`
	CreatedAt string           `json:"createdAt"`
	Langs     []string         `json:"langs"`
	Reply     *replyRef        `json:"reply"`
	Embed     *recordEmbedView `json:"embed"`
}

type replyRef struct {
	Parent struct {
		URI string `json:"uri"`
	} `json:"parent"`
}

// recordEmbedView is the embed as authored in the record. A non-nil Record
// means the post quotes another record.
type recordEmbedView struct {
	Type   string `json:"$type"`
	Record *struct {
		URI string `json:"uri"`
	} `json:"record"`
}

// embedView is the hydrated embed on the post view, carrying resolved image
// URLs.
type embedView struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
}

type embedImage struct {
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

func (item feedItem) toSourcePost() domain.SourcePost {
	view := item.Post

	post := domain.SourcePost{
		Platform:   domain.PlatformBluesky,
		ID:         view.CID,
		Author:     view.Author.Handle,
		Body:       view.Record.Text,
		Visibility: domain.VisibilityPublic, // author feeds only surface public posts
	}

	if t, err := time.Parse(time.RFC3339, view.Record.CreatedAt); err == nil {
		post.CreatedAt = t
	}

	if view.Record.Reply != nil {
		post.InReplyTo = view.Record.Reply.Parent.URI
	}

	// A repost reason or a quoted record both count as a boost reference.
	if item.Reason != nil {
		post.BoostOf = item.Reason.Type
	} else if view.Record.Embed != nil && view.Record.Embed.Record != nil {
		if post.BoostOf = view.Record.Embed.Record.URI; post.BoostOf == "" {
			post.BoostOf = view.Record.Embed.Type
		}
	}

	if view.Embed != nil {
		for _, img := range view.Embed.Images {
			post.Media = append(post.Media, domain.MediaAttachment{
				Kind:    domain.MediaImage,
				URL:     img.Fullsize,
				AltText: img.Alt,
			})
		}
	}

	if len(view.Record.Langs) > 0 {
		post.Language = view.Record.Langs[0]
	}

	return post
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type uploadBlobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

type postRecordOut struct {
	Type      string          `json:"$type"`
	Text      string          `json:"text"`
	CreatedAt string          `json:"createdAt"`
	Langs     []string        `json:"langs"`
	Embed     *imagesEmbedOut `json:"embed,omitempty"`
}

type imagesEmbedOut struct {
	Type   string          `json:"$type"`
	Images []imageEmbedOut `json:"images"`
}

type imageEmbedOut struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"`
}
