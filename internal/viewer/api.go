package viewer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"go-forum/internal/auth"
	"go-forum/internal/forum"
	"go-forum/internal/media"
	"go-forum/internal/models"
)

const apiPrefix = "/api/v0"

// APIError is a non-2xx response from the forum API. It unwraps to the
// matching forum error class so callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return forum.ErrValidation
	case http.StatusUnauthorized:
		return auth.ErrUnauthorized
	case http.StatusForbidden:
		return forum.ErrForbidden
	case http.StatusNotFound:
		return forum.ErrNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return forum.ErrTransport
	}
	return nil
}

// API is a small REST client for the forum endpoints a viewer needs.
type API struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewAPI(baseURL, token string, client *http.Client) *API {
	if client == nil {
		client = http.DefaultClient
	}
	return &API{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, client: client}
}

func (a *API) CreateTopic(ctx context.Context, title string) (models.Topic, error) {
	var topic models.Topic
	err := a.doJSON(ctx, http.MethodPost, "/topics", map[string]string{"title": title}, &topic)
	return topic, err
}

func (a *API) GetTopic(ctx context.Context, topicID string) (models.TopicView, error) {
	var topic models.TopicView
	err := a.doJSON(ctx, http.MethodGet, "/topics/"+url.PathEscape(topicID), nil, &topic)
	return topic, err
}

func (a *API) DeleteTopic(ctx context.Context, topicID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/topics/"+url.PathEscape(topicID), nil, nil)
}

// ListMessages returns the page of history ending before cursor, or the
// newest page when cursor is empty.
func (a *API) ListMessages(ctx context.Context, topicID, cursor string, limit int) (models.MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page models.MessagePage
	err := a.doJSON(ctx, http.MethodGet, messagesPath(topicID, q), nil, &page)
	return page, err
}

// ListMessagesSince returns messages with seq greater than afterSeq.
func (a *API) ListMessagesSince(ctx context.Context, topicID string, afterSeq int64, limit int) ([]models.Message, error) {
	q := url.Values{"after": {strconv.FormatInt(afterSeq, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page models.MessagePage
	err := a.doJSON(ctx, http.MethodGet, messagesPath(topicID, q), nil, &page)
	return page.Messages, err
}

func (a *API) AppendMessage(ctx context.Context, topicID, content, attachmentRef string) (models.Message, error) {
	body := map[string]string{"content": content, "attachmentRef": attachmentRef}
	var msg models.Message
	err := a.doJSON(ctx, http.MethodPost, messagesPath(topicID, nil), body, &msg)
	return msg, err
}

// Upload stores r as an attachment and returns its descriptor.
func (a *API) Upload(ctx context.Context, name string, r io.Reader) (media.Info, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return media.Info{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return media.Info{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return media.Info{}, err
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/attachments", &buf)
	if err != nil {
		return media.Info{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var info media.Info
	err = a.send(req, &info)
	return info, err
}

func messagesPath(topicID string, q url.Values) string {
	p := "/topics/" + url.PathEscape(topicID) + "/messages"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	return p
}

func (a *API) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, out)
}

func (a *API) send(req *http.Request, out interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", forum.ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
