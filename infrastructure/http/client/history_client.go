package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hr-messenger/domain"
	"hr-messenger/errors"

	"github.com/valyala/fasthttp"
)

const defaultTimeout = 10 * time.Second

// HistoryClient calls the REST history service.
type HistoryClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
}

func NewHistoryClient(baseURL, token string, timeout time.Duration) *HistoryClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HistoryClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                "hr-messenger-client",
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type failure struct {
	Error string      `json:"error"`
	Kind  errors.Kind `json:"kind"`
}

type unread struct {
	Counts map[string]int `json:"counts"`
}

func (h *HistoryClient) History(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	path := fmt.Sprintf("/api/messages/%s/%s", url.PathEscape(userA), url.PathEscape(userB))
	var messages []domain.Message
	if err := h.do(ctx, fasthttp.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (h *HistoryClient) MarkRead(ctx context.Context, senderID, receiverID string) error {
	body, err := json.Marshal(domain.MarkReadCommand{SenderID: senderID, ReceiverID: receiverID})
	if err != nil {
		return err
	}
	return h.do(ctx, fasthttp.MethodPost, "/api/messages/read", body, nil)
}

func (h *HistoryClient) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	var res unread
	if err := h.do(ctx, fasthttp.MethodGet, "/api/unread/"+url.PathEscape(userID), nil, &res); err != nil {
		return nil, err
	}
	if res.Counts == nil {
		res.Counts = map[string]int{}
	}
	return res.Counts, nil
}

func (h *HistoryClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrNotConnected, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if h.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+h.token)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > h.timeout {
		deadline = time.Now().Add(h.timeout)
	}
	if err := h.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%w: %s %s: %w", errors.ErrNotConnected, method, path, err)
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		return statusError(status, resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}

// statusError rebuilds a sentinel from the {"error","kind"} body written by the server.
func statusError(status int, body []byte) error {
	var f failure
	_ = json.Unmarshal(body, &f)
	if f.Error == "" {
		f.Error = fasthttp.StatusMessage(status)
	}

	var sentinel error
	switch {
	case status == fasthttp.StatusUnauthorized:
		sentinel = errors.ErrUnauthorized
	case status == fasthttp.StatusForbidden:
		sentinel = errors.ErrForbidden
	case f.Kind == errors.KindValidation || status == fasthttp.StatusBadRequest:
		sentinel = errors.ErrInvalidPayload
	case f.Kind == errors.KindTransient || status == fasthttp.StatusServiceUnavailable:
		sentinel = errors.ErrStoreUnavailable
	default:
		return fmt.Errorf("history service answered %d: %s", status, f.Error)
	}
	return fmt.Errorf("%w: %s", sentinel, f.Error)
}
