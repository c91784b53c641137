package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// HTTPError is a non-2xx response from the board API. Err carries the domain
// error the status maps to, so callers can use errors.Is.
type HTTPError struct {
	Status  int
	Message string
	Fields  map[string][]string
	TodoID  int64
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("board api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("board api: %d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// HTTPTransport implements Transport against the board API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	token   TokenSource
}

// NewHTTPTransport creates a transport for the API at baseURL. A nil client
// uses a client with a 30s timeout.
func NewHTTPTransport(baseURL string, client *http.Client, token TokenSource) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client, token: token}
}

type boardColumn struct {
	Column domain.Column `json:"column"`
	Todos  []domain.Task `json:"todos"`
}

type boardResponse struct {
	View    domain.View   `json:"view"`
	Columns []boardColumn `json:"columns"`
}

type todoResponse struct {
	Message string      `json:"message"`
	Todo    domain.Task `json:"todo"`
}

type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
	TodoID  int64               `json:"todo_id"`
}

type reorderBody struct {
	Column   domain.Column `json:"column"`
	TodoIDs  []int64       `json:"todo_ids"`
	Sequence int64         `json:"sequence,omitempty"`
}

type priorityBody struct {
	Priority    domain.Priority `json:"priority"`
	IsCompleted bool            `json:"is_completed"`
}

type eisenhowerBody struct {
	Priority   domain.Urgency    `json:"priority"`
	Importance domain.Importance `json:"importance"`
}

// FetchBoard returns every task on view, flattened in column order.
func (h *HTTPTransport) FetchBoard(ctx context.Context, view domain.View) ([]domain.Task, error) {
	var resp boardResponse
	q := url.Values{"view": {string(view)}}
	if err := h.do(ctx, http.MethodGet, "/todos/board?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	var tasks []domain.Task
	for _, col := range resp.Columns {
		tasks = append(tasks, col.Todos...)
	}
	return tasks, nil
}

func (h *HTTPTransport) Reorder(ctx context.Context, col domain.Column, ids []int64, sequence int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return h.do(ctx, http.MethodPost, "/todos/reorder", reorderBody{Column: col, TodoIDs: ids, Sequence: sequence}, nil)
}

func (h *HTTPTransport) UpdatePriority(ctx context.Context, id int64, m domain.KanbanMove) (domain.Task, error) {
	var resp todoResponse
	err := h.do(ctx, http.MethodPost, todoPath(id, "update-priority"), priorityBody{Priority: m.Priority, IsCompleted: m.IsCompleted}, &resp)
	return resp.Todo, err
}

func (h *HTTPTransport) UpdateEisenhower(ctx context.Context, id int64, m domain.MatrixMove) (domain.Task, error) {
	var resp todoResponse
	err := h.do(ctx, http.MethodPost, todoPath(id, "update-eisenhower"), eisenhowerBody{Priority: m.Urgency, Importance: m.Importance}, &resp)
	return resp.Todo, err
}

func todoPath(id int64, action string) string {
	return "/todos/" + strconv.FormatInt(id, 10) + "/" + action
}

func (h *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if h.token != nil {
		tok, err := h.token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

// decodeError maps an API error response onto the domain errors the server
// started from.
func decodeError(status int, data []byte) error {
	var body errorBody
	_ = sonic.Unmarshal(data, &body)
	herr := &HTTPError{Status: status, Message: body.Message, Fields: body.Errors, TodoID: body.TodoID}
	switch status {
	case http.StatusForbidden:
		herr.Err = domain.ErrNotOwned
	case http.StatusConflict:
		if strings.Contains(strings.ToLower(body.Message), "newer reorder") {
			herr.Err = domain.ErrStaleSequence
		} else {
			herr.Err = domain.ErrColumnMismatch
		}
	case http.StatusUnprocessableEntity:
		if _, ok := body.Errors["type"]; ok {
			herr.Err = domain.ErrIneligible
			break
		}
		for field, msgs := range body.Errors {
			msg := ""
			if len(msgs) > 0 {
				msg = msgs[0]
			}
			herr.Err = &domain.ValidationError{Field: field, Message: msg}
			break
		}
	}
	if herr.Err == nil && status == http.StatusUnauthorized {
		herr.Err = errUnauthorized
	}
	return herr
}

var errUnauthorized = errors.New("board api: unauthorized")
