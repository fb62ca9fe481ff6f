package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
)

// Remote talks to a walkin-service API over HTTP and its websocket stream.
type Remote struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	buffer  int
}

var (
	_ Store       = (*Remote)(nil)
	_ AgentSource = (*Remote)(nil)
)

// NewRemote returns a client for the API at baseURL (http or https).
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		buffer:  changefeed.DefaultBuffer,
	}
}

type listCasesResponse struct {
	Cases []model.Case `json:"cases"`
	Total int64        `json:"total"`
}

type listAgentsResponse struct {
	Agents []model.Agent `json:"agents"`
}

func (r *Remote) Query(ctx context.Context, q model.CaseQuery) ([]model.Case, error) {
	var out listCasesResponse
	u := r.baseURL + "/api/v1/cases?" + queryValues(q).Encode()
	if err := r.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, &errs.StoreError{Op: "query", Err: err}
	}
	return out.Cases, nil
}

func (r *Remote) Mutate(ctx context.Context, id string, patch model.CasePatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return &errs.StoreError{Op: "mutate", ID: id, Err: err}
	}
	u := r.baseURL + "/api/v1/cases/" + url.PathEscape(id)
	if err := r.do(ctx, http.MethodPatch, u, body, nil); err != nil {
		return &errs.StoreError{Op: "mutate", ID: id, Err: err}
	}
	return nil
}

func (r *Remote) Agents(ctx context.Context) ([]model.Agent, error) {
	var out listAgentsResponse
	if err := r.do(ctx, http.MethodGet, r.baseURL+"/api/v1/agents", nil, &out); err != nil {
		return nil, &errs.StoreError{Op: "agents", Err: err}
	}
	return out.Agents, nil
}

// Subscribe dials the stream and returns once the server has registered
// the subscription, so a Query issued afterwards cannot miss a change.
func (r *Remote) Subscribe(ctx context.Context, filter changefeed.Filter) (Subscription, error) {
	scope := filter.Scope()
	fail := func(err error) (Subscription, error) {
		return nil, &errs.SubscriptionError{Scope: scope, Err: err}
	}
	u, err := r.streamURL(filter)
	if err != nil {
		return fail(err)
	}
	conn, resp, err := r.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return fail(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(r.dialer.HandshakeTimeout))
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fail(fmt.Errorf("waiting for ready: %w", err))
	}
	f, err := changefeed.DecodeFrame(data)
	if err != nil || f.Type != changefeed.FrameReady {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("expected ready frame, got %q", f.Type)
		}
		return fail(err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &remoteSubscription{
		conn:   conn,
		scope:  scope,
		events: make(chan model.ChangeEvent, r.buffer),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (r *Remote) streamURL(filter changefeed.Filter) (string, error) {
	u, err := url.Parse(r.baseURL + "/api/v1/cases/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.RawQuery = queryValues(model.CaseQuery{
		ID:          filter.ID,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
	}).Encode()
	return u.String(), nil
}

func (r *Remote) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", errs.ErrCaseNotFound, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %d %s", method, req.URL.Path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func queryValues(q model.CaseQuery) url.Values {
	v := url.Values{}
	if q.ID != "" {
		v.Set("id", q.ID)
	}
	if q.CreatedFrom != nil {
		v.Set("created_from", q.CreatedFrom.UTC().Format(time.RFC3339Nano))
	}
	if q.CreatedTo != nil {
		v.Set("created_to", q.CreatedTo.UTC().Format(time.RFC3339Nano))
	}
	if q.OpenOnly {
		v.Set("open", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", fmt.Sprint(q.Offset))
	}
	return v
}

type remoteSubscription struct {
	conn   *websocket.Conn
	scope  string
	events chan model.ChangeEvent
	done   chan struct{}

	once         sync.Once
	mu           sync.Mutex
	err          error
	unsubscribed bool
}

func (s *remoteSubscription) Events() <-chan model.ChangeEvent { return s.events }

func (s *remoteSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *remoteSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func (s *remoteSubscription) read() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		f, err := changefeed.DecodeFrame(data)
		if err != nil {
			s.fail(err)
			_ = s.conn.Close()
			return
		}
		switch f.Type {
		case changefeed.FrameEvent:
			select {
			case s.events <- *f.Event:
			case <-s.done:
				return
			}
		case changefeed.FrameError:
			s.fail(errors.New(f.Error))
			_ = s.conn.Close()
			return
		}
	}
}

func (s *remoteSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribed || s.err != nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = errs.ErrSubscriptionClosed
	}
	s.err = &errs.SubscriptionError{Scope: s.scope, Err: err}
}
