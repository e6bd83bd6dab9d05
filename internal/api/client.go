package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/synctab/synctab/internal/model"
)

// Client is the front-end side of the API.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

// NewClient accepts host:port or a server url without a path, e.g.
// `http://backup.lan:8390`.
func NewClient(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsedURL, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server address as host:port or an url without path, e.g. `http://localhost:8390`")
	}
	parsedURL.Path = basePath

	return &Client{
		baseURL: parsedURL,
		client:  &http.Client{},
	}, nil
}

// url joins the escaped path to the base url
func (c *Client) url(path string, query url.Values) string {
	ret := c.baseURL.String() + path
	if len(query) > 0 {
		ret += "?" + query.Encode()
	}
	return ret
}

// do sends in as JSON and decodes the response into out, both may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", contentJSON)
	}
	req.Header.Set("Accept", contentJSON+", "+contentProblem)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}

	if resp.StatusCode/100 == 2 {
		if contentType != contentJSON {
			return fmt.Errorf("expected `%s` content type, got: %s", contentJSON, contentType)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return nil
	}

	if contentType == contentProblem {
		var p Problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return problemError(p)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}

func pathID(id string) string {
	return url.PathEscape(id)
}

func (c *Client) Jobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := c.do(ctx, http.MethodGet, "/jobs", nil, nil, &jobs)
	return jobs, err
}

// Job returns a Job by id or name.
func (c *Client) Job(ctx context.Context, ref string) (model.Job, error) {
	var job model.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+pathID(ref), nil, nil, &job)
	return job, err
}

// PutJob creates a Job without an id, it replaces the existing one otherwise.
func (c *Client) PutJob(ctx context.Context, job model.Job) (model.Job, error) {
	var ret model.Job
	var err error
	if job.ID == "" {
		err = c.do(ctx, http.MethodPost, "/jobs", nil, job, &ret)
	} else {
		err = c.do(ctx, http.MethodPut, "/jobs/"+pathID(job.ID), nil, job, &ret)
	}
	return ret, err
}

func (c *Client) SetJobs(ctx context.Context, jobs []model.Job) ([]model.Job, error) {
	var ret []model.Job
	err := c.do(ctx, http.MethodPut, "/jobs", nil, jobs, &ret)
	return ret, err
}

func (c *Client) DeleteJob(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+pathID(ref), nil, nil, nil)
}

func (c *Client) StartJob(ctx context.Context, ref string) (model.RunStatus, error) {
	var st model.RunStatus
	err := c.do(ctx, http.MethodPost, "/jobs/"+pathID(ref)+"/start", nil, nil, &st)
	return st, err
}

func (c *Client) StopJob(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+pathID(ref)+"/stop", nil, nil, nil)
}

func (c *Client) IsRunning(ctx context.Context, ref string) (bool, error) {
	var resp RunningResponse
	err := c.do(ctx, http.MethodGet, "/jobs/"+pathID(ref)+"/running", nil, nil, &resp)
	return resp.Running, err
}

func (c *Client) Tasks(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := c.do(ctx, http.MethodGet, "/tasks", nil, nil, &tasks)
	return tasks, err
}

func (c *Client) Task(ctx context.Context, id string) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+pathID(id), nil, nil, &task)
	return task, err
}

func (c *Client) PutTask(ctx context.Context, task model.Task) (model.Task, error) {
	var ret model.Task
	var err error
	if task.ID == "" {
		err = c.do(ctx, http.MethodPost, "/tasks", nil, task, &ret)
	} else {
		err = c.do(ctx, http.MethodPut, "/tasks/"+pathID(task.ID), nil, task, &ret)
	}
	return ret, err
}

func (c *Client) SetTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	var ret []model.Task
	err := c.do(ctx, http.MethodPut, "/tasks", nil, tasks, &ret)
	return ret, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+pathID(id), nil, nil, nil)
}

func (c *Client) IsCronActive(ctx context.Context) (bool, error) {
	var state CronState
	err := c.do(ctx, http.MethodGet, "/cron", nil, nil, &state)
	return state.Active, err
}

func (c *Client) SetCronActive(ctx context.Context, active bool) error {
	return c.do(ctx, http.MethodPut, "/cron", nil, CronState{Active: active}, nil)
}

// RegisterClient asks the daemon to push every notification to callbackURL.
func (c *Client) RegisterClient(ctx context.Context, callbackURL, hostname string) error {
	return c.do(ctx, http.MethodPost, "/clients", nil, ClientRequest{URL: callbackURL, Hostname: hostname}, nil)
}

func (c *Client) RemoveClient(ctx context.Context, callbackURL, hostname string) error {
	q := url.Values{}
	q.Set("url", callbackURL)
	q.Set("hostname", hostname)
	return c.do(ctx, http.MethodDelete, "/clients", q, nil, nil)
}

func (c *Client) Status(ctx context.Context) (model.Status, error) {
	var st model.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &st)
	return st, err
}

// History returns the run records of a Job (by id or name) or a Task.
func (c *Client) History(ctx context.Context, ref string) ([]model.RunRecord, error) {
	var recs []model.RunRecord
	err := c.do(ctx, http.MethodGet, "/history/"+pathID(ref), nil, nil, &recs)
	return recs, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil, nil)
}
