package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/synctab/synctab/internal/model"
)

var callbackClient = &http.Client{}

// CallbackNotifier pushes notifications to the URL an observer registered.
// It is a comparable value, registering the same URL twice is a no-op.
type CallbackNotifier struct {
	URL string
}

func NewCallbackNotifier(rawURL string) (CallbackNotifier, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CallbackNotifier{}, fmt.Errorf("parsing callback url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return CallbackNotifier{}, fmt.Errorf("callback url %q: want http(s)://host[:port]/path", rawURL)
	}
	return CallbackNotifier{URL: u.String()}, nil
}

func (n CallbackNotifier) Notify(ctx context.Context, notification model.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentJSON)

	resp, err := callbackClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("callback %s: status %d", n.URL, resp.StatusCode)
	}
	return nil
}

func (n CallbackNotifier) String() string {
	return n.URL
}

// Receiver is the handler a front-end serves on its callback URL, it
// passes every notification to fn.
type Receiver struct {
	fn func(context.Context, model.Notification)
}

func NewReceiver(fn func(context.Context, model.Notification)) Receiver {
	return Receiver{fn: fn}
}

func (rcv Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "POST a notification", "")
		return
	}
	var n model.Notification
	if !decode(w, r, &n) {
		return
	}
	if n.Process == nil && n.Server == nil {
		writeProblem(w, http.StatusBadRequest, "empty notification", "")
		return
	}
	rcv.fn(r.Context(), n)
	w.WriteHeader(http.StatusNoContent)
}
