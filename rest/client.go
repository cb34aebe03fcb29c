// Copyright 2026 The Pictrl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the server did not accept the key, or
// the session has expired.
var ErrUnauthorized = errors.New("not logged in")

type Client struct {
	base   string // URI to root of tree on server
	client *http.Client
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, e := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if e != nil {
		return nil, e
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	data, e := io.ReadAll(res.Body)
	if e != nil {
		return nil, e
	}
	switch res.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusSeeOther:
		return nil, ErrUnauthorized
	}
	re := &Error{}
	if json.Unmarshal(data, re) != nil || re.Message == "" {
		re = &Error{Code: res.StatusCode, Message: res.Status}
	}
	return nil, re
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	data, e := c.do(ctx, "GET", path, nil)
	if e != nil {
		return e
	}
	return json.Unmarshal(data, v)
}

func (c *Client) getText(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, e := c.do(ctx, "GET", path, nil)
	return string(data), e
}

// Login starts a session using the admin key.
func (c *Client) Login(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	form := url.Values{"key": {key}}
	_, e := c.do(ctx, "POST", "/login", strings.NewReader(form.Encode()))
	if e != ErrUnauthorized {
		return e
	}
	u, _ := url.Parse(c.base)
	for _, ck := range c.client.Jar.Cookies(u) {
		if ck.Name == sessionCookie {
			return nil
		}
	}
	return ErrUnauthorized
}

func (c *Client) Logout() error {
	_, e := c.getText("/logout")
	if e == ErrUnauthorized {
		e = nil
	}
	return e
}

// Logs returns the rendered log lines between start and end, limited to
// the given namespaces.  Zero times select the server defaults.
func (c *Client) Logs(start, end time.Time, filters []string) (string, error) {
	v := url.Values{}
	if !start.IsZero() {
		v.Set("start", epoch(start))
	}
	if !end.IsZero() {
		v.Set("end", epoch(end))
	}
	if len(filters) > 0 {
		v.Set("filters", strings.Join(filters, ","))
	}
	path := "/logs"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	return c.getText(path)
}

func epoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 3, 64)
}

func (c *Client) Status() (*Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st := &Status{}
	if e := c.get(ctx, "/status", st); e != nil {
		return nil, e
	}
	return st, nil
}

func (c *Client) Info() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info := map[string]string{}
	if e := c.get(ctx, "/info", &info); e != nil {
		return nil, e
	}
	return info, nil
}

// GetLog returns the records of the named group newer than last without
// waiting.
func (c *Client) GetLog(group string, last int64) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.pollLog(ctx, group, last, 0)
}

// WatchLog is like GetLog, but waits up to five minutes for the log to
// change past last.
func (c *Client) WatchLog(ctx context.Context, group string, last int64) (*LogInfo, error) {
	return c.pollLog(ctx, group, last, maxWait)
}

func (c *Client) pollLog(ctx context.Context, group string, last int64, wait time.Duration) (*LogInfo, error) {
	path := fmt.Sprintf("/groups/%s/log?last=%d", url.PathEscape(group), last)
	if wait > 0 {
		path += fmt.Sprintf("&wait=%d", int(wait/time.Second))
	}
	li := &LogInfo{}
	if e := c.get(ctx, path, li); e != nil {
		return nil, e
	}
	return li, nil
}

func (c *Client) Restart() (string, error) {
	return c.getText("/restart")
}

func (c *Client) Reboot() (string, error) {
	return c.getText("/reboot")
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = http.DefaultTransport
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		base: strings.TrimSuffix(baseURI, "/"),
		client: &http.Client{
			Transport: t,
			Jar:       jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}
