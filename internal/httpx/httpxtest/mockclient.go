// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpxtest scripts HTTP exchanges for upstream client tests.
package httpxtest

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Exchange is one scripted request/response pair. A non-empty URL is
// asserted against the request, method included when set.
type Exchange struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

// Client replays its exchanges in order and fails the test on any request
// beyond the script or not matching it.
type Client struct {
	t         *testing.T
	exchanges []Exchange
	next      int
}

func NewClient(t *testing.T, exchanges ...Exchange) *Client {
	return &Client{t: t, exchanges: exchanges}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.next >= len(c.exchanges) {
		c.t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
	}
	e := c.exchanges[c.next]
	c.next++

	if e.URL != "" {
		want, got := e.URL, req.URL.String()
		if e.Method != "" {
			want = e.Method + " " + want
			got = req.Method + " " + got
		}
		if diff := cmp.Diff(want, got); diff != "" {
			c.t.Fatalf("request mismatch (-want +got):\n%s", diff)
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return &http.Response{
		StatusCode: e.Status,
		Body:       io.NopCloser(strings.NewReader(e.Body)),
	}, nil
}

// Requests reports how many exchanges have been consumed.
func (c *Client) Requests() int {
	return c.next
}
