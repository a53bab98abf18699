// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package cgi bridges smart-HTTP fetches of the index to git-http-backend.
package cgi

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/internal/gitcmd"
	"github.com/pkg/errors"
)

// Prefix is the route under which the index repository is served.
const Prefix = "/registry/crates.io-index"

// Handler spawns git-http-backend per request and relays its CGI response.
type Handler struct {
	Backend string
	Cfg     *config.Handle
	Driver  *gitcmd.Driver
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.Driver.Inited() {
		http.Error(w, "system not initialized", http.StatusBadRequest)
		return
	}

	pathInfo := strings.TrimPrefix(r.URL.Path, Prefix)
	cfg := h.Cfg.Snapshot()
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}

	cmd := exec.CommandContext(r.Context(), h.Backend)
	cmd.Env = []string{
		"REQUEST_METHOD=" + r.Method,
		"GIT_PROJECT_ROOT=" + cfg.Git.IndexPath,
		"PATH_INFO=" + pathInfo,
		"QUERY_STRING=" + r.URL.RawQuery,
		"CONTENT_TYPE=" + r.Header.Get("Content-Type"),
		"REMOTE_USER=mirror",
		"REMOTE_ADDR=" + remoteAddr,
		"GIT_HTTP_EXPORT_ALL=",
	}
	if r.Method == http.MethodPost {
		cmd.Stdin = r.Body
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Printf("git-http-backend failed: %v: %s", err, strings.TrimSpace(stderr.String()))
		http.Error(w, "git backend failed", http.StatusInternalServerError)
		return
	}
	if stderr.Len() > 0 {
		log.Printf("cgi error: %s", strings.TrimSpace(stderr.String()))
	}

	resp, err := ParseResponse(&stdout)
	if err != nil {
		log.Printf("parsing cgi response: %v", err)
		http.Error(w, "bad cgi response", http.StatusInternalServerError)
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// Response is a parsed CGI response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ParseResponse splits a CGI response into the Status pseudo-header, the
// header block, and the body. A header line without a colon is malformed.
func ParseResponse(r io.Reader) (*Response, error) {
	br := bufio.NewReader(r)
	resp := &Response{Status: http.StatusOK, Header: http.Header{}}
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		} else if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "reading cgi header")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// header block over, rest is body
			break
		}
		if v, ok := strings.CutPrefix(line, "Status:"); ok {
			fields := strings.Fields(v)
			if len(fields) == 0 {
				return nil, errors.Errorf("malformed cgi status line %q", line)
			}
			code, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, errors.Wrapf(err, "parsing cgi status %q", line)
			}
			resp.Status = code
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("unknown part of cgi response: %q", line)
		}
		resp.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading cgi body")
	}
	resp.Body = body
	return resp, nil
}
