package httpstep

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Request is one fully-resolved HTTP attempt.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    any
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Body       string
}

// Transport sends one request. The three variants (standard,
// challenge-tolerant, external curl) are selected per step by the runner.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// bodyReadLimit bounds how much of a response is read for sampling.
const bodyReadLimit = 64 << 10

func readCABundle(path string) ([]byte, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca bundle: %w", err)
	}
	return pem, nil
}

func newHTTPClient(caBundle string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caBundle != "" {
		pem, err := readCABundle(caBundle)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s: no certificates found", caBundle)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	// No client-level timeout; each attempt carries its own deadline.
	return &http.Client{Transport: transport}, nil
}

// StandardTransport is the default: plain HTTP with TLS verification
// against the resolved CA path.
type StandardTransport struct {
	client *http.Client
}

func NewStandardTransport(caBundle string) (*StandardTransport, error) {
	client, err := newHTTPClient(caBundle)
	if err != nil {
		return nil, err
	}
	return &StandardTransport{client: client}, nil
}

func (t *StandardTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	return send(ctx, t.client, req, nil)
}

// ChallengeTransport targets endpoints behind anti-bot challenges: it keeps
// a cookie jar across attempts and presents browser-like headers.
type ChallengeTransport struct {
	client *http.Client
}

var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

func NewChallengeTransport(caBundle string) (*ChallengeTransport, error) {
	client, err := newHTTPClient(caBundle)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client.Jar = jar
	return &ChallengeTransport{client: client}, nil
}

func (t *ChallengeTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	return send(ctx, t.client, req, browserHeaders)
}

func send(ctx context.Context, client *http.Client, req *Request, extraHeaders map[string]string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	bodyReader, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range extraHeaders {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	sample, err := io.ReadAll(io.LimitReader(resp.Body, bodyReadLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	return &Response{StatusCode: resp.StatusCode, Body: string(sample)}, nil
}

func buildURL(raw string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// encodeBody attaches a JSON body for mappings and sequences, raw bytes
// otherwise.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	}
	switch reflect.ValueOf(body).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	default:
		return strings.NewReader(fmt.Sprint(body)), "", nil
	}
}

// CurlTransport shells out to curl for GET steps that need it (some
// endpoints only cooperate with curl's TLS stack).
type CurlTransport struct {
	binary   string
	caBundle string
}

func NewCurlTransport(caBundle string) *CurlTransport {
	return &CurlTransport{binary: "curl", caBundle: caBundle}
}

func (t *CurlTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("curl transport supports GET only, got %s", req.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-sS",
		"--max-time", strconv.Itoa(int(req.Timeout.Seconds())),
		"-w", "\n%{http_code}",
	}
	if t.caBundle != "" {
		args = append(args, "--cacert", t.caBundle)
	}
	for k, v := range req.Headers {
		args = append(args, "-H", k+": "+v)
	}
	args = append(args, target)

	out, err := exec.CommandContext(ctx, t.binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("curl: %w", err)
	}

	// The status code is the final line, appended by -w.
	idx := bytes.LastIndexByte(out, '\n')
	if idx < 0 {
		return nil, fmt.Errorf("curl: malformed output")
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out[idx+1:])))
	if err != nil {
		return nil, fmt.Errorf("curl: parse status: %w", err)
	}

	body := string(out[:idx])
	if len(body) > bodyReadLimit {
		body = body[:bodyReadLimit]
	}
	return &Response{StatusCode: code, Body: body}, nil
}
