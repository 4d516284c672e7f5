package waitfor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/ferry/internal/log"
)

// EndpointEnv names the variable consulted by DefaultEndpoint.
const EndpointEnv = "ENDPOINT"

// DialTimeout bounds a single connect attempt made by Port.
const DialTimeout = time.Second

// maxBody caps how much of a response body HTTPResponse reads.
const maxBody = 10 << 20

// DefaultEndpoint returns $ENDPOINT, or fallback when it is unset or empty.
func DefaultEndpoint(fallback string) string {
	if v := os.Getenv(EndpointEnv); v != "" {
		return v
	}
	return fallback
}

// Port is ready once a TCP connection to host:port succeeds. Refused or
// unreachable targets are NotReady; it never reports Failed.
func Port(host string, port int) Check {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (Status, error) {
		d := net.Dialer{Timeout: DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return NotReady, err
		}
		_ = conn.Close()
		return Ready, nil
	}
}

// Response is what an HTTPResponse predicate sees.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// URL is ready once url answers with a 2xx status after redirects. Other
// statuses and transport failures are NotReady.
func URL(client *http.Client, url string) Check {
	return HTTPResponse(client, url, func(r *Response) bool {
		return r.StatusCode >= 200 && r.StatusCode < 300
	})
}

// HTTPStatus is ready when the response status equals status.
func HTTPStatus(client *http.Client, url string, status int) Check {
	return HTTPResponse(client, url, func(r *Response) bool { return r.StatusCode == status })
}

// HTTPResponse is ready when accept returns true for the full response.
// A nil client uses http.DefaultClient.
func HTTPResponse(client *http.Client, url string, accept func(*Response) bool) Check {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Status, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Failed, fmt.Errorf("building request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return NotReady, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return NotReady, fmt.Errorf("reading response: %w", err)
		}
		r := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if accept(r) {
			return Ready, nil
		}
		return NotReady, fmt.Errorf("unexpected response: %s", resp.Status)
	}
}

// FileProbe waits for a file to appear. It watches the parent directory so
// a file that is created between polls is not missed, and reports Failed
// once the parent directory is gone.
type FileProbe struct {
	path    string
	dir     string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	created bool
	gone    bool
	done    chan struct{}
}

// NewFileProbe starts watching the parent directory of path. If the watch
// cannot be set up the probe falls back to plain stat polling.
func NewFileProbe(path string) *FileProbe {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := &FileProbe{path: abs, dir: filepath.Dir(abs), done: make(chan struct{})}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err = w.Add(p.dir); err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		log.Warn(log.CatWait, "file watch unavailable, polling only", "dir", p.dir, "error", err)
		close(p.done)
		return p
	}

	p.watcher = w
	go p.loop()
	return p
}

func (p *FileProbe) loop() {
	defer close(p.done)
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.mu.Lock()
			switch {
			case ev.Name == p.path && ev.Has(fsnotify.Create):
				p.created = true
			case ev.Name == p.dir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)):
				p.gone = true
			}
			p.mu.Unlock()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWait, "file watch error", "dir", p.dir, "error", err)
		}
	}
}

// Check implements the probe.
func (p *FileProbe) Check(context.Context) (Status, error) {
	if _, err := os.Stat(p.path); err == nil {
		return Ready, nil
	}

	p.mu.Lock()
	created, gone := p.created, p.gone
	p.mu.Unlock()
	if created {
		return Ready, nil
	}
	if gone {
		return Failed, fmt.Errorf("directory %s was removed", p.dir)
	}
	if _, err := os.Stat(p.dir); errors.Is(err, fs.ErrNotExist) {
		return Failed, fmt.Errorf("directory %s does not exist", p.dir)
	}
	return NotReady, fmt.Errorf("%s does not exist yet", p.path)
}

// Close stops watching.
func (p *FileProbe) Close() error {
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	<-p.done
	return err
}

func (e *Engine) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// WaitForPort waits until host:port accepts TCP connections.
func (e *Engine) WaitForPort(ctx context.Context, host string, port int, opts ...Option) error {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	return e.Wait(ctx, Port(host, port), append([]Option{withProbe("port", target)}, opts...)...)
}

// WaitForURL waits until url answers with a 2xx status.
func (e *Engine) WaitForURL(ctx context.Context, url string, opts ...Option) error {
	return e.Wait(ctx, URL(e.client(), url), append([]Option{withProbe("url", url)}, opts...)...)
}

// WaitForHTTPStatus waits until url answers with status.
func (e *Engine) WaitForHTTPStatus(ctx context.Context, url string, status int, opts ...Option) error {
	return e.Wait(ctx, HTTPStatus(e.client(), url, status), append([]Option{withProbe("http_status", url)}, opts...)...)
}

// WaitForHTTPResponse waits until accept approves a response from url.
func (e *Engine) WaitForHTTPResponse(ctx context.Context, url string, accept func(*Response) bool, opts ...Option) error {
	return e.Wait(ctx, HTTPResponse(e.client(), url, accept), append([]Option{withProbe("http_response", url)}, opts...)...)
}

// WaitForFile waits until path exists.
func (e *Engine) WaitForFile(ctx context.Context, path string, opts ...Option) error {
	p := NewFileProbe(path)
	defer func() { _ = p.Close() }()
	return e.Wait(ctx, p.Check, append([]Option{withProbe("file", path)}, opts...)...)
}
