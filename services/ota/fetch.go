package ota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"foxco2-go/errcode"
)

// Fetcher streams an image from a URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

// HTTPFetcher downloads images over certificate-validated TLS.
type HTTPFetcher struct {
	h        *http.Client
	log      *slog.Logger
	progress int64
}

// NewHTTPFetcher builds a fetcher. caPEM, when set, replaces the system
// roots with the provisioned bundle.
func NewHTTPFetcher(caPEM string, timeout time.Duration, log *slog.Logger) (*HTTPFetcher, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, errcode.New(errcode.Unrecoverable, "ota.fetcher", "no certificates in CA bundle")
		}
		tc.RootCAs = pool
	}
	tr := &http.Transport{
		TLSClientConfig:     tc,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     30 * time.Second,
		MaxIdleConns:        1,
	}
	return &HTTPFetcher{
		h:        &http.Client{Timeout: timeout, Transport: tr},
		log:      log,
		progress: 64 << 10,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	const op = "ota.fetch"
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return 0, errcode.New(errcode.UpdateFailed, op, "invalid update url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, errcode.Wrap(errcode.UpdateFailed, op, err)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := f.h.Do(req)
	if err != nil {
		return 0, errcode.Wrap(errcode.UpdateFailed, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errcode.New(errcode.UpdateFailed, op, "download status "+strconv.Itoa(resp.StatusCode))
	}
	f.log.Info("ota:download-start",
		slog.String("host", u.Host),
		slog.Int64("length", resp.ContentLength))

	pw := &progressWriter{w: w, every: f.progress, log: f.log}
	n, err := io.Copy(pw, resp.Body)
	if err != nil {
		var e *errcode.E
		if errors.As(err, &e) {
			return n, err
		}
		return n, errcode.Wrap(errcode.UpdateFailed, op, err)
	}
	if n == 0 {
		return 0, errcode.New(errcode.UpdateFailed, op, "empty image")
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, errcode.New(errcode.UpdateFailed, op, "short image")
	}
	f.log.Info("ota:download-done", slog.Int64("bytes", n))
	return n, nil
}

type progressWriter struct {
	w     io.Writer
	n     int64
	next  int64
	every int64
	log   *slog.Logger
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	if p.every > 0 && p.n >= p.next+p.every {
		p.next = p.n - p.n%p.every
		p.log.Debug("ota:progress", slog.Int64("bytes", p.n))
	}
	return n, err
}
