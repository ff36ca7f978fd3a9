package ota

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"foxco2-go/errcode"
)

func tlsFetcher(t *testing.T, srv *httptest.Server) *HTTPFetcher {
	t.Helper()
	ca := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	f, err := NewHTTPFetcher(string(ca), 5*time.Second, quiet())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFetchStreamsImage(t *testing.T) {
	img := bytes.Repeat([]byte("firmware"), 20000)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := tlsFetcher(t, srv).Fetch(context.Background(), srv.URL+"/fw.bin", &buf)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len(img)) || !bytes.Equal(buf.Bytes(), img) {
		t.Fatalf("got %d bytes, want %d", n, len(img))
	}
}

func TestFetchRejectsUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()
	other := httptest.NewTLSServer(http.NotFoundHandler())
	defer other.Close()

	// Trusting a different server's certificate must not validate srv.
	_, err := tlsFetcher(t, other).Fetch(context.Background(), srv.URL, &bytes.Buffer{})
	if errcode.Of(err) != errcode.UpdateFailed {
		t.Fatalf("code = %v, want update_failed", errcode.Of(err))
	}
}

func TestFetchBadStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := tlsFetcher(t, srv).Fetch(context.Background(), srv.URL+"/missing", &bytes.Buffer{})
	if errcode.Of(err) != errcode.UpdateFailed {
		t.Fatalf("code = %v, want update_failed", errcode.Of(err))
	}
}

func TestFetchInvalidURL(t *testing.T) {
	f, err := NewHTTPFetcher("", time.Second, quiet())
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"not a url", "http://insecure/fw.bin", "https://", "::"} {
		if _, err := f.Fetch(context.Background(), u, &bytes.Buffer{}); errcode.Of(err) != errcode.UpdateFailed {
			t.Errorf("%q: code = %v, want update_failed", u, errcode.Of(err))
		}
	}
}

func TestNewHTTPFetcherBadBundle(t *testing.T) {
	if _, err := NewHTTPFetcher("garbage", time.Second, quiet()); err == nil {
		t.Fatal("expected error for CA bundle without certificates")
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tlsFetcher(t, srv).Fetch(ctx, srv.URL, &bytes.Buffer{})
	if errcode.Of(err) != errcode.UpdateFailed {
		t.Fatalf("code = %v, want update_failed", errcode.Of(err))
	}
}
