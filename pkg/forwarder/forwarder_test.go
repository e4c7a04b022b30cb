package forwarder

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func backendURL(t *testing.T, srv *httptest.Server) *url.URL {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestForwardCopiesStatusHeadersAndBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer backend.Close()

	f := New(backendURL(t, backend), Options{})
	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)

	a, err := f.Forward(req)
	if err != nil {
		t.Fatal(err)
	}
	if a.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", a.StatusCode)
	}
	if string(a.Body) != "created" {
		t.Fatalf("body = %q", a.Body)
	}
	if a.Header.Get("X-From-Backend") != "yes" {
		t.Fatalf("missing backend header, got %v", a.Header)
	}
}

func TestForwardStripsHopByHopHeadersBothWays(t *testing.T) {
	var sawConnection, sawUpgrade string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawConnection = r.Header.Get("Connection")
		sawUpgrade = r.Header.Get("Upgrade")
		w.Header().Set("Connection", "close")
		w.Header().Set("Trailer", "X-Checksum")
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	f := New(backendURL(t, backend), Options{})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade", "h2c")

	a, err := f.Forward(req)
	if err != nil {
		t.Fatal(err)
	}
	if sawConnection != "" || sawUpgrade != "" {
		t.Fatalf("backend saw hop-by-hop headers: connection=%q upgrade=%q", sawConnection, sawUpgrade)
	}
	if a.Header.Get("Connection") != "" || a.Header.Get("Trailer") != "" {
		t.Fatalf("artifact retained hop-by-hop headers: %v", a.Header)
	}
}

func TestForwardJoinsBackendPathPrefix(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	base := backendURL(t, backend)
	base.Path = "/api"
	f := New(base, Options{})
	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)

	if _, err := f.Forward(req); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/widgets/1" {
		t.Fatalf("backend saw path %q", gotPath)
	}
}

func TestForwardDoesNotFollowBackendRedirects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer backend.Close()

	f := New(backendURL(t, backend), Options{})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	a, err := f.Forward(req)
	if err != nil {
		t.Fatal(err)
	}
	if a.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want the raw redirect returned uninterpreted", a.StatusCode)
	}
	if a.Header.Get("Location") != "/elsewhere" {
		t.Fatalf("Location header = %q", a.Header.Get("Location"))
	}
}

func TestForwardRejectsOversizedBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer backend.Close()

	f := New(backendURL(t, backend), Options{MaxBodyBytes: 4})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	if _, err := f.Forward(req); err != ErrBodyTooLarge {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestForwardSendsRequestBody(t *testing.T) {
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	f := New(backendURL(t, backend), Options{})
	body := strings.NewReader(`{"hello":"world"}`)
	req := httptest.NewRequest(http.MethodPost, "/x", body)
	req.ContentLength = int64(body.Len())

	if _, err := f.Forward(req); err != nil {
		t.Fatal(err)
	}
	if gotBody != `{"hello":"world"}` {
		t.Fatalf("backend saw body %q", gotBody)
	}
}
