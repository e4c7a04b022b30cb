// Package tunnel handles HTTP protocol upgrade requests (most commonly
// WebSocket) by splicing the client connection directly to the
// backend's, after relaying the upgrade handshake. Tunneled traffic is
// never cached and never retried.
package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Tunnel dials a single backend and relays protocol-upgrade requests to
// it, byte for byte, once the backend accepts the handshake.
type Tunnel struct {
	backendAddr string
	backendHost string
	dialTimeout time.Duration
}

// New creates a Tunnel that dials backendURL's host for every upgrade.
func New(backendURL *url.URL, dialTimeout time.Duration) *Tunnel {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	addr := backendURL.Host
	if backendURL.Port() == "" {
		if backendURL.Scheme == "https" {
			addr = net.JoinHostPort(backendURL.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(backendURL.Hostname(), "80")
		}
	}
	return &Tunnel{
		backendAddr: addr,
		backendHost: backendURL.Host,
		dialTimeout: dialTimeout,
	}
}

// Serve relays r's upgrade handshake to the backend and, if accepted,
// hijacks w's underlying connection and splices it to the backend
// connection until either side closes. It writes a final status to w
// only when the handshake fails or the backend declines; once the
// splice starts, the client connection is no longer governed by the
// http package and Serve communicates failures only through logging
// at the caller.
func (t *Tunnel) Serve(w http.ResponseWriter, r *http.Request) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return fmt.Errorf("tunnel: ResponseWriter does not support hijacking")
	}

	backendConn, err := net.DialTimeout("tcp", t.backendAddr, t.dialTimeout)
	if err != nil {
		http.Error(w, "could not connect to backend", http.StatusBadGateway)
		return fmt.Errorf("tunnel: dialing backend: %w", err)
	}

	if err := t.relayHandshake(backendConn, r); err != nil {
		backendConn.Close()
		http.Error(w, "could not complete upgrade", http.StatusBadGateway)
		return fmt.Errorf("tunnel: relaying handshake: %w", err)
	}

	backendResp, err := http.ReadResponse(bufio.NewReader(backendConn), r)
	if err != nil {
		backendConn.Close()
		http.Error(w, "backend did not respond to upgrade", http.StatusBadGateway)
		return fmt.Errorf("tunnel: reading backend handshake response: %w", err)
	}

	if backendResp.StatusCode != http.StatusSwitchingProtocols {
		defer backendConn.Close()
		return t.relayRejection(w, backendResp)
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		backendConn.Close()
		return fmt.Errorf("tunnel: hijacking client connection: %w", err)
	}

	if err := backendResp.Write(clientConn); err != nil {
		clientConn.Close()
		backendConn.Close()
		return fmt.Errorf("tunnel: writing switching-protocols response to client: %w", err)
	}

	sent, received := splice(clientConn, clientBuf, backendConn)
	log.Debug().Int64("sent", sent).Int64("received", received).Msg("tunnel closed")
	return nil
}

// relayHandshake writes the client's upgrade request line and headers
// to the backend connection, verbatim except for the rewrites that
// net/http itself applies and the Host, which is set to the backend's
// host.
func (t *Tunnel) relayHandshake(backendConn net.Conn, r *http.Request) error {
	outbound := r.Clone(r.Context())
	outbound.URL = &url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	outbound.RequestURI = ""
	outbound.Host = t.backendHost
	return outbound.Write(backendConn)
}

// relayRejection forwards the backend's non-101 response to the client
// uninterpreted and uncached; this is the backend declining the
// upgrade, not a tunnel failure.
func (t *Tunnel) relayRejection(w http.ResponseWriter, backendResp *http.Response) error {
	defer backendResp.Body.Close()
	for k, vv := range backendResp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(backendResp.StatusCode)
	_, err := io.Copy(w, backendResp.Body)
	return err
}

// splice copies bytes bidirectionally between the client and backend
// connections until one side closes, then closes both and waits for
// the other direction's copy to unblock and finish, so the returned
// byte counts are final rather than a snapshot mid-copy. clientBuf may
// hold bytes the client already sent past the handshake; those are
// drained to the backend before the raw copy begins.
func splice(clientConn net.Conn, clientBuf *bufio.ReadWriter, backendConn net.Conn) (sent, received int64) {
	done := make(chan struct{}, 2)

	go func() {
		if buffered := clientBuf.Reader.Buffered(); buffered > 0 {
			n, _ := io.CopyN(backendConn, clientBuf.Reader, int64(buffered))
			sent += n
		}
		n, _ := io.Copy(backendConn, clientConn)
		sent += n
		done <- struct{}{}
	}()
	go func() {
		n, _ := io.Copy(clientConn, backendConn)
		received += n
		done <- struct{}{}
	}()

	<-done
	clientConn.Close()
	backendConn.Close()
	<-done
	return sent, received
}
