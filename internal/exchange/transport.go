package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/coordsvc/internal/config"
	"github.com/dreamware/coordsvc/internal/sessionid"
)

// Transport is the point-to-point opaque-frame send/receive contract
// (spec.md §6 "Transport contract"): addressable send of opaque
// frames, no delivery guarantee, no ordering guarantee between
// distinct peers.
type Transport interface {
	// Send delivers frame to addr. Implementations should treat
	// failures as ordinary (see package doc) — callers never surface
	// them as operation errors.
	Send(ctx context.Context, addr sessionid.Address, frame []byte) error
}

// httpClient is shared across all outbound sends, mirroring the
// connection-pooled client pattern used for inter-node calls elsewhere
// in this codebase.
var httpClient = &http.Client{Timeout: 5 * time.Second}

const framePath = "/coordsvc/exchange"

// HTTPTransport sends frames as the raw POST body to framePath at a
// peer's base URL. The base URL is resolved via cfg's peer_directory
// (config.PeerBaseURL, standing in for the out-of-scope address-
// serialization/service-discovery layer, SPEC_FULL.md §6.2); when no
// entry matches addr's prefix, addr is dialed directly as a raw
// host:port, so an unconfigured peer_directory still works for
// same-process-family deployments.
type HTTPTransport struct {
	cfg config.Config
}

// NewHTTPTransport returns a ready-to-use HTTPTransport resolving peer
// addresses through cfg.
func NewHTTPTransport(cfg config.Config) *HTTPTransport {
	return &HTTPTransport{cfg: cfg}
}

func (t *HTTPTransport) Send(ctx context.Context, addr sessionid.Address, frame []byte) error {
	base, ok := config.PeerBaseURL(t.cfg, string(addr))
	var url string
	if ok {
		url = base + framePath
	} else {
		url = fmt.Sprintf("http://%s%s", addr, framePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("exchange: http %s: %d", url, resp.StatusCode)
	}
	return nil
}

// InboundHandler is an http.Handler that reads a raw frame from the
// request body and pushes it onto the manager's inbound channel for
// the background receive loop to decode and dispatch. Register it at
// framePath on the participant's HTTP server.
type InboundHandler struct {
	inbound chan<- []byte
}

func newInboundHandler(inbound chan<- []byte) *InboundHandler {
	return &InboundHandler{inbound: inbound}
}

func (h *InboundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	select {
	case h.inbound <- body:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		http.Error(w, "cancelled", http.StatusServiceUnavailable)
	}
}
