package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/service"
	"github.com/chain-data-gateway/internal/x402"
)

const (
	// maxForwardBody bounds request bodies forwarded upstream.
	maxForwardBody = 1 << 20

	HeaderCreditsRemaining = "X-Credits-Remaining"
)

// GatewayHandler serves gated upstream calls under a route prefix.
// Requests authenticated with an API key pay with credits; everything
// else, and every request when paymentOnly is set, pays over x402.
type GatewayHandler struct {
	svc         *service.GatewayService
	prefix      string
	paymentOnly bool
}

func NewGatewayHandler(svc *service.GatewayService, prefix string, paymentOnly bool) *GatewayHandler {
	return &GatewayHandler{svc: svc, prefix: strings.TrimRight(prefix, "/"), paymentOnly: paymentOnly}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, h.prefix)
	if path == "" {
		path = "/"
	}

	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxForwardBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				RespondError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body is too large")
				return
			}
			RespondError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
			return
		}
	}

	req := service.GatewayRequest{
		Method:        r.Method,
		Path:          path,
		RequestPath:   r.URL.Path,
		Query:         r.URL.Query(),
		Body:          body,
		ContentType:   r.Header.Get("Content-Type"),
		PaymentHeader: r.Header.Get(x402.HeaderPayment),
	}

	var (
		resp *service.GatewayResponse
		err  error
	)
	if key := middleware.GetAPIKey(r.Context()); key != nil && !h.paymentOnly {
		resp, err = h.svc.ServeWithCredits(r.Context(), key, req)
	} else {
		resp, err = h.svc.ServeWithPayment(r.Context(), req)
	}
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		service.RespondError(w, err)
		return
	}

	for k, vs := range resp.Header {
		w.Header()[k] = vs
	}
	if resp.Remaining != nil {
		w.Header().Set(HeaderCreditsRemaining, strconv.FormatInt(*resp.Remaining, 10))
	}
	httputil.RespondRaw(w, resp.StatusCode, resp.Body)
}
