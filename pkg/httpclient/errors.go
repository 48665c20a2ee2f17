package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
)

// DownstreamErrorResponse is the structured error body some catalog
// deployments return, mirroring httputil.ErrorResponse.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an AppError. The body is consumed and closed.
//
// 404 becomes NotFound. 503 becomes ServiceUnavailable. Every other status is
// reported as an upstream failure carrying the downstream message.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.UpstreamFailure(serviceName,
			fmt.Errorf("status %d (failed to read body: %w)", resp.StatusCode, err))
	}

	message := strings.TrimSpace(string(bodyBytes))
	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		message = downstream.Error.Message
	}

	return mapDownstreamError(resp.StatusCode, message, serviceName, resp.Request)
}

func mapDownstreamError(status int, message, serviceName string, req *http.Request) error {
	switch status {
	case http.StatusNotFound:
		id := message
		if req != nil && req.URL != nil {
			id = req.URL.RequestURI()
		}
		return apperrors.NotFound(serviceName+" resource", id)
	case http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(fmt.Sprintf("%s: %s", serviceName, message))
	default:
		return apperrors.UpstreamFailure(serviceName, fmt.Errorf("status %d: %s", status, message))
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
