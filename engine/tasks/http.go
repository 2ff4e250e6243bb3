package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/idc-core/idc/engine/action"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPRequest performs an outbound request and reports the response. Only 2xx
// responses count as success.
type HTTPRequest struct {
	client *resty.Client
}

// NewHTTPRequest applies the default timeout when client has none.
func NewHTTPRequest(client *resty.Client) *HTTPRequest {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout <= 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	return &HTTPRequest{client: client}
}

func (h *HTTPRequest) Execute(ctx context.Context, inv *action.Invocation) error {
	params, err := decodeParams[httpRequestParams](inv)
	if err != nil {
		return err
	}
	req := h.client.R().SetContext(ctx).SetHeaders(params.Headers)
	if params.Body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(params.Body)
	}
	resp, err := req.Execute(strings.ToUpper(params.Method), params.URL)
	if err != nil {
		return fmt.Errorf("http request to %s failed: %w", params.URL, err)
	}
	headers := make(map[string]any, len(resp.Header()))
	for key, values := range resp.Header() {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	body := resp.String()
	inv.Results["response_status"] = resp.StatusCode()
	inv.Results["response_headers"] = headers
	inv.Results["response_body"] = body
	var parsed any
	if err := json.Unmarshal(resp.Body(), &parsed); err == nil {
		inv.Results["response_json"] = parsed
	}
	inv.Metrics.SetSuccess(resp.IsSuccess())
	return nil
}
