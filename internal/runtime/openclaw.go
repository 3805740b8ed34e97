package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
)

// GatewayError is a retryable failure from the external gateway runtime:
// transport errors, non-2xx statuses, an abort-timeout, or an HTTP-success
// body that explicitly declared ok=false.
type GatewayError struct {
	Status  int
	Reason  string
	Timeout bool
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return "gateway timeout: " + e.Reason
	}
	return "gateway: " + e.Reason
}

// Openclaw dispatches deliveries to the openclaw gateway runtime over HTTP.
type Openclaw struct {
	cfg    config.GatewayConfig
	client *http.Client
	br     *breaker
}

func NewOpenclaw(cfg config.GatewayConfig) *Openclaw {
	cfg = cfg.Normalized()
	return &Openclaw{
		cfg: cfg,
		// The hard deadline is applied per request via context so a
		// timeout is distinguishable from other transport failures.
		client: &http.Client{},
		br:     newBreaker(cfg.Breaker.FailThreshold, cfg.Breaker.OpenFor),
	}
}

// baseURL resolves the gateway base URL through an ordered fallback chain:
// per-station map, URL template, cluster DNS template, global URL. The first
// non-empty result wins.
func (o *Openclaw) baseURL(station, namespace string) (string, error) {
	resolvers := []func() string{
		func() string { return o.cfg.StationURLs[station] },
		func() string { return expand(o.cfg.URLTemplate, station, namespace) },
		func() string { return expand(o.cfg.ClusterTemplate, station, namespace) },
		func() string { return o.cfg.URL },
	}
	for _, r := range resolvers {
		if u := strings.TrimSpace(r()); u != "" {
			return strings.TrimRight(u, "/"), nil
		}
	}
	return "", fmt.Errorf("no gateway url configured for station=%q namespace=%q", station, namespace)
}

func expand(template, station, namespace string) string {
	if template == "" || station == "" {
		return ""
	}
	s := strings.ReplaceAll(template, "{station}", station)
	return strings.ReplaceAll(s, "{namespace}", namespace)
}

type dispatchEnvelope struct {
	RequestType string          `json:"requestType"`
	DeliveryID  string          `json:"deliveryId"`
	Provider    string          `json:"provider"`
	Destination string          `json:"destination"`
	Message     string          `json:"message"`
	Config      json.RawMessage `json:"config,omitempty"`
	Credentials map[string]any  `json:"credentials"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Dispatch POSTs the delivery envelope and interprets the response. Both an
// HTTP failure and an explicit ok=false body count as failures.
func (o *Openclaw) Dispatch(ctx context.Context, req Request) (Result, error) {
	if !o.br.allow() {
		return Result{}, &GatewayError{Status: http.StatusServiceUnavailable, Reason: "circuit open"}
	}

	res, err := o.dispatch(ctx, req)
	o.br.record(err != nil)
	return res, err
}

func (o *Openclaw) dispatch(ctx context.Context, req Request) (Result, error) {
	base, err := o.baseURL(req.Station, req.Namespace)
	if err != nil {
		return Result{}, err
	}

	env := dispatchEnvelope{
		RequestType: "bridge.dispatch",
		DeliveryID:  req.DeliveryID,
		Provider:    req.Provider,
		Destination: req.Destination,
		Message:     req.Message,
		Config:      req.Config,
		Credentials: req.Credentials,
		Metadata:    req.Metadata,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Result{}, fmt.Errorf("marshal dispatch envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+o.cfg.DispatchPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	httpRes, err := o.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, &GatewayError{
				Reason:  fmt.Sprintf("no response within %s", o.cfg.Timeout.Round(time.Millisecond)),
				Timeout: true,
			}
		}
		return Result{}, &GatewayError{Reason: err.Error()}
	}
	defer httpRes.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(httpRes.Body, 1<<20))
	parsed := parseGatewayBody(data)

	httpOK := httpRes.StatusCode/100 == 2
	if !httpOK || parsed.declaredFailure {
		return Result{}, &GatewayError{
			Status: httpRes.StatusCode,
			Reason: parsed.reason(httpRes.StatusCode),
		}
	}

	return Result{ProviderMessageID: parsed.messageID, Payload: parsed.raw}, nil
}

// gatewayBody is the permissively parsed response: empty and non-JSON
// bodies are tolerated.
type gatewayBody struct {
	raw             json.RawMessage
	messageID       string
	declaredFailure bool
	errText         string
}

func parseGatewayBody(data []byte) gatewayBody {
	out := gatewayBody{raw: json.RawMessage(`{}`)}
	if len(bytes.TrimSpace(data)) == 0 {
		return out
	}

	var body struct {
		OK                *bool  `json:"ok"`
		ProviderMessageID string `json:"providerMessageId"`
		MessageID         string `json:"messageId"`
		Data              struct {
			ID string `json:"id"`
		} `json:"data"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return out
	}

	out.raw = json.RawMessage(data)
	out.declaredFailure = body.OK != nil && !*body.OK

	switch {
	case body.ProviderMessageID != "":
		out.messageID = body.ProviderMessageID
	case body.MessageID != "":
		out.messageID = body.MessageID
	default:
		out.messageID = body.Data.ID
	}

	if len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			out.errText = s
		} else {
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &obj) == nil {
				out.errText = obj.Message
			}
		}
	}
	return out
}

func (g gatewayBody) reason(status int) string {
	if g.errText != "" {
		return g.errText
	}
	return fmt.Sprintf("status %d", status)
}
