package core

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/codes"
)

// IP2 exposes a DWR bridge: javascript method calls encoded as form POST
// parameters, answered with javascript snippets. Every call carries a
// "script session id" that the server's engine.js assigns to a global;
// there is no structured handshake, we scrape the assignment out of the
// script text once per client lifetime.
var scriptSessionIdRegex = regexp.MustCompile(`_origScriptSessionId\s=\s"(\w+)"`)

func (c *Client) scriptSessionId(ctx context.Context) (string, error) {
	c.dwrMu.Lock()
	defer c.dwrMu.Unlock()

	if c.dwrSessionId != "" {
		return c.dwrSessionId, nil
	}

	ctx, span := tracer.Start(ctx, "client:scriptSessionId")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(EndpointDwrEngine)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dwr engine script")
		return "", err
	}

	groups := scriptSessionIdRegex.FindStringSubmatch(res.String())
	if len(groups) < 2 {
		err := fmt.Errorf("could not find script session id in engine.js")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	c.dwrSessionId = groups[1]
	return c.dwrSessionId, nil
}

// DWR posts a single method call to one of the .dwr endpoints and returns
// the raw javascript response text for the caller to parse. There is no
// retry if the scraped session token has expired server-side.
func (c *Client) DWR(ctx context.Context, endpoint, page, scriptName, methodName string, params map[string]string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:DWR")
	defer span.End()

	sessionId, err := c.scriptSessionId(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve script session id")
		return "", err
	}

	payload := map[string]string{
		"callCount":       "1",
		"page":            page,
		"httpSessionId":   "",
		"scriptSessionId": sessionId,
		"c0-scriptName":   scriptName,
		"c0-methodName":   methodName,
		"c0-id":           "0",
		"batchId":         "0",
	}
	for k, v := range params {
		payload[k] = v
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(payload).
		SetHeader("content-type", "plain/text").
		Post(endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make dwr request")
		return "", err
	}

	return res.String(), nil
}
