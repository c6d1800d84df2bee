// Package results retrieves DTASelect-filter output of completed searches
// with an on-disk cache, so repeated pulls of the same finished search do
// not hammer the IP2 instance.
package results

import (
	"context"
	"time"

	"ip2api/lib/scrapers/ip2"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scrapers/ip2/results")

// finished searches never change server-side, the lifetime only bounds
// disk usage
const RESULT_LIFETIME = int64((time.Hour / time.Second) * 24 * 30)

type Client struct {
	// ClientId partitions the cache between IP2 accounts.
	ClientId string
	Ip2      *ip2.Client
	cache    resultCache
}

type ClientOptions struct {
	ClientId string
	Cache    *badger.DB
}

func NewClient(ip2Client *ip2.Client, opts ClientOptions) Client {
	return Client{
		ClientId: opts.ClientId,
		Ip2:      ip2Client,
		cache: resultCache{
			db:      opts.Cache,
			baseUrl: ip2Client.Core.BaseUrl,
		},
	}
}

// DTASelect returns the DTASelect-filter text of the experiment's
// completed search, out of cache when possible.
func (c Client) DTASelect(ctx context.Context, experiment *ip2.Experiment) (string, error) {
	ctx, span := tracer.Start(ctx, "client:DTASelect")
	defer span.End()

	link, err := experiment.DTASelectLink(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve DTASelect link")
		return "", err
	}
	span.SetAttributes(attribute.KeyValue{
		Key:   "url",
		Value: attribute.StringValue(link),
	})

	cached, err := c.cache.get(ctx, c.ClientId, link)
	if err == nil {
		span.SetStatus(codes.Ok, "CACHE HIT")
		return string(cached.Contents), nil
	}
	if err != errResultNotFound {
		span.RecordError(err)
		span.AddEvent("CACHE ERROR", trace.WithAttributes(attribute.KeyValue{
			Key:   "log.severity",
			Value: attribute.StringValue("WARN"),
		}))
	}

	res, err := c.Ip2.Core.Http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return "", err
	}
	contents := res.String()

	err = c.cache.set(ctx, c.ClientId, link, cachedResult{
		Contents:  []byte(contents),
		ExpiresAt: time.Now().Unix() + RESULT_LIFETIME,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cache result")
	}

	return contents, nil
}
