package results

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/url"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errResultNotFound = badger.ErrKeyNotFound

type cachedResult struct {
	Contents []byte

	ExpiresAt int64
}

type resultCache struct {
	db      *badger.DB
	baseUrl *url.URL
}

func (c resultCache) key(clientId, endpoint string) (string, error) {
	full, err := c.baseUrl.Parse(endpoint)
	if err != nil {
		return "", err
	}
	normalized := purell.NormalizeURL(
		full,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	key := clientId + ":" + normalized
	return key, nil
}

func (c resultCache) get(ctx context.Context, clientId, endpoint string) (cachedResult, error) {
	ctx, span := tracer.Start(ctx, "cache:get")
	defer span.End()

	key, err := c.key(clientId, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return cachedResult{}, err
	}
	span.SetAttributes(attribute.KeyValue{
		Key:   "cache_key",
		Value: attribute.StringValue(key),
	})

	tx := c.db.NewTransaction(false)
	defer tx.Discard()
	item, err := tx.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return cachedResult{}, errResultNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return cachedResult{}, err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return cachedResult{}, err
	}

	decoder := gob.NewDecoder(bytes.NewBuffer(serialized))

	var cached cachedResult
	err = decoder.Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return cachedResult{}, err
	}

	if time.Now().Unix() >= cached.ExpiresAt {
		span.AddEvent("delete expired cache key", trace.WithAttributes(attribute.KeyValue{
			Key:   "key",
			Value: attribute.StringValue(key),
		}))

		tx := c.db.NewTransaction(true)
		defer tx.Commit()

		err = tx.Delete([]byte(key))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete expired key")
			return cachedResult{}, errResultNotFound
		}

		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return cachedResult{}, errResultNotFound
	}

	span.AddEvent(
		"successfully returned cached result",
		trace.WithAttributes(attribute.KeyValue{
			Key:   "contentlength",
			Value: attribute.IntValue(len(cached.Contents)),
		}),
	)

	return cached, nil
}

func (c resultCache) set(ctx context.Context, clientId, endpoint string, result cachedResult) error {
	ctx, span := tracer.Start(ctx, "cache:set")
	defer span.End()

	key, err := c.key(clientId, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return err
	}
	span.SetAttributes(attribute.KeyValue{
		Key:   "cache_key",
		Value: attribute.StringValue(key),
	})

	serialized := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(serialized)
	err = encoder.Encode(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize result")
		return err
	}

	tx := c.db.NewTransaction(true)
	defer tx.Commit()

	err = tx.Set([]byte(key), serialized.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}

	return nil
}
