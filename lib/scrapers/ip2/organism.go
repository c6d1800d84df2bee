package ip2

import (
	"context"

	"ip2api/lib/scrapers/ip2/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Organism is a name-keyed tag; it has no server id.
type Organism struct {
	client *Client
	Name   string
}

// NewOrganism constructs an in-memory organism handle.
func (c *Client) NewOrganism(name string) Organism {
	return Organism{client: c, Name: name}
}

// Equal reports whether two organisms carry the same name; the owning
// client is ignored.
func (o Organism) Equal(other Organism) bool {
	return o.Name == other.Name
}

// Create registers the organism when its name is absent from the cached
// collection; the collection is re-fetched afterwards.
func (o Organism) Create(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "organism:Create")
	defer span.End()
	span.SetAttributes(attribute.String("name", o.Name))

	organisms, err := o.client.organisms.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read organism listing")
		return err
	}
	for _, existing := range organisms {
		if existing.Name == o.Name {
			return nil
		}
	}

	res, err := o.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"upload_file_name": "",
			"organism":         o.Name,
		}).
		Post(core.EndpointAddOrganism)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post new organism form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = o.client.organisms.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh organism listing")
		return err
	}
	return nil
}
