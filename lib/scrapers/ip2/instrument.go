package ip2

import (
	"context"
	"fmt"
	"strconv"

	"ip2api/lib/scrapers/ip2/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Instrument is a mass spec instrument registered on the IP2 instance.
// Instruments are not conceptually project-scoped, but the remote create
// request demands a project context, so creation borrows the client's
// default project.
type Instrument struct {
	client *Client
	Name   string

	id int
}

// NewInstrument constructs an in-memory instrument handle.
func (c *Client) NewInstrument(name string) *Instrument {
	return &Instrument{client: c, Name: name}
}

// Id resolves the instrument's server id against the cached collection.
func (i *Instrument) Id(ctx context.Context) (int, error) {
	if i.id != 0 {
		return i.id, nil
	}

	ctx, span := tracer.Start(ctx, "instrument:Id")
	defer span.End()
	span.SetAttributes(attribute.String("name", i.Name))

	instruments, err := i.client.instruments.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read instrument listing")
		return 0, err
	}
	for _, candidate := range instruments {
		if candidate.Name == i.Name {
			i.id = candidate.id
			return i.id, nil
		}
	}

	err = fmt.Errorf("instrument %q: %w", i.Name, NotFound)
	span.SetStatus(codes.Error, err.Error())
	return 0, err
}

// Create registers the instrument when its name is absent from the cached
// collection; the collection is re-fetched afterwards.
func (i *Instrument) Create(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "instrument:Create")
	defer span.End()
	span.SetAttributes(attribute.String("name", i.Name))

	instruments, err := i.client.instruments.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read instrument listing")
		return err
	}
	for _, existing := range instruments {
		if existing.Name == i.Name {
			return nil
		}
	}

	project, err := i.client.GetDefaultProject(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach default project")
		return err
	}
	pid, err := project.Id(ctx)
	if err != nil {
		return err
	}

	res, err := i.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"pid":            strconv.Itoa(pid),
			"projectName":    project.Name,
			"instrumentName": i.Name,
		}).
		Post(core.EndpointAddInstrument)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post new instrument form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = i.client.instruments.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh instrument listing")
		return err
	}
	return nil
}
