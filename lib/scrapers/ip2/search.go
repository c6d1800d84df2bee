package ip2

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type SearchOptions struct {
	// Name becomes the experiment and dataset name.
	Name      string
	FilePaths []string
	// SearchParams are the raw prolucid form fields merged with the
	// derived identifiers at submission time.
	SearchParams map[string]string
	Database     *Database

	ExperimentOptions CreateExperimentOptions
	Convert           bool
	Monoisotopic      bool
}

// Search runs the whole submission flow: get-or-create the default
// project, create the experiment, upload every file sequentially, submit
// the prolucid search. There is no rollback on partial failure; an
// experiment created before an upload fails stays on the server.
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*Experiment, *Job, error) {
	ctx, span := tracer.Start(ctx, "client:Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("name", opts.Name),
		attribute.Int("files", len(opts.FilePaths)),
	)

	project, err := c.GetDefaultProject(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach default project")
		return nil, nil, err
	}

	experiment, err := project.AddExperiment(ctx, opts.Name, opts.ExperimentOptions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create experiment")
		return nil, nil, err
	}

	err = experiment.UploadFiles(ctx, opts.FilePaths, opts.Convert, opts.Monoisotopic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload spectra")
		return experiment, nil, err
	}
	for _, path := range opts.FilePaths {
		ok, err := experiment.CheckFileMd5(ctx, path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to verify upload")
			return experiment, nil, err
		}
		if !ok {
			err := fmt.Errorf("upload %s: server md5 does not match local file", path)
			span.SetStatus(codes.Error, err.Error())
			return experiment, nil, err
		}
	}

	job, err := experiment.ProlucidSearch(ctx, opts.SearchParams, opts.Database)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit search")
		return experiment, nil, err
	}

	return experiment, job, nil
}
