package ip2

import (
	"context"
	"strconv"
	"strings"

	"ip2api/lib/scrapers/ip2/core"
	"ip2api/lib/scrapers/ip2/jobstatus"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Job tracks a submitted search by its dataset (sample) name, the only
// key the job monitor response can be correlated on. Update overwrites the
// previous state wholesale; polling cadence is entirely the caller's.
type Job struct {
	client *Client

	DatasetName string
	Id          string
	Finished    bool
	Progress    float64
	// Info retains the full raw key/value mapping of the last poll for
	// fields not otherwise modeled.
	Info map[string]string
}

// NewJob constructs a handle for a search job submitted under the given
// dataset name.
func (c *Client) NewJob(datasetName string) *Job {
	return &Job{client: c, DatasetName: datasetName}
}

// Update polls the job monitor and replaces the job's state. A dataset
// name absent from the response (e.g. the job is not registered
// server-side yet) surfaces as jobstatus.NoSuchJob.
func (j *Job) Update(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "job:Update")
	defer span.End()
	span.SetAttributes(attribute.String("dataset", j.DatasetName))

	raw, err := j.client.Core.DWR(
		ctx,
		core.EndpointJobStatus,
		core.EndpointJobStatusPage,
		"JobMonitor",
		"getSearchJobStatus",
		nil,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to poll job monitor")
		return err
	}

	info, err := jobstatus.Parse(raw).Job(j.DatasetName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	j.Info = info

	// the first poll pins the search id
	if j.Id == "" {
		j.Id = info["jobId"]
	}

	finished, err := strconv.ParseBool(strings.ToLower(info["finished"]))
	if err == nil {
		j.Finished = finished
	}
	progress, err := strconv.ParseFloat(strings.TrimSpace(info["progress"]), 64)
	if err == nil {
		j.Progress = progress
	}

	span.SetAttributes(
		attribute.Bool("finished", j.Finished),
		attribute.Float64("progress", j.Progress),
	)
	return nil
}
