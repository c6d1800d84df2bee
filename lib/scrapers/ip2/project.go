package ip2

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"ip2api/lib/scrapers/ip2/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Project is identified by its user-supplied name; the numeric server id
// is deferred and resolved on first use by re-reading the project listing.
type Project struct {
	client *Client
	Name   string

	id          int
	experiments *collection[*Experiment]
}

// NewProject constructs an in-memory project handle. It only becomes real
// on the server after Create succeeds.
func (c *Client) NewProject(name string) *Project {
	p := &Project{client: c, Name: name}
	p.experiments = newCollection(p.fetchExperiments)
	return p
}

// Id resolves the project's server id, refreshing the project listing and
// matching by name. The id is only cached once successfully resolved; a
// missing name is NotFound, never a zero treated as valid.
func (p *Project) Id(ctx context.Context) (int, error) {
	if p.id != 0 {
		return p.id, nil
	}

	ctx, span := tracer.Start(ctx, "project:Id")
	defer span.End()
	span.SetAttributes(attribute.String("name", p.Name))

	projects, err := p.client.projects.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh project listing")
		return 0, err
	}

	// last match wins, the listing puts the most recent project last
	for _, candidate := range projects {
		if candidate.Name == p.Name {
			p.id = candidate.id
		}
	}
	if p.id == 0 {
		err := fmt.Errorf("project %q: %w", p.Name, NotFound)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return p.id, nil
}

// Create posts the new-project form. On success the client's project
// listing is re-fetched wholesale.
func (p *Project) Create(ctx context.Context, description string) error {
	ctx, span := tracer.Start(ctx, "project:Create")
	defer span.End()
	span.SetAttributes(attribute.String("name", p.Name))

	res, err := p.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"projectName": p.Name,
			"desc":        description,
		}).
		Post(core.EndpointAddProject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post new project form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = p.client.projects.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh project listing")
		return err
	}
	return nil
}

// Delete removes the project and all data under it. On success the
// client's project listing is re-fetched.
func (p *Project) Delete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "project:Delete")
	defer span.End()
	span.SetAttributes(attribute.String("name", p.Name))

	id, err := p.Id(ctx)
	if err != nil {
		return err
	}

	res, err := p.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"pid":    strconv.Itoa(id),
			"delete": "true",
		}).
		Post(core.EndpointDeleteProject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post delete project form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = p.client.projects.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh project listing")
		return err
	}
	return nil
}

// Experiments returns the cached experiment listing of this project.
func (p *Project) Experiments(ctx context.Context) ([]*Experiment, error) {
	return p.experiments.Get(ctx)
}

// AddExperiment creates an experiment under this project and returns its
// handle.
func (p *Project) AddExperiment(ctx context.Context, name string, opts CreateExperimentOptions) (*Experiment, error) {
	experiment := &Experiment{client: p.client, project: p, Name: name}
	err := experiment.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	return experiment, nil
}

// GetExperiment finds an experiment of this project by exact name. As with
// projects, duplicates warn and the last (most recent) match wins; a
// missing name is NotFound.
func (p *Project) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	experiments, err := p.experiments.Get(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*Experiment
	for _, e := range experiments {
		if e.Name == name {
			matches = append(matches, e)
		}
	}
	if len(matches) > 1 {
		slog.Warn("multiple experiments found with the provided name",
			"project", p.Name, "name", name)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("experiment %q: %w", name, NotFound)
	}
	return matches[len(matches)-1], nil
}

func (p *Project) fetchExperiments(ctx context.Context) ([]*Experiment, error) {
	ctx, span := tracer.Start(ctx, "project:fetchExperiments")
	defer span.End()
	span.SetAttributes(attribute.String("project", p.Name))

	id, err := p.Id(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := p.client.document(ctx, core.EndpointExperimentList, map[string]string{
		"pid":         strconv.Itoa(id),
		"projectName": p.Name,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch experiment list")
		return nil, err
	}

	var experiments []*Experiment
	doc.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		idAttr := row.Find("input[name=expId]").AttrOr("value", "")
		if idAttr == "" {
			return
		}
		expId, err := strconv.Atoi(idAttr)
		if err != nil {
			return
		}
		experiments = append(experiments, &Experiment{
			client:  p.client,
			project: p,
			Name:    row.Find("input[name=sampleName]").AttrOr("value", ""),
			id:      expId,
		})
	})

	span.SetAttributes(attribute.Int("count", len(experiments)))
	return experiments, nil
}
