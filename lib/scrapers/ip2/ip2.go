// Package ip2 automates a proprietary proteomics web application ("IP2")
// by replaying its session-based login flow, form submissions and DWR
// polling endpoints, then scraping structured data out of the returned
// HTML pages and javascript text.
package ip2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"ip2api/lib/htmlutil"
	"ip2api/lib/scrapers/ip2/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/ip2")

const (
	DefaultProjectName      = "ip2api"
	DefaultHelperExperiment = "ip2api_helper"
)

// Client wraps an authenticated core session with memoized collection
// caches and entity constructors. Collections are fetched on first use and
// replaced wholesale after any mutation that could change them.
type Client struct {
	Core *core.Client

	// DefaultProjectName owns experiments created by Search and gives
	// instrument creation the project context the remote request shape
	// demands.
	DefaultProjectName string
	// HelperExperimentName is a sentinel experiment used only to reach
	// pages that expose collection data (the database listing).
	HelperExperimentName string

	projects    *collection[*Project]
	databases   *collection[*Database]
	organisms   *collection[Organism]
	instruments *collection[*Instrument]
}

type ClientOptions struct {
	BaseUrl  string
	Username string
	// DefaultProjectName and HelperExperimentName fall back to the
	// package defaults when empty.
	DefaultProjectName   string
	HelperExperimentName string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	coreClient, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl:  opts.BaseUrl,
		Username: opts.Username,
	})
	if err != nil {
		return nil, err
	}
	return NewClientWithCore(coreClient, opts), nil
}

func NewClientWithCore(coreClient *core.Client, opts ClientOptions) *Client {
	c := &Client{
		Core:                 coreClient,
		DefaultProjectName:   opts.DefaultProjectName,
		HelperExperimentName: opts.HelperExperimentName,
	}
	if c.DefaultProjectName == "" {
		c.DefaultProjectName = DefaultProjectName
	}
	if c.HelperExperimentName == "" {
		c.HelperExperimentName = DefaultHelperExperiment
	}

	c.projects = newCollection(c.fetchProjects)
	c.databases = newCollection(c.fetchDatabases)
	c.organisms = newCollection(c.fetchOrganisms)
	c.instruments = newCollection(c.fetchInstruments)
	return c
}

// checkMutation normalizes the success signal of a mutating form post.
// HTTP status alone is not trusted: IP2 answers most validation failures
// with a 200 page carrying an error box, so the body is inspected too.
func checkMutation(res *resty.Response) error {
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("request returned status %d", res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		// not an html page, fall back to the status code
		return nil
	}
	errBox := doc.Find("div.errormsg, span.errormsg, .errorMessage")
	if len(errBox.Nodes) > 0 {
		msg := htmlutil.CleanText(errBox.First().Text())
		if msg == "" {
			msg = "server reported an error"
		}
		return fmt.Errorf("mutation rejected: %s", msg)
	}
	return nil
}

func (c *Client) document(ctx context.Context, endpoint string, query map[string]string) (*goquery.Document, error) {
	res, err := c.Core.Http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(endpoint)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
}

// Projects returns the cached project listing of the authenticated user.
func (c *Client) Projects(ctx context.Context) ([]*Project, error) {
	return c.projects.Get(ctx)
}

// Databases returns the cached database listing of the IP2 instance.
func (c *Client) Databases(ctx context.Context) ([]*Database, error) {
	return c.databases.Get(ctx)
}

// Organisms returns the cached organisms created in the IP2 instance.
func (c *Client) Organisms(ctx context.Context) ([]Organism, error) {
	return c.organisms.Get(ctx)
}

// Instruments returns the cached instruments of the IP2 instance.
func (c *Client) Instruments(ctx context.Context) ([]*Instrument, error) {
	return c.instruments.Get(ctx)
}

// GetProject finds a cached project by exact name. Several projects
// sharing one name get a warning and the last match, the listing order
// putting the most recent one last. A missing name is NotFound.
func (c *Client) GetProject(ctx context.Context, name string) (*Project, error) {
	projects, err := c.projects.Get(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*Project
	for _, p := range projects {
		if p.Name == name {
			matches = append(matches, p)
		}
	}
	if len(matches) > 1 {
		slog.Warn("multiple projects found with the provided name", "name", name)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("project %q: %w", name, NotFound)
	}
	return matches[len(matches)-1], nil
}

// GetExperiment finds an experiment by name inside the named project.
func (c *Client) GetExperiment(ctx context.Context, projectName, name string) (*Experiment, error) {
	project, err := c.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	return project.GetExperiment(ctx, name)
}

// GetDatabase finds a database by its server-side file name.
func (c *Client) GetDatabase(ctx context.Context, filepath string) (*Database, error) {
	databases, err := c.databases.Get(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range databases {
		if d.Filepath == filepath {
			return d, nil
		}
	}
	return nil, fmt.Errorf("database %q: %w", filepath, NotFound)
}

// GetDefaultProject returns the client's default project, creating it on
// the server when it does not exist yet.
func (c *Client) GetDefaultProject(ctx context.Context) (*Project, error) {
	ctx, span := tracer.Start(ctx, "client:GetDefaultProject")
	defer span.End()

	project, err := c.GetProject(ctx, c.DefaultProjectName)
	if err == nil {
		return project, nil
	}
	if !errorIsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up default project")
		return nil, err
	}

	project = c.NewProject(c.DefaultProjectName)
	err = project.Create(ctx, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create default project")
		return nil, err
	}
	return project, nil
}

// helperExperiment returns the sentinel experiment under the default
// project, creating it when missing. It exists only to reach pages that
// expose collection data.
func (c *Client) helperExperiment(ctx context.Context) (*Experiment, error) {
	ctx, span := tracer.Start(ctx, "client:helperExperiment")
	defer span.End()

	project, err := c.GetDefaultProject(ctx)
	if err != nil {
		return nil, err
	}

	experiment, err := project.GetExperiment(ctx, c.HelperExperimentName)
	if err == nil {
		return experiment, nil
	}
	if !errorIsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up helper experiment")
		return nil, err
	}

	experiment, err = project.AddExperiment(ctx, c.HelperExperimentName, CreateExperimentOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create helper experiment")
		return nil, err
	}
	return experiment, nil
}

func (c *Client) fetchProjects(ctx context.Context) ([]*Project, error) {
	ctx, span := tracer.Start(ctx, "client:fetchProjects")
	defer span.End()

	doc, err := c.document(ctx, core.EndpointProjectList, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch project list")
		return nil, err
	}

	var projects []*Project
	doc.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		idAttr := row.Find("input[name=pid]").AttrOr("value", "")
		if idAttr == "" {
			return
		}
		id, err := strconv.Atoi(idAttr)
		if err != nil {
			return
		}
		name := row.Find("input[name=projectName]").AttrOr("value", "")
		projects = append(projects, &Project{
			client: c,
			Name:   name,
			id:     id,
		})
	})
	for _, p := range projects {
		p.experiments = newCollection(p.fetchExperiments)
	}

	span.SetAttributes(attribute.Int("count", len(projects)))
	return projects, nil
}

func (c *Client) fetchOrganisms(ctx context.Context) ([]Organism, error) {
	ctx, span := tracer.Start(ctx, "client:fetchOrganisms")
	defer span.End()

	doc, err := c.document(ctx, core.EndpointAddDatabase, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch database form")
		return nil, err
	}

	var organisms []Organism
	for _, opt := range htmlutil.SelectOptions(doc.Find("select#organism")) {
		organisms = append(organisms, Organism{client: c, Name: opt.Label})
	}
	span.SetAttributes(attribute.Int("count", len(organisms)))
	return organisms, nil
}

func (c *Client) fetchInstruments(ctx context.Context) ([]*Instrument, error) {
	ctx, span := tracer.Start(ctx, "client:fetchInstruments")
	defer span.End()

	doc, err := c.document(ctx, core.EndpointAddExperiment, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch experiment form")
		return nil, err
	}

	var instruments []*Instrument
	for _, opt := range htmlutil.SelectOptions(doc.Find("select[name=instrumentId]")) {
		id, err := strconv.Atoi(opt.Value)
		if err != nil {
			continue
		}
		instruments = append(instruments, &Instrument{
			client: c,
			Name:   opt.Label,
			id:     id,
		})
	}
	span.SetAttributes(attribute.Int("count", len(instruments)))
	return instruments, nil
}

// one record per database in the getProteinDbForUser response; the fields
// always render in this order
var databaseInfoRegex = regexp.MustCompile(
	`dbSource="(?P<source>.+?)".+?` +
		`description="(?P<description>.*?)".+?` +
		`fileName="(?P<file>.+?)".+?` +
		`id=(?P<id>\d+).+?` +
		`organism="(?P<organism>.+?)"`,
)

func (c *Client) fetchDatabases(ctx context.Context) ([]*Database, error) {
	ctx, span := tracer.Start(ctx, "client:fetchDatabases")
	defer span.End()

	// the database listing only renders inside the search form of an
	// experiment, so a sentinel experiment is needed to reach it
	experiment, err := c.helperExperiment(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach helper experiment")
		return nil, err
	}
	doc, err := experiment.prolucidFormDocument(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch prolucid form")
		return nil, err
	}

	var databases []*Database
	for _, user := range htmlutil.SelectOptions(doc.Find("select[name='sp.proteinUserId']")) {
		userId, err := strconv.Atoi(user.Value)
		if err != nil {
			continue
		}
		forUser, err := c.fetchDatabasesForUser(ctx, userId, user.Label)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch databases for user")
			return nil, err
		}
		databases = append(databases, forUser...)
	}

	span.SetAttributes(attribute.Int("count", len(databases)))
	return databases, nil
}

func (c *Client) fetchDatabasesForUser(ctx context.Context, userId int, username string) ([]*Database, error) {
	raw, err := c.Core.DWR(
		ctx,
		core.EndpointDatabasesForUser,
		"/"+core.EndpointProlucidForm,
		"SearchProlucidAction",
		"getProteinDbForUser",
		map[string]string{"c0-param0": fmt.Sprintf("string:%d", userId)},
	)
	if err != nil {
		return nil, err
	}

	var databases []*Database
	for _, m := range databaseInfoRegex.FindAllStringSubmatch(raw, -1) {
		id, err := strconv.Atoi(m[databaseInfoRegex.SubexpIndex("id")])
		if err != nil {
			continue
		}
		databases = append(databases, &Database{
			client:      c,
			id:          id,
			Source:      m[databaseInfoRegex.SubexpIndex("source")],
			Description: m[databaseInfoRegex.SubexpIndex("description")],
			Organism:    m[databaseInfoRegex.SubexpIndex("organism")],
			Filepath:    m[databaseInfoRegex.SubexpIndex("file")],
			Username:    username,
			UserId:      userId,
		})
	}
	return databases, nil
}

func errorIsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}
