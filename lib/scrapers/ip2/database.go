package ip2

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"ip2api/lib/htmlutil"
	"ip2api/lib/scrapers/ip2/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Database is a protein search database (.fasta) registered on the IP2
// instance. Identity on the server is (username, filepath); the numeric id
// is deferred until resolved against the database listing.
type Database struct {
	client *Client

	id          int
	Source      string
	Description string
	Organism    string
	Filepath    string
	Username    string
	// UserId is populated only after upload or when constructed from the
	// server's listing.
	UserId int
}

// NewDatabase constructs an in-memory handle for a database owned by the
// client's user.
func (c *Client) NewDatabase(filepath string) *Database {
	return &Database{
		client:   c,
		Filepath: filepath,
		Username: c.Core.Username,
	}
}

// Id resolves the database's server id by matching username and filepath
// against the client's database listing.
func (d *Database) Id(ctx context.Context) (int, error) {
	if d.id != 0 {
		return d.id, nil
	}

	ctx, span := tracer.Start(ctx, "database:Id")
	defer span.End()
	span.SetAttributes(attribute.String("filepath", d.Filepath))

	databases, err := d.client.databases.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read database listing")
		return 0, err
	}
	for _, candidate := range databases {
		if candidate.Username == d.Username && candidate.Filepath == d.Filepath {
			d.id = candidate.id
			d.UserId = candidate.UserId
			return d.id, nil
		}
	}

	err = fmt.Errorf("database %s/%s: %w", d.Username, d.Filepath, NotFound)
	span.SetStatus(codes.Error, err.Error())
	return 0, err
}

// Equal reports whether two database records match on every field except
// the owning client reference.
func (d *Database) Equal(other *Database) bool {
	if other == nil {
		return false
	}
	return d.id == other.id &&
		d.Source == other.Source &&
		d.Description == other.Description &&
		d.Organism == other.Organism &&
		d.Filepath == other.Filepath &&
		d.Username == other.Username &&
		d.UserId == other.UserId
}

// uploadPath is the server-side directory database files land in.
func (d *Database) uploadPath() string {
	return path.Join("ip2/ip2_data", d.Username, "database")
}

// AbsoluteUrl returns the url of the database file on the server.
func (d *Database) AbsoluteUrl() string {
	ref := &url.URL{Path: path.Join(d.uploadPath(), d.Filepath)}
	return d.client.Core.BaseUrl.ResolveReference(ref).String()
}

type UploadDatabaseOptions struct {
	Source      string
	Organism    string
	Version     string
	Description string
	// Date defaults to the current date, evaluated per call.
	Date time.Time
	// Reverse and Contaminant default to true the way the upload form
	// pre-checks them.
	Reverse     *bool
	Contaminant *bool
}

func yesNo(on bool) string {
	if on {
		return "yes"
	}
	return "no"
}

// Upload pushes a local .fasta file to the server, makes sure the
// referenced source and organism tags exist, then posts the metadata form
// describing the upload. On success the database listing is re-fetched.
func (d *Database) Upload(ctx context.Context, localPath string, opts UploadDatabaseOptions) error {
	ctx, span := tracer.Start(ctx, "database:Upload")
	defer span.End()
	span.SetAttributes(attribute.String("file", localPath))

	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	reverse := true
	if opts.Reverse != nil {
		reverse = *opts.Reverse
	}
	contaminant := true
	if opts.Contaminant != nil {
		contaminant = *opts.Contaminant
	}

	d.Filepath = path.Base(localPath)
	d.Source = opts.Source
	d.Organism = opts.Organism

	_, err := d.client.Core.UploadFile(ctx, localPath, d.uploadPath(), "db", map[string]string{
		"flag": "non",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload database file")
		return err
	}

	err = d.createSourceIfMissing(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ensure database source exists")
		return err
	}
	organism := Organism{client: d.client, Name: d.Organism}
	err = organism.Create(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ensure organism exists")
		return err
	}

	res, err := d.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"upload_file_name": "",
			"dbFilePath":       d.uploadPath(),
			"dbSource":         d.Source,
			"organism":         d.Organism,
			"month":            strconv.Itoa(int(opts.Date.Month())),
			"date":             strconv.Itoa(opts.Date.Day()),
			"year":             strconv.Itoa(opts.Date.Year()),
			"version":          opts.Version,
			"desc":             opts.Description,
			"reverse":          yesNo(reverse),
			"contaminant":      yesNo(contaminant),
			"uploader_0_name":  d.Filepath,
			"upload_0_status":  "done",
			"uploader_count":   "1",
		}).
		Post(core.EndpointUploadDatabase)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post database metadata")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = d.client.databases.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh database listing")
		return err
	}
	return nil
}

// Delete removes the database from the server and re-fetches the listing.
func (d *Database) Delete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "database:Delete")
	defer span.End()

	id, err := d.Id(ctx)
	if err != nil {
		return err
	}

	res, err := d.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"dbId":   strconv.Itoa(id),
			"delete": "true",
		}).
		Post(core.EndpointDeleteDatabase)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post delete database form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = d.client.databases.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh database listing")
		return err
	}
	return nil
}

// createSourceIfMissing scans the upload form's source options and
// registers the database's source tag when absent.
func (d *Database) createSourceIfMissing(ctx context.Context) error {
	doc, err := d.client.document(ctx, core.EndpointAddDatabase, nil)
	if err != nil {
		return err
	}

	for _, opt := range htmlutil.SelectOptions(doc.Find("select[name=dbSource]")) {
		if opt.Label == d.Source {
			return nil
		}
	}

	res, err := d.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"upload_file_name": "",
			"dbSource":         d.Source,
		}).
		Post(core.EndpointAddDatabaseSource)
	if err != nil {
		return err
	}
	return checkMutation(res)
}
