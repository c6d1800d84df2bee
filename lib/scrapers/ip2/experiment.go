package ip2

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ip2api/lib/htmlutil"
	"ip2api/lib/scrapers/ip2/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Experiment ("sample" in IP2's own vocabulary) lives under a project.
// Its server id, storage path and search id are all deferred: fetched on
// first access and only cached once successfully resolved.
type Experiment struct {
	client  *Client
	project *Project
	Name    string

	id       int
	path     string
	searchId int
}

type CreateExperimentOptions struct {
	// InstrumentId defaults to 65, the id the stock IP2 install assigns
	// its first instrument.
	InstrumentId          int
	SampleDescription     string
	ExperimentDescription string
	// Date defaults to the current date, evaluated per call.
	Date time.Time
}

// Project returns the owning project.
func (e *Experiment) Project() *Project {
	return e.project
}

// Id resolves the experiment's server id by re-fetching the parent's
// experiment listing and matching by name.
func (e *Experiment) Id(ctx context.Context) (int, error) {
	if e.id != 0 {
		return e.id, nil
	}

	ctx, span := tracer.Start(ctx, "experiment:Id")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	experiments, err := e.project.experiments.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh experiment listing")
		return 0, err
	}
	for _, candidate := range experiments {
		if candidate.Name == e.Name {
			e.id = candidate.id
		}
	}
	if e.id == 0 {
		err := fmt.Errorf("experiment %q: %w", e.Name, NotFound)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return e.id, nil
}

// Path resolves the experiment's server-side storage directory. The
// experiment page embeds it in the query string of the second link of the
// quality-check block; brittle but deterministic for a given IP2 version.
func (e *Experiment) Path(ctx context.Context) (string, error) {
	if e.path != "" {
		return e.path, nil
	}

	ctx, span := tracer.Start(ctx, "experiment:Path")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	doc, err := e.pageDocument(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch experiment page")
		return "", err
	}

	anchors := htmlutil.GetAnchors(ctx, doc.Find("div.add_quality_check_details a"))
	if len(anchors) < 2 {
		err := fmt.Errorf("experiment page has no quality check links")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	link, err := url.Parse(anchors[1].Href)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse quality check link")
		return "", err
	}
	path := link.Query().Get("expPath")
	if path == "" {
		err := fmt.Errorf("quality check link carries no expPath parameter")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	e.path = path
	return e.path, nil
}

// SearchId resolves the identifier of the experiment's completed search.
// An experiment that has never been searched is a distinct condition
// (SearchNotRun), not zero.
func (e *Experiment) SearchId(ctx context.Context) (int, error) {
	if e.searchId != 0 {
		return e.searchId, nil
	}

	ctx, span := tracer.Start(ctx, "experiment:SearchId")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	doc, err := e.pageDocument(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch experiment page")
		return 0, err
	}

	cell := doc.Find("table#search tbody td").First().Next()
	text := strings.TrimSpace(cell.Text())
	searchId, err := strconv.Atoi(text)
	if err != nil {
		span.SetStatus(codes.Error, SearchNotRun.Error())
		return 0, fmt.Errorf("experiment %q: %w", e.Name, SearchNotRun)
	}

	e.searchId = searchId
	return e.searchId, nil
}

// Link returns the absolute url of the experiment page.
func (e *Experiment) Link(ctx context.Context) (string, error) {
	id, err := e.Id(ctx)
	if err != nil {
		return "", err
	}
	pid, err := e.project.Id(ctx)
	if err != nil {
		return "", err
	}

	href := &url.URL{Path: core.EndpointExperiment}
	query := url.Values{}
	query.Set("pid", strconv.Itoa(pid))
	query.Set("projectName", e.project.Name)
	query.Set("experimentId", strconv.Itoa(id))
	href.RawQuery = query.Encode()
	return e.client.Core.BaseUrl.ResolveReference(href).String(), nil
}

// Create posts the new-experiment form. On success the parent project's
// experiment listing is re-fetched wholesale.
func (e *Experiment) Create(ctx context.Context, opts CreateExperimentOptions) error {
	ctx, span := tracer.Start(ctx, "experiment:Create")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	if opts.InstrumentId == 0 {
		opts.InstrumentId = 65
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}

	pid, err := e.project.Id(ctx)
	if err != nil {
		return err
	}

	res, err := e.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"pid":               strconv.Itoa(pid),
			"projectName":       e.project.Name,
			"sampleName":        e.Name,
			"sampleDescription": opts.SampleDescription,
			"instrumentId":      strconv.Itoa(opts.InstrumentId),
			"month":             strconv.Itoa(int(opts.Date.Month())),
			"date":              strconv.Itoa(opts.Date.Day()),
			"year":              strconv.Itoa(opts.Date.Year()),
			"description":       opts.ExperimentDescription,
		}).
		Post(core.EndpointAddExperiment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post new experiment form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = e.project.experiments.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh experiment listing")
		return err
	}
	return nil
}

// Delete removes the experiment from its project and re-fetches the
// parent's experiment listing.
func (e *Experiment) Delete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "experiment:Delete")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	id, err := e.Id(ctx)
	if err != nil {
		return err
	}
	pid, err := e.project.Id(ctx)
	if err != nil {
		return err
	}

	res, err := e.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"pid":         strconv.Itoa(pid),
			"projectName": e.project.Name,
			"expId":       strconv.Itoa(id),
			"delete":      "true",
		}).
		Post(core.EndpointDeleteExperiment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post delete experiment form")
		return err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = e.project.experiments.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh experiment listing")
		return err
	}
	return nil
}

// UploadFiles uploads spectra files sequentially. There is no rollback: a
// failure leaves the files uploaded so far in place.
func (e *Experiment) UploadFiles(ctx context.Context, paths []string, convert, monoisotopic bool) error {
	for _, path := range paths {
		err := e.UploadFile(ctx, path, convert, monoisotopic)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}
	return nil
}

func flag(on bool) string {
	if on {
		return "ok"
	}
	return "ko"
}

// UploadFile pushes a single spectra file into the experiment's storage
// directory.
func (e *Experiment) UploadFile(ctx context.Context, path string, convert, monoisotopic bool) error {
	ctx, span := tracer.Start(ctx, "experiment:UploadFile")
	defer span.End()
	span.SetAttributes(attribute.String("file", path))

	destPath, err := e.Path(ctx)
	if err != nil {
		return err
	}

	_, err = e.client.Core.UploadFile(ctx, path, destPath, "spectra", map[string]string{
		"flag":    flag(convert),
		"monoIso": flag(monoisotopic),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload file")
		return err
	}
	return nil
}

// CheckFileMd5 asks the server for its md5 of an uploaded file and
// compares it against the local hash. The only reliable way to verify an
// upload, since the upload flow itself reports nothing.
func (e *Experiment) CheckFileMd5(ctx context.Context, path string) (bool, error) {
	ctx, span := tracer.Start(ctx, "experiment:CheckFileMd5")
	defer span.End()

	md5sum, err := core.FileMd5(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash local file")
		return false, err
	}
	destPath, err := e.Path(ctx)
	if err != nil {
		return false, err
	}
	link, err := e.Link(ctx)
	if err != nil {
		return false, err
	}

	raw, err := e.client.Core.DWR(
		ctx,
		core.EndpointServerMd5,
		link,
		"FileUploadAction",
		"getMd5ServerMd5Value",
		map[string]string{
			"c0-param0": "string:" + destPath,
			"c0-param1": "string:" + md5sum,
			"c0-param2": "string:" + filepath.Base(path),
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to poll server md5")
		return false, err
	}

	return strings.Contains(raw, md5sum), nil
}

var convertCallbackRegex = regexp.MustCompile(`remoteHandleCallback\('\w+','\w+',"(.+)"\);`)

// CheckFileConvertStatus reports whether the server-side .raw conversion
// of an uploaded file has finished. One-shot: callers poll and sleep at
// their own cadence.
func (e *Experiment) CheckFileConvertStatus(ctx context.Context, filename string) (bool, error) {
	ctx, span := tracer.Start(ctx, "experiment:CheckFileConvertStatus")
	defer span.End()
	span.SetAttributes(attribute.String("file", filename))

	destPath, err := e.Path(ctx)
	if err != nil {
		return false, err
	}
	link, err := e.Link(ctx)
	if err != nil {
		return false, err
	}

	raw, err := e.client.Core.DWR(
		ctx,
		core.EndpointConvertorStatus,
		link,
		"FileUploadAction",
		"checkRawConvertorStatus",
		map[string]string{
			"c0-param0": "string:" + filename,
			"c0-param1": "string:" + destPath,
			"c0-param2": "number:0",
			"c0-param3": "string:ok",
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to poll convertor status")
		return false, err
	}

	groups := convertCallbackRegex.FindStringSubmatch(raw)
	if len(groups) < 2 {
		return false, nil
	}
	return strings.Contains(groups[1], "DONE"), nil
}

// ProlucidSearch merges the caller's search parameters with the derived
// experiment, project and database identifiers and submits the search.
// The returned job handle polls by the experiment's dataset name.
func (e *Experiment) ProlucidSearch(ctx context.Context, params map[string]string, database *Database) (*Job, error) {
	ctx, span := tracer.Start(ctx, "experiment:ProlucidSearch")
	defer span.End()
	span.SetAttributes(attribute.String("name", e.Name))

	id, err := e.Id(ctx)
	if err != nil {
		return nil, err
	}
	destPath, err := e.Path(ctx)
	if err != nil {
		return nil, err
	}
	pid, err := e.project.Id(ctx)
	if err != nil {
		return nil, err
	}
	dbId, err := database.Id(ctx)
	if err != nil {
		return nil, err
	}

	form := map[string]string{}
	for k, v := range params {
		form[k] = v
	}
	form["expId"] = strconv.Itoa(id)
	form["expPath"] = destPath
	form["sampleName"] = e.Name
	form["pid"] = strconv.Itoa(pid)
	form["projectName"] = e.project.Name
	form["sp.proteinUserId"] = strconv.Itoa(database.UserId)
	form["sp.proteinDbId"] = strconv.Itoa(dbId)

	res, err := e.client.Core.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(core.EndpointProlucidSearch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit search")
		return nil, err
	}
	if err := checkMutation(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return e.client.NewJob(e.Name), nil
}

// DTASelectLink resolves the url of the DTASelect-filter output of the
// experiment's completed search.
func (e *Experiment) DTASelectLink(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "experiment:DTASelectLink")
	defer span.End()

	searchId, err := e.SearchId(ctx)
	if err != nil {
		return "", err
	}

	doc, err := e.pageDocument(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch experiment page")
		return "", err
	}

	// locate the search row by its id, follow its View link
	var viewHref string
	doc.Find("table#search tbody td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if !strings.Contains(cell.Text(), strconv.Itoa(searchId)) {
			return true
		}
		cell.NextAll().Find("a").Each(func(_ int, a *goquery.Selection) {
			if strings.TrimSpace(a.Text()) == "View" {
				viewHref = a.AttrOr("href", "")
			}
		})
		return viewHref == ""
	})
	if viewHref == "" {
		err := fmt.Errorf("search %d has no view link", searchId)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	res, err := e.client.Core.Http.R().
		SetContext(ctx).
		Get(viewHref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch search view page")
		return "", err
	}
	viewDoc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse search view page")
		return "", err
	}

	var dtaHref string
	viewDoc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(a.Text(), "DTASelect-filter") {
			dtaHref = a.AttrOr("href", "")
			return false
		}
		return true
	})
	if dtaHref == "" {
		err := fmt.Errorf("search view page has no DTASelect-filter link")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	link, err := url.Parse(dtaHref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse DTASelect link")
		return "", err
	}
	return e.client.Core.BaseUrl.ResolveReference(link).String(), nil
}

// DTASelect fetches the DTASelect-filter output as text.
func (e *Experiment) DTASelect(ctx context.Context) (string, error) {
	link, err := e.DTASelectLink(ctx)
	if err != nil {
		return "", err
	}
	res, err := e.client.Core.Http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (e *Experiment) pageDocument(ctx context.Context) (*goquery.Document, error) {
	id, err := e.Id(ctx)
	if err != nil {
		return nil, err
	}
	pid, err := e.project.Id(ctx)
	if err != nil {
		return nil, err
	}
	return e.client.document(ctx, core.EndpointExperiment, map[string]string{
		"experimentId": strconv.Itoa(id),
		"projectName":  e.project.Name,
		"pid":          strconv.Itoa(pid),
	})
}

func (e *Experiment) prolucidFormDocument(ctx context.Context) (*goquery.Document, error) {
	id, err := e.Id(ctx)
	if err != nil {
		return nil, err
	}
	destPath, err := e.Path(ctx)
	if err != nil {
		return nil, err
	}
	pid, err := e.project.Id(ctx)
	if err != nil {
		return nil, err
	}
	return e.client.document(ctx, core.EndpointProlucidForm, map[string]string{
		"expId":       strconv.Itoa(id),
		"expPath":     destPath,
		"pid":         strconv.Itoa(pid),
		"projectName": e.project.Name,
		"sampleName":  e.Name,
	})
}
