// Package ip2test hosts an in-memory stand-in for an IP2 instance. It
// renders just enough of the server's pages, forms and DWR javascript for
// the scraper to run against, with the same field names and redirect
// behavior as the real thing.
package ip2test

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultUsername = "tester"
	DefaultPassword = "hunter2"

	// the stock install registers its first instrument under this id
	defaultInstrumentId = 65

	userId          = 42
	scriptSessionId = "8A44C4EF3F182D8E"
	sessionCookie   = "JSESSIONID"
)

type experiment struct {
	id       int
	name     string
	path     string
	searchId int
}

type project struct {
	id          int
	name        string
	experiments []*experiment
}

type database struct {
	id       int
	source   string
	desc     string
	fileName string
	organism string
}

type job struct {
	id       int
	finished bool
	progress float64
}

// Server is a fake IP2 instance. All state lives in memory behind one
// mutex; every mutating handler validates the same form fields the real
// server's pages submit.
type Server struct {
	Username string
	Password string
	Http     *httptest.Server

	mu          sync.Mutex
	nextId      int
	sessions    map[string]bool
	projects    []*project
	organisms   []string
	instruments map[int]string
	sources     []string
	databases   []*database
	// jobs are keyed by dataset (sample) name; each status poll advances
	// progress so tests observe a finishing job without sleeping
	jobs    map[string]*job
	uploads map[string][]byte
	// dtaselect output keyed by search id
	results map[int]string
}

func NewServer() *Server {
	s := &Server{
		Username:    DefaultUsername,
		Password:    DefaultPassword,
		nextId:      100,
		sessions:    map[string]bool{},
		organisms:   []string{"Homo sapiens"},
		instruments: map[int]string{defaultInstrumentId: "Orbitrap Fusion"},
		sources:     []string{"UniProt_plus_reverse"},
		jobs:        map[string]*job{},
		uploads:     map[string][]byte{},
		results:     map[int]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ip2/j_security_check", s.handleLogin)
	mux.HandleFunc("/ip2/login.jsp", s.handleLoginPage)
	mux.HandleFunc("/ip2/logout.jsp", s.handleLogout)
	mux.HandleFunc("/ip2/viewProject.html", s.authed(s.handleProjectList))
	mux.HandleFunc("/ip2/addProject.html", s.authed(s.handleAddProject))
	mux.HandleFunc("/ip2/deleteProject.html", s.authed(s.handleDeleteProject))
	mux.HandleFunc("/ip2/viewExperiment.html", s.authed(s.handleExperimentList))
	mux.HandleFunc("/ip2/saveExperiment.html", s.authed(s.handleSaveExperiment))
	mux.HandleFunc("/ip2/deleteExperiment.html", s.authed(s.handleDeleteExperiment))
	mux.HandleFunc("/ip2/eachExperiment.html", s.authed(s.handleExperimentPage))
	mux.HandleFunc("/ip2/searchView.html", s.authed(s.handleSearchView))
	mux.HandleFunc("/ip2/data/dtaselect", s.authed(s.handleDtaSelect))
	mux.HandleFunc("/ip2/fileUploadAction.html", s.authed(s.handleFileUpload))
	mux.HandleFunc("/ip2/prolucidProteinForm.html", s.authed(s.handleProlucidForm))
	mux.HandleFunc("/ip2/prolucidProteinId.html", s.authed(s.handleProlucidSearch))
	mux.HandleFunc("/ip2/addDatabase.html", s.authed(s.handleDatabaseForm))
	mux.HandleFunc("/ip2/addDatabaseAction.html", s.authed(s.handleAddDatabase))
	mux.HandleFunc("/ip2/deleteDatabase.html", s.authed(s.handleDeleteDatabase))
	mux.HandleFunc("/ip2/newDbSource.html", s.authed(s.handleNewSource))
	mux.HandleFunc("/ip2/newOrganism.html", s.authed(s.handleNewOrganism))
	mux.HandleFunc("/ip2/newInstrument.html", s.authed(s.handleNewInstrument))
	mux.HandleFunc("/ip2/dwr/engine.js", s.authed(s.handleDwrEngine))
	mux.HandleFunc("/ip2/dwr/call/plaincall/JobMonitor.getSearchJobStatus.dwr", s.authed(s.handleJobStatus))
	mux.HandleFunc("/ip2/dwr/call/plaincall/SearchProlucidAction.getProteinDbForUser.dwr", s.authed(s.handleDatabasesForUser))
	mux.HandleFunc("/ip2/dwr/call/plaincall/FileUploadAction.getMd5ServerMd5Value.dwr", s.authed(s.handleServerMd5))
	mux.HandleFunc("/ip2/dwr/call/plaincall/FileUploadAction.checkRawConvertorStatus.dwr", s.authed(s.handleConvertorStatus))

	s.Http = httptest.NewServer(mux)
	return s
}

func (s *Server) Close() {
	s.Http.Close()
}

// BaseUrl is what clients point their session at.
func (s *Server) BaseUrl() string {
	return s.Http.URL + "/"
}

func (s *Server) id() int {
	s.nextId++
	return s.nextId
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)

		s.mu.Lock()
		ok := err == nil && s.sessions[cookie.Value]
		s.mu.Unlock()

		if !ok {
			http.Redirect(w, r, "/ip2/login.jsp", http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body><form action="j_security_check" method="post">
<input name="j_username"/><input name="j_password" type="password"/>
</form></body></html>`)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if r.FormValue("j_username") != s.Username || r.FormValue("j_password") != s.Password {
		http.Redirect(w, r, "/ip2/login.jsp?error=true", http.StatusFound)
		return
	}

	s.mu.Lock()
	token := fmt.Sprintf("session-%d", s.id())
	s.sessions[token] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:  sessionCookie,
		Value: token,
		Path:  "/",
	})
	http.Redirect(w, r, "/ip2/viewProject.html", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	fmt.Fprint(w, "<html><body>Logged out.</body></html>")
}

func errorPage(w http.ResponseWriter, msg string) {
	fmt.Fprintf(w, `<html><body><div class="errormsg">%s</div></body></html>`, msg)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows strings.Builder
	for _, p := range s.projects {
		fmt.Fprintf(&rows,
			`<tr><td>%s</td><td><input type="hidden" name="pid" value="%d"/><input type="hidden" name="projectName" value="%s"/></td></tr>`,
			p.name, p.id, p.name)
	}
	fmt.Fprintf(w, "<html><body><table><tbody>%s</tbody></table></body></html>", rows.String())
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	name := r.FormValue("projectName")
	if name == "" {
		errorPage(w, "Project name is required.")
		return
	}

	s.mu.Lock()
	s.projects = append(s.projects, &project{id: s.id(), name: name})
	s.mu.Unlock()

	fmt.Fprint(w, "<html><body>Project created.</body></html>")
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	pid, _ := strconv.Atoi(r.FormValue("pid"))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.projects {
		if p.id == pid {
			s.projects = append(s.projects[:i], s.projects[i+1:]...)
			fmt.Fprint(w, "<html><body>Project deleted.</body></html>")
			return
		}
	}
	errorPage(w, "No such project.")
}

func (s *Server) findProject(pid int) *project {
	for _, p := range s.projects {
		if p.id == pid {
			return p
		}
	}
	return nil
}

func (s *Server) findExperiment(expId int) (*project, *experiment) {
	for _, p := range s.projects {
		for _, e := range p.experiments {
			if e.id == expId {
				return p, e
			}
		}
	}
	return nil, nil
}

func (s *Server) handleExperimentList(w http.ResponseWriter, r *http.Request) {
	pid, _ := strconv.Atoi(r.URL.Query().Get("pid"))

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findProject(pid)
	if p == nil {
		errorPage(w, "No such project.")
		return
	}

	var rows strings.Builder
	for _, e := range p.experiments {
		fmt.Fprintf(&rows,
			`<tr><td>%s</td><td><input type="hidden" name="expId" value="%d"/><input type="hidden" name="sampleName" value="%s"/></td></tr>`,
			e.name, e.id, e.name)
	}
	fmt.Fprintf(w, "<html><body><table><tbody>%s</tbody></table></body></html>", rows.String())
}

func (s *Server) handleSaveExperiment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodGet {
		var options strings.Builder
		for id, name := range s.instruments {
			fmt.Fprintf(&options, `<option value="%d">%s</option>`, id, name)
		}
		fmt.Fprintf(w,
			`<html><body><form><select name="instrumentId">%s</select></form></body></html>`,
			options.String())
		return
	}

	r.ParseForm()
	pid, _ := strconv.Atoi(r.FormValue("pid"))
	p := s.findProject(pid)
	if p == nil {
		errorPage(w, "No such project.")
		return
	}
	name := r.FormValue("sampleName")
	if name == "" {
		errorPage(w, "Sample name is required.")
		return
	}
	instrumentId, _ := strconv.Atoi(r.FormValue("instrumentId"))
	if _, ok := s.instruments[instrumentId]; !ok {
		errorPage(w, "Unknown instrument.")
		return
	}

	id := s.id()
	p.experiments = append(p.experiments, &experiment{
		id:   id,
		name: name,
		path: fmt.Sprintf("/data/2/%s/%s/%s_%d/", s.Username, p.name, name, id),
	})
	fmt.Fprint(w, "<html><body>Experiment created.</body></html>")
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	expId, _ := strconv.Atoi(r.FormValue("expId"))

	s.mu.Lock()
	defer s.mu.Unlock()

	p, e := s.findExperiment(expId)
	if e == nil {
		errorPage(w, "No such experiment.")
		return
	}
	for i, candidate := range p.experiments {
		if candidate.id == expId {
			p.experiments = append(p.experiments[:i], p.experiments[i+1:]...)
			break
		}
	}
	fmt.Fprint(w, "<html><body>Experiment deleted.</body></html>")
}

func (s *Server) handleExperimentPage(w http.ResponseWriter, r *http.Request) {
	expId, _ := strconv.Atoi(r.URL.Query().Get("experimentId"))

	s.mu.Lock()
	defer s.mu.Unlock()

	_, e := s.findExperiment(expId)
	if e == nil {
		errorPage(w, "No such experiment.")
		return
	}

	searchRow := ""
	if e.searchId != 0 {
		searchRow = fmt.Sprintf(
			`<tr><td>prolucid</td><td>%d</td><td><a href="/ip2/searchView.html?searchId=%d">View</a></td></tr>`,
			e.searchId, e.searchId)
	}
	fmt.Fprintf(w, `<html><body>
<div class="add_quality_check_details">
<a href="/ip2/spectraView.html?expId=%d">Spectra</a>
<a href="/ip2/qualityCheck.html?expPath=%s">Quality check</a>
</div>
<table id="search"><tbody>%s</tbody></table>
</body></html>`, e.id, e.path, searchRow)
}

func (s *Server) handleSearchView(w http.ResponseWriter, r *http.Request) {
	searchId, _ := strconv.Atoi(r.URL.Query().Get("searchId"))

	s.mu.Lock()
	_, ok := s.results[searchId]
	s.mu.Unlock()

	if !ok {
		errorPage(w, "No such search.")
		return
	}
	fmt.Fprintf(w,
		`<html><body><a href="/ip2/data/dtaselect?searchId=%d">DTASelect-filter.txt</a></body></html>`,
		searchId)
}

func (s *Server) handleDtaSelect(w http.ResponseWriter, r *http.Request) {
	searchId, _ := strconv.Atoi(r.URL.Query().Get("searchId"))

	s.mu.Lock()
	contents, ok := s.results[searchId]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	fmt.Fprint(w, contents)
}

func uploadKey(destPath, filename string) string {
	return destPath + "::" + filename
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err := r.ParseMultipartForm(32 << 20)
		if err != nil {
			errorPage(w, "Malformed upload.")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			errorPage(w, "Missing file part.")
			return
		}
		defer file.Close()
		contents, err := io.ReadAll(file)
		if err != nil {
			errorPage(w, "Failed to read file part.")
			return
		}

		s.mu.Lock()
		s.uploads[uploadKey(r.URL.Query().Get("filePath"), header.Filename)] = contents
		s.mu.Unlock()

		fmt.Fprint(w, "<html><body>Chunk accepted.</body></html>")
		return
	}

	r.ParseForm()
	switch r.FormValue("startProcess") {
	case "completed", "post":
		fmt.Fprint(w, "<html><body>OK.</body></html>")
	default:
		errorPage(w, "Unknown upload process step.")
	}
}

func (s *Server) handleProlucidForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w,
		`<html><body><form><select name="sp.proteinUserId"><option value="%d">%s</option></select></form></body></html>`,
		userId, s.Username)
}

func (s *Server) handleProlucidSearch(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	expId, _ := strconv.Atoi(r.FormValue("expId"))
	dbId, _ := strconv.Atoi(r.FormValue("sp.proteinDbId"))

	s.mu.Lock()
	defer s.mu.Unlock()

	_, e := s.findExperiment(expId)
	if e == nil {
		errorPage(w, "No such experiment.")
		return
	}
	var db *database
	for _, candidate := range s.databases {
		if candidate.id == dbId {
			db = candidate
		}
	}
	if db == nil {
		errorPage(w, "No such database.")
		return
	}

	e.searchId = s.id()
	s.jobs[e.name] = &job{id: e.searchId}
	s.results[e.searchId] = fmt.Sprintf(
		"DTASelect v2.1.13\n%s\t%s\nUnique\tFileName\tXCorr\n", e.name, db.fileName)
	fmt.Fprint(w, "<html><body>Search submitted.</body></html>")
}

func (s *Server) handleDatabaseForm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var organisms strings.Builder
	for _, name := range s.organisms {
		fmt.Fprintf(&organisms, `<option value="%s">%s</option>`, name, name)
	}
	var sources strings.Builder
	for _, name := range s.sources {
		fmt.Fprintf(&sources, `<option value="%s">%s</option>`, name, name)
	}
	fmt.Fprintf(w, `<html><body><form>
<select id="organism" name="organism">%s</select>
<select name="dbSource">%s</select>
</form></body></html>`, organisms.String(), sources.String())
}

func (s *Server) contains(list []string, name string) bool {
	for _, candidate := range list {
		if candidate == name {
			return true
		}
	}
	return false
}

func (s *Server) handleAddDatabase(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	fileName := r.FormValue("uploader_0_name")
	source := r.FormValue("dbSource")
	organism := r.FormValue("organism")
	if fileName == "" {
		errorPage(w, "Database file name is required.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.contains(s.sources, source) {
		errorPage(w, "Unknown database source.")
		return
	}
	if !s.contains(s.organisms, organism) {
		errorPage(w, "Unknown organism.")
		return
	}

	s.databases = append(s.databases, &database{
		id:       s.id(),
		source:   source,
		desc:     r.FormValue("desc"),
		fileName: fileName,
		organism: organism,
	})
	fmt.Fprint(w, "<html><body>Database registered.</body></html>")
}

func (s *Server) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	dbId, _ := strconv.Atoi(r.FormValue("dbId"))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, db := range s.databases {
		if db.id == dbId {
			s.databases = append(s.databases[:i], s.databases[i+1:]...)
			fmt.Fprint(w, "<html><body>Database deleted.</body></html>")
			return
		}
	}
	errorPage(w, "No such database.")
}

func (s *Server) handleNewSource(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	name := r.FormValue("dbSource")
	if name == "" {
		errorPage(w, "Source name is required.")
		return
	}

	s.mu.Lock()
	if !s.contains(s.sources, name) {
		s.sources = append(s.sources, name)
	}
	s.mu.Unlock()

	fmt.Fprint(w, "<html><body>Source created.</body></html>")
}

func (s *Server) handleNewOrganism(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	name := r.FormValue("organism")
	if name == "" {
		errorPage(w, "Organism name is required.")
		return
	}

	s.mu.Lock()
	if !s.contains(s.organisms, name) {
		s.organisms = append(s.organisms, name)
	}
	s.mu.Unlock()

	fmt.Fprint(w, "<html><body>Organism created.</body></html>")
}

func (s *Server) handleNewInstrument(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	name := r.FormValue("instrumentName")
	if name == "" {
		errorPage(w, "Instrument name is required.")
		return
	}

	s.mu.Lock()
	s.instruments[s.id()] = name
	s.mu.Unlock()

	fmt.Fprint(w, "<html><body>Instrument created.</body></html>")
}

func (s *Server) handleDwrEngine(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, `var dwr = dwr || {};
dwr.engine = {};
dwr.engine._origScriptSessionId = "%s";
`, scriptSessionId)
}

// dwrParams parses the body of a DWR call. The bridge posts urlencoded
// pairs under a plain/text content type, so ParseForm never sees them.
func dwrParams(r *http.Request) url.Values {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return url.Values{}
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return params
}

func requireScriptSession(w http.ResponseWriter, params url.Values) bool {
	if params.Get("scriptSessionId") != scriptSessionId {
		fmt.Fprint(w, `throw new Error("invalid script session");`)
		return false
	}
	return true
}

// handleJobStatus renders every known job in the monitor's s<N>.field=value;
// grammar. Each poll advances a running job so callers observe completion
// without a real search backend.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !requireScriptSession(w, dwrParams(r)) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lines strings.Builder
	i := 0
	for name, j := range s.jobs {
		if !j.finished {
			j.progress += 50
			if j.progress >= 100 {
				j.progress = 100
				j.finished = true
			}
		}
		fmt.Fprintf(&lines, "s%d.sampleName=\"%s\";\n", i, name)
		fmt.Fprintf(&lines, "s%d.jobId=%d;\n", i, j.id)
		fmt.Fprintf(&lines, "s%d.finished=%t;\n", i, j.finished)
		fmt.Fprintf(&lines, "s%d.progress=%.1f;\n", i, j.progress)
		fmt.Fprintf(&lines, "s%d.user=\"%s\";\n", i, s.Username)
		i++
	}
	fmt.Fprintf(w, "var s = [];\n%sdwr.engine._remoteHandleCallback('0','0',s);\n", lines.String())
}

func (s *Server) handleDatabasesForUser(w http.ResponseWriter, r *http.Request) {
	params := dwrParams(r)
	if !requireScriptSession(w, params) {
		return
	}
	if params.Get("c0-param0") != fmt.Sprintf("string:%d", userId) {
		fmt.Fprint(w, `throw new Error("unknown user");`)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lines strings.Builder
	for i, db := range s.databases {
		fmt.Fprintf(&lines,
			"s%d.dbSource=\"%s\"; s%d.description=\"%s\"; s%d.fileName=\"%s\"; s%d.id=%d; s%d.organism=\"%s\";\n",
			i, db.source, i, db.desc, i, db.fileName, i, db.id, i, db.organism)
	}
	fmt.Fprintf(w, "var s = [];\n%sdwr.engine._remoteHandleCallback('0','0',s);\n", lines.String())
}

func (s *Server) handleServerMd5(w http.ResponseWriter, r *http.Request) {
	params := dwrParams(r)
	if !requireScriptSession(w, params) {
		return
	}
	destPath := strings.TrimPrefix(params.Get("c0-param0"), "string:")
	filename := strings.TrimPrefix(params.Get("c0-param2"), "string:")

	s.mu.Lock()
	contents, ok := s.uploads[uploadKey(destPath, filename)]
	s.mu.Unlock()

	if !ok {
		fmt.Fprint(w, `dwr.engine._remoteHandleCallback('0','0',"no such file");`)
		return
	}
	sum := md5.Sum(contents)
	fmt.Fprintf(w, `dwr.engine._remoteHandleCallback('0','0',"%s");`, hex.EncodeToString(sum[:]))
}

func (s *Server) handleConvertorStatus(w http.ResponseWriter, r *http.Request) {
	if !requireScriptSession(w, dwrParams(r)) {
		return
	}
	fmt.Fprint(w, `dwr.engine.remoteHandleCallback('c0','0',"Conversion DONE");`)
}
