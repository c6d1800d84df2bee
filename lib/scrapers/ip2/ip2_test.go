package ip2

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"ip2api/lib/scrapers/ip2/core"
	"ip2api/lib/scrapers/ip2/ip2test"
	"ip2api/lib/telemetry"

	"github.com/mazen160/go-random"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *ip2test.Server) *Client {
	ctx := context.Background()

	coreClient, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl:  server.BaseUrl(),
		Username: server.Username,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = coreClient.LoginPassword(ctx, server.Password)
	if err != nil {
		t.Fatal(err)
	}
	return NewClientWithCore(coreClient, ClientOptions{})
}

func randomName(t *testing.T, prefix string) string {
	suffix, err := random.String(8)
	if err != nil {
		t.Fatal(err)
	}
	return prefix + "_" + suffix
}

func TestProjects(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestProjects")
	defer span.End()

	client := newTestClient(t, server)

	projects, err := client.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Empty(t, projects)

	name := randomName(t, "proj")
	project := client.NewProject(name)
	err = project.Create(ctx, "created by an automated test")
	if err != nil {
		t.Fatal(err)
	}

	id, err := project.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, id, 0)

	found, err := client.GetProject(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, name, found.Name)

	err = project.Delete(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.GetProject(ctx, name)
	require.ErrorIs(t, err, NotFound)
}

func TestDuplicateProjectNames(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestDuplicateProjectNames")
	defer span.End()

	client := newTestClient(t, server)
	name := randomName(t, "dup")

	first := client.NewProject(name)
	err := first.Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	firstId, err := first.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}

	second := client.NewProject(name)
	err = second.Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	// the listing renders oldest first, so the last match is the most
	// recently created project
	found, err := client.GetProject(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	foundId, err := found.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, foundId, firstId)
}

func TestEmptyProjectNameRejected(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestEmptyProjectNameRejected")
	defer span.End()

	client := newTestClient(t, server)
	err := client.NewProject("").Create(ctx, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutation rejected")
}

func TestExperiments(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestExperiments")
	defer span.End()

	client := newTestClient(t, server)

	project := client.NewProject(randomName(t, "proj"))
	err := project.Create(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	name := randomName(t, "exp")
	experiment, err := project.AddExperiment(ctx, name, CreateExperimentOptions{})
	if err != nil {
		t.Fatal(err)
	}

	id, err := experiment.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, id, 0)

	path, err := experiment.Path(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, path, name)

	link, err := experiment.Link(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, link, "eachExperiment.html")
	require.Contains(t, link, "experimentId="+strconv.Itoa(id))

	_, err = experiment.SearchId(ctx)
	require.ErrorIs(t, err, SearchNotRun)

	listed, err := project.Experiments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, listed, 1)

	err = experiment.Delete(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = project.GetExperiment(ctx, name)
	require.ErrorIs(t, err, NotFound)
}

func TestInstruments(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestInstruments")
	defer span.End()

	client := newTestClient(t, server)

	instruments, err := client.Instruments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.NotEmpty(t, instruments)

	stock := client.NewInstrument(instruments[0].Name)
	id, err := stock.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, id, 0)

	// Create refreshes the collection, so the id resolves immediately
	added := client.NewInstrument(randomName(t, "timstof"))
	err = added.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id, err = added.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, id, 0)

	_, err = client.NewInstrument("does-not-exist").Id(ctx)
	require.ErrorIs(t, err, NotFound)
}

func TestOrganisms(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestOrganisms")
	defer span.End()

	client := newTestClient(t, server)

	organisms, err := client.Organisms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.NotEmpty(t, organisms)

	existing := client.NewOrganism(organisms[0].Name)
	require.True(t, existing.Equal(organisms[0]))

	added := client.NewOrganism(randomName(t, "organism"))
	err = added.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}

	organisms, err = client.Organisms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, o := range organisms {
		if o.Equal(added) {
			found = true
		}
	}
	require.True(t, found)

	// creating again is a no-op, not an error
	err = added.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
}

func writeFasta(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(">sp|P12345|TEST\nMKWVTFISLLLLFSSAYS\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDatabases(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestDatabases")
	defer span.End()

	client := newTestClient(t, server)

	fileName := randomName(t, "uniprot") + ".fasta"
	local := writeFasta(t, fileName)

	database := client.NewDatabase(fileName)
	err := database.Upload(ctx, local, UploadDatabaseOptions{
		Source:   randomName(t, "source"),
		Organism: randomName(t, "organism"),
		Version:  "2024_04",
	})
	if err != nil {
		t.Fatal(err)
	}

	id, err := database.Id(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, id, 0)
	require.Greater(t, database.UserId, 0)

	found, err := client.GetDatabase(ctx, fileName)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, database.Username, found.Username)
	require.Contains(t, database.AbsoluteUrl(), fileName)

	_, err = client.GetDatabase(ctx, "missing.fasta")
	require.ErrorIs(t, err, NotFound)

	err = found.Delete(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.GetDatabase(ctx, fileName)
	require.ErrorIs(t, err, NotFound)
}

func TestDatabaseEqual(t *testing.T) {
	a := &Database{
		id:       3,
		Source:   "UniProt",
		Organism: "Homo sapiens",
		Filepath: "human.fasta",
		Username: "tester",
		UserId:   42,
	}
	b := &Database{
		id:       3,
		Source:   "UniProt",
		Organism: "Homo sapiens",
		Filepath: "human.fasta",
		Username: "tester",
		UserId:   42,
	}
	require.True(t, a.Equal(b))

	// the owning client reference does not participate in equality
	b.client = &Client{}
	require.True(t, a.Equal(b))

	b.Filepath = "mouse.fasta"
	require.False(t, a.Equal(b))
	require.False(t, a.Equal(nil))
}

func TestSearch(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestSearch")
	defer span.End()

	client := newTestClient(t, server)

	fileName := randomName(t, "db") + ".fasta"
	database := client.NewDatabase(fileName)
	err := database.Upload(ctx, writeFasta(t, fileName), UploadDatabaseOptions{
		Source:   "UniProt_plus_reverse",
		Organism: "Homo sapiens",
	})
	if err != nil {
		t.Fatal(err)
	}

	spectra := filepath.Join(t.TempDir(), "run01.ms2")
	err = os.WriteFile(spectra, []byte("H\tExtractor\tRawConverter\nS\t000002\t000002\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	name := randomName(t, "search")
	experiment, job, err := client.Search(ctx, SearchOptions{
		Name:      name,
		FilePaths: []string{spectra},
		SearchParams: map[string]string{
			"sp.peptideLengthMin": "6",
		},
		Database: database,
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := experiment.CheckFileMd5(ctx, spectra)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)

	done, err := experiment.CheckFileConvertStatus(ctx, "run01.ms2")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, done)

	searchId, err := experiment.SearchId(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, searchId, 0)

	err = job.Update(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, strconv.Itoa(searchId), job.Id)
	require.False(t, job.Finished)
	require.Greater(t, job.Progress, float64(0))

	err = job.Update(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, job.Finished)
	require.Equal(t, float64(100), job.Progress)

	contents, err := experiment.DTASelect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, contents, "DTASelect")
	require.Contains(t, contents, name)
}

func TestJobUnknownDataset(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestJobUnknownDataset")
	defer span.End()

	client := newTestClient(t, server)

	job := client.NewJob("never-submitted")
	err := job.Update(ctx)
	require.Error(t, err)
}
