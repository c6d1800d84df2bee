package results

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ip2api/lib/scrapers/ip2"
	"ip2api/lib/scrapers/ip2/core"
	"ip2api/lib/scrapers/ip2/ip2test"
	"ip2api/lib/telemetry"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestCacheExpiry(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/results")
	defer cleanup()

	base, err := url.Parse("https://ip2.example.com/")
	if err != nil {
		t.Fatal(err)
	}
	cache := resultCache{db: openCache(t), baseUrl: base}

	ctx := context.Background()

	_, err = cache.get(ctx, "tester", "ip2/data/dtaselect?searchId=1")
	require.ErrorIs(t, err, errResultNotFound)

	err = cache.set(ctx, "tester", "ip2/data/dtaselect?searchId=1", cachedResult{
		Contents:  []byte("DTASelect v2.1.13"),
		ExpiresAt: time.Now().Unix() + 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	cached, err := cache.get(ctx, "tester", "ip2/data/dtaselect?searchId=1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "DTASelect v2.1.13", string(cached.Contents))

	// a different account must not see the entry
	_, err = cache.get(ctx, "other", "ip2/data/dtaselect?searchId=1")
	require.ErrorIs(t, err, errResultNotFound)

	err = cache.set(ctx, "tester", "ip2/data/dtaselect?searchId=2", cachedResult{
		Contents:  []byte("stale"),
		ExpiresAt: time.Now().Unix() - 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = cache.get(ctx, "tester", "ip2/data/dtaselect?searchId=2")
	require.ErrorIs(t, err, errResultNotFound)
}

func TestDTASelect(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/results")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

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
	ip2Client := ip2.NewClientWithCore(coreClient, ip2.ClientOptions{})

	fasta := filepath.Join(t.TempDir(), "human.fasta")
	err = os.WriteFile(fasta, []byte(">sp|P12345|TEST\nMKWVTFISLLLLFSSAYS\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	database := ip2Client.NewDatabase("human.fasta")
	err = database.Upload(ctx, fasta, ip2.UploadDatabaseOptions{
		Source:   "UniProt_plus_reverse",
		Organism: "Homo sapiens",
	})
	if err != nil {
		t.Fatal(err)
	}

	spectra := filepath.Join(t.TempDir(), "run01.ms2")
	err = os.WriteFile(spectra, []byte("S\t000002\t000002\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	experiment, _, err := ip2Client.Search(ctx, ip2.SearchOptions{
		Name:      "cached_run",
		FilePaths: []string{spectra},
		Database:  database,
	})
	if err != nil {
		t.Fatal(err)
	}

	client := NewClient(ip2Client, ClientOptions{
		ClientId: server.Username,
		Cache:    openCache(t),
	})

	contents, err := client.DTASelect(ctx, experiment)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, contents, "DTASelect")

	// the fetch must have landed in the cache
	link, err := experiment.DTASelectLink(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := client.cache.get(ctx, server.Username, link)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, contents, string(cached.Contents))

	again, err := client.DTASelect(ctx, experiment)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, contents, again)
}
