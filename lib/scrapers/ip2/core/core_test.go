package core

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ip2api/lib/scrapers/ip2/ip2test"
	"ip2api/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *ip2test.Server) *Client {
	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:  server.BaseUrl(),
		Username: server.Username,
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/core")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestLogin")
	defer span.End()

	client := newTestClient(t, server)

	err := client.LoginPassword(ctx, "wrong-password")
	require.ErrorIs(t, err, LoginFailed)
	require.False(t, client.LoggedIn())

	err = client.LoginPassword(ctx, server.Password)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, client.LoggedIn())

	ok, err := client.TestLogin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)

	err = client.Logout(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, client.LoggedIn())

	ok, err = client.TestLogin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok)
}

func TestLoginCookies(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/core")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestLoginCookies")
	defer span.End()

	first := newTestClient(t, server)
	err := first.LoginPassword(ctx, server.Password)
	if err != nil {
		t.Fatal(err)
	}
	cookies := first.Http.GetClient().Jar.Cookies(first.BaseUrl)
	require.NotEmpty(t, cookies)

	second := newTestClient(t, server)
	err = second.LoginCookies(ctx, cookies)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, second.LoggedIn())

	third := newTestClient(t, server)
	err = third.LoginCookies(ctx, []*http.Cookie{
		{Name: "JSESSIONID", Value: "stale-session"},
	})
	require.ErrorIs(t, err, LoginFailed)
}

func TestDWR(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/core")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestDWR")
	defer span.End()

	client := newTestClient(t, server)
	err := client.LoginPassword(ctx, server.Password)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := client.DWR(
		ctx,
		EndpointJobStatus,
		EndpointJobStatusPage,
		"JobMonitor",
		"getSearchJobStatus",
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, raw, "remoteHandleCallback")

	// the scraped token is memoized, a second call must reuse it
	sessionId := client.dwrSessionId
	require.NotEmpty(t, sessionId)

	_, err = client.DWR(
		ctx,
		EndpointJobStatus,
		EndpointJobStatusPage,
		"JobMonitor",
		"getSearchJobStatus",
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, sessionId, client.dwrSessionId)
}

func TestUploadFile(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/ip2/core")
	defer cleanup()

	server := ip2test.NewServer()
	defer server.Close()

	ctx, span := tracer.Start(context.Background(), "TestUploadFile")
	defer span.End()

	client := newTestClient(t, server)
	err := client.LoginPassword(ctx, server.Password)
	if err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "spectra.ms2")
	err = os.WriteFile(local, []byte("H\tCreationDate\t2024\nS\t000002\t000002\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.UploadFile(ctx, local, "/data/2/tester/demo/", "spectra", map[string]string{
		"flag":    "ok",
		"monoIso": "ko",
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 200, result.Chunk.StatusCode())
	require.Equal(t, 200, result.Completed.StatusCode())
	require.Equal(t, 200, result.Posted.StatusCode())
	require.NotContains(t, result.Posted.String(), "errormsg")
}

func TestFileMd5(t *testing.T) {
	local := filepath.Join(t.TempDir(), "db.fasta")
	err := os.WriteFile(local, []byte(">sp|P12345|TEST\nMKWVTFISLLLLFSSAYS\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := FileMd5(local)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, sum, 32)
	require.Equal(t, strings.ToLower(sum), sum)

	again, err := FileMd5(local)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, sum, again)
}
