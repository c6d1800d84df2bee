package searchlog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestStore(t *testing.T) {
	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(sqlite)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	{
		history, err := store.History(ctx, "unknown-dataset")
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, history, 0)
	}

	submitted := time.Now().Truncate(time.Second)
	searchId, err := store.RecordSearch(ctx, Search{
		DatasetName:  "mudpit_0423",
		ProjectName:  "ip2api",
		DatabasePath: "uniprot_human.fasta",
		SubmittedAt:  submitted,
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Greater(t, searchId, int64(0))

	_, err = store.RecordSearch(ctx, Search{
		DatasetName:  "mudpit_0423",
		ProjectName:  "ip2api",
		DatabasePath: "uniprot_human.fasta",
		SubmittedAt:  submitted.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	history, err := store.History(ctx, "mudpit_0423")
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, history, 2)
	require.Equal(t, submitted.Add(time.Hour).Unix(), history[0].SubmittedAt.Unix())

	_, err = store.LastPoll(ctx, searchId)
	require.ErrorIs(t, err, sql.ErrNoRows)

	err = store.RecordPoll(ctx, Poll{
		SearchId: searchId,
		JobId:    "20384",
		Finished: false,
		Progress: 12.5,
		PolledAt: submitted.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = store.RecordPoll(ctx, Poll{
		SearchId: searchId,
		JobId:    "20384",
		Finished: true,
		Progress: 100,
		PolledAt: submitted.Add(time.Minute * 30),
	})
	if err != nil {
		t.Fatal(err)
	}

	poll, err := store.LastPoll(ctx, searchId)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, poll.Finished)
	require.Equal(t, float64(100), poll.Progress)
	require.Equal(t, "20384", poll.JobId)
}
