// Package searchlog persists a local record of submitted searches and
// their poll history. IP2 itself keeps no usable audit trail, so long
// running pipelines use this to answer "what did we submit last week and
// did it finish" without touching the server.
package searchlog

import (
	"context"
	"database/sql"
	"time"

	"ip2api/lib/searchlog/db"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// NewStore wraps an opened sqlite handle and applies the schema.
func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(db.Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{db: database}, nil
}

type Search struct {
	Id           int64
	DatasetName  string
	ProjectName  string
	DatabasePath string
	SubmittedAt  time.Time
}

type Poll struct {
	SearchId int64
	JobId    string
	Finished bool
	Progress float64
	PolledAt time.Time
}

// RecordSearch logs a freshly submitted search and returns its row id for
// subsequent poll records.
func (s Store) RecordSearch(ctx context.Context, search Search) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`insert into search (dataset_name, project_name, database_path, submitted_at)
		values (?, ?, ?, ?)`,
		search.DatasetName,
		search.ProjectName,
		search.DatabasePath,
		search.SubmittedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s Store) RecordPoll(ctx context.Context, poll Poll) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into poll (search_id, job_id, finished, progress, polled_at)
		values (?, ?, ?, ?, ?)`,
		poll.SearchId,
		poll.JobId,
		poll.Finished,
		poll.Progress,
		poll.PolledAt.Unix(),
	)
	return err
}

// History returns all searches recorded under the dataset name, newest
// first.
func (s Store) History(ctx context.Context, datasetName string) ([]Search, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select id, dataset_name, project_name, database_path, submitted_at
		from search where dataset_name = ?
		order by submitted_at desc`,
		datasetName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var searches []Search
	for rows.Next() {
		var search Search
		var submittedAt int64
		err = rows.Scan(
			&search.Id,
			&search.DatasetName,
			&search.ProjectName,
			&search.DatabasePath,
			&submittedAt,
		)
		if err != nil {
			return nil, err
		}
		search.SubmittedAt = time.Unix(submittedAt, 0)
		searches = append(searches, search)
	}
	return searches, rows.Err()
}

// LastPoll returns the most recent poll of the search, sql.ErrNoRows when
// the search has never been polled.
func (s Store) LastPoll(ctx context.Context, searchId int64) (Poll, error) {
	row := s.db.QueryRowContext(
		ctx,
		`select search_id, job_id, finished, progress, polled_at
		from poll where search_id = ?
		order by polled_at desc limit 1`,
		searchId,
	)

	var poll Poll
	var polledAt int64
	err := row.Scan(
		&poll.SearchId,
		&poll.JobId,
		&poll.Finished,
		&poll.Progress,
		&polledAt,
	)
	if err != nil {
		return Poll{}, err
	}
	poll.PolledAt = time.Unix(polledAt, 0)
	return poll, nil
}
