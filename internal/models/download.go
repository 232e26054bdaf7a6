// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/pickr/internal/dbinterface"
)

var ErrDownloadTaskNotFound = errors.New("download task not found")

// DownloadState is the per-candidate download button lifecycle.
type DownloadState string

const (
	DownloadStateIdle        DownloadState = "idle"
	DownloadStateResolving   DownloadState = "resolving"
	DownloadStateDownloading DownloadState = "downloading"
	DownloadStateCompleted   DownloadState = "completed"
	DownloadStateFailed      DownloadState = "failed"
)

// ExternalDownloadStatus is the status reported by a download manager.
type ExternalDownloadStatus string

const (
	ExternalStatusQueued      ExternalDownloadStatus = "queued"
	ExternalStatusResolving   ExternalDownloadStatus = "resolving"
	ExternalStatusDownloading ExternalDownloadStatus = "downloading"
	ExternalStatusCompleted   ExternalDownloadStatus = "completed"
	ExternalStatusFailed      ExternalDownloadStatus = "failed"
	ExternalStatusCancelled   ExternalDownloadStatus = "cancelled"
)

// DownloadStateFor maps an external status onto the lifecycle. Unknown
// statuses report false and must be ignored by the caller.
func DownloadStateFor(status ExternalDownloadStatus) (DownloadState, bool) {
	switch status {
	case ExternalStatusCompleted:
		return DownloadStateCompleted, true
	case ExternalStatusFailed, ExternalStatusCancelled:
		return DownloadStateFailed, true
	case ExternalStatusDownloading, ExternalStatusResolving, ExternalStatusQueued:
		return DownloadStateDownloading, true
	default:
		return "", false
	}
}

// DownloadRequest carries the media context handed to a download manager.
type DownloadRequest struct {
	MediaID   string `json:"mediaId"`
	EpisodeID string `json:"episodeId,omitempty"`
	Title     string `json:"title,omitempty"`
	Year      int    `json:"year,omitempty"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
}

// DownloadTask is the persisted tracker row for one info hash.
type DownloadTask struct {
	InfoHash     string        `json:"infoHash"`
	TaskID       string        `json:"taskId,omitempty"`
	State        DownloadState `json:"state"`
	ErrorMessage string        `json:"error,omitempty"`
	MediaID      string        `json:"mediaId,omitempty"`
	EpisodeID    string        `json:"episodeId,omitempty"`
	Title        string        `json:"title,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// DownloadTaskStore persists download tasks so markers survive restarts.
type DownloadTaskStore struct {
	db dbinterface.Querier
}

func NewDownloadTaskStore(db dbinterface.Querier) *DownloadTaskStore {
	return &DownloadTaskStore{db: db}
}

// Upsert inserts or replaces the row for task.InfoHash.
func (s *DownloadTaskStore) Upsert(ctx context.Context, task *DownloadTask) error {
	if task == nil || strings.TrimSpace(task.InfoHash) == "" {
		return fmt.Errorf("download task requires an info hash")
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO download_tasks (info_hash, task_id, state, error_message, media_id, episode_id, title, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(info_hash) DO UPDATE SET
			task_id = CASE WHEN excluded.task_id != '' THEN excluded.task_id ELSE download_tasks.task_id END,
			state = excluded.state,
			error_message = excluded.error_message,
			media_id = CASE WHEN excluded.media_id != '' THEN excluded.media_id ELSE download_tasks.media_id END,
			episode_id = CASE WHEN excluded.episode_id != '' THEN excluded.episode_id ELSE download_tasks.episode_id END,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE download_tasks.title END,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		task.InfoHash,
		task.TaskID,
		string(task.State),
		task.ErrorMessage,
		task.MediaID,
		task.EpisodeID,
		task.Title,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert download task: %w", err)
	}
	return nil
}

func (s *DownloadTaskStore) Get(ctx context.Context, infoHash string) (*DownloadTask, error) {
	const query = `
		SELECT info_hash, task_id, state, error_message, media_id, episode_id, title, updated_at
		FROM download_tasks
		WHERE info_hash = ?
	`

	task, err := scanDownloadTask(s.db.QueryRowContext(ctx, query, infoHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// List returns every persisted task, most recently updated first.
func (s *DownloadTaskStore) List(ctx context.Context) ([]*DownloadTask, error) {
	const query = `
		SELECT info_hash, task_id, state, error_message, media_id, episode_id, title, updated_at
		FROM download_tasks
		ORDER BY updated_at DESC, info_hash ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*DownloadTask
	for rows.Next() {
		task, err := scanDownloadTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}

func (s *DownloadTaskStore) Delete(ctx context.Context, infoHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_tasks WHERE info_hash = ?`, infoHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDownloadTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownloadTask(row rowScanner) (*DownloadTask, error) {
	var (
		task  DownloadTask
		state string
	)
	if err := row.Scan(
		&task.InfoHash,
		&task.TaskID,
		&state,
		&task.ErrorMessage,
		&task.MediaID,
		&task.EpisodeID,
		&task.Title,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.State = DownloadState(state)
	return &task, nil
}
