package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateDocument registers an uploaded document.
func (s *Store) CreateDocument(ctx context.Context, filename, fileType string, fileSize int64, storageRef string) (*Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, errors.New("filename is required")
	}
	fileType = strings.ToLower(strings.TrimSpace(fileType))
	if fileType == "" {
		return nil, errors.New("file type is required")
	}
	if strings.TrimSpace(storageRef) == "" {
		return nil, errors.New("storage ref is required")
	}

	id := uuid.NewString()
	timestamp := formatTimestamp(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO documents (id, filename, file_type, file_size, storage_ref, status, uploaded_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		filename,
		fileType,
		fileSize,
		storageRef,
		DocumentUploaded,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, id)
}

// GetDocument fetches a document by identifier. A missing document returns (nil, nil).
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents ordered by upload time, newest first.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC LIMIT ? OFFSET ?`,
		limit,
		max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
