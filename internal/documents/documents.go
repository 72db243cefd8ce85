// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package documents is a minimal stand-in for the external document
// store spec.md marks out of scope (full document/category/flashcard
// CRUD belongs to the UI's own persistence layer). C1b's worker needs
// something implementing create_document/update_document/get_document
// to persist into, so this package provides just that surface.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"

	TypePDF = "pdf"
)

// Document is the persisted shape the pipeline reads and writes.
type Document struct {
	ID         string
	Title      string
	Content    string
	FilePath   string
	DocType    string
	Tags       []string
	Status     string
	CategoryID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is a thin sqlite-backed document table sharing the
// documents.db file with the job store.
type Store struct {
	db *sql.DB
}

// Open attaches to (and migrates) the documents table at path. The
// caller typically points this at the same documents.db file the
// jobstore uses; sqlite tolerates multiple tables in one file.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating documents directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening documents database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging documents database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		file_path TEXT,
		doc_type TEXT NOT NULL,
		tags TEXT,
		status TEXT NOT NULL,
		category_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateDocument inserts a new document with the given fields.
func (s *Store) CreateDocument(ctx context.Context, title, content, filePath, docType string, tags []string, status, categoryID string) (*Document, error) {
	now := time.Now().UTC()
	doc := &Document{
		ID:         uuid.NewString(),
		Title:      title,
		Content:    content,
		FilePath:   filePath,
		DocType:    docType,
		Tags:       tags,
		Status:     status,
		CategoryID: categoryID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshaling tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, file_path, doc_type, tags, status, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.FilePath, doc.DocType, string(tagsJSON), doc.Status,
		nullableString(doc.CategoryID), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	return doc, nil
}

// UpdateDocument overwrites the mutable fields of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, id, title, content, filePath, docType string, tags []string, status, categoryID string) (*Document, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshaling tags: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, content = ?, file_path = ?, doc_type = ?, tags = ?,
			status = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		title, content, filePath, docType, string(tagsJSON), status, nullableString(categoryID), now, id)
	if err != nil {
		return nil, fmt.Errorf("updating document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s not found", id)
	}

	return s.GetDocument(ctx, id)
}

// SetStatus updates only the status column, the narrow write the
// worker performs when rolling a document forward to ready.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE documents SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting document %s status: %w", id, err)
	}
	return nil
}

// GetDocument returns a document by id, or nil if not found.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, file_path, doc_type, tags, status, category_id, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc Document
	var tagsJSON sql.NullString
	var filePath, categoryID sql.NullString
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &filePath, &doc.DocType, &tagsJSON,
		&doc.Status, &categoryID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}

	doc.FilePath = filePath.String
	doc.CategoryID = categoryID.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &doc.Tags)
	}

	return &doc, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
