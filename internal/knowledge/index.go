// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package knowledge indexes markdown manuals and policy documents in a
// SQLite FTS5 table and exposes them to agents as search tools.
package knowledge

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	_ "modernc.org/sqlite"
)

// Collections group documents so each agent searches only its own corpus.
const (
	CollectionManuals  = "manuals"
	CollectionPolicies = "policies"
)

// maxQueryTerms caps the number of OR-ed terms in a search.
const maxQueryTerms = 16

// Document is one indexed section.
type Document struct {
	Collection string
	Source     string
	Title      string
	Body       string
}

// Result is a search hit; lower Score ranks better (bm25).
type Result struct {
	Document
	Score float64
}

// Index is a full-text index of documents. It is safe for concurrent use.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the index at path. ":memory:" gives a private
// in-memory index.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "creating index directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "opening index %s", path)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between the indexer and searches.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "pinging index %s", path)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "migrating index %s", path)
	}
	return &Index{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	source     TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(collection, source);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	title,
	body,
	content='documents',
	content_rowid='id',
	tokenize='unicode61 remove_diacritics 2'
);

-- Keep the FTS index in sync with the main table.
CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
	INSERT INTO documents_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
END;
`
	_, err := db.Exec(ddl)
	return err
}

func (x *Index) Close() error {
	return x.db.Close()
}

// ReplaceSource swaps every document of source in collection for docs in
// one transaction.
func (x *Index) ReplaceSource(ctx context.Context, collection, source string, docs []Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND source = ?`, collection, source); err != nil {
		return tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "removing old sections of %s", source)
	}

	const q = `INSERT INTO documents (collection, source, title, body) VALUES (?, ?, ?, ?)`
	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, q, collection, source, d.Title, d.Body); err != nil {
			return tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "inserting section %q of %s", d.Title, source)
		}
	}

	if err := tx.Commit(); err != nil {
		return tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "committing %s", source)
	}
	return nil
}

// IndexMarkdown splits a markdown document into sections and indexes them
// under source. It returns the number of sections stored.
func (x *Index) IndexMarkdown(ctx context.Context, collection, source string, markdown []byte) (int, error) {
	fallback := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	sections := SplitSections(markdown, fallback)

	docs := make([]Document, 0, len(sections))
	for _, s := range sections {
		docs = append(docs, Document{Collection: collection, Source: source, Title: s.Title, Body: s.Body})
	}
	if err := x.ReplaceSource(ctx, collection, source, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Stats summarises an IndexDir pass.
type Stats struct {
	Files    int
	Sections int
}

// IndexDir indexes every .md file below dir. Files under a top-level
// "policies" directory go to CollectionPolicies, everything else to
// CollectionManuals. Sources are stored relative to dir.
func (x *Index) IndexDir(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		n, err := x.IndexMarkdown(ctx, collectionFor(rel), rel, data)
		if err != nil {
			return err
		}
		x.logger.Debug("indexed document", "source", rel, "sections", n)
		stats.Files++
		stats.Sections += n
		return nil
	})
	if err != nil {
		return stats, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "indexing %s", dir)
	}

	x.logger.Info("knowledge index built", "dir", dir, "files", stats.Files, "sections", stats.Sections)
	return stats, nil
}

func collectionFor(rel string) string {
	first, _, _ := strings.Cut(rel, "/")
	if strings.EqualFold(first, CollectionPolicies) {
		return CollectionPolicies
	}
	return CollectionManuals
}

// Count returns how many sections collection holds.
func (x *Index) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "counting %s", collection)
	}
	return n, nil
}

// Search returns up to limit sections of collection matching any term of
// query, best first.
func (x *Index) Search(ctx context.Context, collection, query string, limit int) ([]Result, error) {
	match := MatchExpression(query)
	if match == "" {
		return nil, tderr.New(tderr.CodeKnowledgeQueryInvalid, "search query has no searchable terms")
	}
	if limit <= 0 {
		limit = 5
	}

	const q = `SELECT d.collection, d.source, d.title, d.body, bm25(documents_fts) AS score
FROM documents_fts
JOIN documents d ON d.id = documents_fts.rowid
WHERE documents_fts MATCH ? AND d.collection = ?
ORDER BY score
LIMIT ?`

	rows, err := x.db.QueryContext(ctx, q, match, collection, limit)
	if err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "searching %s", collection)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Collection, &r.Source, &r.Title, &r.Body, &r.Score); err != nil {
			return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "scanning result")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeKnowledgeIndexFailure, "iterating results")
	}
	return results, nil
}

// MatchExpression turns free text into an FTS5 query: each word becomes a
// quoted term and the terms are OR-ed, so user punctuation can never be
// read as FTS5 syntax.
func MatchExpression(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if len([]rune(w)) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}
