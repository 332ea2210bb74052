// Package catalog is the relational index of datasets, tags, and their
// association: a single embedded SQLite file inside the workspace,
// queried through sqlx rather than a heavyweight ORM, with a small
// migration suite applied at connect time. modernc.org/sqlite is the
// pure-Go SQLite driver wired behind sqlx.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fricon-project/fricon/internal/ferrors"
)

// Status is a dataset's lifecycle state.
type Status string

const (
	StatusWriting   Status = "writing"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// schemaVersion is bumped whenever the migration suite below grows; a
// database written by a newer binary fails loudly rather than silently
// misreading rows.
const schemaVersion = 1

// Dataset is one catalog row.
type Dataset struct {
	ID          int64     `db:"id"`
	UUID        uuid.UUID `db:"uuid"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Favorite    bool      `db:"favorite"`
	Status      Status    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// Tag is one catalog tag row.
type Tag struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Catalog wraps the embedded SQLite connection. All public operations
// are transactional.
type Catalog struct {
	db *sqlx.DB
}

// Open connects to (creating if necessary) the SQLite file at path and
// applies pending migrations.
func Open(path string) (*Catalog, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "open catalog database")
	}
	db.SetMaxOpenConns(1) // single embedded file: serialize writers ourselves.
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate() error {
	var current int
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)`)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "create schema_meta table")
	}
	row := c.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	if err := row.Scan(&current); err != nil {
		if err != sql.ErrNoRows {
			return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "read schema version")
		}
		current = 0
	}
	if current > schemaVersion {
		return ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeCatalogSchemaVer)
	}
	if current == schemaVersion {
		return nil
	}

	tx, err := c.db.Beginx()
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "begin migration")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			favorite INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS datasets_tags (
			dataset_id INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (dataset_id, tag_id)
		)`,
		`DELETE FROM schema_meta`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "apply migration")
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "record schema version")
	}
	if err := tx.Commit(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "commit migration")
	}
	return nil
}

// InsertDataset creates a new dataset row with status=Writing and
// created_at=now.
func (c *Catalog) InsertDataset(id uuid.UUID, name, description string) (Dataset, error) {
	now := time.Now().UTC()
	res, err := c.db.Exec(
		`INSERT INTO datasets (uuid, name, description, favorite, status, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id.String(), name, description, StatusWriting, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Dataset{}, wrapConflict(err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return Dataset{}, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "read inserted dataset id")
	}
	return Dataset{ID: rowID, UUID: id, Name: name, Description: description, Status: StatusWriting, CreatedAt: now}, nil
}

// CreateWithTags inserts a new dataset row (status=Writing) and
// idempotently upserts/associates tagNames, all within one
// transaction.
func (c *Catalog) CreateWithTags(id uuid.UUID, name, description string, tagNames []string) (Dataset, error) {
	var ds Dataset
	err := c.WithTx(func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(
			`INSERT INTO datasets (uuid, name, description, favorite, status, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
			id.String(), name, description, StatusWriting, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return wrapConflict(err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "read inserted dataset id")
		}
		ds = Dataset{ID: rowID, UUID: id, Name: name, Description: description, Status: StatusWriting, CreatedAt: now}

		if len(tagNames) == 0 {
			return nil
		}
		for _, name := range tagNames {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
				return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "insert tag")
			}
		}
		query, args, err := sqlx.In(`SELECT id, name FROM tags WHERE name IN (?)`, tagNames)
		if err != nil {
			return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "build tag query")
		}
		var tags []Tag
		if err := tx.Select(&tags, tx.Rebind(query), args...); err != nil {
			return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "load tags")
		}
		for _, tag := range tags {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO datasets_tags (dataset_id, tag_id) VALUES (?, ?)`, rowID, tag.ID); err != nil {
				return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "associate tag")
			}
		}
		return nil
	})
	if err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// FindOrCreateTags idempotently upserts a batch of tag names and
// returns their rows.
func (c *Catalog) FindOrCreateTags(names []string) ([]Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	tx, err := c.db.Beginx()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "begin tag upsert")
	}
	defer tx.Rollback()

	for _, name := range names {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
			return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "insert tag")
		}
	}
	query, args, err := sqlx.In(`SELECT id, name FROM tags WHERE name IN (?)`, names)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "build tag query")
	}
	var tags []Tag
	if err := tx.Select(&tags, tx.Rebind(query), args...); err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "load tags")
	}
	if err := tx.Commit(); err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "commit tag upsert")
	}
	return tags, nil
}

// FindTags looks up existing tags by name without creating missing
// ones; callers wanting a remove-only lookup (RemoveTags) use this
// instead of FindOrCreateTags, which would resurrect a name that was
// never attached to anything.
func (c *Catalog) FindTags(names []string) ([]Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, name FROM tags WHERE name IN (?)`, names)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "build tag query")
	}
	var tags []Tag
	if err := c.db.Select(&tags, c.db.Rebind(query), args...); err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "load tags")
	}
	return tags, nil
}

// AssociateTags idempotently links dataset datasetID with tagIDs.
func (c *Catalog) AssociateTags(datasetID int64, tagIDs []int64) error {
	return c.WithTx(func(tx *sqlx.Tx) error {
		for _, tagID := range tagIDs {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO datasets_tags (dataset_id, tag_id) VALUES (?, ?)`, datasetID, tagID); err != nil {
				return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "associate tag")
			}
		}
		return nil
	})
}

// DissociateTags removes the given tag links from a dataset.
func (c *Catalog) DissociateTags(datasetID int64, tagIDs []int64) error {
	return c.WithTx(func(tx *sqlx.Tx) error {
		for _, tagID := range tagIDs {
			if _, err := tx.Exec(`DELETE FROM datasets_tags WHERE dataset_id = ? AND tag_id = ?`, datasetID, tagID); err != nil {
				return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "dissociate tag")
			}
		}
		return nil
	})
}

// MetadataUpdate carries only the fields the caller wants to change.
type MetadataUpdate struct {
	Name        *string
	Description *string
	Favorite    *bool
	Status      *Status
}

// UpdateMetadata updates only the fields that are non-nil in u.
func (c *Catalog) UpdateMetadata(id int64, u MetadataUpdate) error {
	sets := []string{}
	args := []any{}
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.Favorite != nil {
		sets = append(sets, "favorite = ?")
		args = append(args, *u.Favorite)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := "UPDATE datasets SET " + joinComma(sets) + " WHERE id = ?"
	res, err := c.db.Exec(query, args...)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "update dataset metadata")
	}
	return checkRowAffected(res)
}

// validTransitions enforces the only allowed status moves:
// Writing->Completed and Writing->Aborted.
var validTransitions = map[Status]map[Status]bool{
	StatusWriting: {StatusCompleted: true, StatusAborted: true},
}

// UpdateStatus enforces the transition rules above. Callers
// (internal/dataset's manager) are the only code path that calls this,
// so a disallowed transition is treated as a programmer error and
// panics rather than returning a recoverable error.
func (c *Catalog) UpdateStatus(id int64, from, to Status) error {
	if !validTransitions[from][to] {
		panic(fmt.Sprintf("catalog: illegal status transition %s -> %s", from, to))
	}
	status := to
	return c.UpdateMetadata(id, MetadataUpdate{Status: &status})
}

// FindByID loads a dataset by its catalog id.
func (c *Catalog) FindByID(id int64) (Dataset, error) {
	var d Dataset
	if err := c.db.Get(&d, `SELECT id, uuid, name, description, favorite, status, created_at FROM datasets WHERE id = ?`, id); err != nil {
		return Dataset{}, wrapNotFound(err)
	}
	return d, nil
}

// FindByUUID loads a dataset by its UUID.
func (c *Catalog) FindByUUID(id uuid.UUID) (Dataset, error) {
	var d Dataset
	if err := c.db.Get(&d, `SELECT id, uuid, name, description, favorite, status, created_at FROM datasets WHERE uuid = ?`, id.String()); err != nil {
		return Dataset{}, wrapNotFound(err)
	}
	return d, nil
}

// ListQuery filters the dataset listing.
type ListQuery struct {
	Search *string  // substring match on name
	Tags   []string // intersection: dataset must carry every listed tag
	Limit  int
	Offset int
}

// List returns datasets matching q, ordered by id descending by default.
func (c *Catalog) List(q ListQuery) ([]Dataset, error) {
	query := `SELECT d.id, d.uuid, d.name, d.description, d.favorite, d.status, d.created_at FROM datasets d`
	args := []any{}
	var where []string

	if q.Search != nil {
		where = append(where, "d.name LIKE ?")
		args = append(args, "%"+*q.Search+"%")
	}
	if len(q.Tags) > 0 {
		query += ` JOIN datasets_tags dt ON dt.dataset_id = d.id JOIN tags t ON t.id = dt.tag_id`
		in, inArgs, err := sqlx.In("t.name IN (?)", q.Tags)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "build tag filter")
		}
		where = append(where, in)
		args = append(args, inArgs...)
	}
	if len(where) > 0 {
		query += " WHERE " + joinAnd(where)
	}
	if len(q.Tags) > 0 {
		query += " GROUP BY d.id HAVING COUNT(DISTINCT t.name) = ?"
		args = append(args, len(q.Tags))
	}
	query += " ORDER BY d.id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	var datasets []Dataset
	if err := c.db.Select(&datasets, c.db.Rebind(query), args...); err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "list datasets")
	}
	return datasets, nil
}

// LoadTags returns the tag names associated with a dataset.
func (c *Catalog) LoadTags(datasetID int64) ([]string, error) {
	var names []string
	err := c.db.Select(&names, `
		SELECT t.name FROM tags t
		JOIN datasets_tags dt ON dt.tag_id = t.id
		WHERE dt.dataset_id = ?
		ORDER BY t.name`, datasetID)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "load dataset tags")
	}
	return names, nil
}

// Delete removes a dataset row, cascading its tag associations.
func (c *Catalog) Delete(id int64) error {
	res, err := c.db.Exec(`DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "delete dataset")
	}
	return checkRowAffected(res)
}

// WithTx runs fn inside a transaction, used by internal/dataset's
// manager for the create path's single catalog transaction: insert
// dataset row, upsert tags, associate tags.
func (c *Catalog) WithTx(fn func(*sqlx.Tx) error) error {
	tx, err := c.db.Beginx()
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "commit transaction")
	}
	return nil
}

func joinComma(parts []string) string { return joinSep(parts, ", ") }
func joinAnd(parts []string) string   { return joinSep(parts, " AND ") }

func joinSep(parts []string, sep string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

func checkRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "read rows affected")
	}
	if n == 0 {
		return ferrors.New(ferrors.KindNotFound, ferrors.CodeCatalogNotFound)
	}
	return nil
}

func wrapNotFound(err error) error {
	if err == sql.ErrNoRows {
		return ferrors.New(ferrors.KindNotFound, ferrors.CodeCatalogNotFound)
	}
	return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "query catalog")
}

func wrapConflict(err error) error {
	// modernc.org/sqlite reports unique-constraint violations with
	// "UNIQUE constraint failed" in the error text; there is no typed
	// sentinel to check against across driver versions.
	if err != nil && containsUnique(err.Error()) {
		return ferrors.Wrap(ferrors.KindAlreadyExists, ferrors.CodeCatalogConflict, err, "unique constraint violated")
	}
	return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeCatalogIO, err, "insert dataset")
}

func containsUnique(msg string) bool {
	for i := 0; i+len("UNIQUE") <= len(msg); i++ {
		if msg[i:i+len("UNIQUE")] == "UNIQUE" {
			return true
		}
	}
	return false
}
