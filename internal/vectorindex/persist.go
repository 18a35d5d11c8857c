package vectorindex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver registered as "sqlite"

	"github.com/54b3r/medquery-go/internal/rag"
)

// fileName is the database file inside a persisted index directory.
const fileName = "index.db"

// formatVersion is bumped whenever the on-disk schema changes.
const formatVersion = "1"

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE entries (
	position INTEGER PRIMARY KEY,
	id       TEXT NOT NULL,
	content  TEXT NOT NULL,
	source   TEXT NOT NULL,
	metadata TEXT NOT NULL,
	vector   BLOB NOT NULL
);
`

// entryRow is the scan target for one row of the entries table.
type entryRow struct {
	Position int    `db:"position"`
	ID       string `db:"id"`
	Content  string `db:"content"`
	Source   string `db:"source"`
	Metadata string `db:"metadata"`
	Vector   []byte `db:"vector"`
}

// metaRow is the scan target for one row of the meta table.
type metaRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// Exists reports whether a persisted index is present at dir. Startup uses
// it as the sole build-or-load signal.
func Exists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

// Persist writes the index to dir/index.db. The file is built in a
// sibling staging directory that is renamed into place only once it is
// complete, so dir never exists in a half-written state and a failed
// Persist leaves any previous index untouched.
func (f *Flat) Persist(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("vectorindex: create %s: %w", parent, err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-")
	if err != nil {
		return fmt.Errorf("vectorindex: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck

	if err := f.writeFile(ctx, filepath.Join(staging, fileName)); err != nil {
		return err
	}
	return install(staging, dir)
}

// writeFile writes a complete index database at path.
func (f *Flat) writeFile(ctx context.Context, path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("vectorindex: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := f.write(ctx, db); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("vectorindex: close %s: %w", path, err)
	}
	return nil
}

// install moves staging to dir. An existing dir is set aside first and
// restored if the move fails.
func install(staging, dir string) error {
	if !Exists(dir) {
		if err := os.Rename(staging, dir); err != nil {
			return fmt.Errorf("vectorindex: install %s: %w", dir, err)
		}
		return nil
	}

	old := staging + ".old"
	if err := os.Rename(dir, old); err != nil {
		return fmt.Errorf("vectorindex: replace %s: %w", dir, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		_ = os.Rename(old, dir)
		return fmt.Errorf("vectorindex: install %s: %w", dir, err)
	}
	_ = os.RemoveAll(old)
	return nil
}

// write creates the schema and stores a snapshot of the index in one
// transaction.
func (f *Flat) write(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("vectorindex: create schema: %w", err)
	}

	f.mu.RLock()
	snapshot := append([]entry(nil), f.entries...)
	model := f.model
	f.mu.RUnlock()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	meta := []metaRow{
		{"format_version", formatVersion},
		{"dimension", strconv.Itoa(f.dimension)},
		{"metric", string(f.metric)},
		{"model", model},
		{"count", strconv.Itoa(len(snapshot))},
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO meta (key, value) VALUES (:key, :value)`, meta); err != nil {
		return fmt.Errorf("vectorindex: write meta: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO entries (position, id, content, source, metadata, vector)
		VALUES (:position, :id, :content, :source, :metadata, :vector)`)
	if err != nil {
		return fmt.Errorf("vectorindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snapshot {
		md, err := json.Marshal(e.doc.Metadata)
		if err != nil {
			return fmt.Errorf("vectorindex: encode metadata of %s: %w", e.doc.ID, err)
		}
		row := entryRow{
			Position: i,
			ID:       e.doc.ID,
			Content:  e.doc.Content,
			Source:   e.doc.Source,
			Metadata: string(md),
			Vector:   encodeVector(e.vec),
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("vectorindex: write entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorindex: commit: %w", err)
	}
	return nil
}

// Load reads an index persisted by Persist. When expectedDim is positive the
// stored dimension must match it; a mismatch means the index was built with
// a different embedding model and fails with rag.ErrIndexLoad, as does any
// unreadable or inconsistent file.
func Load(ctx context.Context, dir string, expectedDim int) (*Flat, error) {
	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vectorindex: %s: %w: %w", path, rag.ErrIndexLoad, err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open %s: %w: %w", path, rag.ErrIndexLoad, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var metaRows []metaRow
	if err := db.SelectContext(ctx, &metaRows, `SELECT key, value FROM meta`); err != nil {
		return nil, fmt.Errorf("vectorindex: read meta: %w: %w", rag.ErrIndexLoad, err)
	}
	meta := make(map[string]string, len(metaRows))
	for _, m := range metaRows {
		meta[m.Key] = m.Value
	}

	if v := meta["format_version"]; v != formatVersion {
		return nil, fmt.Errorf("vectorindex: unsupported format version %q: %w", v, rag.ErrIndexLoad)
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("vectorindex: invalid dimension %q: %w", meta["dimension"], rag.ErrIndexLoad)
	}
	if expectedDim > 0 && dim != expectedDim {
		return nil, fmt.Errorf("vectorindex: index dimension %d does not match embedder dimension %d (rebuild the index after changing the embedding model): %w",
			dim, expectedDim, rag.ErrIndexLoad)
	}
	metric, err := ParseMetric(meta["metric"])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrIndexLoad, err)
	}

	var rows []entryRow
	if err := db.SelectContext(ctx, &rows, `SELECT position, id, content, source, metadata, vector FROM entries ORDER BY position`); err != nil {
		return nil, fmt.Errorf("vectorindex: read entries: %w: %w", rag.ErrIndexLoad, err)
	}
	if want := meta["count"]; want != strconv.Itoa(len(rows)) {
		return nil, fmt.Errorf("vectorindex: expected %s entries, found %d: %w", want, len(rows), rag.ErrIndexLoad)
	}

	docs := make([]rag.Document, len(rows))
	vecs := make([][]float32, len(rows))
	for i, r := range rows {
		vec, err := decodeVector(r.Vector, dim)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: entry %d: %w: %w", r.Position, rag.ErrIndexLoad, err)
		}
		var md map[string]string
		if err := json.Unmarshal([]byte(r.Metadata), &md); err != nil {
			return nil, fmt.Errorf("vectorindex: entry %d metadata: %w: %w", r.Position, rag.ErrIndexLoad, err)
		}
		docs[i] = rag.Document{ID: r.ID, Content: r.Content, Source: r.Source, Metadata: md}
		vecs[i] = vec
	}

	idx, err := Build(ctx, dim, metric, docs, vecs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrIndexLoad, err)
	}
	idx.model = meta["model"]
	return idx, nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, errors.New("vector blob length does not match dimension")
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
