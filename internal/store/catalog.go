package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jota2rz/mediaviewer/internal/models"
)

// ErrNotFound is returned when a lookup by id or relPath finds no row.
var ErrNotFound = errors.New("media item not found")

// Catalog provides the read operations of spec §4.1 plus the write
// operations used exclusively by the scanner (C2).
type Catalog struct {
	db *sql.DB
}

// NewCatalog wraps an open database in a Catalog.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

const selectColumns = `id, rel_path, filename, title, ext, media_type, size_bytes, modified_ms,
	duration_ms, width, height, has_funscript, funscript_action_count, funscript_avg_speed,
	is_vr, vr_fov, vr_stereo, vr_projection`

func scanItem(row interface{ Scan(...any) error }) (models.MediaItem, error) {
	var m models.MediaItem
	var stereo sql.NullString
	var projection sql.NullString
	var durationMs, width, height, actionCount sql.NullInt64
	var avgSpeed sql.NullFloat64
	var vrFov sql.NullInt64
	var hasFunscript, isVR int

	err := row.Scan(
		&m.ID, &m.RelPath, &m.Filename, &m.Title, &m.Ext, &m.MediaType, &m.SizeBytes, &m.ModifiedMs,
		&durationMs, &width, &height, &hasFunscript, &actionCount, &avgSpeed,
		&isVR, &vrFov, &stereo, &projection,
	)
	if err != nil {
		return models.MediaItem{}, err
	}

	m.HasFunscript = hasFunscript != 0
	m.IsVR = isVR != 0
	if durationMs.Valid {
		v := durationMs.Int64
		m.DurationMs = &v
	}
	if width.Valid {
		v := int(width.Int64)
		m.Width = &v
	}
	if height.Valid {
		v := int(height.Int64)
		m.Height = &v
	}
	if actionCount.Valid {
		v := int(actionCount.Int64)
		m.FunscriptActionCount = &v
	}
	if avgSpeed.Valid {
		v := avgSpeed.Float64
		m.FunscriptAvgSpeed = &v
	}
	if vrFov.Valid {
		v := int(vrFov.Int64)
		m.VRFov = &v
	}
	if stereo.Valid {
		v := models.VRStereo(stereo.String)
		m.VRStereo = &v
	}
	if projection.Valid {
		v := projection.String
		m.VRProjection = &v
	}
	return m, nil
}

// Get returns a single item by id.
func (c *Catalog) Get(id string) (models.MediaItem, error) {
	row := c.db.QueryRow(`SELECT `+selectColumns+` FROM media_items WHERE id = ?`, id)
	m, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaItem{}, ErrNotFound
	}
	return m, err
}

// GetByRelPath returns a single item by its unique relative path.
func (c *Catalog) GetByRelPath(relPath string) (models.MediaItem, error) {
	row := c.db.QueryRow(`SELECT `+selectColumns+` FROM media_items WHERE rel_path = ?`, relPath)
	m, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaItem{}, ErrNotFound
	}
	return m, err
}

// ListVr returns up to limit VR videos, most recently modified first.
func (c *Catalog) ListVr(limit int) ([]models.MediaItem, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := c.db.Query(
		`SELECT `+selectColumns+` FROM media_items WHERE is_vr = 1 AND media_type = 'video' ORDER BY modified_ms DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MediaItem
	for rows.Next() {
		m, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Filters narrows a Search call. Zero values mean "no constraint" except
// where a pointer is used to distinguish "unset" from "zero".
type Filters struct {
	Query        string // substring match on filename or title
	MediaType    models.MediaType
	HasFunscript *bool
	IsVR         *bool

	DurationMsMin, DurationMsMax *int64
	SpeedMin, SpeedMax           *float64
	WidthMin, WidthMax           *int
	HeightMin, HeightMax         *int
}

// SortField enumerates the allowed search sort columns.
type SortField string

const (
	SortModified   SortField = "modified"
	SortTitle      SortField = "title"
	SortFilename   SortField = "filename"
	SortDuration   SortField = "duration"
	SortSpeed      SortField = "speed"
	SortResolution SortField = "resolution"
)

var sortColumns = map[SortField]string{
	SortModified:   "modified_ms",
	SortTitle:      "title",
	SortFilename:   "filename",
	SortDuration:   "duration_ms",
	SortSpeed:      "funscript_avg_speed",
	SortResolution: "width",
}

// SearchParams bundles filters, sort, and pagination for Search.
type SearchParams struct {
	Filters   Filters
	Sort      SortField
	Ascending bool
	Page      int // 1-based
	PageSize  int
}

// SearchResult carries the page of items plus the total matching count.
type SearchResult struct {
	Items []models.MediaItem `json:"items"`
	Total int                `json:"total"`
}

// Search runs a paginated, filtered, sorted query over the catalog.
func (c *Catalog) Search(p SearchParams) (SearchResult, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}

	var where []string
	var args []any

	if q := strings.TrimSpace(p.Filters.Query); q != "" {
		where = append(where, "(filename LIKE ? OR title LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if p.Filters.MediaType != "" {
		where = append(where, "media_type = ?")
		args = append(args, string(p.Filters.MediaType))
	}
	if p.Filters.HasFunscript != nil {
		where = append(where, "has_funscript = ?")
		args = append(args, boolToInt(*p.Filters.HasFunscript))
	}
	if p.Filters.IsVR != nil {
		where = append(where, "is_vr = ?")
		args = append(args, boolToInt(*p.Filters.IsVR))
	}
	addRange(&where, &args, "duration_ms", p.Filters.DurationMsMin, p.Filters.DurationMsMax)
	addRangeF(&where, &args, "funscript_avg_speed", p.Filters.SpeedMin, p.Filters.SpeedMax)
	addRangeI(&where, &args, "width", p.Filters.WidthMin, p.Filters.WidthMax)
	addRangeI(&where, &args, "height", p.Filters.HeightMin, p.Filters.HeightMax)

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	col, ok := sortColumns[p.Sort]
	if !ok {
		col = sortColumns[SortModified]
	}
	dir := "DESC"
	if p.Ascending {
		dir = "ASC"
	}
	// NULLs sort last regardless of direction; modified_ms DESC breaks ties.
	orderSQL := fmt.Sprintf("ORDER BY (%s IS NULL), %s %s, modified_ms DESC", col, col, dir)

	var total int
	countQuery := "SELECT COUNT(*) FROM media_items " + whereSQL
	if err := c.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return SearchResult{}, err
	}

	offset := (p.Page - 1) * p.PageSize
	query := fmt.Sprintf("SELECT %s FROM media_items %s %s LIMIT ? OFFSET ?", selectColumns, whereSQL, orderSQL)
	queryArgs := append(append([]any{}, args...), p.PageSize, offset)

	rows, err := c.db.Query(query, queryArgs...)
	if err != nil {
		return SearchResult{}, err
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		m, err := scanItem(rows)
		if err != nil {
			return SearchResult{}, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}

	return SearchResult{Items: items, Total: total}, nil
}

func addRange(where *[]string, args *[]any, col string, min, max *int64) {
	if min != nil {
		*where = append(*where, col+" >= ?")
		*args = append(*args, *min)
	}
	if max != nil {
		*where = append(*where, col+" <= ?")
		*args = append(*args, *max)
	}
}

func addRangeF(where *[]string, args *[]any, col string, min, max *float64) {
	if min != nil {
		*where = append(*where, col+" >= ?")
		*args = append(*args, *min)
	}
	if max != nil {
		*where = append(*where, col+" <= ?")
		*args = append(*args, *max)
	}
}

func addRangeI(where *[]string, args *[]any, col string, min, max *int) {
	if min != nil {
		*where = append(*where, col+" >= ?")
		*args = append(*args, *min)
	}
	if max != nil {
		*where = append(*where, col+" <= ?")
		*args = append(*args, *max)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Upsert inserts or updates a media item, keyed by RelPath. Only called by
// the scanner (C2) — request handlers never mutate the catalog.
func (c *Catalog) Upsert(m models.MediaItem) error {
	_, err := c.db.Exec(`
		INSERT INTO media_items (
			id, rel_path, filename, title, ext, media_type, size_bytes, modified_ms,
			duration_ms, width, height, has_funscript, funscript_action_count, funscript_avg_speed,
			is_vr, vr_fov, vr_stereo, vr_projection
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			filename = excluded.filename,
			title = excluded.title,
			ext = excluded.ext,
			media_type = excluded.media_type,
			size_bytes = excluded.size_bytes,
			modified_ms = excluded.modified_ms,
			duration_ms = excluded.duration_ms,
			width = excluded.width,
			height = excluded.height,
			has_funscript = excluded.has_funscript,
			funscript_action_count = excluded.funscript_action_count,
			funscript_avg_speed = excluded.funscript_avg_speed,
			is_vr = excluded.is_vr,
			vr_fov = excluded.vr_fov,
			vr_stereo = excluded.vr_stereo,
			vr_projection = excluded.vr_projection
	`,
		m.ID, m.RelPath, m.Filename, m.Title, m.Ext, string(m.MediaType), m.SizeBytes, m.ModifiedMs,
		m.DurationMs, m.Width, m.Height, boolToInt(m.HasFunscript), m.FunscriptActionCount, m.FunscriptAvgSpeed,
		boolToInt(m.IsVR), m.VRFov, stereoValue(m.VRStereo), m.VRProjection,
	)
	return err
}

func stereoValue(s *models.VRStereo) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// AllRelPaths returns the rel_path of every video/image row, for cleanup.
func (c *Catalog) AllRelPaths() ([]string, error) {
	rows, err := c.db.Query(`SELECT rel_path FROM media_items WHERE media_type IN ('video', 'image')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteByRelPaths removes rows in chunks of up to 500 placeholders.
func (c *Catalog) DeleteByRelPaths(relPaths []string) error {
	const chunkSize = 500
	for i := 0; i < len(relPaths); i += chunkSize {
		end := i + chunkSize
		if end > len(relPaths) {
			end = len(relPaths)
		}
		chunk := relPaths[i:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for j, p := range chunk {
			args[j] = p
		}
		if _, err := c.db.Exec("DELETE FROM media_items WHERE rel_path IN ("+placeholders+")", args...); err != nil {
			return err
		}
	}
	return nil
}

// ProbeCacheGet returns a cached probe result, or ok=false on a cache miss.
func (c *Catalog) ProbeCacheGet(relPath string, modTime int64) (ProbeResult, bool) {
	var r ProbeResult
	var width, height, durationMs, vrFov sql.NullInt64
	var stereo, projection sql.NullString
	var isVR int
	err := c.db.QueryRow(
		`SELECT width, height, duration_ms, is_vr, vr_fov, vr_stereo, vr_projection
		 FROM probe_cache WHERE rel_path = ? AND mod_time = ?`,
		relPath, modTime,
	).Scan(&width, &height, &durationMs, &isVR, &vrFov, &stereo, &projection)
	if err != nil {
		return ProbeResult{}, false
	}
	r.IsVR = isVR != 0
	if width.Valid {
		v := int(width.Int64)
		r.Width = &v
	}
	if height.Valid {
		v := int(height.Int64)
		r.Height = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		r.DurationMs = &v
	}
	if vrFov.Valid {
		v := int(vrFov.Int64)
		r.VRFov = &v
	}
	if stereo.Valid {
		v := models.VRStereo(stereo.String)
		r.VRStereo = &v
	}
	if projection.Valid {
		v := projection.String
		r.VRProjection = &v
	}
	return r, true
}

// ProbeCacheSet stores a probe result keyed by (relPath, modTime).
func (c *Catalog) ProbeCacheSet(relPath string, modTime int64, r ProbeResult) error {
	_, err := c.db.Exec(
		`INSERT INTO probe_cache (rel_path, mod_time, width, height, duration_ms, is_vr, vr_fov, vr_stereo, vr_projection)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(rel_path, mod_time) DO UPDATE SET
			width = excluded.width, height = excluded.height, duration_ms = excluded.duration_ms,
			is_vr = excluded.is_vr, vr_fov = excluded.vr_fov, vr_stereo = excluded.vr_stereo,
			vr_projection = excluded.vr_projection`,
		relPath, modTime, r.Width, r.Height, r.DurationMs, boolToInt(r.IsVR), r.VRFov, stereoValue(r.VRStereo), r.VRProjection,
	)
	return err
}

// ProbeCacheCleanup drops cache rows whose rel_path no longer exists in
// the catalog at all (file removed from disk and already swept).
func (c *Catalog) ProbeCacheCleanup() error {
	_, err := c.db.Exec(`DELETE FROM probe_cache WHERE rel_path NOT IN (SELECT rel_path FROM media_items)`)
	return err
}

// ProbeResult is the normalized outcome of probing one media file,
// shared between the ffprobe path and the go-mp4 fallback path.
type ProbeResult struct {
	Width        *int
	Height       *int
	DurationMs   *int64
	IsVR         bool
	VRFov        *int
	VRStereo     *models.VRStereo
	VRProjection *string
}
