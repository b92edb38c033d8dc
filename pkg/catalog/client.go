package catalog

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/geogrid/routingtier/pkg/routeerr"
)

// Client is the catalog facade of spec §4.4. Every method binds
// user-supplied values as SQL parameters — never string concatenation,
// which is the specific defect §9 calls out in the original source.
type Client struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

// Open connects to dsn using the lib/pq driver and returns a ready Client.
func Open(dsn string, maxOpenConns int) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, routeerr.Wrap(routeerr.Fatal, err, "opening catalog connection")
	}
	db.SetMaxOpenConns(maxOpenConns)
	return New(db), nil
}

// New wraps an already-open *sql.DB as a Client.
func New(db *sql.DB) *Client {
	return &Client{db: db, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Ping verifies the catalog connection is live, reporting an unavailable
// catalog as routeerr.Transient if not.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return routeerr.Wrap(routeerr.Transient, err, "catalog unavailable")
	}
	return nil
}

func wrapExecErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return routeerr.Wrap(routeerr.Upstream, err, msg)
}

// --- Images -----------------------------------------------------------

// ValidateCoordinates enforces spec §4.4's bounding-box rule:
// north > south, east > west, and both within valid lat/lon ranges.
func ValidateCoordinates(north, south, east, west float64) error {
	if north <= south {
		return routeerr.New(routeerr.BadRequest, "north must be greater than south")
	}
	if east <= west {
		return routeerr.New(routeerr.BadRequest, "east must be greater than west")
	}
	if north > 90 || south < -90 {
		return routeerr.New(routeerr.BadRequest, "latitude out of range [-90,90]")
	}
	if east > 180 || west < -180 {
		return routeerr.New(routeerr.BadRequest, "longitude out of range [-180,180]")
	}
	return nil
}

// SearchImagesByGeohashPrefixes returns every image whose geohash begins
// with one of prefixes, newest first.
func (c *Client) SearchImagesByGeohashPrefixes(ctx context.Context, prefixes []string) ([]Image, error) {
	if len(prefixes) == 0 {
		return nil, routeerr.New(routeerr.BadRequest, "at least one geohash prefix is required")
	}

	or := sq.Or{}
	for _, p := range prefixes {
		or = append(or, sq.Like{"geohash": p + "%"})
	}

	rows, err := c.qb.Select("image_id", "filename", "source", "timestamp", "geohash").
		From("images").
		Where(or).
		OrderBy("timestamp DESC").
		RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, wrapExecErr(err, "search_images_by_geohash_prefixes")
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ImageID, &img.Filename, &img.Source, &img.Timestamp, &img.Geohash); err != nil {
			return nil, wrapExecErr(err, "scanning image row")
		}
		out = append(out, img)
	}
	return out, wrapExecErr(rows.Err(), "iterating image rows")
}

// InsertImage inserts a new Image row, returning the generated image_id.
func (c *Client) InsertImage(ctx context.Context, in ImageInsert) (int64, error) {
	if in.Filename == "" || in.Source == "" || in.Geohash == "" {
		return 0, routeerr.New(routeerr.BadRequest, "filename, source and geohash are required")
	}

	var id int64
	row := c.qb.Insert("images").
		Columns("filename", "source", "timestamp", "geohash").
		Values(in.Filename, in.Source, in.Timestamp, in.Geohash).
		Suffix("RETURNING image_id").
		RunWith(c.db).QueryRowContext(ctx)
	if err := row.Scan(&id); err != nil {
		return 0, wrapExecErr(err, "insert_image")
	}
	return id, nil
}

// --- Spectrums ----------------------------------------------------------

// GetSpectrumsByImage returns every Spectrum row for imageID.
func (c *Client) GetSpectrumsByImage(ctx context.Context, imageID int64) ([]Spectrum, error) {
	rows, err := c.qb.Select("spectrum_id", "image_id", "spectrum_name", "frequency", "default_cold_color", "extra").
		From("spectrums").
		Where(sq.Eq{"image_id": imageID}).
		RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, wrapExecErr(err, "get_spectrums_by_image")
	}
	defer rows.Close()

	var out []Spectrum
	for rows.Next() {
		var s Spectrum
		if err := rows.Scan(&s.SpectrumID, &s.ImageID, &s.Band, &s.Frequency, &s.ColdDefaultColor, &s.Extra); err != nil {
			return nil, wrapExecErr(err, "scanning spectrum row")
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, routeerr.New(routeerr.NotFound, "no spectrums for image")
	}
	return out, wrapExecErr(rows.Err(), "iterating spectrum rows")
}

// IncrementSpectrumFrequency bumps the access counter of spec §3.
func (c *Client) IncrementSpectrumFrequency(ctx context.Context, spectrumID int64) error {
	_, err := c.qb.Update("spectrums").
		Set("frequency", sq.Expr("frequency + 1")).
		Where(sq.Eq{"spectrum_id": spectrumID}).
		RunWith(c.db).ExecContext(ctx)
	return wrapExecErr(err, "increment_spectrum_frequency")
}

// InsertSpectrum inserts a new Spectrum row alongside a parent image.
func (c *Client) InsertSpectrum(ctx context.Context, in SpectrumInsert) (int64, error) {
	var id int64
	row := c.qb.Insert("spectrums").
		Columns("image_id", "spectrum_name", "frequency", "default_cold_color", "extra").
		Values(in.ImageID, in.Band, 0, in.ColdDefaultColor, in.Extra).
		Suffix("RETURNING spectrum_id").
		RunWith(c.db).QueryRowContext(ctx)
	if err := row.Scan(&id); err != nil {
		return 0, wrapExecErr(err, "insert_spectrum")
	}
	return id, nil
}

// --- Servers --------------------------------------------------------------

// GetServersByClass returns all StorageNode rows with the given class
// ("hot" or "cold").
func (c *Client) GetServersByClass(ctx context.Context, class string) ([]StorageNode, error) {
	rows, err := c.qb.Select("server_id", "location", "class", "ssd_volume", "ssd_fullness", "hdd_volume", "hdd_fullness").
		From("servers").
		Where(sq.Eq{"class": class}).
		RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, wrapExecErr(err, "get_servers_by_class")
	}
	defer rows.Close()

	var out []StorageNode
	for rows.Next() {
		var s StorageNode
		if err := rows.Scan(&s.ServerID, &s.Location, &s.Class, &s.SSDVolume, &s.SSDFullness, &s.HDDVolume, &s.HDDFullness); err != nil {
			return nil, wrapExecErr(err, "scanning server row")
		}
		out = append(out, s)
	}
	return out, wrapExecErr(rows.Err(), "iterating server rows")
}

// InsertServer adds a new StorageNode (admin POST /server/add).
func (c *Client) InsertServer(ctx context.Context, in StorageNodeInsert) (int64, error) {
	if in.Class != "hot" && in.Class != "cold" {
		return 0, routeerr.New(routeerr.BadRequest, "class must be hot or cold")
	}
	var id int64
	row := c.qb.Insert("servers").
		Columns("location", "class", "ssd_volume", "ssd_fullness", "hdd_volume", "hdd_fullness").
		Values(in.Location, in.Class, in.SSDVolume, in.SSDFullness, in.HDDVolume, in.HDDFullness).
		Suffix("RETURNING server_id").
		RunWith(c.db).QueryRowContext(ctx)
	if err := row.Scan(&id); err != nil {
		return 0, wrapExecErr(err, "insert_server")
	}
	return id, nil
}

// DeleteServer removes a StorageNode (admin DELETE /server/remove/{id}).
func (c *Client) DeleteServer(ctx context.Context, serverID int64) error {
	res, err := c.qb.Delete("servers").Where(sq.Eq{"server_id": serverID}).RunWith(c.db).ExecContext(ctx)
	if err != nil {
		return wrapExecErr(err, "delete_server")
	}
	return checkRowsAffected(res, "server")
}

// --- Routing servers --------------------------------------------------------

// InsertRoutingServer records a routing node join (spec §4.2 Join).
func (c *Client) InsertRoutingServer(ctx context.Context, in RoutingServerInsert) (int64, error) {
	var id int64
	row := c.qb.Insert("routing_servers").
		Columns("adress", "priority", "geohash_prefix").
		Values(in.Address, in.Priority, in.GeohashPrefix).
		Suffix("RETURNING router_id").
		RunWith(c.db).QueryRowContext(ctx)
	if err := row.Scan(&id); err != nil {
		return 0, wrapExecErr(err, "insert_routing_server")
	}
	return id, nil
}

// DeleteRoutingServer removes a routing node (spec §4.2 Leave).
func (c *Client) DeleteRoutingServer(ctx context.Context, routerID int64) error {
	res, err := c.qb.Delete("routing_servers").Where(sq.Eq{"router_id": routerID}).RunWith(c.db).ExecContext(ctx)
	if err != nil {
		return wrapExecErr(err, "delete_routing_server")
	}
	return checkRowsAffected(res, "routing_server")
}

// GetAllRoutingServers returns the full Routing_Servers table, used to seed
// the Ring at startup (spec §6 "Persisted state").
func (c *Client) GetAllRoutingServers(ctx context.Context) ([]RoutingServer, error) {
	rows, err := c.qb.Select("router_id", "adress", "priority", "geohash_prefix").
		From("routing_servers").
		RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, wrapExecErr(err, "get_all_routing_servers")
	}
	defer rows.Close()

	var out []RoutingServer
	for rows.Next() {
		var r RoutingServer
		if err := rows.Scan(&r.RouterID, &r.Address, &r.Priority, &r.GeohashPrefix); err != nil {
			return nil, wrapExecErr(err, "scanning routing_server row")
		}
		out = append(out, r)
	}
	return out, wrapExecErr(rows.Err(), "iterating routing_server rows")
}

// --- Tiles --------------------------------------------------------------

// InsertTile inserts a new Tile row, enforcing the (image_id, band, row,
// column) uniqueness of spec §3 via the migration's unique index; a
// conflict surfaces as a routeerr.Upstream error.
func (c *Client) InsertTile(ctx context.Context, in TileInsert) (int64, error) {
	var id int64
	row := c.qb.Insert("tiles").
		Columns("image_id", "tile_row", "tile_column", "spectrum", "tile_url", "frequency").
		Values(in.ImageID, in.Row, in.Column, in.Band, in.URL, 0).
		Suffix("RETURNING tile_id").
		RunWith(c.db).QueryRowContext(ctx)
	if err := row.Scan(&id); err != nil {
		return 0, wrapExecErr(err, "insert_tile")
	}
	return id, nil
}

// IncrementTileFrequency bumps a tile's access counter.
func (c *Client) IncrementTileFrequency(ctx context.Context, tileID int64) error {
	_, err := c.qb.Update("tiles").
		Set("frequency", sq.Expr("frequency + 1")).
		Where(sq.Eq{"tile_id": tileID}).
		RunWith(c.db).ExecContext(ctx)
	return wrapExecErr(err, "increment_tile_frequency")
}

// GetTilesByImage returns every tile belonging to imageID, in no
// particular order (storage layout decides physical placement).
func (c *Client) GetTilesByImage(ctx context.Context, imageID int64) ([]Tile, error) {
	return c.queryTiles(ctx, sq.Eq{"image_id": imageID}, "")
}

// GetTilesSortedByFrequency returns every tile for imageID ordered by
// descending access frequency (GET /tiles?sort=frequency).
func (c *Client) GetTilesSortedByFrequency(ctx context.Context, imageID int64) ([]Tile, error) {
	return c.queryTiles(ctx, sq.Eq{"image_id": imageID}, "frequency DESC")
}

func (c *Client) queryTiles(ctx context.Context, pred sq.Sqlizer, orderBy string) ([]Tile, error) {
	q := c.qb.Select("tile_id", "image_id", "tile_row", "tile_column", "spectrum", "tile_url", "frequency").
		From("tiles").
		Where(pred)
	if orderBy != "" {
		q = q.OrderBy(orderBy)
	}
	rows, err := q.RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, wrapExecErr(err, "get_tiles")
	}
	defer rows.Close()

	var out []Tile
	for rows.Next() {
		var t Tile
		if err := rows.Scan(&t.TileID, &t.ImageID, &t.Row, &t.Column, &t.Band, &t.URL, &t.Frequency); err != nil {
			return nil, wrapExecErr(err, "scanning tile row")
		}
		out = append(out, t)
	}
	return out, wrapExecErr(rows.Err(), "iterating tile rows")
}

func checkRowsAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapExecErr(err, "rows affected")
	}
	if n == 0 {
		return routeerr.New(routeerr.NotFound, "no "+what+" with that id")
	}
	return nil
}
