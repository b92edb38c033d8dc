// Package catalog is a thin, fully parameterised facade over the external
// relational catalog described in spec §4.4 and §6: Images, Spectrums,
// Tiles, Servers, Routing_Servers. Catalog owns no state of its own; every
// operation is a bound-parameter SQL statement built with squirrel and run
// over database/sql + lib/pq.
package catalog

import "time"

// Image is a row of the Images table (spec §3, §6).
type Image struct {
	ImageID   int64
	Filename  string
	Source    string
	Timestamp time.Time
	Geohash   string
}

// ImageInsert is the input to InsertImage.
type ImageInsert struct {
	Filename  string
	Source    string
	Timestamp time.Time
	Geohash   string
}

// Spectrum is a row of the Spectrums table.
type Spectrum struct {
	SpectrumID       int64
	ImageID          int64
	Band             string
	Frequency        int64
	ColdDefaultColor string
	Extra            string
}

// SpectrumInsert is the input to InsertSpectrum.
type SpectrumInsert struct {
	ImageID          int64
	Band             string
	ColdDefaultColor string
	Extra            string
}

// Tile is a row of the Tiles table.
type Tile struct {
	TileID    int64
	ImageID   int64
	Row       int
	Column    int
	Band      string
	URL       string
	Frequency int64
}

// TileInsert is the input to InsertTile.
type TileInsert struct {
	ImageID int64
	Row     int
	Column  int
	Band    string
	URL     string
}

// StorageNode is a row of the Servers table.
type StorageNode struct {
	ServerID    int64
	Location    string
	Class       string // "hot" | "cold"
	SSDVolume   int64
	SSDFullness int
	HDDVolume   int64
	HDDFullness int
}

// StorageNodeInsert is the input to InsertServer.
type StorageNodeInsert struct {
	Location    string
	Class       string
	SSDVolume   int64
	SSDFullness int
	HDDVolume   int64
	HDDFullness int
}

// RoutingServer is a row of the Routing_Servers table.
type RoutingServer struct {
	RouterID      int64
	Address       string
	Priority      int
	GeohashPrefix string
}

// RoutingServerInsert is the input to InsertRoutingServer.
type RoutingServerInsert struct {
	Address       string
	Priority      int
	GeohashPrefix string
}
