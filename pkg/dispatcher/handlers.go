package dispatcher

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/geogrid/routingtier/pkg/catalog"
	"github.com/geogrid/routingtier/pkg/catalog/geohash"
	"github.com/geogrid/routingtier/pkg/gossip"
	"github.com/geogrid/routingtier/pkg/httpcodec"
	"github.com/geogrid/routingtier/pkg/placement"
	"github.com/geogrid/routingtier/pkg/ring"
	"github.com/geogrid/routingtier/pkg/routeerr"
)

// json is jsoniter configured for byte-for-byte encoding/json
// compatibility, matching the teacher's own use of json-iterator/go for
// every request/response body in this tree.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers implements the handler table of spec §4.6, grounded on
// process_http_request in
// original_source/routing_server/routing_server.cpp.
type Handlers struct {
	Catalog    *catalog.Client
	RingMgr    *ring.Manager
	GossipLoop *gossip.Loop
	GossipSM   *gossip.StateMachine // reserved for handlers that need direct liveness lookups
	Relay      *Relay
	Logger     log.Logger
}

// Dispatch routes req to the handler matching (method, path) and
// recovers a routeerr-kinded error into the appropriate HTTP status
// (spec §7).
func (h *Handlers) Dispatch(ctx context.Context, req httpcodec.Request) httpcodec.Response {
	resp, err := h.route(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	return resp
}

// handlerFunc is the signature every route table entry dispatches to.
type handlerFunc func(context.Context, httpcodec.Request) (httpcodec.Response, error)

// routeEntry matches a path first, then looks up the method within that
// path's allowed set. A path match with no method entry is a 415, not a
// 404 (spec §4.5: "Unknown methods produce a 415 Method Not Allowed
// reply, not a crash") — the two are distinct failure modes and must not
// collapse into the same status.
type routeEntry struct {
	match    func(path string) bool
	handlers map[string]handlerFunc
}

func (h *Handlers) route(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	routes := []routeEntry{
		{
			match: func(p string) bool { return p == "/images" },
			handlers: map[string]handlerFunc{
				"GET":  h.getImages,
				"POST": h.postImages,
			},
		},
		{
			match: func(p string) bool { return p == "/tiles" },
			handlers: map[string]handlerFunc{
				"GET":  h.getTiles,
				"POST": h.postTiles,
			},
		},
		{
			match: isTileIncrementPath,
			handlers: map[string]handlerFunc{
				"POST": h.postTileIncrement,
			},
		},
		{
			match: func(p string) bool { return p == "/upload" },
			handlers: map[string]handlerFunc{
				"POST": h.postUpload,
			},
		},
		{
			match: func(p string) bool { return p == "/router/add" },
			handlers: map[string]handlerFunc{
				"POST": h.postRouterAdd,
			},
		},
		{
			match: func(p string) bool { return strings.HasPrefix(p, "/router/remove/") },
			handlers: map[string]handlerFunc{
				"DELETE": h.deleteRouterRemove,
			},
		},
		{
			match: func(p string) bool { return p == "/server/add" },
			handlers: map[string]handlerFunc{
				"POST": h.postServerAdd,
			},
		},
		{
			match: func(p string) bool { return strings.HasPrefix(p, "/server/remove/") },
			handlers: map[string]handlerFunc{
				"DELETE": h.deleteServerRemove,
			},
		},
	}

	for _, r := range routes {
		if !r.match(req.Path) {
			continue
		}
		handler, ok := r.handlers[req.Method]
		if !ok {
			return httpcodec.Response{}, routeerr.New(routeerr.MethodNotAllowed, "method "+req.Method+" not allowed for "+req.Path)
		}
		return handler(ctx, req)
	}
	return httpcodec.Response{}, routeerr.New(routeerr.NotFound, "no route for "+req.Method+" "+req.Path)
}

// --- /images ---------------------------------------------------------

func (h *Handlers) getImages(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	north, south, east, west, err := parseBoundingBox(req)
	if err != nil {
		return httpcodec.Response{}, err
	}
	if err := catalog.ValidateCoordinates(north, south, east, west); err != nil {
		return httpcodec.Response{}, err
	}

	prefixes := geohash.Cover(north, south, east, west)
	images, err := h.Catalog.SearchImagesByGeohashPrefixes(ctx, prefixes)
	if err != nil {
		return httpcodec.Response{}, err
	}

	body, err := json.Marshal(map[string]any{"images": images})
	if err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.Internal, err, "marshaling images response")
	}
	return httpcodec.JSON(http.StatusOK, body), nil
}

func parseBoundingBox(req httpcodec.Request) (north, south, east, west float64, err error) {
	fields := map[string]*float64{"north": &north, "south": &south, "east": &east, "west": &west}
	for name, dst := range fields {
		raw := req.Query.Get(name)
		if raw == "" {
			return 0, 0, 0, 0, routeerr.New(routeerr.BadRequest, "missing query parameter "+name)
		}
		v, convErr := strconv.ParseFloat(raw, 64)
		if convErr != nil {
			return 0, 0, 0, 0, routeerr.Wrap(routeerr.BadRequest, convErr, "invalid "+name)
		}
		*dst = v
	}
	return north, south, east, west, nil
}

// postImagesRequest supplements the geohash-schema Images table with the
// original source's coordinate fields (north_lat/south_lat/east_lon/
// west_lon, ImageInsertData in routing_server.cpp): callers may submit
// either a ready-made geohash or a bounding box the dispatcher geohashes
// itself.
type postImagesRequest struct {
	Filename  string    `json:"filename"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Geohash   string    `json:"geohash"`
	NorthLat  *float64  `json:"north_lat"`
	SouthLat  *float64  `json:"south_lat"`
	EastLon   *float64  `json:"east_lon"`
	WestLon   *float64  `json:"west_lon"`
}

func (h *Handlers) postImages(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	var in postImagesRequest
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "decoding image payload")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	if in.Geohash == "" {
		if in.NorthLat == nil || in.SouthLat == nil || in.EastLon == nil || in.WestLon == nil {
			return httpcodec.Response{}, routeerr.New(routeerr.BadRequest, "geohash or a full bounding box is required")
		}
		centerLat := (*in.NorthLat + *in.SouthLat) / 2
		centerLon := (*in.EastLon + *in.WestLon) / 2
		in.Geohash = geohash.Encode(centerLat, centerLon, geohash.MaxPrecision)
	}

	id, err := h.Catalog.InsertImage(ctx, catalog.ImageInsert{
		Filename:  in.Filename,
		Source:    in.Source,
		Timestamp: in.Timestamp,
		Geohash:   in.Geohash,
	})
	if err != nil {
		return httpcodec.Response{}, err
	}
	body, _ := json.Marshal(map[string]int64{"image_id": id})
	return httpcodec.JSON(http.StatusCreated, body), nil
}

// --- /tiles -------------------------------------------------------------

// tileStorageTarget picks the storage node tile reads/writes relay to.
// original_source/routing_server/routing_server.cpp relays every /tiles
// request to a single hardcoded storage_server; this generalises that to
// the same hot-tier placement.Select used for uploads, since tiles are
// served imagery and default to the hot tier in the absence of a known
// band for the request. The ring (pkg/ring) is the routing-node hash
// circle used for gossip convergence, not a second index over storage
// nodes, so it is deliberately not consulted here.
func (h *Handlers) tileStorageTarget(ctx context.Context) (placement.Candidate, error) {
	servers, err := h.Catalog.GetServersByClass(ctx, string(placement.Hot))
	if err != nil {
		return placement.Candidate{}, err
	}
	return placement.Select(placement.CandidatesFromCatalog(servers), 0)
}

func (h *Handlers) getTiles(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	imageID := req.Query.Get("image_id")
	if imageID == "" {
		return httpcodec.Response{}, routeerr.New(routeerr.BadRequest, "missing image_id query parameter")
	}

	target, err := h.tileStorageTarget(ctx)
	if err != nil {
		return httpcodec.Response{}, err
	}

	path := "/tiles?image_id=" + imageID
	if req.Query.Get("sort") == "frequency" {
		path += "&sort=frequency"
	}
	return h.Relay.Send(target.ServerID, target.Location, "GET", path, nil)
}

func (h *Handlers) postTiles(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	var in catalog.TileInsert
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "decoding tile payload")
	}

	target, err := h.tileStorageTarget(ctx)
	if err != nil {
		return httpcodec.Response{}, err
	}
	return h.Relay.Send(target.ServerID, target.Location, "POST", "/tiles", req.Body)
}

func isTileIncrementPath(path string) bool {
	return strings.HasPrefix(path, "/tiles/") && strings.HasSuffix(path, "/increment")
}

func (h *Handlers) postTileIncrement(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(parts) != 4 {
		return httpcodec.Response{}, routeerr.New(routeerr.BadRequest, "malformed tile increment path")
	}

	target, err := h.tileStorageTarget(ctx)
	if err != nil {
		return httpcodec.Response{}, err
	}
	return h.Relay.Send(target.ServerID, target.Location, "POST", req.Path, nil)
}

// --- /upload --------------------------------------------------------------

func (h *Handlers) postUpload(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	band := req.Header("X-Spectrum")
	if band == "" {
		return httpcodec.Response{}, routeerr.New(routeerr.BadRequest, "X-Spectrum header is required")
	}

	tier := placement.TierFor(band)
	servers, err := h.Catalog.GetServersByClass(ctx, string(tier))
	if err != nil {
		return httpcodec.Response{}, err
	}

	candidates := placement.CandidatesFromCatalog(servers)
	chosen, err := placement.Select(candidates, int64(len(req.Body)))
	if err != nil {
		return httpcodec.Response{}, err
	}

	level.Info(h.Logger).Log("msg", "upload dispatched", "band", band, "tier", tier, "server_id", chosen.ServerID)
	return h.Relay.Send(chosen.ServerID, chosen.Location, "POST", "/upload", req.Body)
}

// --- /router/add, /router/remove/{id} --------------------------------

func (h *Handlers) postRouterAdd(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	var in catalog.RoutingServerInsert
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "decoding router payload")
	}
	if in.Address == "" {
		return httpcodec.Response{}, routeerr.New(routeerr.BadRequest, "address is required")
	}
	if in.Priority == 0 {
		in.Priority = 1
	}

	id, err := h.Catalog.InsertRoutingServer(ctx, in)
	if err != nil {
		return httpcodec.Response{}, err
	}

	h.RingMgr.Insert(ring.RouterNode{
		ID:       uuid.New(),
		Address:  in.Address,
		HashID:   ring.HashAddress(in.Address),
		Priority: in.Priority,
	}, time.Now())
	if h.GossipLoop != nil {
		h.GossipLoop.TriggerRound(ctx)
	}

	body, _ := json.Marshal(map[string]int64{"router_id": id})
	return httpcodec.JSON(http.StatusCreated, body), nil
}

func (h *Handlers) deleteRouterRemove(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	idStr := strings.TrimPrefix(req.Path, "/router/remove/")
	routerID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "invalid router id")
	}

	var addr string
	if rows, err := h.Catalog.GetAllRoutingServers(ctx); err == nil {
		for _, row := range rows {
			if row.RouterID == routerID {
				addr = row.Address
			}
		}
	}

	if err := h.Catalog.DeleteRoutingServer(ctx, routerID); err != nil {
		return httpcodec.Response{}, err
	}
	if addr != "" && h.RingMgr != nil {
		for _, n := range h.RingMgr.Snapshot().Nodes() {
			if n.Address == addr {
				h.RingMgr.Remove(n.ID)
			}
		}
	}
	if h.GossipLoop != nil {
		h.GossipLoop.TriggerRound(ctx)
	}
	return httpcodec.Empty(http.StatusOK), nil
}

// --- /server/add, /server/remove/{id} --------------------------------

func (h *Handlers) postServerAdd(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	var in catalog.StorageNodeInsert
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "decoding server payload")
	}

	id, err := h.Catalog.InsertServer(ctx, in)
	if err != nil {
		return httpcodec.Response{}, err
	}
	if h.GossipLoop != nil {
		h.GossipLoop.TriggerRound(ctx)
	}

	body, _ := json.Marshal(map[string]int64{"server_id": id})
	return httpcodec.JSON(http.StatusCreated, body), nil
}

func (h *Handlers) deleteServerRemove(ctx context.Context, req httpcodec.Request) (httpcodec.Response, error) {
	idStr := strings.TrimPrefix(req.Path, "/server/remove/")
	serverID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return httpcodec.Response{}, routeerr.Wrap(routeerr.BadRequest, err, "invalid server id")
	}

	if err := h.Catalog.DeleteServer(ctx, serverID); err != nil {
		return httpcodec.Response{}, err
	}
	if h.GossipLoop != nil {
		h.GossipLoop.TriggerRound(ctx)
	}
	return httpcodec.Empty(http.StatusOK), nil
}

// --- error mapping --------------------------------------------------------

func errorResponse(err error) httpcodec.Response {
	status := routeerr.StatusOf(err)
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return httpcodec.JSON(status, body)
}
