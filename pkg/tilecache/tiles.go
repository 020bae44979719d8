package tilecache

import (
	"math"

	"github.com/paulmach/orb"
)

// Coord identifies a slippy-map tile in Web Mercator tiling.
type Coord struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// TileX converts a longitude to a tile column at the given zoom.
func TileX(lng float64, zoom int) int {
	n := math.Exp2(float64(zoom))
	x := int(math.Floor((lng + 180) / 360 * n))
	return clampTile(x, n)
}

// TileY converts a latitude to a tile row at the given zoom.
func TileY(lat float64, zoom int) int {
	n := math.Exp2(float64(zoom))
	rad := lat * math.Pi / 180
	y := int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n))
	return clampTile(y, n)
}

// clampTile keeps coordinates inside the grid for latitudes beyond the
// Mercator cutoff and longitudes on the antimeridian.
func clampTile(v int, n float64) int {
	if v < 0 {
		return 0
	}
	if max := int(n) - 1; v > max {
		return max
	}
	return v
}

// TilesInBounds enumerates every tile covering the bounding box for each zoom
// level from minZoom through maxZoom, inclusive on all edges.
func TilesInBounds(b orb.Bound, minZoom, maxZoom int) []Coord {
	var coords []Coord
	for zoom := minZoom; zoom <= maxZoom; zoom++ {
		xMin := TileX(b.Min.Lon(), zoom)
		xMax := TileX(b.Max.Lon(), zoom)
		// Row indices grow southward, so the north edge yields the smaller Y.
		yMin := TileY(b.Max.Lat(), zoom)
		yMax := TileY(b.Min.Lat(), zoom)

		for x := xMin; x <= xMax; x++ {
			for y := yMin; y <= yMax; y++ {
				coords = append(coords, Coord{Zoom: zoom, X: x, Y: y})
			}
		}
	}
	return coords
}
