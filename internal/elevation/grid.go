package elevation

import (
	"errors"
	"fmt"
	"math"
)

const (
	tileDegrees = 5.0
	tilePixels  = 6000
	// halfPixel is half a tile pixel in degrees.
	halfPixel = 0.00042

	gridRows = 24
	gridCols = 72
)

var ErrCellOutOfRange = errors.New("coordinate outside elevation grid")

// Cell identifies one 5x5 degree tile. Columns count eastwards from 180W,
// rows southwards from 60N, both starting at 1.
type Cell struct {
	Col int
	Row int
}

func (c Cell) String() string {
	return fmt.Sprintf("%02d_%02d", c.Col, c.Row)
}

// West is the longitude of the tile's western edge.
func (c Cell) West() float64 {
	return -180 + tileDegrees*float64(c.Col-1)
}

// South is the latitude of the tile's southern edge.
func (c Cell) South() float64 {
	return 60 - tileDegrees*float64(c.Row)
}

func (c Cell) North() float64 {
	return c.South() + tileDegrees
}

// Origin is the tile's north-west corner.
func (c Cell) Origin() (lat, lon float64) {
	return c.North(), c.West()
}

// CellFor maps a coordinate to its tile. Latitudes within half a pixel of a
// tile edge resolve to the tile nearer the equator.
func CellFor(lat, lon float64) (Cell, error) {
	eps := halfPixel
	if lat > 0 {
		eps = -eps
	}
	row := 12 - int(math.Floor((lat+eps)/tileDegrees))

	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	col := int(math.Mod(math.Floor((lon+halfPixel)/tileDegrees)+36, gridCols)) + 1

	if row < 1 || row > gridRows || col < 1 || col > gridCols {
		return Cell{}, fmt.Errorf("%w: (%.5f, %.5f) maps to %d_%d", ErrCellOutOfRange, lat, lon, col, row)
	}
	return Cell{Col: col, Row: row}, nil
}

// PixelAt returns the fractional pixel position of a coordinate inside the
// tile, measured from its north-west corner. x grows eastwards and y
// southwards.
func (c Cell) PixelAt(lat, lon float64) (x, y float64) {
	dLon := math.Mod(lon-c.West(), 360)
	if dLon >= 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	x = dLon / tileDegrees * tilePixels
	y = tilePixels - (lat-c.South())/tileDegrees*tilePixels
	return x, y
}
