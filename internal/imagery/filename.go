package imagery

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LayerTypes are the raster products a flight can carry.
var LayerTypes = []string{"rgb", "ndvi", "ndre", "moisture", "thermal", "lai", "gndvi", "savi"}

// DefaultLayerType is assumed when a filename names no known layer.
const DefaultLayerType = "rgb"

var (
	compactDate = regexp.MustCompile(`^\d{8}$`)
	isoDate     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	tiffExt     = regexp.MustCompile(`(?i)\.(tif|tiff)$`)
)

// ValidLayerType reports whether t is a known layer type.
func ValidLayerType(t string) bool {
	return slices.Contains(LayerTypes, t)
}

// ParsedName is what a GeoTIFF filename says about its contents.
type ParsedName struct {
	Date      *time.Time
	LayerType string
}

// ParseFilename extracts the flight date and layer type from names such as
// farm_20241208_ndvi.tif, 2024-12-08_rgb.tif or ndvi.tif. The last matching
// part wins for both fields.
func ParseFilename(name string) ParsedName {
	base := tiffExt.ReplaceAllString(name, "")
	parsed := ParsedName{LayerType: DefaultLayerType}

	for _, part := range strings.Split(base, "_") {
		var (
			d   time.Time
			err error
		)
		switch {
		case compactDate.MatchString(part):
			d, err = time.Parse("20060102", part)
		case isoDate.MatchString(part):
			d, err = time.Parse(time.DateOnly, part)
		default:
			if lt := strings.ToLower(part); ValidLayerType(lt) {
				parsed.LayerType = lt
			}
			continue
		}
		if err == nil {
			parsed.Date = &d
		}
	}
	return parsed
}

// ObjectName returns the canonical filename of a layer:
// {farmID}_{YYYYMMDD}_{layer}.tif.
func ObjectName(farmID uuid.UUID, date time.Time, layerType string) string {
	return fmt.Sprintf("%s_%s_%s.tif", farmID, date.Format("20060102"), layerType)
}

// ObjectKey returns the storage key of a layer file: {farmID}/{filename}.
func ObjectKey(farmID uuid.UUID, filename string) string {
	return farmID.String() + "/" + filename
}
