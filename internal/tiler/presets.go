package tiler

// Preset is the default styling of a layer type.
type Preset struct {
	Name    string  `json:"name"`
	Options Options `json:"options"`
}

var presets = map[string]Preset{
	"rgb":      {Name: "True Color", Options: Options{Bidx: []int{1, 2, 3}}},
	"ndvi":     {Name: "NDVI", Options: Options{ColormapName: "rdylgn", Rescale: "-1,1"}},
	"ndre":     {Name: "NDRE", Options: Options{ColormapName: "rdylgn", Rescale: "-1,1"}},
	"moisture": {Name: "Moisture", Options: Options{ColormapName: "blues", Rescale: "0,1"}},
	"thermal":  {Name: "Thermal", Options: Options{ColormapName: "inferno", Rescale: "20,45"}},
	"lai":      {Name: "LAI", Options: Options{ColormapName: "greens", Rescale: "0,8"}},
}

// PresetFor returns the preset of a layer type. Unknown types render unstyled.
func PresetFor(layerType string) (Preset, bool) {
	p, ok := presets[layerType]
	if ok {
		p.Options.Bidx = append([]int(nil), p.Options.Bidx...)
	}
	return p, ok
}

// Merge overlays the non-zero fields of o onto the preset options.
func (p Preset) Merge(o Options) Options {
	out := p.Options
	if len(o.Bidx) > 0 {
		out.Bidx = o.Bidx
	}
	if o.Expression != "" {
		out.Expression = o.Expression
	}
	if o.ColormapName != "" {
		out.ColormapName = o.ColormapName
	}
	if o.Rescale != "" {
		out.Rescale = o.Rescale
	}
	if o.NoData != nil {
		out.NoData = o.NoData
	}
	if o.MaxSize > 0 {
		out.MaxSize = o.MaxSize
	}
	return out
}
