package device

import "fmt"

// ModeType selects between plain printing and printing followed by cutting.
type ModeType int

const (
	ModePrint ModeType = iota
	ModePrintAndCut
)

func (m ModeType) String() string {
	switch m {
	case ModePrint:
		return "Print"
	case ModePrintAndCut:
		return "Print and Cut"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m ModeType) Channel() uint16 {
	if m == ModePrintAndCut {
		return 30960
	}
	return 30784
}

func (m ModeType) JobType() uint16 {
	if m == ModePrintAndCut {
		return 600
	}
	return 0
}

func (m ModeType) LinkType() uint16 {
	if m == ModePrintAndCut {
		return 0
	}
	return 1000
}

func (m ModeType) HasCutting() bool {
	return m == ModePrintAndCut
}

// Canvas is a printable media size. Dimensions are in dots.
type Canvas struct {
	Name      string
	MediaSize uint16
	MediaType uint16
	Width     float64
	Height    float64
	SafeW     float64
	SafeH     float64
}

type Mode struct {
	Type     ModeType
	Canvases []Canvas
}

// Canvas looks up a canvas by name; an empty name selects the first one.
func (m Mode) Canvas(name string) (Canvas, error) {
	if len(m.Canvases) == 0 {
		return Canvas{}, fmt.Errorf("mode %s has no canvas", m.Type)
	}
	if name == "" {
		return m.Canvases[0], nil
	}
	for _, c := range m.Canvases {
		if c.Name == name {
			return c, nil
		}
	}
	return Canvas{}, fmt.Errorf("mode %s has no canvas %q", m.Type, name)
}

type Device struct {
	Name              string
	Model             string
	DPI               float64
	CutterScaleFactor float64
	Modes             []Mode
}

// Mode returns the device mode of type t.
func (d Device) Mode(t ModeType) (Mode, error) {
	for _, m := range d.Modes {
		if m.Type == t {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%s does not support %s", d.Name, t)
}

const dpi = 300

// Devices is the catalogue of supported hardware.
var Devices = []Device{
	{
		Name:              "PixCut S1",
		Model:             "DHP700",
		DPI:               dpi,
		CutterScaleFactor: 3.38667,
		Modes: []Mode{
			{
				Type: ModePrint,
				Canvases: []Canvas{{
					Name:      "4x6",
					MediaSize: 5012,
					MediaType: 2010,
					Width:     4 * dpi,
					Height:    6 * dpi,
					SafeW:     4 * dpi,
					SafeH:     6 * dpi,
				}},
			},
			{
				Type: ModePrintAndCut,
				Canvases: []Canvas{{
					Name:      "4x7",
					MediaSize: 5013,
					MediaType: 2030,
					Width:     4 * dpi,
					Height:    7 * dpi,
					SafeW:     3.62 * dpi,
					SafeH:     6.77 * dpi,
				}},
			},
		},
	},
}

// Lookup finds a device by model number.
func Lookup(model string) (Device, error) {
	for _, d := range Devices {
		if d.Model == model {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("unknown device model %q", model)
}
