package preview

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// Projection selects the two axes drawn by WritePNG.
type Projection string

const (
	ProjectXY Projection = "xy"
	ProjectXZ Projection = "xz"
	ProjectYZ Projection = "yz"
)

// Projections lists every supported projection.
var Projections = []Projection{ProjectXY, ProjectXZ, ProjectYZ}

func (p Projection) axes(pt pointcloud.Point) (float64, float64, error) {
	switch p {
	case ProjectXY:
		return pt.X, pt.Y, nil
	case ProjectXZ:
		return pt.X, pt.Z, nil
	case ProjectYZ:
		return pt.Y, pt.Z, nil
	}
	return 0, 0, fmt.Errorf("unknown projection %q", string(p))
}

// WritePNG draws a 2D scatter projection of c as a 6x6 inch PNG.
func WritePNG(w io.Writer, c pointcloud.Cloud, proj Projection, title string) error {
	if len(c) == 0 {
		return fmt.Errorf("preview: empty cloud")
	}
	pts := make(plotter.XYs, len(c))
	for i, p := range c {
		x, y, err := proj.axes(p)
		if err != nil {
			return err
		}
		pts[i] = plotter.XY{X: x, Y: y}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = string(proj[0:1])
	p.Y.Label.Text = string(proj[1:2])

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Radius = vg.Points(1)
	p.Add(sc)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("prepare png: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
