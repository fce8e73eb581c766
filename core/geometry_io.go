package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/waveguide-acoustics/geom"
)

// CrossProfile is one imported cross-section slice: its centerline landmark
// and normal in the midsagittal plane, the entrance and exit scaling
// factors, the contour in the transverse plane, and the material index of
// each contour edge.
type CrossProfile struct {
	Center     geom.Point
	Normal     geom.Point
	ScalingIn  float64
	ScalingOut float64
	Contour    geom.Polygon
	SurfaceIdx []int
}

// ProfileSource produces the slice sequence of a tract geometry. CSV files
// and programmatic area functions both implement it.
type ProfileSource interface {
	Profiles() ([]CrossProfile, error)
}

// CSVProfileSource reads profiles from a semicolon-separated geometry file.
type CSVProfileSource struct {
	Path string
	// Simplify enables contour simplification for contours with more than
	// ten vertices.
	Simplify bool
}

// Profiles implements ProfileSource.
func (s CSVProfileSource) Profiles() ([]CrossProfile, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImport, err)
	}
	defer f.Close()
	profs, err := ReadProfilesCSV(f, s.Simplify)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImport, s.Path, err)
	}
	return profs, nil
}

// ReadProfilesCSV parses a geometry stream. Each cross-section occupies two
// consecutive lines, the x components then the y components, with fields
// separated by semicolons: centerline point, centerline normal, scaling
// factor pair, then the contour vertices. The normal is normalized on read,
// a trailing vertex identical to the first is dropped, and contours with
// more than ten vertices are optionally simplified. At least two sections
// with at least three vertices each are required. Nothing is returned on
// failure, so a failed import never leaves a partial geometry.
func ReadProfilesCSV(r io.Reader, simplify bool) ([]CrossProfile, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var profs []CrossProfile
	lineNo := 0
	for sc.Scan() {
		lineX := sc.Text()
		lineNo++
		if strings.TrimSpace(lineX) == "" {
			continue
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("line %d: x components without matching y line", lineNo)
		}
		lineY := sc.Text()
		lineNo++

		prof, err := parseProfile(lineX, lineY, simplify)
		if err != nil {
			return nil, fmt.Errorf("section ending line %d: %w", lineNo, err)
		}
		profs = append(profs, prof)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(profs) < 2 {
		return nil, fmt.Errorf("need at least 2 cross-sections, got %d", len(profs))
	}
	return profs, nil
}

func parseProfile(lineX, lineY string, simplify bool) (CrossProfile, error) {
	var p CrossProfile
	xs := strings.Split(lineX, ";")
	ys := strings.Split(lineY, ";")
	if len(xs) < 6 || len(ys) < 6 {
		return p, fmt.Errorf("expected centerline, normal, scaling and at least 3 contour points")
	}

	fields := func(raw []string) ([]float64, error) {
		out := make([]float64, 0, len(raw))
		for _, s := range raw {
			s = strings.TrimSpace(s)
			if s == "" {
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as number", s)
			}
			out = append(out, v)
		}
		return out, nil
	}

	fx, err := fields(xs)
	if err != nil {
		return p, err
	}
	fy, err := fields(ys)
	if err != nil {
		return p, err
	}
	n := len(fx)
	if len(fy) < n {
		n = len(fy)
	}
	if n < 6 {
		return p, fmt.Errorf("expected centerline, normal, scaling and at least 3 contour points")
	}

	p.Center = geom.Point{X: fx[0], Y: fy[0]}
	p.Normal = geom.Point{X: fx[1], Y: fy[1]}.Normalize()
	p.ScalingIn = fx[2]
	p.ScalingOut = fy[2]
	for i := 3; i < n; i++ {
		p.Contour = append(p.Contour, geom.Point{X: fx[i], Y: fy[i]})
	}

	// Drop a trailing duplicate of the first vertex.
	if len(p.Contour) > 1 && p.Contour[0].DistanceTo(p.Contour[len(p.Contour)-1]) == 0 {
		p.Contour = p.Contour[:len(p.Contour)-1]
	}
	if len(p.Contour) < 3 {
		return p, fmt.Errorf("contour has %d points, need at least 3", len(p.Contour))
	}
	if simplify && len(p.Contour) > 10 {
		p.Contour = p.Contour.Simplify(0.5)
	}

	// No material information in the file: every edge gets surface 0.
	p.SurfaceIdx = make([]int, len(p.Contour))
	return p, nil
}

// WriteGeometryCSV exports the tract geometry in the same two-line format
// the importer reads. Zero-length junction segments are skipped; the last
// tube segment contributes an extra record for its exit landmark so the
// round trip preserves the tube ends.
func WriteGeometryCSV(w io.Writer, t *Tract) error {
	bw := bufio.NewWriter(w)
	segs := t.Segments()
	lastFEM := -1
	for i, s := range segs {
		if s.Kind == KindFEM && !s.IsJunction {
			lastFEM = i
		}
	}
	for i, s := range segs {
		if s.Kind != KindFEM || s.IsJunction {
			continue
		}
		if err := writeProfileRecord(bw, s.CtrLinePtIn, s.NormalIn, s.ScaleIn, s.ScaleOut, s.Contour); err != nil {
			return err
		}
		if i == lastFEM {
			if err := writeProfileRecord(bw, s.CtrLinePtOut, s.NormalOut, s.ScaleOut, s.ScaleOut, s.Contour); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func writeProfileRecord(w io.Writer, ctr, normal geom.Point, scIn, scOut float64, contour geom.Polygon) error {
	var bx, by strings.Builder
	app := func(b *strings.Builder, v float64) {
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	app(&bx, ctr.X)
	app(&by, ctr.Y)
	app(&bx, normal.X)
	app(&by, normal.Y)
	app(&bx, scIn)
	app(&by, scOut)
	for _, p := range contour {
		app(&bx, p.X)
		app(&by, p.Y)
	}
	if _, err := fmt.Fprintln(w, bx.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, by.String())
	return err
}
