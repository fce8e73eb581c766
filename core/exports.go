package core

import (
	"fmt"
	"io"
	"math/cmplx"
)

// ExportTransferFunction writes the sweep result as text, one line per
// frequency: the frequency followed by the magnitude and phase of the
// transfer function at each reception point.
func ExportTransferFunction(w io.Writer, r *TransferFunctionResult, noise bool) error {
	src := r.Glottal
	if noise {
		src = r.Noise
	}
	if src == nil {
		return fmt.Errorf("%w: no transfer function computed", ErrConfiguration)
	}
	for i, freq := range r.Freqs {
		if _, err := fmt.Fprintf(w, "%g", freq); err != nil {
			return err
		}
		for _, v := range src[i] {
			if _, err := fmt.Fprintf(w, "  %g  %g", cmplx.Abs(v), cmplx.Phase(v)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// ExportPlaneInputImpedance writes the plane-mode input impedance of the
// sweep: frequency, magnitude and phase of j*w*rho*Zin(0,0).
func ExportPlaneInputImpedance(w io.Writer, r *TransferFunctionResult) error {
	for i, freq := range r.Freqs {
		mag, phase := r.InputImpedanceMagnitude(i)
		if _, err := fmt.Fprintf(w, "%g  %g  %g\n", freq, mag, phase); err != nil {
			return err
		}
	}
	return nil
}

// ExportSpectrum writes the mirrored synthesis spectrum of one reception
// point: bin index, real and imaginary parts.
func ExportSpectrum(w io.Writer, r *TransferFunctionResult, tfIdx int, noise bool) error {
	for i, v := range r.Spectrum(tfIdx, noise) {
		if _, err := fmt.Fprintf(w, "%d  %g  %g\n", i, real(v), imag(v)); err != nil {
			return err
		}
	}
	return nil
}

// ExportFieldGrid writes the sampled field as a matrix of magnitudes, one
// grid row per line. Undefined points are written as nan.
func ExportFieldGrid(w io.Writer, g *FieldGrid) error {
	for j := 0; j < g.Ny; j++ {
		for i := 0; i < g.Nx; i++ {
			if i > 0 {
				if _, err := fmt.Fprint(w, "  "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%g", cmplx.Abs(g.Values[j][i])); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
