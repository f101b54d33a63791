// Package topology reads and writes the plain-text topology record:
//
//	<nRegions>
//	<name> <x> <y> <width> <height> <capacity>   (nRegions lines)
//	<nFlows>
//	<source> <destination> <amount>              (nFlows lines)
//
// Tokens are whitespace-delimited; line breaks carry no meaning on decode.
package topology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/talgya/cagesim/internal/world"
)

// ErrSyntax is wrapped by every decode error caused by malformed input.
var ErrSyntax = errors.New("topology: syntax error")

// Encode writes t in the text format.
func Encode(w io.Writer, t world.Topology) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(t.Regions))
	for _, r := range t.Regions {
		fmt.Fprintf(bw, "%s %s %s %s %s %d\n", r.Name,
			formatFloat(r.X), formatFloat(r.Y), formatFloat(r.Width), formatFloat(r.Height), r.Capacity)
	}
	fmt.Fprintf(bw, "%d\n", len(t.Flows))
	for _, f := range t.Flows {
		fmt.Fprintf(bw, "%s %s %d\n", f.Source, f.Destination, f.Amount)
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Decode reads one topology record from r. Placement is not validated here;
// that happens when the topology is applied to a simulation.
func Decode(r io.Reader) (world.Topology, error) {
	d := &decoder{sc: bufio.NewScanner(r)}
	d.sc.Split(bufio.ScanWords)

	var t world.Topology
	n, err := d.count("region count")
	if err != nil {
		return t, err
	}
	for i := 1; i <= n; i++ {
		spec, err := d.region()
		if err != nil {
			return world.Topology{}, fmt.Errorf("region %d: %w", i, err)
		}
		t.Regions = append(t.Regions, spec)
	}

	n, err = d.count("flow count")
	if err != nil {
		return world.Topology{}, err
	}
	for i := 1; i <= n; i++ {
		f, err := d.flow()
		if err != nil {
			return world.Topology{}, fmt.Errorf("flow %d: %w", i, err)
		}
		t.Flows = append(t.Flows, f)
	}
	return t, nil
}

// SaveFile writes t to path, replacing any existing file.
func SaveFile(path string, t world.Topology) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create topology file: %w", err)
	}
	if err := Encode(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write topology %s: %w", path, err)
	}
	return f.Close()
}

// LoadFile reads the topology stored at path.
func LoadFile(path string) (world.Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return world.Topology{}, fmt.Errorf("open topology file: %w", err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return world.Topology{}, fmt.Errorf("read topology %s: %w", path, err)
	}
	return t, nil
}

type decoder struct {
	sc  *bufio.Scanner
	pos int // Tokens consumed
}

func (d *decoder) next(what string) (string, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: token %d: missing %s", ErrSyntax, d.pos+1, what)
	}
	d.pos++
	return d.sc.Text(), nil
}

func (d *decoder) int(what string) (int, error) {
	tok, err := d.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: token %d: %s %q is not an integer", ErrSyntax, d.pos, what, tok)
	}
	return v, nil
}

func (d *decoder) float(what string) (float64, error) {
	tok, err := d.next(what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token %d: %s %q is not a number", ErrSyntax, d.pos, what, tok)
	}
	return v, nil
}

func (d *decoder) count(what string) (int, error) {
	n, err := d.int(what)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: token %d: negative %s %d", ErrSyntax, d.pos, what, n)
	}
	return n, nil
}

func (d *decoder) region() (world.RegionSpec, error) {
	var (
		s   world.RegionSpec
		err error
	)
	if s.Name, err = d.next("name"); err != nil {
		return s, err
	}
	if s.X, err = d.float("x"); err != nil {
		return s, err
	}
	if s.Y, err = d.float("y"); err != nil {
		return s, err
	}
	if s.Width, err = d.float("width"); err != nil {
		return s, err
	}
	if s.Height, err = d.float("height"); err != nil {
		return s, err
	}
	s.Capacity, err = d.int("capacity")
	return s, err
}

func (d *decoder) flow() (world.Flow, error) {
	var (
		f   world.Flow
		err error
	)
	if f.Source, err = d.next("source"); err != nil {
		return f, err
	}
	if f.Destination, err = d.next("destination"); err != nil {
		return f, err
	}
	f.Amount, err = d.int("amount")
	return f, err
}
