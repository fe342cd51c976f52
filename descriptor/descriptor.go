// Package descriptor implements the code-generator contract: the binary
// solution descriptor a compiled solution ships with, naming its dims,
// bundles, and packs. The runtime consumes a Descriptor as an opaque,
// already-validated artifact; it never parses stencil expressions itself.
//
// Grounded on the teacher's model.Graph/model.Node binary format
// (magic-tagged header, fixed-size node records, 32-byte-aligned payload
// tail) in model/graph.go, generalized from a compute-graph-of-kernels
// shape to a bundle/pack descriptor shape.
package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sbl8/stencilkit/kerr"
)

const magic = 0x444b4e53 // "SNKD" little-endian: Stencil kerNel Descriptor
const formatVersion = 1

// DimKind mirrors dim.Kind without importing it, so descriptor stays a pure
// wire-format package independent of the runtime's in-memory dim algebra;
// internal/cli maps between the two when it loads a descriptor.
type DimKind uint8

const (
	DimDomain DimKind = iota
	DimStep
	DimMisc
)

// DimDescriptor is one entry in the solution's dim list.
type DimDescriptor struct {
	Name            string
	Kind            DimKind
	Vlen            uint16
	Cluster         uint16
	PrefetchDistance uint16
}

// HaloRequirement is one (stage, side, step-offset, dim) halo contribution
// a bundle declares at compile time.
type HaloRequirement struct {
	Stage      string
	LeftSide   bool
	StepOffset int32
	DimName    string
	Amount     int64
}

// BundleDescriptor is one compiled bundle: its input/output var names, its
// halo requirements, and the entry-point symbol names the runtime looks up
// to get CalcScalar/CalcCluster function pointers.
type BundleDescriptor struct {
	Name           string
	InputVars      []string
	OutputVars     []string
	Halos          []HaloRequirement
	ScalarSymbol   string
	ClusterSymbol  string
	HasStepCondition  bool
	HasValidDomain    bool
}

// PackDescriptor groups bundle names that must be evaluated together.
type PackDescriptor struct {
	Name        string
	BundleNames []string
}

// Descriptor is the full compile-time solution contract.
type Descriptor struct {
	StepDim    string
	DomainDims []DimDescriptor
	MiscDims   []DimDescriptor
	Bundles    []BundleDescriptor
	Packs      []PackDescriptor
}

// Encode serializes d to the binary .skd format: a magic-tagged header
// followed by length-prefixed sections for dims, bundles, and packs.
func Encode(d *Descriptor) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, uint32(magic)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(formatVersion)); err != nil {
		return nil, err
	}

	writeString(buf, d.StepDim)
	writeDimList(buf, d.DomainDims)
	writeDimList(buf, d.MiscDims)

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(d.Bundles))); err != nil {
		return nil, err
	}
	for _, b := range d.Bundles {
		writeBundle(buf, b)
	}

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(d.Packs))); err != nil {
		return nil, err
	}
	for _, p := range d.Packs {
		writePack(buf, p)
	}

	return buf.Bytes(), nil
}

// Decode parses the binary .skd format written by Encode.
func Decode(data []byte) (*Descriptor, error) {
	r := bytes.NewReader(data)

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading descriptor magic", err)
	}
	if gotMagic != magic {
		return nil, kerr.Newf(kerr.IoFailure, "invalid descriptor magic number: %x", gotMagic)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading descriptor version", err)
	}
	if version != formatVersion {
		return nil, kerr.Newf(kerr.IoFailure, "unsupported descriptor version %d", version)
	}

	d := &Descriptor{}
	var err error
	if d.StepDim, err = readString(r); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading step dim", err)
	}
	if d.DomainDims, err = readDimList(r); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading domain dims", err)
	}
	if d.MiscDims, err = readDimList(r); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading misc dims", err)
	}

	var numBundles uint16
	if err := binary.Read(r, binary.LittleEndian, &numBundles); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading bundle count", err)
	}
	d.Bundles = make([]BundleDescriptor, numBundles)
	for i := range d.Bundles {
		if d.Bundles[i], err = readBundle(r); err != nil {
			return nil, kerr.Wrap(kerr.IoFailure, fmt.Sprintf("reading bundle %d", i), err)
		}
	}

	var numPacks uint16
	if err := binary.Read(r, binary.LittleEndian, &numPacks); err != nil {
		return nil, kerr.Wrap(kerr.IoFailure, "reading pack count", err)
	}
	d.Packs = make([]PackDescriptor, numPacks)
	for i := range d.Packs {
		if d.Packs[i], err = readPack(r); err != nil {
			return nil, kerr.Wrap(kerr.IoFailure, fmt.Sprintf("reading pack %d", i), err)
		}
	}

	return d, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeStringList(buf *bytes.Buffer, list []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(list)))
	for _, s := range list {
		writeString(buf, s)
	}
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeDimList(buf *bytes.Buffer, dims []DimDescriptor) {
	binary.Write(buf, binary.LittleEndian, uint16(len(dims)))
	for _, d := range dims {
		writeString(buf, d.Name)
		binary.Write(buf, binary.LittleEndian, uint8(d.Kind))
		binary.Write(buf, binary.LittleEndian, d.Vlen)
		binary.Write(buf, binary.LittleEndian, d.Cluster)
		binary.Write(buf, binary.LittleEndian, d.PrefetchDistance)
	}
}

func readDimList(r *bytes.Reader) ([]DimDescriptor, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]DimDescriptor, n)
	for i := range out {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var kind uint8
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, err
		}
		d := DimDescriptor{Name: name, Kind: DimKind(kind)}
		if err := binary.Read(r, binary.LittleEndian, &d.Vlen); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &d.Cluster); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &d.PrefetchDistance); err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func writeBundle(buf *bytes.Buffer, b BundleDescriptor) {
	writeString(buf, b.Name)
	writeStringList(buf, b.InputVars)
	writeStringList(buf, b.OutputVars)

	binary.Write(buf, binary.LittleEndian, uint16(len(b.Halos)))
	for _, h := range b.Halos {
		writeString(buf, h.Stage)
		binary.Write(buf, binary.LittleEndian, h.LeftSide)
		binary.Write(buf, binary.LittleEndian, h.StepOffset)
		writeString(buf, h.DimName)
		binary.Write(buf, binary.LittleEndian, h.Amount)
	}

	writeString(buf, b.ScalarSymbol)
	writeString(buf, b.ClusterSymbol)
	binary.Write(buf, binary.LittleEndian, b.HasStepCondition)
	binary.Write(buf, binary.LittleEndian, b.HasValidDomain)
}

func readBundle(r *bytes.Reader) (BundleDescriptor, error) {
	var b BundleDescriptor
	var err error
	if b.Name, err = readString(r); err != nil {
		return b, err
	}
	if b.InputVars, err = readStringList(r); err != nil {
		return b, err
	}
	if b.OutputVars, err = readStringList(r); err != nil {
		return b, err
	}

	var numHalos uint16
	if err := binary.Read(r, binary.LittleEndian, &numHalos); err != nil {
		return b, err
	}
	b.Halos = make([]HaloRequirement, numHalos)
	for i := range b.Halos {
		h := &b.Halos[i]
		if h.Stage, err = readString(r); err != nil {
			return b, err
		}
		if err := binary.Read(r, binary.LittleEndian, &h.LeftSide); err != nil {
			return b, err
		}
		if err := binary.Read(r, binary.LittleEndian, &h.StepOffset); err != nil {
			return b, err
		}
		if h.DimName, err = readString(r); err != nil {
			return b, err
		}
		if err := binary.Read(r, binary.LittleEndian, &h.Amount); err != nil {
			return b, err
		}
	}

	if b.ScalarSymbol, err = readString(r); err != nil {
		return b, err
	}
	if b.ClusterSymbol, err = readString(r); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.HasStepCondition); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.HasValidDomain); err != nil {
		return b, err
	}
	return b, nil
}

func writePack(buf *bytes.Buffer, p PackDescriptor) {
	writeString(buf, p.Name)
	writeStringList(buf, p.BundleNames)
}

func readPack(r *bytes.Reader) (PackDescriptor, error) {
	var p PackDescriptor
	var err error
	if p.Name, err = readString(r); err != nil {
		return p, err
	}
	if p.BundleNames, err = readStringList(r); err != nil {
		return p, err
	}
	return p, nil
}
