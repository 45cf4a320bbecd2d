// Package cache persists built indices to disk.
//
// A cache file is a zip archive holding a single index.bin entry with the
// following little-endian layout:
//
//	magic "MTIX" | version u32 | kind u8 | checksum u64 | triangles u32
//	bounds 6 x f32 | bvh root link record | stats block
//	node blob length u32 | node blob
//	geometry entry count u32 | geometry entries (u32 each)
//
// A cache is only trusted when its version and kind match and its checksum
// matches the live geometry source. Every other outcome is reported as
// ErrCacheMiss.
package cache

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/achilleasa/meshtrace/asset"
	"github.com/achilleasa/meshtrace/asset/compiler"
	"github.com/achilleasa/meshtrace/asset/geometry"
	"github.com/achilleasa/meshtrace/asset/layout"
	"github.com/achilleasa/meshtrace/log"
	"github.com/achilleasa/meshtrace/tracer"
	"github.com/achilleasa/meshtrace/types"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// The name of the archive entry holding the index.
	dataFile = "index.bin"

	// The extension used for cache files by the CLI.
	Extension = ".mtix"

	// Bump whenever the index.bin layout or the builder output changes.
	FormatVersion uint32 = 1
)

var magic = [4]byte{'M', 'T', 'I', 'X'}

// ErrCacheMiss wraps every reason a persisted index cannot be used.
var ErrCacheMiss = errors.New("index cache miss")

var byteOrder = binary.LittleEndian

func miss(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCacheMiss, format, args...)
}

// Write idx to w. The checksum of src is stored so that Load can detect a
// modified mesh.
func Save(w io.Writer, idx tracer.Index, src geometry.Source) error {
	snap := idx.Snapshot()
	if src.TriangleCount() != snap.Triangles {
		return errors.Errorf("cache: index covers %d triangles; source has %d", snap.Triangles, src.TriangleCount())
	}

	blob, err := encodeSnapshot(snap, geometry.Checksum(src))
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	entry, err := zw.Create(dataFile)
	if err != nil {
		return multierr.Append(errors.Wrap(err, "cache"), zw.Close())
	}
	if _, err = entry.Write(blob); err != nil {
		return multierr.Append(errors.Wrap(err, "cache"), zw.Close())
	}
	return errors.Wrap(zw.Close(), "cache")
}

// Read a persisted index from r and attach it to src. Any failure, including
// I/O errors, is reported as ErrCacheMiss.
func Load(r io.Reader, src geometry.Source, opts tracer.Options) (tracer.Index, error) {
	// The zip reader needs random access so the archive is buffered.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, miss("read failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, miss("not a cache archive: %v", err)
	}

	for _, f := range zr.File {
		if f.Name != dataFile {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, miss("%s: %v", dataFile, err)
		}
		blob, err := io.ReadAll(rc)
		err = multierr.Append(err, rc.Close())
		if err != nil {
			return nil, miss("%s: %v", dataFile, err)
		}

		snap, err := decodeSnapshot(blob, src, opts.Kind)
		if err != nil {
			return nil, err
		}
		idx, err := tracer.Restore(snap, src, opts)
		if err != nil {
			return nil, miss("%v", err)
		}
		return idx, nil
	}

	return nil, miss("archive has no %s entry", dataFile)
}

// Write idx to a cache file. The file is replaced atomically.
func WriteFile(path string, idx tracer.Index, src geometry.Source) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "cache")
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	err = Save(tmp, idx, src)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "cache")
}

// Read a cache file. The path may also be an http/https URL.
func ReadFile(path string, src geometry.Source, opts tracer.Options) (idx tracer.Index, err error) {
	res, err := asset.NewResource(path)
	if err != nil {
		return nil, miss("%v", err)
	}
	defer func() {
		if closeErr := res.Close(); closeErr != nil && err == nil {
			idx, err = nil, miss("%v", closeErr)
		}
	}()
	return Load(res, src, opts)
}

// Load the index cached at path or build a new one and cache it. The
// returned flag is true when the index came from the cache. Failing to write
// the cache is logged but does not fail the call.
func LoadOrBuild(path string, src geometry.Source, opts tracer.Options) (tracer.Index, bool, error) {
	logger := log.New("index cache")

	start := time.Now()
	idx, err := ReadFile(path, src, opts)
	if err == nil {
		logger.Noticef(`loaded %s index from "%s" in %d ms`, opts.Kind, path, time.Since(start).Nanoseconds()/1000000)
		return idx, true, nil
	}
	logger.Warningf(`ignoring cache "%s": %v`, path, err)

	idx, err = tracer.Build(src, opts)
	if err != nil {
		return nil, false, err
	}
	if err = WriteFile(path, idx, src); err != nil {
		logger.Warningf(`could not write cache "%s": %v`, path, err)
	} else {
		logger.Infof(`wrote %s index to "%s"`, opts.Kind, path)
	}
	return idx, false, nil
}

// The stats block is a fixed sequence of u64 values.
func statsFields(s *compiler.Stats) []*int {
	fields := []*int{
		&s.Triangles, &s.Nodes, &s.Leaves, &s.EmptyLeaves,
		&s.LeafReferences, &s.PaddingReferences,
	}
	for reason := range s.LeavesByReason {
		fields = append(fields, &s.LeavesByReason[reason])
	}
	return append(fields, &s.EmptySpaceCuts, &s.MaxDepth, &s.DepthSum)
}

func encodeSnapshot(snap *tracer.Snapshot, checksum uint64) ([]byte, error) {
	var nodeBlob []byte
	var err error
	switch snap.Kind {
	case tracer.KindBVH:
		nodeBlob, err = layout.EncodeBvhNodes(snap.BvhNodes)
	case tracer.KindKd:
		nodeBlob, err = layout.EncodeKdNodes(snap.KdNodes)
	default:
		err = errors.Errorf("unsupported index kind %s", snap.Kind)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cache")
	}

	buf := make([]byte, 0, 128+len(nodeBlob)+4*len(snap.Geometry))
	buf = append(buf, magic[:]...)
	buf = byteOrder.AppendUint32(buf, FormatVersion)
	buf = append(buf, byte(snap.Kind))
	buf = byteOrder.AppendUint64(buf, checksum)
	buf = byteOrder.AppendUint32(buf, uint32(snap.Triangles))
	for _, v := range []types.Vec3{snap.Bounds.Min, snap.Bounds.Max} {
		for axis := 0; axis < 3; axis++ {
			buf = byteOrder.AppendUint32(buf, math.Float32bits(v[axis]))
		}
	}
	if buf, err = layout.AppendLink(buf, snap.BvhRoot); err != nil {
		return nil, errors.Wrap(err, "cache: bvh root")
	}

	stats := snap.Stats
	for _, field := range statsFields(&stats) {
		buf = byteOrder.AppendUint64(buf, uint64(*field))
	}
	buf = byteOrder.AppendUint64(buf, uint64(stats.BuildTime))

	buf = byteOrder.AppendUint32(buf, uint32(len(nodeBlob)))
	buf = append(buf, nodeBlob...)
	buf = byteOrder.AppendUint32(buf, uint32(len(snap.Geometry)))
	for _, entry := range snap.Geometry {
		buf = byteOrder.AppendUint32(buf, entry)
	}
	return buf, nil
}

// A bounds-checked cursor over an index.bin blob.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) next(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, miss("truncated at offset %d", d.off)
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.next(4)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint32(b), nil
}

func (d *decoder) uint64() (uint64, error) {
	b, err := d.next(8)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint64(b), nil
}

func (d *decoder) float32() (float32, error) {
	bits, err := d.uint32()
	return math.Float32frombits(bits), err
}

func decodeSnapshot(blob []byte, src geometry.Source, kind tracer.Kind) (*tracer.Snapshot, error) {
	d := &decoder{buf: blob}

	header, err := d.next(len(magic) + 4 + 1)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(header[:len(magic)], magic[:]) {
		return nil, miss("bad magic %q", header[:len(magic)])
	}
	if version := byteOrder.Uint32(header[len(magic):]); version != FormatVersion {
		return nil, miss("format version %d; expected %d", version, FormatVersion)
	}
	snap := &tracer.Snapshot{Kind: tracer.Kind(header[len(header)-1])}
	if snap.Kind != kind {
		return nil, miss("cached index is a %s; requested %s", snap.Kind, kind)
	}

	checksum, err := d.uint64()
	if err != nil {
		return nil, err
	}
	if checksum != geometry.Checksum(src) {
		return nil, miss("geometry checksum mismatch")
	}

	triangles, err := d.uint32()
	if err != nil {
		return nil, err
	}
	snap.Triangles = int(triangles)

	for _, v := range []*types.Vec3{&snap.Bounds.Min, &snap.Bounds.Max} {
		for axis := 0; axis < 3; axis++ {
			if v[axis], err = d.float32(); err != nil {
				return nil, err
			}
		}
	}

	rec, err := d.next(layout.LinkSize)
	if err != nil {
		return nil, err
	}
	root, err := layout.DecodeLink(rec)
	if err != nil {
		return nil, miss("%v", err)
	}
	if snap.Kind == tracer.KindBVH {
		snap.BvhRoot = root
	}

	for _, field := range statsFields(&snap.Stats) {
		value, err := d.uint64()
		if err != nil {
			return nil, err
		}
		*field = int(value)
	}
	buildTime, err := d.uint64()
	if err != nil {
		return nil, err
	}
	snap.Stats.BuildTime = time.Duration(buildTime)

	nodeLen, err := d.uint32()
	if err != nil {
		return nil, err
	}
	nodeBlob, err := d.next(int(nodeLen))
	if err != nil {
		return nil, err
	}
	if nodeLen > 0 {
		if snap.Kind == tracer.KindBVH {
			snap.BvhNodes, err = layout.DecodeBvhNodes(nodeBlob)
		} else {
			snap.KdNodes, err = layout.DecodeKdNodes(nodeBlob)
		}
		if err != nil {
			return nil, miss("%v", err)
		}
	}

	entries, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if int64(entries)*4 > int64(len(blob)-d.off) {
		return nil, miss("truncated geometry blob")
	}
	if entries > 0 {
		snap.Geometry = make([]uint32, entries)
		for i := range snap.Geometry {
			if snap.Geometry[i], err = d.uint32(); err != nil {
				return nil, err
			}
		}
	}

	if d.off != len(blob) {
		return nil, miss("%d trailing bytes", len(blob)-d.off)
	}
	return snap, nil
}
