package zarr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// ParsePersistenceMode validates a mode string
func ParsePersistenceMode(s string) (PersistenceMode, error) {
	switch m := PersistenceMode(s); m {
	case ModeRead, ModeReadWrite, ModeReadWriteCreate, ModeWrite, ModeWriteFail:
		return m, nil
	}
	return "", fmt.Errorf("invalid persistence mode %q", s)
}

// SessionAttr is the root attribute a coordinator records its session id under
const SessionAttr = "zarr_lazy_session"

// Coordinator owns a store for writing. Every dataset written to the store is
// created through it, so structural changes (creating arrays, growing an
// unlimited axis, rewriting metadata) are serialized here while element writes
// to different chunks run in parallel.
type Coordinator struct {
	store   Store
	mode    PersistenceMode
	log     *slog.Logger
	session uuid.UUID

	mu       sync.Mutex
	datasets map[string]*Dataset
	closed   bool
}

func NewCoordinator(store Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:    store,
		mode:     ModeWriteFail,
		log:      slog.Default(),
		session:  uuid.New(),
		datasets: map[string]*Dataset{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("session", c.session.String())
	return c
}

// Session identifies this coordinator's writes in the store's root attributes
func (c *Coordinator) Session() uuid.UUID { return c.session }

// Create makes a new writable dataset at path. How an existing array at path is
// treated depends on the coordinator's persistence mode: ModeWriteFail errors
// with ErrExists, ModeWrite replaces it, ModeReadWriteCreate and ModeReadWrite
// reopen it for writing provided dtype and fixed extents agree.
func (c *Coordinator) Create(path string, dt Dtype, shape Shape, opts ...DatasetOption) (*Dataset, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	key := p.String()

	o := defaultDatasetOptions()
	for _, opt := range opts {
		opt(o)
	}
	meta, err := buildArrayMeta(dt, shape, o)
	if err != nil {
		return nil, fmt.Errorf("creating %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.mode == ModeRead {
		return nil, ErrReadOnly
	}

	if ds, ok := c.datasets[key]; ok {
		if c.mode != ModeReadWriteCreate && c.mode != ModeReadWrite {
			return nil, fmt.Errorf("%w: %q", ErrExists, key)
		}
		if err := compatible(&ds.meta, meta); err != nil {
			return nil, fmt.Errorf("reopening %q: %w", key, err)
		}
		return ds, nil
	}

	existing, err := readArrayMeta(c.store, p)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotfound) {
		return nil, err
	}

	switch c.mode {
	case ModeReadWrite, ModeReadWriteCreate:
		if exists {
			if err := compatible(existing, meta); err != nil {
				return nil, fmt.Errorf("reopening %q: %w", key, err)
			}
			ds := newDataset(c.store, p, existing, true, c.log.With("dataset", key))
			c.datasets[key] = ds
			c.log.Info("coordinator: dataset reopened", "dataset", key, "shape", ds.Shape().String())
			return ds, nil
		}
		if c.mode == ModeReadWrite {
			return nil, fmt.Errorf("%w: %q", ErrNotfound, key)
		}
	case ModeWrite:
		if exists {
			if err := c.clear(p); err != nil {
				return nil, fmt.Errorf("replacing %q: %w", key, err)
			}
		}
	default:
		if exists {
			return nil, fmt.Errorf("%w: %q", ErrExists, key)
		}
	}

	for _, parent := range p.Parents() {
		gk := parent.Key(string(MTGroup))
		if rc, err := c.store.Get(gk); err == nil {
			rc.Close()
			continue
		}
		if err := putJSON(c.store, gk, Group{ZarrFormat: FormatVersion}); err != nil {
			return nil, err
		}
	}
	if err := putJSON(c.store, p.Key(string(MTArray)), meta); err != nil {
		return nil, err
	}
	if len(o.attributes) > 0 {
		if err := putJSON(c.store, p.Key(string(MTAttributes)), o.attributes); err != nil {
			return nil, err
		}
	}

	ds := newDataset(c.store, p, meta, true, c.log.With("dataset", key))
	c.datasets[key] = ds
	c.log.Info("coordinator: dataset created",
		"dataset", key,
		"dtype", dt.String(),
		"shape", ds.Shape().String(),
		"max_shape", ds.MaxShape().String(),
		"chunks", meta.Chunks.String(),
	)
	return ds, nil
}

// Dataset returns a dataset created by this coordinator
func (c *Coordinator) Dataset(path string) (*Dataset, bool) {
	p, err := NewPath(path)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.datasets[p.String()]
	return ds, ok
}

// Datasets lists every dataset created by this coordinator, ordered by path
func (c *Coordinator) Datasets() []*Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	dss := make([]*Dataset, 0, len(c.datasets))
	for _, ds := range c.datasets {
		dss = append(dss, ds)
	}
	sort.Slice(dss, func(i, j int) bool { return dss[i].Path() < dss[j].Path() })
	return dss
}

// Close closes every dataset, records the session in the root attributes and
// writes consolidated metadata for the whole store
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, ds := range c.Datasets() {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", ds.Path(), err))
		}
	}

	attrs := Attributes{}
	if rc, err := c.store.Get(string(MTAttributes)); err == nil {
		err = json.NewDecoder(rc).Decode(&attrs)
		rc.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading root attributes: %w", err))
		}
	}
	attrs[SessionAttr] = c.session.String()
	if err := putJSON(c.store, string(MTAttributes), attrs); err != nil {
		errs = append(errs, err)
	}
	if err := Consolidate(c.store); err != nil {
		errs = append(errs, err)
	}

	c.log.Info("coordinator: closed", "datasets", len(c.datasets), "errors", len(errs))
	return errors.Join(errs...)
}

// clear deletes an array's metadata and chunks
func (c *Coordinator) clear(p Path) error {
	keys, err := c.store.List(p.Key(""))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func buildArrayMeta(dt Dtype, shape Shape, o *datasetOptions) (*ArrayMeta, error) {
	if !dt.Numeric() {
		return nil, fmt.Errorf("unsupported dtype %s", dt)
	}
	for i, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative extent %d on axis %d", d, i)
		}
	}

	meta := &ArrayMeta{
		ZarrFormat:         FormatVersion,
		Shape:              shape.Clone(),
		Dtype:              dt,
		FillValue:          o.fillValue,
		Order:              "C",
		DimensionSeparator: o.separator,
	}

	switch {
	case o.maxShape != nil && o.unlimited >= 0:
		return nil, fmt.Errorf("set either a max shape or an unlimited axis, not both")
	case o.maxShape != nil:
		meta.MaxShape = o.maxShape.Clone()
	case o.unlimited >= 0:
		if o.unlimited >= len(shape) {
			return nil, fmt.Errorf("unlimited axis %d out of range for rank %d", o.unlimited, len(shape))
		}
		meta.MaxShape = shape.Clone()
		meta.MaxShape[o.unlimited] = Unlimited
	}

	meta.Chunks = o.chunks.Clone()
	if meta.Chunks == nil {
		meta.Chunks = defaultChunks(shape, meta.UnlimitedAxis())
	}

	if o.compressor != "" {
		cm, err := NewCompressionMeta(o.compressor)
		if err != nil {
			return nil, err
		}
		meta.Compressor = cm
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// frames along the unlimited axis are grouped into chunks of roughly this many
// elements
const targetChunkElems = 4096

func defaultChunks(shape Shape, unlimited int) Shape {
	chunks := make(Shape, len(shape))
	frame := 1
	for i, d := range shape {
		if i == unlimited {
			continue
		}
		chunks[i] = max(d, 1)
		frame *= chunks[i]
	}
	if unlimited >= 0 {
		chunks[unlimited] = min(max(targetChunkElems/frame, 1), 1024)
	}
	return chunks
}

// compatible reports whether an existing array can be reopened for writes
// described by want
func compatible(have, want *ArrayMeta) error {
	if !have.Dtype.Equal(want.Dtype) {
		return fmt.Errorf("%w: stored %s, requested %s", ErrDtypeMismatch, have.Dtype, want.Dtype)
	}
	if len(have.Shape) != len(want.Shape) {
		return fmt.Errorf("%w: stored rank %d, requested %d", ErrShapeMismatch, len(have.Shape), len(want.Shape))
	}
	u := have.UnlimitedAxis()
	if u != want.UnlimitedAxis() {
		return fmt.Errorf("%w: stored unlimited axis %d, requested %d", ErrShapeMismatch, u, want.UnlimitedAxis())
	}
	for i := range have.Shape {
		if i != u && have.Shape[i] != want.Shape[i] {
			return fmt.Errorf("%w: stored %s, requested %s", ErrShapeMismatch, have.Shape, want.Shape)
		}
	}
	return nil
}

func putJSON(store Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return store.Put(key, bytes.NewReader(data))
}

// Extend grows the allocated extent of the unlimited axis to n. Extends of one
// dataset are serialized; reads, writes into already allocated regions and
// other datasets are not blocked. Shrinking is a no-op.
func (d *Dataset) Extend(n int) error {
	if !d.writable {
		return ErrReadOnly
	}
	if d.unlimited < 0 {
		return fmt.Errorf("%w: %s has no unlimited axis", ErrOutOfBounds, d.path)
	}

	d.extendMu.Lock()
	defer d.extendMu.Unlock()

	cur := d.allocated.Load()
	if int64(n) <= cur {
		return nil
	}

	prev := State(d.state.Load())
	if prev == StateClosed || !d.state.CompareAndSwap(int32(prev), int32(StateExtending)) {
		return ErrClosed
	}
	if !d.allocated.CompareAndSwap(cur, int64(n)) {
		d.state.CompareAndSwap(int32(StateExtending), int32(prev))
		return fmt.Errorf("%w: %s allocated extent moved from %d during extend", ErrConcurrentExtendConflict, d.path, cur)
	}
	d.state.CompareAndSwap(int32(StateExtending), int32(StateExtended))

	d.log.Debug("coordinator: dataset extended", "axis", d.unlimited, "from", cur, "to", n)
	return nil
}

// SetSlice writes data into the region sl selects. data must hold the slice's
// extent, extent 1 axes may be squeezed out on either side. Writing past the
// allocated extent of the unlimited axis extends it first. The committed
// extent, and so Shape, only advances once the write is in the store.
func (d *Dataset) SetSlice(sl Slice, data *NDArray) error {
	if !d.writable {
		return ErrReadOnly
	}
	d.writeMu.RLock()
	defer d.writeMu.RUnlock()
	if d.State() == StateClosed {
		return ErrClosed
	}
	if err := sl.Validate(d.MaxShape()); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}
	ext := sl.Extent()
	if !ext.Squeeze().Equal(data.shape.Squeeze()) {
		return fmt.Errorf("writing %s: %w: slice extent %s, data shape %s", d.path, ErrShapeMismatch, ext, data.shape)
	}
	if !data.dtype.Equal(d.meta.Dtype) {
		return fmt.Errorf("writing %s: %w: dataset %s, data %s", d.path, ErrDtypeMismatch, d.meta.Dtype, data.dtype)
	}
	view, err := data.Reshape(ext)
	if err != nil {
		return err
	}

	t, err := d.reserve(sl)
	if err != nil {
		return err
	}
	if err := t.write(view); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}
	return t.commit()
}

// ticket is a region a writer holds the allocation for
type ticket struct {
	ds   *Dataset
	sel  Slice
	stop int64
}

func (d *Dataset) reserve(sl Slice) (*ticket, error) {
	t := &ticket{ds: d, sel: sl}
	if d.unlimited < 0 {
		return t, nil
	}
	t.stop = int64(sl[d.unlimited].Stop)
	if t.stop > d.allocated.Load() {
		if err := d.Extend(int(t.stop)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// write stores every chunk the ticket's region touches. A chunk is one store
// value, so a partially covered chunk is read, patched and put back while
// holding that chunk's lock.
func (t *ticket) write(arr *NDArray) error {
	d := t.ds
	for _, p := range projectChunks(t.sel, d.meta.Chunks) {
		if err := t.writeChunk(arr, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *ticket) writeChunk(arr *NDArray, p chunkProjection) error {
	d := t.ds
	key := d.chunkKey(p.ChunkCoords)
	mu := d.chunkLocks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	var raw []byte
	if coversChunk(p.ChunkSelection, d.meta.Chunks) {
		raw = make([]byte, d.chunkBytes())
	} else {
		var err error
		if raw, err = d.readChunk(p.ChunkCoords); err != nil {
			return fmt.Errorf("chunk %v: %w", p.ChunkCoords, err)
		}
	}
	transfer(putOp, raw, d.meta.Chunks, arr, p)

	enc, err := encodeChunk(d.meta.Compressor, raw)
	if err != nil {
		return fmt.Errorf("chunk %v: %w", p.ChunkCoords, err)
	}
	return d.store.Put(key, bytes.NewReader(enc))
}

func coversChunk(sel Slice, chunks Shape) bool {
	for i, r := range sel {
		if r.Start != 0 || r.Step != 1 || r.Stop != chunks[i] {
			return false
		}
	}
	return true
}

// commit publishes the ticket's region: the committed extent becomes the
// highest stop of any finished write
func (t *ticket) commit() error {
	d := t.ds
	if d.unlimited < 0 {
		return nil
	}
	for {
		cur := d.committed.Load()
		if t.stop <= cur {
			return nil
		}
		if d.committed.CompareAndSwap(cur, t.stop) {
			break
		}
	}
	return d.persist()
}

// persist rewrites .zarray when the committed extent has grown since the last
// write of it
func (d *Dataset) persist() error {
	if d.unlimited < 0 {
		return nil
	}
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	c := d.committed.Load()
	if c <= d.persisted {
		return nil
	}
	meta := d.meta
	meta.Shape = d.fixed.Clone()
	meta.Shape[d.unlimited] = int(c)
	if err := putJSON(d.store, d.path.Key(string(MTArray)), &meta); err != nil {
		return fmt.Errorf("persisting %s shape: %w", d.path, err)
	}
	d.persisted = c
	return nil
}

// Close stops the dataset accepting writes and persists its committed shape.
// Writes already past their checks finish and commit before Close returns.
func (d *Dataset) Close() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.extendMu.Lock()
	prev := State(d.state.Swap(int32(StateClosed)))
	d.extendMu.Unlock()
	if prev == StateClosed || !d.writable {
		return nil
	}
	return d.persist()
}

const lockStripes = 64

// lockStripe maps chunk keys onto a fixed set of mutexes
type lockStripe [lockStripes]sync.Mutex

func (l *lockStripe) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l[h.Sum32()%lockStripes]
}

// Consolidate writes .zmetadata at the store root, holding every metadata
// document in the store
func Consolidate(store Store) error {
	keys, err := store.List("")
	if err != nil {
		return err
	}
	cm := consolidatedMetaDecoder{
		ConsolidatedFormat: 1,
		Metadata:           map[string]json.RawMessage{},
	}
	for _, k := range keys {
		if _, ok := KeyMetaType(k); !ok {
			continue
		}
		rc, err := store.Get(k)
		if err != nil {
			return err
		}
		buf := &bytes.Buffer{}
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", k, err)
		}
		cm.Metadata[k] = json.RawMessage(buf.Bytes())
	}
	return putJSON(store, string(MTMetadata), cm)
}

// ReadConsolidated reads the .zmetadata document at the store root
func ReadConsolidated(store Store) (*ConsolidatedMetadata, error) {
	rc, err := store.Get(string(MTMetadata))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	cm := &ConsolidatedMetadata{}
	if err := json.NewDecoder(rc).Decode(cm); err != nil {
		return nil, fmt.Errorf("reading consolidated metadata: %w", err)
	}
	return cm, nil
}

// ListArrays returns the path of every array in the store, sorted
func ListArrays(store Store) ([]string, error) {
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, k := range keys {
		if mt, ok := KeyMetaType(k); !ok || mt != MTArray {
			continue
		}
		p, _ := NewPath(k)
		paths = append(paths, p[:len(p)-1].String())
	}
	return paths, nil
}
