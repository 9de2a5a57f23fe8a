package smap

import (
	"fmt"
	"sync"

	"gonum.org/v1/hdf5"
)

// OpenHDF5 opens a granule on disk as a DatasetFile backed by the HDF5
// C library. It is the production OpenFunc; tests substitute in-memory
// files instead.
func OpenHDF5(path string) (DatasetFile, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open hdf5 file %q: %w", path, err)
	}
	return &hdf5File{f: f}, nil
}

type hdf5File struct {
	f *hdf5.File
}

func (h *hdf5File) Dataset(path string) (Dataset, error) {
	dset, err := h.f.OpenDataset(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", path, err)
	}
	space := dset.Space()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		dset.Close()
		return nil, fmt.Errorf("read extent of dataset %q: %w", path, err)
	}
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	return &hdf5Dataset{dset: dset, n: n}, nil
}

func (h *hdf5File) Close() error {
	return h.f.Close()
}

// hdf5Dataset reads a granule array as a flat sequence regardless of
// its on-disk rank. SMAP stores the arrays as float32; values widen to
// float64 on read. The HDF5 C library is not thread-safe in its
// default build, so reads are serialized behind a mutex.
type hdf5Dataset struct {
	mu   sync.Mutex
	dset *hdf5.Dataset
	n    int
}

func (d *hdf5Dataset) Len() int {
	return d.n
}

func (d *hdf5Dataset) ReadSlice(start, end int) ([]float64, error) {
	if start < 0 || end < start || end > d.n {
		return nil, fmt.Errorf("slice [%d,%d) out of bounds for dataset of length %d", start, end, d.n)
	}
	count := end - start
	if count == 0 {
		return []float64{}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	filespace := d.dset.Space()
	if err := filespace.SelectHyperslab([]uint{uint(start)}, nil, []uint{uint(count)}, nil); err != nil {
		return nil, fmt.Errorf("select slab [%d,%d): %w", start, end, err)
	}
	memspace, err := hdf5.CreateSimpleDataspace([]uint{uint(count)}, nil)
	if err != nil {
		return nil, fmt.Errorf("create memory dataspace: %w", err)
	}
	defer memspace.Close()

	raw := make([]float32, count)
	if err := d.dset.ReadSubset(&raw, memspace, filespace); err != nil {
		return nil, fmt.Errorf("read slab [%d,%d): %w", start, end, err)
	}

	out := make([]float64, count)
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}
