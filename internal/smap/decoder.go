// Package smap decodes SMAP L3 soil moisture granules into flat
// per-cell records and handles retrieval of granule files from the
// upstream archive.
package smap

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"soilwatch/internal/types"
)

// Dataset paths inside a SMAP L3 granule. The three arrays are
// parallel: index i across all of them describes one grid cell.
const (
	moistureDatasetPath  = "Soil_Moisture_Retrieval_Data/soil_moisture"
	latitudeDatasetPath  = "Soil_Moisture_Retrieval_Data/latitude"
	longitudeDatasetPath = "Soil_Moisture_Retrieval_Data/longitude"
)

// Dataset is a one-dimensional float array inside a granule file.
type Dataset interface {
	// Len reports the number of elements in the array.
	Len() int
	// ReadSlice reads elements in [start, end).
	ReadSlice(start, end int) ([]float64, error)
}

// DatasetFile is an open granule file from which named datasets can be
// read. Implementations are not required to be safe for concurrent
// Dataset lookups, but the Datasets they return must support
// concurrent ReadSlice calls over disjoint ranges.
type DatasetFile interface {
	Dataset(path string) (Dataset, error)
	Close() error
}

// Decode reads the three parallel arrays from f and zips them into one
// record per grid cell, all stamped with the given composite date.
// Chunks of up to chunkSize cells are decoded concurrently; results
// are merged in chunk order once every worker has finished. The first
// chunk failure cancels the remaining workers and no partial result is
// returned.
func Decode(ctx context.Context, f DatasetFile, chunkSize int, date types.Date) ([]types.SoilMoistureRecord, error) {
	if chunkSize <= 0 {
		return nil, decodeErr(fmt.Errorf("chunk size must be positive, got %d", chunkSize), nil)
	}

	moisture, err := f.Dataset(moistureDatasetPath)
	if err != nil {
		return nil, decodeErr(err, nil)
	}
	latitude, err := f.Dataset(latitudeDatasetPath)
	if err != nil {
		return nil, decodeErr(err, nil)
	}
	longitude, err := f.Dataset(longitudeDatasetPath)
	if err != nil {
		return nil, decodeErr(err, nil)
	}

	n := moisture.Len()
	if latitude.Len() != n || longitude.Len() != n {
		return nil, decodeErr(fmt.Errorf("dataset length mismatch: moisture=%d latitude=%d longitude=%d",
			n, latitude.Len(), longitude.Len()), nil)
	}
	if n == 0 {
		return []types.SoilMoistureRecord{}, nil
	}

	numChunks := (n + chunkSize - 1) / chunkSize
	chunks := make([][]types.SoilMoistureRecord, numChunks)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			recs, err := decodeChunk(moisture, latitude, longitude, start, end, date)
			if err != nil {
				return err
			}
			chunks[i] = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, decodeErr(err, nil)
	}

	out := make([]types.SoilMoistureRecord, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

func decodeChunk(moisture, latitude, longitude Dataset, start, end int, date types.Date) ([]types.SoilMoistureRecord, error) {
	m, err := moisture.ReadSlice(start, end)
	if err != nil {
		return nil, decodeErr(err, map[string]any{"dataset": moistureDatasetPath, "start": start, "end": end})
	}
	lat, err := latitude.ReadSlice(start, end)
	if err != nil {
		return nil, decodeErr(err, map[string]any{"dataset": latitudeDatasetPath, "start": start, "end": end})
	}
	lon, err := longitude.ReadSlice(start, end)
	if err != nil {
		return nil, decodeErr(err, map[string]any{"dataset": longitudeDatasetPath, "start": start, "end": end})
	}
	if len(lat) != len(m) || len(lon) != len(m) {
		return nil, decodeErr(fmt.Errorf("short read in chunk [%d,%d)", start, end), nil)
	}

	recs := make([]types.SoilMoistureRecord, len(m))
	for i := range m {
		recs[i] = types.SoilMoistureRecord{
			Date:     date,
			Lat:      lat[i],
			Lon:      lon[i],
			Moisture: m[i],
		}
	}
	return recs, nil
}

func decodeErr(err error, details map[string]any) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeIngestionDecode, "failed to decode granule", err, details)
}
