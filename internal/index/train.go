package index

import (
	"math/rand"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann/diskann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann/flat"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann/hnsw"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann/ivf"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// trainAnn builds the configured ANN structure over store (§4.G), the
// step a sealed segment's raw vectors go through exactly once, right
// after BuildDense materializes them.
func trainAnn(cfg Config, store vecstore.DenseSource, rng *rand.Rand) ann.Index {
	distance := cfg.distanceFunc()

	switch cfg.IndexingKind {
	case IndexingIvf:
		variant := ivf.Naive
		if cfg.QuantizationKind == QuantizationProduct {
			variant = ivf.PQResidual
		}
		if cfg.IsPuck {
			variant = ivf.Puck
		}
		opts := ivf.Options{
			Nlist:             int(cfg.NList),
			Nprobe:            int(cfg.CoarseSearchCount),
			Variant:           variant,
			Cosine:            cfg.Distance == Cos,
			NSample:           int(cfg.NSample),
			Iterations:        int(cfg.Iterations),
			LeastIterations:   int(cfg.LeastIterations),
			PQRatio:           int(cfg.QuantizationRatio),
			PQBits:            cfg.QuantizationBits,
			CoarseSearchCount: int(cfg.CoarseSearchCount),
		}
		return ivf.Train(store, opts, rng)

	case IndexingHnsw:
		return hnsw.Train(store, hnsw.Options{
			M:              int(cfg.M),
			EfConstruction: int(cfg.EfConstruction),
		}, distance)

	case IndexingDiskann:
		return diskann.Train(store, diskann.Options{
			R:      int(cfg.R),
			L:      int(cfg.L),
			Alpha:  cfg.Alpha,
			Random: rng,
		}, distance)

	default:
		vectors := collectVectors(store)
		q := cfg.buildQuantizer(vectors, rng)
		return flat.New(store, q)
	}
}

func collectVectors(store vecstore.DenseSource) [][]float32 {
	n := store.Len()
	out := make([][]float32, n)
	for i := uint32(0); i < n; i++ {
		out[i] = store.Vector(i)
	}
	return out
}
