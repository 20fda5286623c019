package quantize

import (
	"math"
	"math/rand"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/kernel"
)

// Product splits D into ceil(D/ratio) subspaces and learns 2^bits centroids
// per subspace via k-means (§4.C "Product quantization"), grounded on
// original_source/crates/quantization/src/product.rs. Each code is one
// centroid id per subspace, one byte wide (bits <= 8).
type Product struct {
	dims      int
	ratio     int
	bits      uint32
	kind      DistanceKind
	width     int         // number of subspaces
	centroids [][][]float32 // centroids[subspace][centroidID] -> subvector
}

func subspaceRange(dims, ratio, p int) (start, end int) {
	start = p * ratio
	end = start + ratio
	if end > dims {
		end = dims
	}
	return
}

// TrainProduct runs Lloyd's k-means independently per subspace.
func TrainProduct(dims, ratio int, bits uint32, kind DistanceKind, vectors [][]float32, rng *rand.Rand) *Product {
	width := (dims + ratio - 1) / ratio
	k := 1 << bits
	centroids := make([][][]float32, width)
	for p := 0; p < width; p++ {
		start, end := subspaceRange(dims, ratio, p)
		sub := make([][]float32, len(vectors))
		for i, v := range vectors {
			sub[i] = v[start:end]
		}
		centroids[p] = kmeans(k, sub, rng)
	}
	return &Product{dims: dims, ratio: ratio, bits: bits, kind: kind, width: width, centroids: centroids}
}

// kmeans runs a fixed number of Lloyd iterations over subvectors of equal
// width, seeded by random sample (k-means++ is overkill for the reranked,
// error-tolerant use this quantizer serves).
func kmeans(k int, points [][]float32, rng *rand.Rand) [][]float32 {
	if len(points) == 0 {
		return make([][]float32, k)
	}
	width := len(points[0])
	centers := make([][]float32, k)
	for c := range centers {
		src := points[rng.Intn(len(points))]
		centers[c] = append([]float32(nil), src...)
	}
	assign := make([]int, len(points))
	const iterations = 10
	for iter := 0; iter < iterations; iter++ {
		for i, p := range points {
			best, bestDist := 0, float32(math.Inf(1))
			for c, center := range centers {
				d := kernel.SquaredL2(p, center)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			assign[i] = best
		}
		sums := make([][]float32, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float32, width)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for j, x := range p {
				sums[c][j] += x
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				centers[c] = append([]float32(nil), points[rng.Intn(len(points))]...)
				continue
			}
			for j := range centers[c] {
				centers[c][j] = sums[c][j] / float32(counts[c])
			}
		}
	}
	return centers
}

func (p *Product) CodeSize() uint32 { return uint32(p.width) }

func (p *Product) nearestCentroid(subspace int, sub []float32) byte {
	best, bestDist := 0, float32(math.Inf(1))
	for c, center := range p.centroids[subspace] {
		d := kernel.SquaredL2(sub, center)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return byte(best)
}

func (p *Product) Encode(vector []float32) []byte {
	code := make([]byte, p.width)
	for sp := 0; sp < p.width; sp++ {
		start, end := subspaceRange(p.dims, p.ratio, sp)
		code[sp] = p.nearestCentroid(sp, vector[start:end])
	}
	return code
}

// productLUT[subspace][centroidID] holds the per-subspace distance
// contribution for the query, summed across subspaces at Process time.
type productLUT struct {
	table [][]float32
}

func (p *Product) Preprocess(query []float32) LUT {
	table := make([][]float32, p.width)
	for sp := 0; sp < p.width; sp++ {
		start, end := subspaceRange(p.dims, p.ratio, sp)
		sub := query[start:end]
		row := make([]float32, len(p.centroids[sp]))
		for c, center := range p.centroids[sp] {
			switch p.kind {
			case Dot, Cosine:
				row[c] = -kernel.Dot(sub, center)
			default:
				row[c] = kernel.SquaredL2(sub, center)
			}
		}
		table[sp] = row
	}
	return productLUT{table: table}
}

func (p *Product) Process(lut LUT, code []byte) Distance {
	pl := lut.(productLUT)
	var sum float32
	for sp, c := range code {
		sum += pl.table[sp][c]
	}
	return sum
}
