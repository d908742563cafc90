package sampler

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pointgen/internal/model"
)

// GenerationContext carries everything a run would otherwise take from
// process globals: the latent distribution, the target device and the model.
type GenerationContext struct {
	// Latent draws every latent coordinate. Its Src must be set; a nil
	// source falls back to the unseeded global generator.
	Latent distuv.Normal
	Device model.Device
	Model  model.Model
}

// NewGenerationContext builds a standard normal over a PCG source seeded
// from seed.
func NewGenerationContext(seed uint64, device model.Device, m model.Model) *GenerationContext {
	return &GenerationContext{
		Latent: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed)},
		Device: device,
		Model:  m,
	}
}
