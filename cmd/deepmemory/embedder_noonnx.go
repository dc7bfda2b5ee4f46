//go:build !onnx

package main

import (
	"fmt"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/memory"
)

// newLocalEmbedder refuses: the local-transformer variant requires the
// onnx build tag.
func newLocalEmbedder() (memory.Embedder, error) {
	return nil, fmt.Errorf("%w: local-transformer requires a binary built with -tags onnx", core.ErrConfigInvalid)
}
