//go:build onnx

package main

import (
	"os"

	"github.com/lyangfan/deepmemory/memory"
	"github.com/lyangfan/deepmemory/memory/embedder/onnx"
)

// newLocalEmbedder builds the in-process sentence encoder. Model and
// tokenizer paths come from the environment so deployments can point at
// their own export.
func newLocalEmbedder() (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     os.Getenv("ONNX_MODEL_PATH"),
		TokenizerPath: os.Getenv("ONNX_TOKENIZER_PATH"),
	})
}
