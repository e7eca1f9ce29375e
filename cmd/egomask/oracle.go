package main

import (
	"fmt"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/oracle/process"
	"github.com/ayusman/egomask/internal/oracle/sam2"
)

type oracleFlags struct {
	backend *string
	python  *string
	script  *string
	encoder *string
	decoder *string
	ortLib  *string
	cuda    *bool
	threads *int
}

func addOracleFlags(parser *argparse.Parser) *oracleFlags {
	def := sam2.DefaultConfig()
	return &oracleFlags{
		backend: parser.Selector("", "oracle", []string{"process", "sam2"}, &argparse.Options{Help: "Segmentation backend", Default: "process"}),
		python:  parser.String("", "python", &argparse.Options{Help: "Interpreter for the process backend", Default: ""}),
		script:  parser.String("", "script", &argparse.Options{Help: "Service script for the process backend", Default: ""}),
		encoder: parser.String("", "encoder", &argparse.Options{Help: "SAM2 vision encoder model", Default: def.EncodeModelPath}),
		decoder: parser.String("", "decoder", &argparse.Options{Help: "SAM2 prompt encoder and mask decoder model", Default: def.DecodeModelPath}),
		ortLib:  parser.String("", "ortlib", &argparse.Options{Help: "onnxruntime shared library", Default: def.OnnxRuntimeLibPath}),
		cuda:    parser.Flag("", "cuda", &argparse.Options{Help: "Run SAM2 on CUDA", Default: false}),
		threads: parser.Int("", "threads", &argparse.Options{Help: "SAM2 intra-op threads (0 = runtime default)", Default: 0}),
	}
}

// closableOracle is an oracle holding resources that must be released.
type closableOracle interface {
	oracle.Oracle
	Close() error
}

func newOracle(f *oracleFlags, log logs.Log) (closableOracle, error) {
	switch *f.backend {
	case "process":
		cfg := process.DefaultConfig()
		cfg.Python = *f.python
		cfg.Script = *f.script
		cfg.Log = log
		o, err := process.New(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "sam2":
		cfg := sam2.DefaultConfig()
		cfg.EncodeModelPath = *f.encoder
		cfg.DecodeModelPath = *f.decoder
		cfg.OnnxRuntimeLibPath = *f.ortLib
		cfg.UseCuda = *f.cuda
		cfg.NumThreads = *f.threads
		cfg.Log = log
		o, err := sam2.New(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("unknown oracle backend %q", *f.backend)
}
