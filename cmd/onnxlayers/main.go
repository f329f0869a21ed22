// Command onnxlayers inspects ONNX models and runs them on the channel-last layer runtime.
//
// Usage:
//
//	onnxlayers ops
//	onnxlayers inspect model.onnx -o yaml
//	onnxlayers summary model.onnx
//	onnxlayers predict model.onnx --input a.json --input b.json
//
// Logging and defaults are configured through ONNXLAYERS_LOG_LEVEL,
// ONNXLAYERS_LOG_FORMAT, ONNXLAYERS_MAX_PARALLEL and ONNXLAYERS_OUTPUT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(cfg, log)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}
