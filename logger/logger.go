// Package logger adapts popular logging libraries to gbptree.Logger.
//
// The standard library's slog.Logger already implements gbptree.Logger and
// needs no adapter.
//
// Example with zap:
//
//	import (
//	    "github.com/alexhholmes/gbptree"
//	    "github.com/alexhholmes/gbptree/layout"
//	    "github.com/alexhholmes/gbptree/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    tree, err := gbptree.OpenFile[int64, int64]("index.db", layout.Int64{},
//	        gbptree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer tree.Close()
//	}
package logger
