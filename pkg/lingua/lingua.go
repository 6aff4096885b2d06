// Package lingua provides the public API for embedding the language
// learning service. This is the stable API for external consumers.
package lingua

import (
	"github.com/tjfontaine/polyglot-lingua/internal/runtime"
)

// App is the assembled service.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// New creates an App from configuration.
// Example:
//
//	app, err := lingua.New(ctx,
//	    lingua.WithFileConfig("config.yaml"),
//	    lingua.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider
	WithLogger         = runtime.WithLogger
	WithStore          = runtime.WithStore
	WithModel          = runtime.WithModel
	WithMetrics        = runtime.WithMetrics
)
