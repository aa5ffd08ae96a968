package wasmplugin

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/nanoem/pluginwasm/runtime"
)

// DefaultPattern matches plugin file names during discovery.
const DefaultPattern = "*.wasm"

const tracerName = "github.com/nanoem/pluginwasm/wasmplugin"

type options struct {
	logger            *zap.Logger
	metrics           *Metrics
	tracer            trace.Tracer
	runtimeType       string
	runtimeConfig     runtime.Config
	factory           runtime.Factory
	capabilities      runtime.Capabilities
	capabilityBuilder runtime.CapabilityBuilder
	pattern           string
}

// Option configures plugins and controllers.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer(tracerName),
		pattern: DefaultPattern,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records guest calls, failures and reloads.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer wraps controller operations in spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRuntime selects a registered runtime type and its configuration.
func WithRuntime(runtimeType string, cfg runtime.Config) Option {
	return func(o *options) {
		o.runtimeType = runtimeType
		o.runtimeConfig = cfg
	}
}

// WithRuntimeFactory bypasses the runtime registry.
func WithRuntimeFactory(factory runtime.Factory) Option {
	return func(o *options) { o.factory = factory }
}

// WithCapabilities sets the capabilities every plugin starts from.
func WithCapabilities(caps runtime.Capabilities) Option {
	return func(o *options) { o.capabilities = caps }
}

// WithCapabilityBuilder applies embedder policy per plugin path.
func WithCapabilityBuilder(builder runtime.CapabilityBuilder) Option {
	return func(o *options) { o.capabilityBuilder = builder }
}

// WithPattern sets the glob plugin file names must match.
func WithPattern(pattern string) Option {
	return func(o *options) { o.pattern = pattern }
}

func (o *options) newRuntime() (runtime.Runtime, error) {
	if o.factory != nil {
		return o.factory(o.runtimeConfig)
	}
	return runtime.NewRuntime(o.runtimeType, o.runtimeConfig)
}
