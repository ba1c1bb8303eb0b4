package gemini

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/koscakluka/ema-support/core/summarize/gemini"

var (
	tracer = otel.Tracer(instrumentationName)
	logger = otelslog.NewLogger(instrumentationName)
)
