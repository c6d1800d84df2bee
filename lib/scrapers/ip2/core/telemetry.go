package core

import (
	"ip2api/lib/restyutil"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/ip2/core")

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput makes every client created afterwards dump its
// http exchanges to `out`. Useful when debugging scrapes against a live
// instance.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
