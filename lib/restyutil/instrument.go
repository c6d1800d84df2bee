package restyutil

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// InstrumentOutput receives a rendered copy of every request/response
// pair a client exchanges, keyed by a per-client message id.
type InstrumentOutput interface {
	Write(id string, contents string)
}

// AttachOutput dumps every http exchange of `client` to `output`.
// A nil output makes this a no-op.
func AttachOutput(client *resty.Client, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		messageId := strconv.FormatUint(atomic.AddUint64(&idcounter, 1), 10)
		output.Write(messageId, FormatHttpMessage(res))
		slog.Debug(
			"http exchange recorded",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"message_id", messageId,
		)
		return nil
	})
}
