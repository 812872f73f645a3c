package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/dispatch"
)

// Response headers set on metered calls.
const (
	// BudgetAlertHeader is "true" when a limit checked for the call reached
	// its alert threshold.
	BudgetAlertHeader = "X-Budget-Alert"

	// UsageRecordHeader carries the id of the usage record of the call.
	UsageRecordHeader = "X-Usage-Record-ID"
)

// hopHeaders are not copied from upstream responses.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Trailer":           true,
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// WriteError translates err and writes the error envelope.
func WriteError(w http.ResponseWriter, err error) {
	apierror.Write(w, dispatch.Translate(err))
}

// WriteResult relays an upstream response to the client.
func WriteResult(w http.ResponseWriter, res *dispatch.Result) {
	h := w.Header()
	for k, values := range res.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			h.Add(k, v)
		}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	if res.RecordID != "" {
		h.Set(UsageRecordHeader, res.RecordID)
	}
	if res.BudgetAlert {
		h.Set(BudgetAlertHeader, "true")
	}
	h.Set("Content-Length", strconv.Itoa(len(res.Body)))

	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)
}
