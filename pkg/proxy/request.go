package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/tollgate/pkg/apierror"
)

// ReadBody reads the whole request body. A body over the MaxBody limit is
// reported as an invalid request.
func ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierror.Newf(apierror.CodeInvalidRequest,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apierror.Wrap(apierror.CodeInvalidRequest, "failed to read request body", err)
	}
	return body, nil
}

// DecodeJSON decodes the JSON body of r into v. Unknown fields are
// rejected so that typos in admin requests fail loudly.
func DecodeJSON(r *http.Request, v any) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return apierror.InvalidRequest("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.InvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// QueryTime parses an RFC 3339 query parameter. The zero time is returned
// when the parameter is absent.
func QueryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apierror.InvalidRequest(
			fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
	}
	return t, nil
}

// QueryInt parses a non-negative integer query parameter, applying def when
// absent and capping the result at ceiling.
func QueryInt(r *http.Request, name string, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierror.InvalidRequest(
			fmt.Sprintf("%s must be a non-negative integer", name))
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}
