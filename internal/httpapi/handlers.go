package httpapi

import (
	"encoding/json"
	"net/http"

	"sinew/internal/sinewerr"
)

// decodeBody decodes a JSON request body into dest, surfacing malformed
// input as InvalidArgument so statusFromError maps it to 422 rather than a
// bare 400 (spec §7 classifies every rejected request through sinewerr).
func decodeBody(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return sinewerr.New(sinewerr.KindInvalidArgument, "malformed request body", err)
	}
	return nil
}

// queryTenantID reads the tenant id off a GET request. Real authentication
// is out of scope (spec §1); the tenant id is the one piece of request
// context every boundary call still requires explicitly, carried here as a
// query parameter rather than an ambient session.
func queryTenantID(r *http.Request) string {
	return r.URL.Query().Get("tenant_id")
}
