// Package httputil holds the request parsing and JSON response helpers shared by
// the audit and compliance HTTP handlers.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, page)
//	httputil.WriteErrorMessage(w, http.StatusBadRequest, "start and end are required")
//
// Query parameters:
//
//	start, end, err := httputil.ParseWindow(r.URL.Query())
//	size, err := httputil.ParseQueryInt(r.URL.Query(), "size", 0)
//	tags := httputil.PrefixedParams(r.URL.Query(), "tag.")
//
// Middleware:
//
//	router.Use(httputil.MaxBytesMiddleware(1 << 20))
//	router.Use(httputil.ContentTypeMiddleware)
package httputil
