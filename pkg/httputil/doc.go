// Package httputil holds the JSON request and response helpers shared by
// warden's handlers, plus the outer middleware every route runs through.
//
// Errors are written with WriteError, which takes its status from
// apierr.HTTPStatus and hides anything that is not an apierr kind:
//
//	if err := svc.CreateRole(ctx, role); err != nil {
//		httputil.WriteError(w, err)
//		return
//	}
//	httputil.WriteCreated(w, role)
//
// Handlers decode bodies with ParseJSONOrError, which has already written
// the 400 or 413 when it returns false:
//
//	var req AuthorizeRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//
// Authentication and route authorization live in pkg/middleware.
package httputil
