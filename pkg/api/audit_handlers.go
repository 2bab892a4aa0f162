package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/httputil"
	"github.com/nimbushost/billing/pkg/observability"
)

// listAuditEvents serves GET /tenants/{tenant_id}/audit. The tenant scope
// comes from the path; everything else is optional query filtering.
func (s *Server) listAuditEvents(searcher audit.Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := parseAuditFilter(w, r)
		if !ok {
			return
		}

		events, err := searcher.Search(r.Context(), filter)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Audit search failed")
			httputil.WriteInternalError(w, err)
			return
		}
		if events == nil {
			events = []*audit.Event{}
		}
		httputil.WriteSuccess(w, map[string]interface{}{"events": events})
	}
}

func parseAuditFilter(w http.ResponseWriter, r *http.Request) (audit.SearchFilter, bool) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		TenantID:     mux.Vars(r)["tenant_id"],
		ResourceType: audit.ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}

	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}
	if v := q.Get("status"); v != "" {
		status := audit.EventStatus(v)
		filter.Status = &status
	}

	var err error
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		httputil.WriteValidationError(w, "limit must be a positive integer")
		return filter, false
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		httputil.WriteValidationError(w, "offset must be a non-negative integer")
		return filter, false
	}
	filter.Offset = offset

	return filter, true
}
