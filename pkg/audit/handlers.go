package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// Searcher lists stored audit events. *DBLogger implements it.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// Handlers serves the audit trail of an organization
type Handlers struct {
	searcher Searcher
}

// NewHandlers creates audit handlers
func NewHandlers(searcher Searcher) *Handlers {
	return &Handlers{searcher: searcher}
}

// ListEvents handles GET /organizations/{orgID}/audit-events.
// Query parameters: user_id, action (comma separated), since and until
// (RFC 3339), limit, offset.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", 100)
	if !ok {
		return
	}
	offset, ok := httputil.ParseQueryIntOrError(w, r, "offset", 0)
	if !ok {
		return
	}

	filter := SearchFilter{
		OrganizationID: orgID,
		UserID:         httputil.ParseQueryString(r, "user_id", ""),
		Limit:          limit,
		Offset:         offset,
	}
	if actions := httputil.ParseQueryString(r, "action", ""); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			if a = strings.TrimSpace(a); a != "" {
				filter.Actions = append(filter.Actions, EventType(a))
			}
		}
	}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "since"); err != nil {
		httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
		return
	}
	if filter.EndTime, err = parseTimeParam(r, "until"); err != nil {
		httputil.WriteBadRequest(w, "until must be an RFC 3339 timestamp")
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAPIError(w, apierrors.Internal(fmt.Errorf("failed to list audit events: %w", err)))
		return
	}
	if events == nil {
		events = []*Event{}
	}
	_ = httputil.WriteSuccess(w, events)
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
