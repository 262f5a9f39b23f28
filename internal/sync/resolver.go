// Package sync reconciles records captured on devices, possibly offline,
// against the server's copy.
package sync

import (
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"evv/internal/sync/models"
)

// Strategy is how a resolution was reached.
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

const (
	DefaultClockSkew         = 2 * time.Second
	DefaultTimeEpsilon       = time.Second
	DefaultCoordinateEpsilon = 1e-6
)

// Field lists are in models.FieldName form.

// Fields whose divergence on an EVV record is itself a compliance signal.
var evvCriticalFields = []string{
	"clock_in_time",
	"clock_out_time",
	"clock_in_location",
	"clock_out_location",
	"clock_in_latitude",
	"clock_in_longitude",
	"clock_out_latitude",
	"clock_out_longitude",
	"clock_in_verification",
	"clock_out_verification",
	"service_date",
}

// Visit fields recorded by the caregiver at the bedside.
var visitObservationFields = []string{
	"notes",
	"caregiver_notes",
	"client_condition",
	"incidents",
	"observations",
}

// Visit fields owned by scheduling and billing.
var visitAdministrativeFields = []string{
	"scheduled_start",
	"scheduled_end",
	"service_type_code",
	"client_id",
	"caregiver_id",
	"service_address",
	"authorization_id",
	"billing_code",
	"payer_id",
}

var visitCriticalFields = []string{
	"signature",
	"client_signature",
	"caregiver_signature",
	"status",
}

var taskCriticalFields = []string{
	"completed",
	"completed_at",
	"status",
}

// FieldConflict is one field that differs between the two copies.
type FieldConflict struct {
	Field       string `json:"field"`
	ClientValue any    `json:"client_value"`
	ServerValue any    `json:"server_value"`
	Critical    bool   `json:"critical"`
	// Chosen is "client", "server", or "manual".
	Chosen string `json:"chosen"`
}

// Resolution is the outcome of reconciling one record. When
// RequiresManualReview is set, Resolved is the server copy unchanged.
type Resolution struct {
	Strategy             Strategy        `json:"strategy"`
	Resolved             *models.Record  `json:"resolved"`
	FieldConflicts       []FieldConflict `json:"field_conflicts"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	Metadata             map[string]any  `json:"metadata"`
}

// Resolver applies last-write-wins with per-type fallbacks. Values that
// differ by no more than the epsilons are treated as equal so serialization
// noise does not trigger manual review.
type Resolver struct {
	// ClockSkew is the modification time difference below which neither
	// side is considered newer.
	ClockSkew time.Duration
	// TimeEpsilon bounds the difference between two timestamp fields that
	// still count as the same instant.
	TimeEpsilon time.Duration
	// CoordinateEpsilon bounds latitude and longitude differences in degrees.
	CoordinateEpsilon float64
}

func NewResolver() *Resolver {
	return &Resolver{
		ClockSkew:         DefaultClockSkew,
		TimeEpsilon:       DefaultTimeEpsilon,
		CoordinateEpsilon: DefaultCoordinateEpsilon,
	}
}

// Resolve reconciles the client copy against the server copy.
//
// Records of unknown type, or whose types disagree, keep the server copy
// and go to manual review. EVV records go to manual review on any
// verification-critical divergence before modification times are compared.
// Otherwise a side newer by more than ClockSkew wins; ties fall back to the
// record type's rules. Field names are compared in models.FieldName form.
func (r *Resolver) Resolve(client, server *models.Record) Resolution {
	client, server = client.Canonical(), server.Canonical()
	meta := map[string]any{
		"record_type":        string(server.Type),
		"client_modified_at": client.ModifiedAt.UTC().Format(time.RFC3339Nano),
		"server_modified_at": server.ModifiedAt.UTC().Format(time.RFC3339Nano),
		"server_version":     server.Version,
	}

	if client.Type != server.Type || !server.Type.Known() {
		meta["reason"] = "unrecognized record type"
		return r.manual(server, r.diff(client, server, nil), meta)
	}

	if server.Type == models.RecordTypeEVV {
		conflicts := r.diff(client, server, evvCriticalFields)
		if hasCritical(conflicts) {
			meta["reason"] = "verification-critical fields differ"
			return r.manual(server, conflicts, meta)
		}
	}

	switch d := client.ModifiedAt.Sub(server.ModifiedAt); {
	case d > r.ClockSkew:
		meta["reason"] = "client copy is newer"
		return r.take(StrategyClientWins, client, server, "client", meta)
	case d < -r.ClockSkew:
		meta["reason"] = "server copy is newer"
		return r.take(StrategyServerWins, client, server, "server", meta)
	}
	meta["reason"] = "modification times within clock skew"

	switch server.Type {
	case models.RecordTypeVisit:
		return r.mergeVisit(client, server, meta)
	case models.RecordTypeTask:
		return r.resolveTask(client, server, meta)
	default:
		return r.take(StrategyServerWins, client, server, "server", meta)
	}
}

func (r *Resolver) manual(server *models.Record, conflicts []FieldConflict, meta map[string]any) Resolution {
	for i := range conflicts {
		conflicts[i].Chosen = "manual"
	}
	return Resolution{
		Strategy:             StrategyManual,
		Resolved:             server.Clone(),
		FieldConflicts:       nonNil(conflicts),
		RequiresManualReview: true,
		Metadata:             meta,
	}
}

// take resolves to one side's copy. The resolved record carries the server
// version so the write can be conditioned on it.
func (r *Resolver) take(strategy Strategy, client, server *models.Record, chosen string, meta map[string]any) Resolution {
	winner := server
	if chosen == "client" {
		winner = client
	}
	resolved := winner.Clone()
	resolved.Version = server.Version
	conflicts := r.diff(client, server, nil)
	for i := range conflicts {
		conflicts[i].Chosen = chosen
	}
	return Resolution{
		Strategy:       strategy,
		Resolved:       resolved,
		FieldConflicts: nonNil(conflicts),
		Metadata:       meta,
	}
}

func (r *Resolver) mergeVisit(client, server *models.Record, meta map[string]any) Resolution {
	merged := server.Clone()
	merged.ModifiedAt = latest(client.ModifiedAt, server.ModifiedAt)
	conflicts := []FieldConflict{}
	manual := false

	for _, field := range unionKeys(client.Fields, server.Fields) {
		cv, sv := client.Fields[field], server.Fields[field]
		cPop, sPop := populated(cv), populated(sv)
		differs := cPop && sPop && !r.equal(field, cv, sv)

		var chosen string
		switch {
		case slices.Contains(visitCriticalFields, field):
			if differs {
				manual = true
				conflicts = append(conflicts, FieldConflict{Field: field, ClientValue: cv, ServerValue: sv, Critical: true, Chosen: "manual"})
				continue
			}
			chosen = preferServer(cPop, sPop)
		case slices.Contains(visitObservationFields, field):
			chosen = preferClient(cPop, sPop)
		case slices.Contains(visitAdministrativeFields, field):
			chosen = preferServer(cPop, sPop)
		default:
			chosen = preferServer(cPop, sPop)
		}
		if chosen == "client" {
			merged.Fields[field] = cv
		}
		if differs {
			conflicts = append(conflicts, FieldConflict{Field: field, ClientValue: cv, ServerValue: sv, Chosen: chosen})
		}
	}

	if manual {
		meta["reason"] = "critical visit fields differ"
		return r.manual(server, conflicts, meta)
	}
	return Resolution{
		Strategy:       StrategyMerge,
		Resolved:       merged,
		FieldConflicts: conflicts,
		Metadata:       meta,
	}
}

func (r *Resolver) resolveTask(client, server *models.Record, meta map[string]any) Resolution {
	clientDone, serverDone := taskCompleted(client), taskCompleted(server)
	switch {
	case clientDone && !serverDone:
		meta["reason"] = "task completed on device"
		return r.take(StrategyClientWins, client, server, "client", meta)
	case serverDone && !clientDone:
		meta["reason"] = "task completed on server but not on device"
		return r.manual(server, []FieldConflict{{
			Field:       "completed",
			ClientValue: false,
			ServerValue: true,
			Critical:    true,
		}}, meta)
	}
	return r.take(StrategyServerWins, client, server, "server", meta)
}

// diff lists the fields whose values differ. Fields listed in critical are
// marked critical; a nil critical list marks none.
func (r *Resolver) diff(client, server *models.Record, critical []string) []FieldConflict {
	var out []FieldConflict
	for _, field := range unionKeys(client.Fields, server.Fields) {
		cv, sv := client.Fields[field], server.Fields[field]
		if r.equal(field, cv, sv) {
			continue
		}
		out = append(out, FieldConflict{
			Field:       field,
			ClientValue: cv,
			ServerValue: sv,
			Critical:    slices.Contains(critical, field),
		})
	}
	return out
}

// equal compares two field values with the resolver's tolerances. Timestamps
// may arrive as time.Time or RFC 3339 strings; coordinates compare within
// CoordinateEpsilon by field name.
func (r *Resolver) equal(field string, a, b any) bool {
	if !populated(a) && !populated(b) {
		return true
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			d := ta.Sub(tb)
			if d < 0 {
				d = -d
			}
			return d <= r.TimeEpsilon
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			eps := 1e-9
			if isCoordinate(field) {
				eps = r.CoordinateEpsilon
			}
			return math.Abs(fa-fb) <= eps
		}
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		for _, k := range unionKeys(av, bv) {
			if !r.equal(k, av[k], bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !r.equal(field, av[i], bv[i]) {
				return false
			}
		}
		return true
	case string:
		bs, ok := b.(string)
		return ok && strings.TrimSpace(av) == strings.TrimSpace(bs)
	}
	return reflect.DeepEqual(a, b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isCoordinate(field string) bool {
	f := strings.ToLower(field)
	return strings.Contains(f, "latitude") || strings.Contains(f, "longitude") ||
		f == "lat" || f == "lon" || f == "lng"
}

func populated(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

func taskCompleted(rec *models.Record) bool {
	if done, ok := rec.Fields["completed"].(bool); ok && done {
		return true
	}
	if status, ok := rec.Fields["status"].(string); ok {
		switch strings.ToUpper(strings.TrimSpace(status)) {
		case "COMPLETED", "COMPLETE", "DONE":
			return true
		}
	}
	return populated(rec.Fields["completed_at"])
}

func preferClient(cPop, sPop bool) string {
	if cPop || !sPop {
		return "client"
	}
	return "server"
}

func preferServer(cPop, sPop bool) string {
	if sPop || !cPop {
		return "server"
	}
	return "client"
}

func hasCritical(conflicts []FieldConflict) bool {
	for _, c := range conflicts {
		if c.Critical {
			return true
		}
	}
	return false
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func nonNil(c []FieldConflict) []FieldConflict {
	if c == nil {
		return []FieldConflict{}
	}
	return c
}
