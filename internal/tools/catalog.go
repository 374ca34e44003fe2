package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"khidma/internal/domain"
	"khidma/internal/repo"
)

// catalog returns the fixed set of invocable services. Fees are table-driven;
// handlers degrade to explicit defaults for missing optional arguments and
// surface domain unavailability as results, never as errors.
func catalog() []Definition {
	return []Definition{
		{
			Name:        "renew_license",
			DisplayName: "Renew Driving License",
			Category:    "licensing",
			Description: "Renew an existing driving license for 5 or 10 years.",
			FeeLabel:    "from 200 SAR",
			Fields: []Field{
				{Name: "years", Label: "Renewal period", Type: FieldSelect, Required: true, Options: []string{"5", "10"}},
				{Name: "photo", Label: "Personal photo", Type: FieldImage, Required: true},
			},
			fee: func(args map[string]any) float64 {
				return float64(argYears(args, "years", 5, 10)) * 40
			},
			handler: renewLicense,
		},
		{
			Name:        "issue_license",
			DisplayName: "Issue Driving License",
			Category:    "licensing",
			Description: "Apply for a first-time driving license.",
			FeeLabel:    FreeFee,
			Fields: []Field{
				{Name: "photo", Label: "Personal photo", Type: FieldImage, Required: true},
				{Name: "medical_report", Label: "Medical report", Type: FieldDocument, Required: true},
			},
			handler: issueLicense,
		},
		{
			Name:        "renew_passport",
			DisplayName: "Renew Passport",
			Category:    "identity",
			Description: "Renew a passport for 5 or 10 years.",
			FeeLabel:    "from 300 SAR",
			Fields: []Field{
				{Name: "years", Label: "Renewal period", Type: FieldSelect, Required: true, Options: []string{"5", "10"}},
				{Name: "photo", Label: "Personal photo", Type: FieldImage, Required: true},
			},
			fee: func(args map[string]any) float64 {
				if argYears(args, "years", 5, 10) == 10 {
					return 600
				}
				return 300
			},
			handler: renewPassport,
		},
		{
			Name:        "renew_iqama",
			DisplayName: "Renew Iqama",
			Category:    "identity",
			Description: "Renew a residency permit for one year.",
			FeeLabel:    "650 SAR",
			fee:         func(map[string]any) float64 { return 650 },
			handler:     renewIqama,
		},
		{
			Name:        "exit_reentry_visa",
			DisplayName: "Exit Re-entry Visa",
			Category:    "travel",
			Description: "Issue a single or multiple exit re-entry visa.",
			FeeLabel:    "from 200 SAR",
			Fields: []Field{
				{Name: "type", Label: "Visa type", Type: FieldSelect, Required: true, Options: []string{"single", "multiple"}},
				{Name: "travel_date", Label: "Travel date", Type: FieldDate, Required: false},
			},
			fee: func(args map[string]any) float64 {
				if argString(args, "type", "single") == "multiple" {
					return 500
				}
				return 200
			},
			handler: exitReentryVisa,
		},
		{
			Name:        "renew_vehicle_registration",
			DisplayName: "Renew Vehicle Registration",
			Category:    "vehicles",
			Description: "Renew a vehicle registration for one year.",
			FeeLabel:    "100 SAR",
			Fields: []Field{
				{Name: "plate", Label: "Plate number", Type: FieldText, Required: false},
				{Name: "insurance", Label: "Insurance document", Type: FieldDocument, Required: true},
			},
			fee:     func(map[string]any) float64 { return 100 },
			handler: renewVehicleRegistration,
		},
		{
			Name:        "transfer_vehicle_ownership",
			DisplayName: "Transfer Vehicle Ownership",
			Category:    "vehicles",
			Description: "Transfer a vehicle to a new owner.",
			FeeLabel:    "230 SAR",
			Fields: []Field{
				{Name: "plate", Label: "Plate number", Type: FieldText, Required: true},
				{Name: "new_owner_id", Label: "New owner national ID", Type: FieldText, Required: true},
			},
			fee:     func(map[string]any) float64 { return 230 },
			handler: transferVehicleOwnership,
		},
		{
			Name:        "transfer_sponsorship",
			DisplayName: "Transfer Worker Sponsorship",
			Category:    "labor",
			Description: "Transfer a sponsored worker to a new employer.",
			FeeLabel:    "2000 SAR",
			Fields: []Field{
				{Name: "worker_name", Label: "Worker name", Type: FieldText, Required: true},
				{Name: "new_sponsor_id", Label: "New sponsor ID", Type: FieldText, Required: true},
			},
			fee:     func(map[string]any) float64 { return 2000 },
			handler: transferSponsorship,
		},
		{
			Name:        "pay_violation",
			DisplayName: "Pay Traffic Violation",
			Category:    "traffic",
			Description: "Settle an outstanding traffic violation.",
			FeeLabel:    "varies",
			Fields: []Field{
				{Name: "violation_id", Label: "Violation", Type: FieldViolation, Required: true},
			},
			handler: payViolation,
		},
		{
			Name:        "check_violations",
			DisplayName: "Check Traffic Violations",
			Category:    "traffic",
			Description: "List outstanding traffic violations.",
			FeeLabel:    FreeFee,
			handler:     checkViolations,
		},
		{
			Name:        "book_appointment",
			DisplayName: "Book Appointment",
			Category:    "appointments",
			Description: "Book an in-person appointment at a service office.",
			FeeLabel:    FreeFee,
			Fields: []Field{
				{Name: "office", Label: "Office", Type: FieldSelect, Required: true, Options: []string{"licensing", "passports", "traffic", "labor"}},
				{Name: "date", Label: "Preferred date", Type: FieldDate, Required: true},
				{Name: "notes", Label: "Notes", Type: FieldVoice, Required: false},
			},
			handler: bookAppointment,
		},
		{
			Name:        "search_knowledge",
			DisplayName: "Search Knowledge Base",
			Category:    "information",
			Description: "Look up how a government service works.",
			FeeLabel:    FreeFee,
			Fields: []Field{
				{Name: "query", Label: "Question", Type: FieldText, Required: true},
			},
			handler: searchKnowledge,
		},
	}
}

func renewLicense(ctx context.Context, req request) (domain.ToolResult, error) {
	years := argYears(req.Args, "years", 5, 10)
	doc, err := req.Store.GetDocument(ctx, req.CallerID, "driving_license")
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ToolResult{
			Status:  domain.ResultPending,
			Message: "No driving license is on file. A first-time license requires an in-person training course; book an appointment at a licensing office.",
		}, nil
	}
	if err != nil {
		return domain.ToolResult{}, err
	}
	until := extendValidity(req.Now, doc.ValidUntil, years)
	if err := req.Store.UpdateDocumentValidity(ctx, doc.ID, until); err != nil {
		return domain.ToolResult{}, err
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Driving license %s renewed for %d years, valid until %s.", doc.Number, years, until[:10]),
		Data:    map[string]any{"number": doc.Number, "valid_until": until, "years": years},
		Fee:     req.Fee,
	}, nil
}

func issueLicense(ctx context.Context, req request) (domain.ToolResult, error) {
	// Issuance always needs the in-person training prerequisite, which the
	// system cannot satisfy synchronously.
	return domain.ToolResult{
		Status:  domain.ResultPending,
		Message: "Your application is registered. Issuing a first-time driving license requires completing an in-person training course; you will be contacted to schedule it.",
		Data:    map[string]any{"next_step": "in_person_training"},
	}, nil
}

func renewPassport(ctx context.Context, req request) (domain.ToolResult, error) {
	years := argYears(req.Args, "years", 5, 10)
	doc, err := req.Store.GetDocument(ctx, req.CallerID, "passport")
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ToolResult{
			Status:  domain.ResultPending,
			Message: "No passport is on file. First-time passport issuance requires an in-person visit with your identity documents.",
		}, nil
	}
	if err != nil {
		return domain.ToolResult{}, err
	}
	until := extendValidity(req.Now, doc.ValidUntil, years)
	if err := req.Store.UpdateDocumentValidity(ctx, doc.ID, until); err != nil {
		return domain.ToolResult{}, err
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Passport %s renewed for %d years, valid until %s.", doc.Number, years, until[:10]),
		Data:    map[string]any{"number": doc.Number, "valid_until": until, "years": years},
		Fee:     req.Fee,
	}, nil
}

func renewIqama(ctx context.Context, req request) (domain.ToolResult, error) {
	doc, err := req.Store.GetDocument(ctx, req.CallerID, "iqama")
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "No iqama is on file for this account; this service applies to residents only.",
		}, nil
	}
	if err != nil {
		return domain.ToolResult{}, err
	}
	until := extendValidity(req.Now, doc.ValidUntil, 1)
	if err := req.Store.UpdateDocumentValidity(ctx, doc.ID, until); err != nil {
		return domain.ToolResult{}, err
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Iqama %s renewed, valid until %s.", doc.Number, until[:10]),
		Data:    map[string]any{"number": doc.Number, "valid_until": until},
		Fee:     req.Fee,
	}, nil
}

func exitReentryVisa(ctx context.Context, req request) (domain.ToolResult, error) {
	visaType := argString(req.Args, "type", "single")
	if visaType != "multiple" {
		visaType = "single"
	}
	doc, err := req.Store.GetDocument(ctx, req.CallerID, "iqama")
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "No iqama is on file; exit re-entry visas are issued against a valid residency permit.",
		}, nil
	}
	if err != nil {
		return domain.ToolResult{}, err
	}
	months := 2
	if visaType == "multiple" {
		months = 6
	}
	until := req.Now.AddDate(0, months, 0).Format(time.RFC3339)
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("A %s exit re-entry visa was issued against iqama %s, valid until %s.", visaType, doc.Number, until[:10]),
		Data:    map[string]any{"type": visaType, "iqama": doc.Number, "valid_until": until},
		Fee:     req.Fee,
	}, nil
}

func renewVehicleRegistration(ctx context.Context, req request) (domain.ToolResult, error) {
	vehicle, msg, err := pickVehicle(ctx, req)
	if err != nil {
		return domain.ToolResult{}, err
	}
	if vehicle == nil {
		return domain.ToolResult{Status: domain.ResultSuccess, Message: msg}, nil
	}
	until := extendValidity(req.Now, vehicle.RegistryUntil, 1)
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Registration for %s (%s) renewed, valid until %s.", vehicle.Model, vehicle.Plate, until[:10]),
		Data:    map[string]any{"plate": vehicle.Plate, "model": vehicle.Model, "valid_until": until},
		Fee:     req.Fee,
	}, nil
}

func transferVehicleOwnership(ctx context.Context, req request) (domain.ToolResult, error) {
	vehicle, msg, err := pickVehicle(ctx, req)
	if err != nil {
		return domain.ToolResult{}, err
	}
	if vehicle == nil {
		return domain.ToolResult{Status: domain.ResultSuccess, Message: msg}, nil
	}
	newOwner := argString(req.Args, "new_owner_id", "")
	if newOwner == "" {
		return domain.ToolResult{
			Status:  domain.ResultPending,
			Message: fmt.Sprintf("Transfer of %s (%s) is registered but needs the new owner's national ID to complete.", vehicle.Model, vehicle.Plate),
			Data:    map[string]any{"plate": vehicle.Plate},
		}, nil
	}
	return domain.ToolResult{
		Status:  domain.ResultPending,
		Message: fmt.Sprintf("Ownership transfer of %s (%s) to %s is registered and awaits the new owner's acceptance.", vehicle.Model, vehicle.Plate, newOwner),
		Data:    map[string]any{"plate": vehicle.Plate, "new_owner_id": newOwner},
		Fee:     req.Fee,
	}, nil
}

func transferSponsorship(ctx context.Context, req request) (domain.ToolResult, error) {
	workers, err := req.Store.ListWorkers(ctx, req.CallerID)
	if err != nil {
		return domain.ToolResult{}, err
	}
	if len(workers) == 0 {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "No sponsored workers are on file for this account.",
		}, nil
	}
	name := argString(req.Args, "worker_name", "")
	worker := workers[0]
	if name != "" {
		for _, w := range workers {
			if strings.EqualFold(w.Name, name) {
				worker = w
				break
			}
		}
	}
	return domain.ToolResult{
		Status:  domain.ResultPending,
		Message: fmt.Sprintf("Sponsorship transfer for %s (iqama %s) is registered and awaits the new sponsor's approval.", worker.Name, worker.IqamaNumber),
		Data:    map[string]any{"worker": worker.Name, "iqama_number": worker.IqamaNumber},
		Fee:     req.Fee,
	}, nil
}

func payViolation(ctx context.Context, req request) (domain.ToolResult, error) {
	outstanding, err := req.Store.ListViolations(ctx, req.CallerID, "outstanding")
	if err != nil {
		return domain.ToolResult{}, err
	}
	if len(outstanding) == 0 {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "You have no outstanding traffic violations.",
		}, nil
	}
	id := argString(req.Args, "violation_id", "")
	violation := outstanding[0]
	if id != "" {
		found := false
		for _, v := range outstanding {
			if v.ID == id {
				violation = v
				found = true
				break
			}
		}
		if !found {
			return domain.ToolResult{
				Status:  domain.ResultSuccess,
				Message: fmt.Sprintf("Violation %s is not among your outstanding violations; nothing was paid.", id),
			}, nil
		}
	}
	if err := req.Store.MarkViolationPaid(ctx, violation.ID); err != nil {
		return domain.ToolResult{}, err
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Violation %s (%s) settled for %.0f SAR.", violation.ID, violation.Kind, violation.Amount),
		Data:    map[string]any{"violation_id": violation.ID, "kind": violation.Kind},
		Fee:     violation.Amount,
	}, nil
}

func checkViolations(ctx context.Context, req request) (domain.ToolResult, error) {
	outstanding, err := req.Store.ListViolations(ctx, req.CallerID, "outstanding")
	if err != nil {
		return domain.ToolResult{}, err
	}
	if len(outstanding) == 0 {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "You have no outstanding traffic violations.",
		}, nil
	}
	var total float64
	items := make([]map[string]any, 0, len(outstanding))
	for _, v := range outstanding {
		total += v.Amount
		items = append(items, map[string]any{
			"id":        v.ID,
			"kind":      v.Kind,
			"location":  v.Location,
			"amount":    v.Amount,
			"issued_at": v.IssuedAt,
		})
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("You have %d outstanding violation(s) totalling %.0f SAR.", len(outstanding), total),
		Data:    map[string]any{"violations": items, "total": total},
	}, nil
}

func bookAppointment(ctx context.Context, req request) (domain.ToolResult, error) {
	office := argString(req.Args, "office", "licensing")
	date := argString(req.Args, "date", req.Now.AddDate(0, 0, 7).Format("2006-01-02"))
	ref := uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.CallerID+"|"+office+"|"+date)).String()[:8]
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Appointment booked at the %s office on %s. Reference %s.", office, date, ref),
		Data:    map[string]any{"office": office, "date": date, "reference": ref},
	}, nil
}

const maxKnowledgeResults = 5

func searchKnowledge(ctx context.Context, req request) (domain.ToolResult, error) {
	query := argString(req.Args, "query", "")
	if query == "" {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: "Tell me what service you would like to know about.",
		}, nil
	}
	articles, err := req.Store.SearchArticles(ctx, query, maxKnowledgeResults)
	if err != nil {
		return domain.ToolResult{}, err
	}
	results := make([]map[string]any, 0, maxKnowledgeResults)
	for _, a := range articles {
		results = append(results, map[string]any{"title": a.Title, "content": a.Content, "category": a.Category})
	}
	// Merge in the static service catalog.
	q := strings.ToLower(query)
	for _, d := range req.Catalog {
		if len(results) >= maxKnowledgeResults {
			break
		}
		title := strings.ToLower(d.DisplayName)
		if strings.Contains(title, q) || strings.Contains(q, title) {
			results = append(results, map[string]any{"title": d.DisplayName, "content": d.Description, "category": d.Category})
		}
	}
	if len(results) == 0 {
		return domain.ToolResult{
			Status:  domain.ResultSuccess,
			Message: fmt.Sprintf("I could not find anything about %q in the knowledge base.", query),
		}, nil
	}
	return domain.ToolResult{
		Status:  domain.ResultSuccess,
		Message: fmt.Sprintf("Found %d result(s) for %q.", len(results), query),
		Data:    map[string]any{"results": results},
	}, nil
}

func pickVehicle(ctx context.Context, req request) (*domain.Vehicle, string, error) {
	vehicles, err := req.Store.ListVehicles(ctx, req.CallerID)
	if err != nil {
		return nil, "", err
	}
	if len(vehicles) == 0 {
		return nil, "No vehicles are registered to this account.", nil
	}
	plate := argString(req.Args, "plate", "")
	if plate == "" {
		return &vehicles[0], "", nil
	}
	for i := range vehicles {
		if strings.EqualFold(vehicles[i].Plate, plate) {
			return &vehicles[i], "", nil
		}
	}
	return nil, fmt.Sprintf("No vehicle with plate %s is registered to this account.", plate), nil
}

// extendValidity extends from the current expiry when it is still in the
// future, otherwise from now.
func extendValidity(now time.Time, current string, years int) string {
	base := now
	if t, err := time.Parse(time.RFC3339, current); err == nil && t.After(now) {
		base = t
	}
	return base.AddDate(years, 0, 0).Format(time.RFC3339)
}
