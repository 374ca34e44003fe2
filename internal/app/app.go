// Package app resolves the acting user and seeds the demo civic records the
// tool handlers read from.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"khidma/internal/domain"
	"khidma/internal/repo"
)

// ResolveUser ensures the acting user exists, creating it on the fly. An
// empty override falls back to the local single-user id.
func ResolveUser(ctx context.Context, r repo.Repo, userOverride string) (domain.User, error) {
	userID := userOverride
	if userID == "" {
		userID = "local-user"
	}
	u, err := r.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return u, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureUser(ctx, userID, "", now); err != nil {
		return u, fmt.Errorf("ensure user: %w", err)
	}
	return r.GetUser(ctx, userID)
}

// SeedDemo inserts a representative set of civic records for a user so the
// services have something to act on: outstanding violations, a vehicle,
// sponsored workers, identity documents and knowledge articles. Seeding is
// idempotent per user: it is skipped when the user already has documents.
func SeedDemo(ctx context.Context, r repo.Repo, userID string) error {
	if _, err := r.GetDocument(ctx, userID, "iqama"); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	now := time.Now().UTC()
	ts := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339) }

	documents := []domain.IdentityDocument{
		{ID: uuid.New().String(), UserID: userID, Kind: "iqama", Number: "2431557890", ValidUntil: ts(90 * 24 * time.Hour)},
		{ID: uuid.New().String(), UserID: userID, Kind: "passport", Number: "P04821663", ValidUntil: ts(400 * 24 * time.Hour)},
		{ID: uuid.New().String(), UserID: userID, Kind: "driving_license", Number: "DL-7734021", ValidUntil: ts(30 * 24 * time.Hour)},
	}
	for _, d := range documents {
		if err := r.InsertDocument(ctx, d); err != nil {
			return fmt.Errorf("seed document %s: %w", d.Kind, err)
		}
	}

	violations := []domain.Violation{
		{ID: uuid.New().String(), UserID: userID, Kind: "Speeding", Location: "King Fahd Road, Riyadh", Amount: 300, Status: "outstanding", IssuedAt: ts(-20 * 24 * time.Hour)},
		{ID: uuid.New().String(), UserID: userID, Kind: "Parking", Location: "Olaya Street, Riyadh", Amount: 150, Status: "outstanding", IssuedAt: ts(-8 * 24 * time.Hour)},
		{ID: uuid.New().String(), UserID: userID, Kind: "Red light", Location: "Airport Road, Dammam", Amount: 500, Status: "paid", IssuedAt: ts(-60 * 24 * time.Hour)},
	}
	for _, v := range violations {
		if err := r.InsertViolation(ctx, v); err != nil {
			return fmt.Errorf("seed violation: %w", err)
		}
	}

	vehicles := []domain.Vehicle{
		{ID: uuid.New().String(), UserID: userID, Plate: "ABC 1234", Model: "Toyota Camry 2021", RegistryUntil: ts(45 * 24 * time.Hour)},
	}
	for _, v := range vehicles {
		if err := r.InsertVehicle(ctx, v); err != nil {
			return fmt.Errorf("seed vehicle: %w", err)
		}
	}

	workers := []domain.Worker{
		{ID: uuid.New().String(), SponsorID: userID, Name: "Rajesh Kumar", Nationality: "India", IqamaNumber: "2298114407"},
		{ID: uuid.New().String(), SponsorID: userID, Name: "Ahmed Hassan", Nationality: "Egypt", IqamaNumber: "2305992216"},
	}
	for _, w := range workers {
		if err := r.InsertWorker(ctx, w); err != nil {
			return fmt.Errorf("seed worker: %w", err)
		}
	}

	articles := []domain.Article{
		{ID: uuid.New().String(), Title: "Iqama renewal", Category: "residency", Content: "Iqama renewal requires valid health insurance and settled traffic violations. The fee is 650 SAR per year and renewal can be completed online."},
		{ID: uuid.New().String(), Title: "Exit re-entry visa", Category: "residency", Content: "A single exit re-entry visa costs 200 SAR and is valid for two months. A multiple visa costs 500 SAR and is valid for six months. The iqama must remain valid for the whole travel period."},
		{ID: uuid.New().String(), Title: "Driving license renewal", Category: "traffic", Content: "Driving licenses renew for 5 or 10 years at 40 SAR per year. Outstanding traffic violations must be paid before renewal."},
		{ID: uuid.New().String(), Title: "Transfer of sponsorship", Category: "labor", Content: "Transferring a worker's sponsorship costs 2000 SAR and requires approval from the current sponsor unless the contract has expired."},
		{ID: uuid.New().String(), Title: "Vehicle registration", Category: "traffic", Content: "Annual vehicle registration renewal costs 100 SAR and requires a valid periodic inspection certificate and insurance."},
	}
	for _, a := range articles {
		if err := r.InsertArticle(ctx, a); err != nil {
			return fmt.Errorf("seed article: %w", err)
		}
	}
	return nil
}
