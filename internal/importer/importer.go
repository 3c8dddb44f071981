// Package importer loads hearing documents from JSON or YAML files and
// writes them through the hearing service.
package importer

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"kerrokantasi/api/internal/app"
	"kerrokantasi/api/internal/store"
)

// OperatorUserID owns everything the importer writes.
const OperatorUserID = "kerrokantasi-importer"

type HearingService interface {
	CreateHearing(ctx context.Context, actor app.Actor, input app.HearingInput) (app.HearingView, error)
	UpdateHearing(ctx context.Context, actor app.Actor, idOrSlug string, input app.HearingInput, partial bool) (app.HearingView, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	UpsertUser(ctx context.Context, user store.User) (store.User, error)
	EnsureOrganization(ctx context.Context, name string) (store.Organization, error)
	AddOrganizationAdmin(ctx context.Context, organizationID int64, userID string) error
	GetHearing(ctx context.Context, idOrSlug string) (store.Hearing, error)
	ListHearings(ctx context.Context, filter store.HearingFilter) ([]store.Hearing, error)
	SoftDeleteHearing(ctx context.Context, id string, actor *string) (bool, error)
}

type Options struct {
	// Force replaces hearings that already exist.
	Force bool
	// Patch merges top-level fields into existing hearings and leaves their
	// sections alone.
	Patch bool
	// Nuke deletes every hearing before the import.
	Nuke bool
	// Organization owns created hearings. Empty leaves them without one.
	Organization string
}

type Report struct {
	Created []string
	Updated []string
	Skipped []string
	Deleted int
}

type Importer struct {
	service HearingService
	store   Store
	logger  *slog.Logger
}

func New(service HearingService, st Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{service: service, store: st, logger: logger}
}

// Decode reads one hearing document, a list of them, or an object with a
// "hearings" list. Files named *.yaml or *.yml are parsed as YAML.
func Decode(name string, data []byte) ([]app.HearingInput, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		data = converted
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}

	if data[0] == '[' {
		var docs []app.HearingInput
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("parse hearings: %w", err)
		}
		return docs, nil
	}
	var wrapper struct {
		Hearings []app.HearingInput `json:"hearings"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if wrapper.Hearings != nil {
		return wrapper.Hearings, nil
	}
	var doc app.HearingInput
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse hearing: %w", err)
	}
	return []app.HearingInput{doc}, nil
}

// Import writes docs in order. A failing document stops the import; the
// report covers what was written before it.
func (im *Importer) Import(ctx context.Context, docs []app.HearingInput, opts Options) (Report, error) {
	var report Report
	if opts.Force && opts.Patch {
		return report, errors.New("force and patch are mutually exclusive")
	}
	actor, err := im.operator(ctx, opts.Organization)
	if err != nil {
		return report, err
	}
	if opts.Nuke {
		deleted, err := im.nuke(ctx, actor)
		if err != nil {
			return report, err
		}
		report.Deleted = deleted
		im.logger.Info("deleted existing hearings", "count", deleted)
	}

	for i, doc := range docs {
		key := documentKey(doc)
		var existing *store.Hearing
		if key != "" {
			hearing, err := im.store.GetHearing(ctx, key)
			switch {
			case err == nil:
				existing = &hearing
			case !errors.Is(err, sql.ErrNoRows):
				return report, fmt.Errorf("look up hearing %s: %w", key, err)
			}
		}

		switch {
		case existing == nil:
			view, err := im.service.CreateHearing(ctx, actor, doc)
			if err != nil {
				return report, fmt.Errorf("create hearing %d (%s): %w", i, key, err)
			}
			report.Created = append(report.Created, view.ID)
			im.logger.Info("hearing created", "id", view.ID, "slug", view.Slug)
		case opts.Patch:
			if doc.Sections != nil {
				im.logger.Warn("patch import ignores sections", "id", existing.ID)
				doc.Sections = nil
			}
			if _, err := im.service.UpdateHearing(ctx, actor, existing.ID, doc, true); err != nil {
				return report, fmt.Errorf("patch hearing %s: %w", existing.ID, err)
			}
			report.Updated = append(report.Updated, existing.ID)
			im.logger.Info("hearing patched", "id", existing.ID)
		case opts.Force:
			if _, err := im.service.UpdateHearing(ctx, actor, existing.ID, doc, false); err != nil {
				return report, fmt.Errorf("replace hearing %s: %w", existing.ID, err)
			}
			report.Updated = append(report.Updated, existing.ID)
			im.logger.Info("hearing replaced", "id", existing.ID)
		default:
			report.Skipped = append(report.Skipped, existing.ID)
			im.logger.Warn("hearing exists, skipping", "id", existing.ID)
		}
	}
	return report, nil
}

func documentKey(doc app.HearingInput) string {
	if doc.ID != nil && strings.TrimSpace(*doc.ID) != "" {
		return strings.TrimSpace(*doc.ID)
	}
	if doc.Slug != nil {
		return strings.TrimSpace(*doc.Slug)
	}
	return ""
}

// operator is a staff actor, optionally administering organization so that
// created hearings belong to it.
func (im *Importer) operator(ctx context.Context, organization string) (app.Actor, error) {
	user, err := im.store.UpsertUser(ctx, store.User{
		ID:        OperatorUserID,
		Username:  "importer",
		FirstName: "Kerrokantasi",
		LastName:  "Importer",
		IsStaff:   true,
	})
	if err != nil {
		return app.Actor{}, fmt.Errorf("upsert importer user: %w", err)
	}
	actor := app.Actor{User: &user}
	if organization = strings.TrimSpace(organization); organization != "" {
		org, err := im.store.EnsureOrganization(ctx, organization)
		if err != nil {
			return app.Actor{}, err
		}
		if err := im.store.AddOrganizationAdmin(ctx, org.ID, user.ID); err != nil {
			return app.Actor{}, err
		}
		actor.AdminOrgs = []store.Organization{org}
	}
	return actor, nil
}

func (im *Importer) nuke(ctx context.Context, actor app.Actor) (int, error) {
	deleted := 0
	err := im.store.InTx(ctx, func(ctx context.Context) error {
		hearings, err := im.store.ListHearings(ctx, store.HearingFilter{Staff: true})
		if err != nil {
			return err
		}
		for _, hearing := range hearings {
			ok, err := im.store.SoftDeleteHearing(ctx, hearing.ID, actor.UserID())
			if err != nil {
				return err
			}
			if ok {
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete existing hearings: %w", err)
	}
	return deleted, nil
}
