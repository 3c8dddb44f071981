// Package mockdata fills a development database with random users, labels
// and hearings.
package mockdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"kerrokantasi/api/internal/app"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
)

const (
	AdminUserID  = "mock-admin"
	Organization = "Mock-organisaatio"
)

type HearingService interface {
	CreateHearing(ctx context.Context, actor app.Actor, input app.HearingInput) (app.HearingView, error)
}

type Store interface {
	UpsertUser(ctx context.Context, user store.User) (store.User, error)
	EnsureOrganization(ctx context.Context, name string) (store.Organization, error)
	AddOrganizationAdmin(ctx context.Context, organizationID int64, userID string) error
	InsertLabel(ctx context.Context, label store.Label) (store.Label, error)
}

type Options struct {
	Users    int
	Labels   int
	Hearings int
	// Seed makes runs reproducible. Zero picks a random seed.
	Seed uint64
}

type Result struct {
	Users    []string
	Labels   []int64
	Hearings []string
}

type Generator struct {
	service HearingService
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

func New(service HearingService, st Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{service: service, store: st, logger: logger, now: time.Now}
}

var (
	adjectives = []string{"Uusi", "Vihreä", "Turvallinen", "Kaunis", "Esteetön", "Vilkas", "Hiljainen", "Moderni"}
	places     = []string{"puisto", "kirjasto", "tori", "ranta", "koulu", "silta", "katu", "uimahalli", "kenttä"}
	districts  = []string{"Kallio", "Vuosaari", "Töölö", "Malmi", "Kannelmäki", "Herttoniemi", "Pasila"}
	topics     = []string{"Liikenne", "Ympäristö", "Kulttuuri", "Liikunta", "Asuminen", "Koulutus", "Terveys"}
	firstNames = []string{"Aino", "Eero", "Helmi", "Juho", "Kaisa", "Lauri", "Maija", "Onni", "Sanni", "Veikko"}
	lastNames  = []string{"Korhonen", "Virtanen", "Mäkinen", "Nieminen", "Hämäläinen", "Laine", "Heikkinen"}
)

// Populate writes the requested amounts. Hearings go through the hearing
// service so they get the same validation and defaults as API writes.
func (g *Generator) Populate(ctx context.Context, opts Options) (Result, error) {
	var result Result
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	g.logger.Info("populating mock data", "seed", seed, "users", opts.Users, "labels", opts.Labels, "hearings", opts.Hearings)

	actor, err := g.admin(ctx)
	if err != nil {
		return result, err
	}

	for i := 0; i < opts.Users; i++ {
		user, err := g.store.UpsertUser(ctx, store.User{
			ID:        fmt.Sprintf("mock-user-%d-%d", seed%100000, i),
			Username:  fmt.Sprintf("mock%d", i),
			FirstName: pick(rng, firstNames),
			LastName:  pick(rng, lastNames),
		})
		if err != nil {
			return result, fmt.Errorf("create user: %w", err)
		}
		result.Users = append(result.Users, user.ID)
	}

	for i := 0; i < opts.Labels; i++ {
		label, err := g.store.InsertLabel(ctx, store.Label{
			Label: translation.Text{"fi": fmt.Sprintf("%s %d", pick(rng, topics), i+1)},
			Meta:  store.Meta{CreatedBy: actor.UserID()},
		})
		if err != nil {
			return result, fmt.Errorf("create label: %w", err)
		}
		result.Labels = append(result.Labels, label.ID)
	}

	for i := 0; i < opts.Hearings; i++ {
		input, err := g.hearing(rng, result.Labels)
		if err != nil {
			return result, err
		}
		view, err := g.service.CreateHearing(ctx, actor, input)
		if err != nil {
			return result, fmt.Errorf("create hearing %d: %w", i, err)
		}
		result.Hearings = append(result.Hearings, view.ID)
	}
	g.logger.Info("mock data ready", "users", len(result.Users), "labels", len(result.Labels), "hearings", len(result.Hearings))
	return result, nil
}

func (g *Generator) admin(ctx context.Context) (app.Actor, error) {
	user, err := g.store.UpsertUser(ctx, store.User{ID: AdminUserID, Username: "mockadmin", FirstName: "Mock", LastName: "Admin"})
	if err != nil {
		return app.Actor{}, fmt.Errorf("create admin: %w", err)
	}
	org, err := g.store.EnsureOrganization(ctx, Organization)
	if err != nil {
		return app.Actor{}, err
	}
	if err := g.store.AddOrganizationAdmin(ctx, org.ID, user.ID); err != nil {
		return app.Actor{}, err
	}
	return app.Actor{User: &user, AdminOrgs: []store.Organization{org}}, nil
}

func (g *Generator) hearing(rng *rand.Rand, labels []int64) (app.HearingInput, error) {
	place := pick(rng, places)
	district := pick(rng, districts)
	title := fmt.Sprintf("%s %s, %s", pick(rng, adjectives), place, district)
	openAt := g.now().Add(-time.Duration(rng.IntN(30)) * 24 * time.Hour).UTC().Truncate(time.Hour)
	closeAt := openAt.Add(time.Duration(7+rng.IntN(60)) * 24 * time.Hour)

	sections := []map[string]any{{
		"type":       "main",
		"title":      map[string]string{"fi": title},
		"abstract":   map[string]string{"fi": "Kerro mielipiteesi suunnitelmasta."},
		"content":    map[string]string{"fi": paragraph(rng, place, district)},
		"commenting": "open",
		"voting":     "registered",
	}}
	parts := rng.IntN(4)
	for i := 0; i < parts; i++ {
		topic := pick(rng, topics)
		sections = append(sections, map[string]any{
			"type":       "part",
			"title":      map[string]string{"fi": topic},
			"content":    map[string]string{"fi": paragraph(rng, strings.ToLower(topic), district)},
			"commenting": "open",
		})
	}
	if rng.IntN(2) == 0 {
		sections[0]["questions"] = []map[string]any{{
			"type": "single-choice",
			"text": map[string]string{"fi": "Kannatatko suunnitelmaa?"},
			"options": []map[string]any{
				{"text": map[string]string{"fi": "Kyllä"}},
				{"text": map[string]string{"fi": "En"}},
			},
		}}
	}

	doc := map[string]any{
		"title":     map[string]string{"fi": title},
		"abstract":  map[string]string{"fi": fmt.Sprintf("Suunnitelma koskee aluetta %s.", district)},
		"borough":   map[string]string{"fi": district},
		"open_at":   openAt,
		"close_at":  closeAt,
		"published": rng.IntN(5) != 0,
		"sections":  sections,
	}
	if len(labels) > 0 {
		chosen := []map[string]int64{}
		for _, id := range labels {
			if rng.IntN(3) == 0 {
				chosen = append(chosen, map[string]int64{"id": id})
			}
		}
		doc["labels"] = chosen
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return app.HearingInput{}, err
	}
	var input app.HearingInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return app.HearingInput{}, fmt.Errorf("build hearing document: %w", err)
	}
	return input, nil
}

func paragraph(rng *rand.Rand, subject, district string) string {
	sentences := []string{
		fmt.Sprintf("Alueen %s %s uudistetaan.", district, subject),
		"Suunnitelmassa huomioidaan kaikki käyttäjäryhmät.",
		"Rakentaminen alkaa aikaisintaan ensi vuonna.",
		"Työt tehdään vaiheittain.",
		"Asukkaiden palaute vaikuttaa lopulliseen ratkaisuun.",
	}
	rng.Shuffle(len(sentences)-1, func(i, j int) {
		sentences[i+1], sentences[j+1] = sentences[j+1], sentences[i+1]
	})
	return "<p>" + strings.Join(sentences[:2+rng.IntN(3)], " ") + "</p>"
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}
