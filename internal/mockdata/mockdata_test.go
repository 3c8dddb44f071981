package mockdata

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"kerrokantasi/api/internal/app"
	"kerrokantasi/api/internal/store"
)

type fakeService struct {
	inputs []app.HearingInput
}

func (f *fakeService) CreateHearing(_ context.Context, actor app.Actor, input app.HearingInput) (app.HearingView, error) {
	if !actor.IsAdmin() {
		return app.HearingView{}, context.Canceled
	}
	f.inputs = append(f.inputs, input)
	return app.HearingView{ID: fmt.Sprintf("h-%d", len(f.inputs))}, nil
}

type fakeStore struct {
	users  map[string]store.User
	labels []store.Label
	admins []string
}

func (f *fakeStore) UpsertUser(_ context.Context, user store.User) (store.User, error) {
	if f.users == nil {
		f.users = map[string]store.User{}
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) EnsureOrganization(_ context.Context, name string) (store.Organization, error) {
	return store.Organization{ID: 1, Name: name}, nil
}

func (f *fakeStore) AddOrganizationAdmin(_ context.Context, _ int64, userID string) error {
	f.admins = append(f.admins, userID)
	return nil
}

func (f *fakeStore) InsertLabel(_ context.Context, label store.Label) (store.Label, error) {
	label.ID = int64(len(f.labels) + 1)
	f.labels = append(f.labels, label)
	return label, nil
}

func populate(t *testing.T, opts Options) (*fakeService, *fakeStore, Result) {
	t.Helper()
	svc := &fakeService{}
	st := &fakeStore{}
	gen := New(svc, st, nil)
	gen.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	result, err := gen.Populate(context.Background(), opts)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	return svc, st, result
}

func TestPopulateCounts(t *testing.T) {
	svc, st, result := populate(t, Options{Users: 5, Labels: 3, Hearings: 4, Seed: 42})

	if len(result.Users) != 5 || len(result.Labels) != 3 || len(result.Hearings) != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
	// five mock users plus the admin
	if len(st.users) != 6 {
		t.Fatalf("expected 6 users, got %d", len(st.users))
	}
	if len(st.admins) != 1 || st.admins[0] != AdminUserID {
		t.Fatalf("expected mock admin to administer the organization, got %v", st.admins)
	}

	for i, input := range svc.inputs {
		if input.Sections == nil || len(*input.Sections) == 0 {
			t.Fatalf("hearing %d has no sections", i)
		}
		if (*input.Sections)[0].Type != "main" {
			t.Fatalf("hearing %d: first section is %q", i, (*input.Sections)[0].Type)
		}
		if input.OpenAt == nil || input.CloseAt == nil || !input.CloseAt.After(*input.OpenAt) {
			t.Fatalf("hearing %d has an invalid schedule", i)
		}
		var title map[string]string
		if err := json.Unmarshal(input.Title, &title); err != nil || title["fi"] == "" {
			t.Fatalf("hearing %d has no Finnish title: %s", i, input.Title)
		}
	}
}

func TestPopulateIsReproducibleWithSeed(t *testing.T) {
	first, _, _ := populate(t, Options{Labels: 2, Hearings: 3, Seed: 7})
	second, _, _ := populate(t, Options{Labels: 2, Hearings: 3, Seed: 7})

	for i := range first.inputs {
		if string(first.inputs[i].Title) != string(second.inputs[i].Title) {
			t.Fatalf("hearing %d differs between runs: %s vs %s", i, first.inputs[i].Title, second.inputs[i].Title)
		}
	}
}

func TestPopulateNothing(t *testing.T) {
	svc, st, result := populate(t, Options{})
	if len(svc.inputs) != 0 || len(st.labels) != 0 || len(result.Users) != 0 {
		t.Fatalf("expected only the admin to be written, got %+v", result)
	}
}
