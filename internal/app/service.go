package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"kerrokantasi/api/internal/auth"
	"kerrokantasi/api/internal/config"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/plugin"
	"kerrokantasi/api/internal/search"
	"kerrokantasi/api/internal/session"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
)

type dataStore interface {
	Ping(context.Context) error
	InTx(context.Context, func(context.Context) error) error

	UpsertUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	UpdateUserNickname(context.Context, string, string) error
	AdminOrganizations(context.Context, string) ([]store.Organization, error)
	ListOrganizations(context.Context) ([]store.Organization, error)
	GetOrganizationByName(context.Context, string) (store.Organization, error)

	ListLabels(context.Context) ([]store.Label, error)
	InsertLabel(context.Context, store.Label) (store.Label, error)
	ExistingLabelIDs(context.Context, []int64) (map[int64]bool, error)
	ListContactPersons(context.Context) ([]store.ContactPerson, error)
	GetContactPerson(context.Context, int64) (store.ContactPerson, error)
	InsertContactPerson(context.Context, store.ContactPerson) (store.ContactPerson, error)
	UpdateContactPerson(context.Context, store.ContactPerson) (bool, error)
	ExistingContactPersonIDs(context.Context, []int64) (map[int64]bool, error)
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, int64) (store.Project, error)
	GetPhase(context.Context, int64) (store.ProjectPhase, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProject(context.Context, store.Project) error
	InsertPhase(context.Context, store.ProjectPhase) (store.ProjectPhase, error)
	UpdatePhase(context.Context, store.ProjectPhase) error
	SoftDeletePhase(context.Context, int64, *string) error
	PhasesInUse(context.Context, []int64, string) (map[int64]bool, error)

	ListHearings(context.Context, store.HearingFilter) ([]store.Hearing, error)
	GetHearing(context.Context, string) (store.Hearing, error)
	HearingExists(context.Context, string) (bool, error)
	SlugTaken(context.Context, string, string) (bool, error)
	InsertHearing(context.Context, store.Hearing) error
	UpdateHearing(context.Context, store.Hearing) error
	SoftDeleteHearing(context.Context, string, *string) (bool, error)
	HearingLabels(context.Context, []string) (map[string][]store.Label, error)
	SetHearingLabels(context.Context, string, []int64) error
	HearingContactPersons(context.Context, string) ([]store.ContactPerson, error)
	SetHearingContactPersons(context.Context, string, []int64) error
	FollowHearing(context.Context, string, string) (bool, error)
	UnfollowHearing(context.Context, string, string) (bool, error)
	FollowedHearingIDs(context.Context, string) (map[string]bool, error)
	RecacheHearingComments(context.Context, string) error

	ListSections(context.Context, string, store.Scope) ([]store.Section, error)
	GetSection(context.Context, string) (store.Section, error)
	InsertSection(context.Context, store.Section) error
	UpdateSection(context.Context, store.Section) error
	SoftDeleteSection(context.Context, string, *string) error
	CompactSectionOrdering(context.Context, string) error
	RecacheSectionComments(context.Context, string) error
	ListSectionImages(context.Context, []string, store.Scope) ([]store.SectionImage, error)
	GetSectionImage(context.Context, int64) (store.SectionImage, error)
	InsertSectionImage(context.Context, store.SectionImage) (store.SectionImage, error)
	UpdateSectionImage(context.Context, store.SectionImage) error
	SoftDeleteSectionImage(context.Context, int64, *string) error
	ListSectionFiles(context.Context, []string, store.Scope) ([]store.SectionFile, error)
	GetSectionFile(context.Context, int64) (store.SectionFile, error)
	InsertSectionFile(context.Context, store.SectionFile) (store.SectionFile, error)
	UpdateSectionFile(context.Context, store.SectionFile) error
	SoftDeleteSectionFile(context.Context, int64, *string) error
	ClaimOrphanFiles(context.Context, string, []int64) (int64, error)

	ListPolls(context.Context, []string, store.Scope) ([]store.Poll, error)
	InsertPoll(context.Context, store.Poll) (store.Poll, error)
	UpdatePoll(context.Context, store.Poll) error
	SoftDeletePoll(context.Context, int64, *string) error
	InsertPollOption(context.Context, store.PollOption) (store.PollOption, error)
	UpdatePollOption(context.Context, store.PollOption) error
	SoftDeletePollOption(context.Context, int64, *string) error
	InsertPollAnswer(context.Context, int64, int64, *string) error
	SoftDeleteCommentAnswers(context.Context, int64, []int64, *string) ([]int64, error)
	RecachePolls(context.Context, []int64) error
	CommentAnswers(context.Context, []int64) (map[int64][]store.PollAnswer, error)

	ListComments(context.Context, store.CommentFilter) ([]store.Comment, error)
	GetComment(context.Context, int64) (store.Comment, error)
	LockComment(context.Context, int64) (store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	UpdateComment(context.Context, store.Comment) error
	SoftDeleteComment(context.Context, int64, bool, string, *string) (bool, error)
	RecacheCommentReplies(context.Context, int64) error
	AddVoter(context.Context, int64, string) (bool, error)
	RemoveVoter(context.Context, int64, string) (bool, error)
	IncrementUnregisteredVotes(context.Context, int64) error
	RecacheCommentVotes(context.Context, int64) (int, error)
	VotedCommentIDs(context.Context, string, []int64) (map[int64]bool, error)
	FlagComment(context.Context, int64, *string) (bool, error)
	ListCommentImages(context.Context, []int64) (map[int64][]store.CommentImage, error)
	GetCommentImage(context.Context, int64) (store.CommentImage, error)
	InsertCommentImage(context.Context, store.CommentImage) (store.CommentImage, error)
	SoftDeleteCommentImages(context.Context, int64, *string) error
	InsertCommentRevision(context.Context, store.CommentRevision) error
	ListCommentRevisions(context.Context, int64) ([]store.CommentRevision, error)

	Undelete(context.Context, string, string) (bool, error)
}

// Dependencies are the optional collaborators of a Service. Nil fields get
// in-process defaults.
type Dependencies struct {
	Plugins  *plugin.Registry
	Media    media.Storage
	Denylist session.Denylist
	Search   *search.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	config    config.Config
	store     dataStore
	languages *translation.Languages
	plugins   *plugin.Registry
	preview   *auth.PreviewSigner
	media     media.Storage
	denylist  session.Denylist
	search    *search.Service
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(cfg config.Config, st dataStore, deps Dependencies) (*Service, error) {
	languages, err := translation.NewLanguages(cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("configure languages: %w", err)
	}
	preview, err := auth.NewPreviewSigner(cfg.PreviewSecret, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("configure preview codes: %w", err)
	}
	s := &Service{
		config:    cfg,
		store:     st,
		languages: languages,
		plugins:   deps.Plugins,
		preview:   preview,
		media:     deps.Media,
		denylist:  deps.Denylist,
		search:    deps.Search,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.plugins == nil {
		s.plugins = plugin.DefaultRegistry()
	}
	if s.media == nil {
		s.media = media.NewMemoryStorage()
	}
	if s.denylist == nil {
		s.denylist = session.NewMemoryStore()
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, s.logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Languages() *translation.Languages {
	return s.languages
}

// ActorFromToken verifies a bearer token, records the user on first sight
// and loads the organizations the user administers.
func (s *Service) ActorFromToken(ctx context.Context, token string) (Actor, error) {
	claims, err := auth.ParseToken([]byte(s.config.SecretKey), token)
	if err != nil {
		return Actor{}, err
	}
	if claims.Sub == "" {
		return Actor{}, auth.ErrInvalidToken
	}
	if claims.JTI != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.JTI)
		if err != nil {
			return Actor{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Actor{}, auth.ErrInvalidToken
		}
	}

	first, last, _ := strings.Cut(strings.TrimSpace(claims.Name), " ")
	user, err := s.store.UpsertUser(ctx, store.User{
		ID:        claims.Sub,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     claims.Email,
		IsStaff:   claims.Staff,
	})
	if err != nil {
		return Actor{}, err
	}
	orgs, err := s.store.AdminOrganizations(ctx, user.ID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{
		User:           &user,
		StrongAuth:     claims.HasStrongAuth(),
		AdminOrgs:      orgs,
		TokenJTI:       claims.JTI,
		TokenExpiresAt: claims.ExpiresAt(),
	}, nil
}

// Logout revokes the token the actor authenticated with.
func (s *Service) Logout(ctx context.Context, actor Actor) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	if actor.TokenJTI == "" {
		return nil
	}
	return s.denylist.Revoke(ctx, actor.TokenJTI, actor.TokenExpiresAt)
}

type UserView struct {
	ID                 string    `json:"uuid"`
	Username           string    `json:"username"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Nickname           string    `json:"nickname"`
	Email              string    `json:"email"`
	IsStaff            bool      `json:"is_staff"`
	HasStrongAuth      bool      `json:"has_strong_auth"`
	AdminOrganizations []string  `json:"admin_organizations"`
	FollowedHearings   []string  `json:"followed_hearings"`
	DateJoined         time.Time `json:"date_joined"`
}

func (s *Service) CurrentUser(ctx context.Context, actor Actor) (UserView, error) {
	if !actor.Authenticated() {
		return UserView{}, errUnauthorized()
	}
	user, err := s.store.GetUser(ctx, actor.User.ID)
	if err != nil {
		return UserView{}, err
	}
	followed, err := s.store.FollowedHearingIDs(ctx, user.ID)
	if err != nil {
		return UserView{}, err
	}
	view := UserView{
		ID:                 user.ID,
		Username:           user.Username,
		FirstName:          user.FirstName,
		LastName:           user.LastName,
		Nickname:           user.Nickname,
		Email:              user.Email,
		IsStaff:            actor.Staff(),
		HasStrongAuth:      actor.StrongAuth,
		AdminOrganizations: make([]string, 0, len(actor.AdminOrgs)),
		FollowedHearings:   make([]string, 0, len(followed)),
		DateJoined:         user.DateJoined,
	}
	for _, org := range actor.AdminOrgs {
		view.AdminOrganizations = append(view.AdminOrganizations, org.Name)
	}
	for id := range followed {
		view.FollowedHearings = append(view.FollowedHearings, id)
	}
	slices.Sort(view.FollowedHearings)
	return view, nil
}
