package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"kerrokantasi/api/internal/store"
)

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*f = flexID(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("id must be a string or a number")
	}
	*f = flexID(number.String())
	return nil
}

func (f flexID) String() string { return string(f) }

func (f flexID) Int64() (int64, bool) {
	if f == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type idRef struct {
	ID flexID `json:"id"`
}

// HearingInput is the deep hearing document accepted by create and update.
// Absent fields keep their stored values.
type HearingInput struct {
	ID             *string         `json:"id"`
	Slug           *string         `json:"slug"`
	Title          json.RawMessage `json:"title"`
	Abstract       json.RawMessage `json:"abstract"`
	Borough        json.RawMessage `json:"borough"`
	OpenAt         *time.Time      `json:"open_at"`
	CloseAt        *time.Time      `json:"close_at"`
	Published      *bool           `json:"published"`
	ForceClosed    *bool           `json:"force_closed"`
	ServicemapURL  *string         `json:"servicemap_url"`
	Labels         *[]idRef        `json:"labels"`
	ContactPersons *[]idRef        `json:"contact_persons"`
	Organization   *string         `json:"organization"`
	Project        json.RawMessage `json:"project"`
	GeoJSON        json.RawMessage `json:"geojson"`
	Sections       *[]SectionInput `json:"sections"`
}

type SectionInput struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	Title              json.RawMessage `json:"title"`
	Abstract           json.RawMessage `json:"abstract"`
	Content            json.RawMessage `json:"content"`
	Commenting         *string         `json:"commenting"`
	Voting             *string         `json:"voting"`
	CommentingMapTools *string         `json:"commenting_map_tools"`
	PluginIdentifier   *string         `json:"plugin_identifier"`
	PluginData         *string         `json:"plugin_data"`
	PluginIframeURL    *string         `json:"plugin_iframe_url"`
	PluginFullscreen   *bool           `json:"plugin_fullscreen"`
	Published          *bool           `json:"published"`
	Images             []ImageInput    `json:"images"`
	Files              []FileInput     `json:"files"`
	Questions          []PollInput     `json:"questions"`
}

type ImageInput struct {
	ID               flexID          `json:"id"`
	ReferenceID      flexID          `json:"reference_id"`
	Title            json.RawMessage `json:"title"`
	Caption          json.RawMessage `json:"caption"`
	AltText          json.RawMessage `json:"alt_text"`
	PhotographerName *string         `json:"photographer_name"`
	Image            string          `json:"image"`
}

type FileInput struct {
	ID          flexID          `json:"id"`
	ReferenceID flexID          `json:"reference_id"`
	Title       json.RawMessage `json:"title"`
	Caption     json.RawMessage `json:"caption"`
	File        string          `json:"file"`
}

type PollInput struct {
	ID                flexID            `json:"id"`
	Type              string            `json:"type"`
	Text              json.RawMessage   `json:"text"`
	IsIndependentPoll bool              `json:"is_independent_poll"`
	Options           []PollOptionInput `json:"options"`
}

type PollOptionInput struct {
	ID   flexID          `json:"id"`
	Text json.RawMessage `json:"text"`
}

type ProjectInput struct {
	ID     flexID          `json:"id"`
	Title  json.RawMessage `json:"title"`
	Phases []PhaseInput    `json:"phases"`
}

type PhaseInput struct {
	ID          flexID          `json:"id"`
	Title       json.RawMessage `json:"title"`
	Description json.RawMessage `json:"description"`
	Schedule    json.RawMessage `json:"schedule"`
	IsActive    bool            `json:"is_active"`
}

type LabelView struct {
	ID    int64             `json:"id"`
	Label map[string]string `json:"label"`
}

type ContactPersonView struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Title        map[string]string `json:"title"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	Organization *string           `json:"organization"`
}

type PhaseView struct {
	ID          int64             `json:"id"`
	Title       map[string]string `json:"title"`
	Description map[string]string `json:"description"`
	Schedule    map[string]string `json:"schedule"`
	IsActive    bool              `json:"is_active"`
	HasHearings bool              `json:"has_hearings"`
}

type ProjectView struct {
	ID         int64             `json:"id"`
	Identifier *string           `json:"identifier"`
	Title      map[string]string `json:"title"`
	Phases     []PhaseView       `json:"phases"`
}

type OrganizationView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ImageView struct {
	ID               int64             `json:"id"`
	Ordering         int               `json:"ordering"`
	Title            map[string]string `json:"title"`
	Caption          map[string]string `json:"caption"`
	AltText          map[string]string `json:"alt_text"`
	PhotographerName string            `json:"photographer_name"`
	URL              string            `json:"url"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
}

type FileView struct {
	ID          int64             `json:"id"`
	Ordering    int               `json:"ordering"`
	Title       map[string]string `json:"title"`
	Caption     map[string]string `json:"caption"`
	URL         string            `json:"url"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
}

type PollOptionView struct {
	ID       int64             `json:"id"`
	Ordering int               `json:"ordering"`
	Text     map[string]string `json:"text"`
	NAnswers int               `json:"n_answers"`
}

type PollView struct {
	ID                int64             `json:"id"`
	Type              string            `json:"type"`
	Ordering          int               `json:"ordering"`
	Text              map[string]string `json:"text"`
	IsIndependentPoll bool              `json:"is_independent_poll"`
	NAnswers          int               `json:"n_answers"`
	Options           []PollOptionView  `json:"options"`
}

type SectionView struct {
	ID                 string            `json:"id"`
	Type               string            `json:"type"`
	Ordering           int               `json:"ordering"`
	Title              map[string]string `json:"title"`
	Abstract           map[string]string `json:"abstract"`
	Content            map[string]string `json:"content"`
	Commenting         string            `json:"commenting"`
	Voting             string            `json:"voting"`
	CommentingMapTools string            `json:"commenting_map_tools"`
	Published          bool              `json:"published"`
	NComments          int               `json:"n_comments"`
	PluginIdentifier   string            `json:"plugin_identifier"`
	PluginData         string            `json:"plugin_data"`
	PluginIframeURL    string            `json:"plugin_iframe_url"`
	PluginFullscreen   bool              `json:"plugin_fullscreen"`
	Images             []ImageView       `json:"images"`
	Files              []FileView        `json:"files"`
	Questions          []PollView        `json:"questions"`
}

type HearingView struct {
	ID             string              `json:"id"`
	Slug           string              `json:"slug"`
	Title          map[string]string   `json:"title"`
	Abstract       map[string]string   `json:"abstract"`
	Borough        map[string]string   `json:"borough"`
	OpenAt         time.Time           `json:"open_at"`
	CloseAt        time.Time           `json:"close_at"`
	CreatedAt      time.Time           `json:"created_at"`
	ForceClosed    bool                `json:"force_closed"`
	Published      bool                `json:"published"`
	ServicemapURL  string              `json:"servicemap_url"`
	Labels         []LabelView         `json:"labels"`
	ContactPersons []ContactPersonView `json:"contact_persons,omitempty"`
	Organization   *string             `json:"organization"`
	Project        *ProjectView        `json:"project,omitempty"`
	GeoJSON        json.RawMessage     `json:"geojson,omitempty"`
	Sections       []SectionView       `json:"sections,omitempty"`
	NComments      int                 `json:"n_comments"`
	Closed         bool                `json:"closed"`
	PreviewURL     string              `json:"preview_url,omitempty"`
}

type CommentImageView struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Caption string `json:"caption"`
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type AnswerView struct {
	Question int64   `json:"question"`
	Type     string  `json:"type"`
	Answers  []int64 `json:"answers"`
}

type CommentView struct {
	ID               int64              `json:"id"`
	Section          string             `json:"section"`
	Hearing          string             `json:"hearing"`
	Comment          *int64             `json:"comment"`
	Content          string             `json:"content"`
	AuthorName       *string            `json:"author_name"`
	PluginIdentifier string             `json:"plugin_identifier"`
	PluginData       string             `json:"plugin_data"`
	Label            *LabelView         `json:"label"`
	GeoJSON          json.RawMessage    `json:"geojson"`
	MapCommentText   string             `json:"map_comment_text"`
	LanguageCode     string             `json:"language_code"`
	ReplyTo          string             `json:"reply_to"`
	Pinned           bool               `json:"pinned"`
	Edited           bool               `json:"edited"`
	Moderated        bool               `json:"moderated"`
	Flagged          bool               `json:"flagged"`
	Deleted          bool               `json:"deleted"`
	DeletedByType    *string            `json:"deleted_by_type"`
	NComments        int                `json:"n_comments"`
	NVotes           int                `json:"n_votes"`
	HasVoted         bool               `json:"has_voted"`
	IsRegistered     bool               `json:"is_registered"`
	CanEdit          bool               `json:"can_edit"`
	CanDelete        bool               `json:"can_delete"`
	CreatorName      string             `json:"creator_name"`
	CreatorEmail     string             `json:"creator_email,omitempty"`
	Organization     *string            `json:"organization"`
	Images           []CommentImageView `json:"images"`
	Answers          []AnswerView       `json:"answers"`
	CreatedAt        time.Time          `json:"created_at"`
}

type RevisionView struct {
	ID        int64           `json:"revision_id"`
	CreatedAt time.Time       `json:"created_at"`
	Actor     *string         `json:"actor"`
	Snapshot  json.RawMessage `json:"field_snapshot"`
}

func (s *Service) downloadURL(kind string, id int64) string {
	return s.config.PublicURL + "/v1/download/" + kind + "/" + strconv.FormatInt(id, 10)
}

func (s *Service) labelView(label store.Label) LabelView {
	return LabelView{ID: label.ID, Label: s.languages.Serialize(label.Label)}
}

func (s *Service) contactView(c store.ContactPerson) ContactPersonView {
	return ContactPersonView{
		ID:           c.ID,
		Name:         c.Name,
		Title:        s.languages.Serialize(c.Title),
		Phone:        c.Phone,
		Email:        c.Email,
		Organization: optionalString(c.Organization),
	}
}

func (s *Service) projectView(project store.Project, activePhase *int64, inUse map[int64]bool) ProjectView {
	view := ProjectView{
		ID:         project.ID,
		Identifier: project.Identifier,
		Title:      s.languages.Serialize(project.Title),
		Phases:     make([]PhaseView, 0, len(project.Phases)),
	}
	for _, phase := range project.Phases {
		view.Phases = append(view.Phases, PhaseView{
			ID:          phase.ID,
			Title:       s.languages.Serialize(phase.Title),
			Description: s.languages.Serialize(phase.Description),
			Schedule:    s.languages.Serialize(phase.Schedule),
			IsActive:    activePhase != nil && *activePhase == phase.ID,
			HasHearings: inUse[phase.ID],
		})
	}
	return view
}

func (s *Service) imageView(image store.SectionImage) ImageView {
	return ImageView{
		ID:               image.ID,
		Ordering:         image.Ordering,
		Title:            s.languages.Serialize(image.Title),
		Caption:          s.languages.Serialize(image.Caption),
		AltText:          s.languages.Serialize(image.AltText),
		PhotographerName: image.PhotographerName,
		URL:              s.downloadURL("sectionimage", image.ID),
		Width:            image.Width,
		Height:           image.Height,
	}
}

func (s *Service) fileView(file store.SectionFile) FileView {
	return FileView{
		ID:          file.ID,
		Ordering:    file.Ordering,
		Title:       s.languages.Serialize(file.Title),
		Caption:     s.languages.Serialize(file.Caption),
		URL:         s.downloadURL("sectionfile", file.ID),
		Size:        file.Size,
		ContentType: file.ContentType,
	}
}

func (s *Service) pollView(poll store.Poll) PollView {
	view := PollView{
		ID:                poll.ID,
		Type:              poll.Type,
		Ordering:          poll.Ordering,
		Text:              s.languages.Serialize(poll.Text),
		IsIndependentPoll: poll.IsIndependent,
		NAnswers:          poll.NAnswers,
		Options:           make([]PollOptionView, 0, len(poll.Options)),
	}
	for _, option := range poll.Options {
		view.Options = append(view.Options, PollOptionView{
			ID:       option.ID,
			Ordering: option.Ordering,
			Text:     s.languages.Serialize(option.Text),
			NAnswers: option.NAnswers,
		})
	}
	return view
}

// sectionTree is a hearing's sections with their children, keyed by
// section id.
type sectionTree struct {
	sections []store.Section
	images   map[string][]store.SectionImage
	files    map[string][]store.SectionFile
	polls    map[string][]store.Poll
}

func (s *Service) loadSectionTree(ctx context.Context, hearingID string, scope store.Scope) (*sectionTree, error) {
	sections, err := s.store.ListSections(ctx, hearingID, scope)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sections))
	for _, section := range sections {
		ids = append(ids, section.ID)
	}
	tree := &sectionTree{
		sections: sections,
		images:   map[string][]store.SectionImage{},
		files:    map[string][]store.SectionFile{},
		polls:    map[string][]store.Poll{},
	}
	images, err := s.store.ListSectionImages(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	for _, image := range images {
		tree.images[image.SectionID] = append(tree.images[image.SectionID], image)
	}
	files, err := s.store.ListSectionFiles(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.SectionID != nil {
			tree.files[*file.SectionID] = append(tree.files[*file.SectionID], file)
		}
	}
	polls, err := s.store.ListPolls(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	for _, poll := range polls {
		tree.polls[poll.SectionID] = append(tree.polls[poll.SectionID], poll)
	}
	return tree, nil
}

func (s *Service) sectionView(section store.Section, tree *sectionTree) SectionView {
	view := SectionView{
		ID:                 section.ID,
		Type:               section.Type,
		Ordering:           section.Ordering,
		Title:              s.languages.Serialize(section.Title),
		Abstract:           s.languages.Serialize(section.Abstract),
		Content:            s.languages.Serialize(section.Content),
		Commenting:         section.Commenting,
		Voting:             section.Voting,
		CommentingMapTools: section.CommentingMapTools,
		Published:          section.Published,
		NComments:          section.NComments,
		PluginIdentifier:   section.PluginIdentifier,
		PluginData:         section.PluginData,
		PluginIframeURL:    section.PluginIframeURL,
		PluginFullscreen:   section.PluginFullscreen,
		Images:             []ImageView{},
		Files:              []FileView{},
		Questions:          []PollView{},
	}
	for _, image := range tree.images[section.ID] {
		view.Images = append(view.Images, s.imageView(image))
	}
	for _, file := range tree.files[section.ID] {
		view.Files = append(view.Files, s.fileView(file))
	}
	for _, poll := range tree.polls[section.ID] {
		view.Questions = append(view.Questions, s.pollView(poll))
	}
	return view
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
