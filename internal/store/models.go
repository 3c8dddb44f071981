package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"kerrokantasi/api/internal/translation"
)

// Meta carries the bookkeeping columns shared by every mutable table.
type Meta struct {
	CreatedAt  time.Time
	CreatedBy  *string
	ModifiedAt time.Time
	ModifiedBy *string
	Published  bool
	Deleted    bool
	DeletedAt  *time.Time
	DeletedBy  *string
}

type User struct {
	ID          string
	Username    string
	FirstName   string
	LastName    string
	Nickname    string
	Email       string
	IsStaff     bool
	IsSuperuser bool
	DateJoined  time.Time
	LastLogin   *time.Time
}

func (u User) AuditID() string { return u.ID }

// DisplayName prefers the full name, then the nickname.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Nickname
}

type Organization struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Label struct {
	ID    int64
	Label translation.Text
	Meta
}

func (l Label) AuditID() string { return strconv.FormatInt(l.ID, 10) }

type ContactPerson struct {
	ID             int64
	Name           string
	Title          translation.Text
	Phone          string
	Email          string
	OrganizationID *int64
	Organization   string
	Meta
}

func (c ContactPerson) AuditID() string { return strconv.FormatInt(c.ID, 10) }

type Project struct {
	ID         int64
	Identifier *string
	Title      translation.Text
	Phases     []ProjectPhase
	Meta
}

func (p Project) AuditID() string { return strconv.FormatInt(p.ID, 10) }

type ProjectPhase struct {
	ID          int64
	ProjectID   int64
	Title       translation.Text
	Description translation.Text
	Schedule    translation.Text
	Ordering    int
	Meta
}

// BBox is the stored bounding box of a hearing's geometry.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

type Hearing struct {
	ID               string
	Title            translation.Text
	Abstract         translation.Text
	Borough          translation.Text
	Slug             string
	OpenAt           time.Time
	CloseAt          time.Time
	ForceClosed      bool
	ServicemapURL    string
	GeoJSON          json.RawMessage
	Geometry         json.RawMessage
	BBox             *BBox
	OrganizationID   *int64
	OrganizationName string
	ProjectPhaseID   *int64
	NComments        int
	Meta
}

func (h Hearing) AuditID() string { return h.ID }

// Closed reports whether commenting has ended or not yet begun.
func (h Hearing) Closed(now time.Time) bool {
	if h.ForceClosed {
		return true
	}
	return now.Before(h.OpenAt) || !now.Before(h.CloseAt)
}

// Visible reports whether non-admins may see the hearing.
func (h Hearing) Visible(now time.Time) bool {
	return !h.Deleted && h.Published && !now.Before(h.OpenAt)
}

type Section struct {
	ID                 string
	HearingID          string
	Ordering           int
	Type               string
	Title              translation.Text
	Abstract           translation.Text
	Content            translation.Text
	Voting             string
	Commenting         string
	CommentingMapTools string
	PluginIdentifier   string
	PluginData         string
	PluginIframeURL    string
	PluginFullscreen   bool
	NComments          int
	Meta
}

func (s Section) AuditID() string { return s.ID }

type SectionImage struct {
	ID               int64
	SectionID        string
	Ordering         int
	Title            translation.Text
	Caption          translation.Text
	AltText          translation.Text
	PhotographerName string
	ContentType      string
	ObjectKey        string
	Width            int
	Height           int
	Meta
}

func (i SectionImage) AuditID() string { return strconv.FormatInt(i.ID, 10) }

type SectionFile struct {
	ID          int64
	SectionID   *string
	Ordering    int
	Title       translation.Text
	Caption     translation.Text
	ContentType string
	ObjectKey   string
	Size        int64
	Meta
}

func (f SectionFile) AuditID() string { return strconv.FormatInt(f.ID, 10) }

const (
	PollSingleChoice   = "single-choice"
	PollMultipleChoice = "multiple-choice"
)

type Poll struct {
	ID            int64
	SectionID     string
	Type          string
	Ordering      int
	Text          translation.Text
	IsIndependent bool
	NAnswers      int
	Options       []PollOption
	Meta
}

func (p Poll) AuditID() string { return strconv.FormatInt(p.ID, 10) }

type PollOption struct {
	ID       int64
	PollID   int64
	Ordering int
	Text     translation.Text
	NAnswers int
	Meta
}

func (o PollOption) AuditID() string { return strconv.FormatInt(o.ID, 10) }

type PollAnswer struct {
	ID        int64
	CommentID *int64
	OptionID  int64
	PollID    int64
	Meta
}

type Comment struct {
	ID                 int64
	SectionID          string
	HearingID          string
	ParentID           *int64
	Content            string
	AuthorName         *string
	PluginIdentifier   string
	PluginData         string
	LabelID            *int64
	GeoJSON            json.RawMessage
	MapCommentText     string
	LanguageCode       string
	ReplyTo            string
	Pinned             bool
	Edited             bool
	Moderated          bool
	DeleteReason       string
	FlaggedAt          *time.Time
	FlaggedBy          *string
	OrganizationID     *int64
	OrganizationName   string
	NComments          int
	NVotes             int
	NUnregisteredVotes int
	CreatorName        string
	CreatorEmail       string
	Meta
}

func (c Comment) AuditID() string { return strconv.FormatInt(c.ID, 10) }

type CommentImage struct {
	ID          int64
	CommentID   int64
	Title       string
	Caption     string
	ContentType string
	ObjectKey   string
	Width       int
	Height      int
	Meta
}

func (i CommentImage) AuditID() string { return strconv.FormatInt(i.ID, 10) }

type CommentRevision struct {
	ID        int64
	CommentID int64
	Snapshot  json.RawMessage
	CreatedAt time.Time
	CreatedBy *string
}
