package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/geo"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/rbac"
	"kerrokantasi/api/internal/search"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/util"
)

const (
	redactedBySelf      = "This comment was deleted by its author."
	redactedByModerator = "This comment was removed by a moderator."
	anonymousAuthor     = "Anonymous"
)

type CommentInput struct {
	Section        *string              `json:"section"`
	Content        *string              `json:"content"`
	PluginData     *string              `json:"plugin_data"`
	AuthorName     *string              `json:"author_name"`
	ReplyTo        *string              `json:"reply_to"`
	Comment        *flexID              `json:"comment"`
	GeoJSON        json.RawMessage      `json:"geojson"`
	MapCommentText *string              `json:"map_comment_text"`
	Label          *idRef               `json:"label"`
	LanguageCode   *string              `json:"language_code"`
	Images         *[]CommentImageInput `json:"images"`
	Pinned         *bool                `json:"pinned"`
	Answers        *[]AnswerInput       `json:"answers"`
}

type CommentImageInput struct {
	Title   string `json:"title"`
	Caption string `json:"caption"`
	Image   string `json:"image"`
}

type AnswerInput struct {
	Question int64   `json:"question"`
	Type     string  `json:"type"`
	Answers  []int64 `json:"answers"`
}

type CommentListParams struct {
	HearingID   string
	SectionID   string
	ParentID    *int64
	CreatedByMe bool
	LabelID     *int64
	Pinned      *bool
	Ordering    string
	Limit       int
	Offset      int
}

// commentTarget is a section together with its hearing and the actor's
// standing on it.
type commentTarget struct {
	hearing   store.Hearing
	section   store.Section
	moderator bool
}

func (s *Service) commentTarget(ctx context.Context, actor Actor, hearingID, sectionID string) (commentTarget, error) {
	hearing, previewed, err := s.findHearing(ctx, actor, hearingID, "")
	if err != nil {
		return commentTarget{}, err
	}
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return commentTarget{}, errNotFound()
		}
		return commentTarget{}, err
	}
	moderator := actor.AdminOf(hearing.OrganizationID)
	if section.HearingID != hearing.ID || (!section.Published && !moderator && !previewed) {
		return commentTarget{}, errNotFound()
	}
	return commentTarget{hearing: hearing, section: section, moderator: moderator}, nil
}

// loadComment returns a comment, in any deletion state, on a hearing the
// actor can see.
func (s *Service) loadComment(ctx context.Context, actor Actor, id int64) (store.Comment, commentTarget, error) {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, commentTarget{}, errNotFound()
		}
		return store.Comment{}, commentTarget{}, err
	}
	target, err := s.commentTarget(ctx, actor, comment.HearingID, comment.SectionID)
	if err != nil {
		return store.Comment{}, commentTarget{}, err
	}
	return comment, target, nil
}

func isAuthor(actor Actor, comment store.Comment) bool {
	return actor.Authenticated() && comment.CreatedBy != nil && *comment.CreatedBy == actor.User.ID
}

// CreateComment posts a comment on a section after the commenting checks
// pass in order: policy, hearing open, non-empty, plugin data, pinning.
func (s *Service) CreateComment(ctx context.Context, actor Actor, hearingID, sectionID string, input CommentInput) (CommentView, error) {
	target, err := s.commentTarget(ctx, actor, hearingID, sectionID)
	if err != nil {
		return CommentView{}, err
	}
	section := target.section
	if decision := rbac.Check(rbac.Normalize(section.Commenting), actor.subject()); decision != rbac.Allowed {
		return CommentView{}, errPolicy(decision, rbac.ActionComment)
	}
	if target.hearing.Closed(s.now()) {
		return CommentView{}, errHearingClosed()
	}

	comment := store.Comment{
		SectionID:        section.ID,
		HearingID:        section.HearingID,
		Content:          strings.TrimSpace(deref(input.Content)),
		PluginData:       deref(input.PluginData),
		PluginIdentifier: section.PluginIdentifier,
		MapCommentText:   deref(input.MapCommentText),
		ReplyTo:          deref(input.ReplyTo),
	}
	comment.CreatedBy = actor.UserID()
	comment.ModifiedBy = actor.UserID()
	if comment.Content == "" && strings.TrimSpace(comment.PluginData) == "" {
		return CommentView{}, errEmptyComment()
	}
	if comment.PluginData != "" {
		cleaned, err := s.cleanPluginData(section.PluginIdentifier, comment.PluginData)
		if err != nil {
			return CommentView{}, err
		}
		comment.PluginData = cleaned
	}
	if input.Pinned != nil && *input.Pinned {
		if !target.moderator {
			return CommentView{}, errPinNotAllowed()
		}
		comment.Pinned = true
	}

	nickname := ""
	if actor.Authenticated() {
		name, supplied := authenticatedAuthorName(actor, input.AuthorName)
		comment.AuthorName = &name
		if supplied {
			nickname = name
		}
	} else if input.AuthorName != nil && strings.TrimSpace(*input.AuthorName) != "" {
		name := strings.TrimSpace(*input.AuthorName)
		comment.AuthorName = &name
	}

	if input.Comment != nil && *input.Comment != "" {
		parentID, ok := input.Comment.Int64()
		if !ok {
			return CommentView{}, errValidation("Invalid parent comment", map[string]any{"field": "comment"})
		}
		parent, err := s.store.GetComment(ctx, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return CommentView{}, errValidation("Parent comment does not exist", map[string]any{"field": "comment"})
			}
			return CommentView{}, err
		}
		if parent.SectionID != section.ID {
			return CommentView{}, errValidation("Parent comment belongs to another section", map[string]any{"field": "comment"})
		}
		comment.ParentID = &parent.ID
	}

	if err := s.applyCommentExtras(ctx, &comment, input); err != nil {
		return CommentView{}, err
	}
	if input.LanguageCode != nil && s.languages.Known(*input.LanguageCode) {
		comment.LanguageCode = *input.LanguageCode
	} else {
		comment.LanguageCode = s.detectLanguage(section, comment.Content)
	}

	if org := s.commenterOrganization(actor, target.hearing); org != nil {
		comment.OrganizationID = &org.ID
		comment.OrganizationName = org.Name
	}

	images, err := s.decodeCommentImages(input.Images)
	if err != nil {
		return CommentView{}, err
	}
	answers, err := s.validateAnswers(ctx, section.ID, input.Answers)
	if err != nil {
		return CommentView{}, err
	}

	var written []string
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		created, err := s.store.InsertComment(ctx, comment)
		if err != nil {
			return err
		}
		comment.ID = created.ID
		comment.Meta = created.Meta
		if nickname != "" {
			if err := s.store.UpdateUserNickname(ctx, actor.User.ID, nickname); err != nil {
				return err
			}
		}
		keys, err := s.storeCommentImages(ctx, actor, comment.ID, images)
		written = keys
		if err != nil {
			return err
		}
		if err := s.replaceAnswers(ctx, actor, comment.ID, answers, false); err != nil {
			return err
		}
		if err := s.writeRevision(ctx, actor, comment, answers); err != nil {
			return err
		}
		return s.recacheCommentCounts(ctx, comment)
	})
	if err != nil {
		s.discardPayloads(ctx, written)
		return CommentView{}, err
	}

	audit.Track(ctx, comment)
	s.search.IndexComment(s.commentRecord(comment, target.hearing))
	return s.commentDetail(ctx, actor, comment.ID)
}

// UpdateComment edits a comment. Admins of the hearing's organization edit
// through the moderator path, which marks the comment moderated.
func (s *Service) UpdateComment(ctx context.Context, actor Actor, id int64, input CommentInput) (CommentView, error) {
	comment, target, err := s.loadComment(ctx, actor, id)
	if err != nil {
		return CommentView{}, err
	}
	if comment.Deleted {
		return CommentView{}, errNotFound()
	}
	author := isAuthor(actor, comment)
	if !author && !target.moderator {
		return CommentView{}, errPermissionDenied("You may only edit your own comments")
	}
	if target.hearing.Closed(s.now()) {
		return CommentView{}, errHearingClosed()
	}
	if input.Section != nil && *input.Section != "" && *input.Section != comment.SectionID {
		return CommentView{}, errImmutableField("section")
	}
	if input.Comment != nil && *input.Comment != "" {
		parentID, _ := input.Comment.Int64()
		if comment.ParentID == nil || *comment.ParentID != parentID {
			return CommentView{}, errImmutableField("comment")
		}
	}

	if input.Content != nil {
		comment.Content = strings.TrimSpace(*input.Content)
	}
	if input.PluginData != nil {
		comment.PluginData = *input.PluginData
		if comment.PluginData != "" {
			cleaned, err := s.cleanPluginData(comment.PluginIdentifier, comment.PluginData)
			if err != nil {
				return CommentView{}, err
			}
			comment.PluginData = cleaned
		}
	}
	if comment.Content == "" && strings.TrimSpace(comment.PluginData) == "" {
		return CommentView{}, errEmptyComment()
	}
	if input.Pinned != nil {
		if *input.Pinned != comment.Pinned && !target.moderator {
			return CommentView{}, errPinNotAllowed()
		}
		comment.Pinned = *input.Pinned
	}
	if input.ReplyTo != nil {
		comment.ReplyTo = *input.ReplyTo
	}
	if input.MapCommentText != nil {
		comment.MapCommentText = *input.MapCommentText
	}
	nickname := ""
	if author && input.AuthorName != nil {
		name, supplied := authenticatedAuthorName(actor, input.AuthorName)
		comment.AuthorName = &name
		if supplied {
			nickname = name
		}
	}
	if err := s.applyCommentExtras(ctx, &comment, input); err != nil {
		return CommentView{}, err
	}
	if input.LanguageCode != nil && s.languages.Known(*input.LanguageCode) {
		comment.LanguageCode = *input.LanguageCode
	} else if input.Content != nil {
		comment.LanguageCode = s.detectLanguage(target.section, comment.Content)
	}

	comment.Edited = true
	if !author {
		comment.Moderated = true
	}
	comment.ModifiedBy = actor.UserID()

	images, err := s.decodeCommentImages(input.Images)
	if err != nil {
		return CommentView{}, err
	}
	answers, err := s.validateAnswers(ctx, comment.SectionID, input.Answers)
	if err != nil {
		return CommentView{}, err
	}

	var written []string
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockComment(ctx, comment.ID); err != nil {
			return err
		}
		if err := s.store.UpdateComment(ctx, comment); err != nil {
			return err
		}
		if nickname != "" {
			if err := s.store.UpdateUserNickname(ctx, actor.User.ID, nickname); err != nil {
				return err
			}
		}
		if input.Images != nil {
			if err := s.store.SoftDeleteCommentImages(ctx, comment.ID, actor.UserID()); err != nil {
				return err
			}
			keys, err := s.storeCommentImages(ctx, actor, comment.ID, images)
			written = keys
			if err != nil {
				return err
			}
		}
		if input.Answers != nil {
			if err := s.replaceAnswers(ctx, actor, comment.ID, answers, true); err != nil {
				return err
			}
		}
		return s.writeRevision(ctx, actor, comment, answers)
	})
	if err != nil {
		s.discardPayloads(ctx, written)
		return CommentView{}, err
	}

	audit.Track(ctx, comment)
	s.search.IndexComment(s.commentRecord(comment, target.hearing))
	return s.commentDetail(ctx, actor, comment.ID)
}

// DeleteComment soft-deletes and redacts a comment. Authors delete their
// own; admins of the hearing's organization delete as moderators.
func (s *Service) DeleteComment(ctx context.Context, actor Actor, id int64, reason string) error {
	comment, target, err := s.loadComment(ctx, actor, id)
	if err != nil {
		return err
	}
	if comment.Deleted {
		return errNotFound()
	}
	author := isAuthor(actor, comment)
	if !author && !target.moderator {
		return errPermissionDenied("You may only delete your own comments")
	}

	moderated := !author
	if moderated {
		reason = strings.TrimSpace(reason)
	} else {
		reason = ""
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		deleted, err := s.store.SoftDeleteComment(ctx, comment.ID, moderated || comment.Moderated, reason, actor.UserID())
		if err != nil {
			return err
		}
		if !deleted {
			return errNotFound()
		}
		if err := s.store.SoftDeleteCommentImages(ctx, comment.ID, actor.UserID()); err != nil {
			return err
		}
		polls, err := s.store.SoftDeleteCommentAnswers(ctx, comment.ID, nil, actor.UserID())
		if err != nil {
			return err
		}
		if err := s.store.RecachePolls(ctx, polls); err != nil {
			return err
		}
		return s.recacheCommentCounts(ctx, comment)
	})
	if err != nil {
		return err
	}
	audit.Track(ctx, comment)
	s.search.DeleteComment(strconv.FormatInt(comment.ID, 10))
	return nil
}

func (s *Service) GetComment(ctx context.Context, actor Actor, id int64) (CommentView, error) {
	if _, _, err := s.loadComment(ctx, actor, id); err != nil {
		return CommentView{}, err
	}
	return s.commentDetail(ctx, actor, id)
}

func (s *Service) commentDetail(ctx context.Context, actor Actor, id int64) (CommentView, error) {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return CommentView{}, err
	}
	views, err := s.commentViews(ctx, actor, []store.Comment{comment}, true)
	if err != nil {
		return CommentView{}, err
	}
	return views[0], nil
}

// ListSectionComments lists a section's comments after checking the
// section is visible to the actor.
func (s *Service) ListSectionComments(ctx context.Context, actor Actor, hearingID, sectionID string, params CommentListParams) ([]CommentView, error) {
	target, err := s.commentTarget(ctx, actor, hearingID, sectionID)
	if err != nil {
		return nil, err
	}
	params.HearingID = target.hearing.ID
	params.SectionID = target.section.ID
	return s.ListComments(ctx, actor, params)
}

// ListComments lists comments across the hearings the actor can see. Author
// names are shown to admins and to narrowed listings only.
func (s *Service) ListComments(ctx context.Context, actor Actor, params CommentListParams) ([]CommentView, error) {
	filter := store.CommentFilter{
		Now:            s.now(),
		Staff:          actor.Staff(),
		AdminOrgIDs:    actor.adminOrgIDs(),
		SectionID:      params.SectionID,
		HearingID:      params.HearingID,
		ParentID:       params.ParentID,
		LabelID:        params.LabelID,
		Pinned:         params.Pinned,
		IncludeDeleted: true,
		Ordering:       params.Ordering,
		Limit:          params.Limit,
		Offset:         params.Offset,
	}
	if params.CreatedByMe {
		if !actor.Authenticated() {
			return nil, errUnauthorized()
		}
		filter.CreatedBy = actor.User.ID
	}
	comments, err := s.store.ListComments(ctx, filter)
	if err != nil {
		return nil, err
	}
	narrowed := params.SectionID != "" || params.HearingID != "" || params.ParentID != nil || params.CreatedByMe
	views, err := s.commentViews(ctx, actor, comments, narrowed || actor.IsAdmin())
	if err != nil {
		return nil, err
	}
	audit.Track(ctx, comments...)
	return views, nil
}

// CommentRevisions lists the edit history of a comment for its author and
// the hearing's admins.
func (s *Service) CommentRevisions(ctx context.Context, actor Actor, id int64) ([]RevisionView, error) {
	comment, target, err := s.loadComment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !isAuthor(actor, comment) && !target.moderator {
		return nil, errPermissionDenied("Only the author and moderators can read revisions")
	}
	revisions, err := s.store.ListCommentRevisions(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	views := make([]RevisionView, 0, len(revisions))
	for _, revision := range revisions {
		views = append(views, RevisionView{
			ID:        revision.ID,
			CreatedAt: revision.CreatedAt,
			Actor:     revision.CreatedBy,
			Snapshot:  revision.Snapshot,
		})
	}
	audit.Track(ctx, comment)
	return views, nil
}

func (s *Service) cleanPluginData(identifier, data string) (string, error) {
	if identifier == "" {
		return "", errPluginValidation("This section does not accept plugin data")
	}
	p := s.plugins.Lookup(identifier)
	if p == nil {
		return data, nil
	}
	return p.CleanClientData(data)
}

// authenticatedAuthorName picks the name shown for a signed-in commenter and
// reports whether the caller supplied it explicitly.
func authenticatedAuthorName(actor Actor, supplied *string) (string, bool) {
	if supplied != nil {
		if name := strings.TrimSpace(*supplied); name != "" {
			return name, true
		}
	}
	if actor.User.Nickname != "" {
		return actor.User.Nickname, false
	}
	if name := actor.User.DisplayName(); name != "" {
		return name, false
	}
	return anonymousAuthor, false
}

func (s *Service) commenterOrganization(actor Actor, hearing store.Hearing) *store.Organization {
	if hearing.OrganizationID != nil {
		for _, org := range actor.AdminOrgs {
			if org.ID == *hearing.OrganizationID {
				return &org
			}
		}
	}
	return actor.primaryOrganization()
}

// applyCommentExtras validates and sets the label and map fields.
func (s *Service) applyCommentExtras(ctx context.Context, comment *store.Comment, input CommentInput) error {
	if input.Label != nil {
		if input.Label.ID == "" {
			comment.LabelID = nil
		} else {
			ids, err := s.refIDs(ctx, "label", []idRef{*input.Label}, s.store.ExistingLabelIDs)
			if err != nil {
				return err
			}
			comment.LabelID = &ids[0]
		}
	}
	if len(input.GeoJSON) > 0 {
		shape, err := geo.Parse(input.GeoJSON)
		if err != nil {
			return err
		}
		comment.GeoJSON = nil
		if shape != nil {
			comment.GeoJSON = shape.Raw
		}
	}
	return nil
}

type commentImageWrite struct {
	image   store.CommentImage
	payload media.Payload
}

func (s *Service) decodeCommentImages(inputs *[]CommentImageInput) ([]commentImageWrite, error) {
	if inputs == nil {
		return nil, nil
	}
	writes := make([]commentImageWrite, 0, len(*inputs))
	for _, input := range *inputs {
		payload, err := media.DecodeImage(input.Image, s.config.MaxImageSize)
		if err != nil {
			return nil, err
		}
		image := store.CommentImage{
			Title:       input.Title,
			Caption:     input.Caption,
			ContentType: payload.ContentType,
			ObjectKey:   media.ObjectKey("commentimage", util.NewID(""), payload.Extension()),
			Width:       payload.Width,
			Height:      payload.Height,
		}
		image.Published = true
		writes = append(writes, commentImageWrite{image: image, payload: payload})
	}
	return writes, nil
}

func (s *Service) storeCommentImages(ctx context.Context, actor Actor, commentID int64, writes []commentImageWrite) ([]string, error) {
	var keys []string
	for _, write := range writes {
		image := write.image
		if err := s.media.Put(ctx, image.ObjectKey, write.payload.ContentType, write.payload.Data); err != nil {
			return keys, err
		}
		keys = append(keys, image.ObjectKey)
		image.CommentID = commentID
		image.CreatedBy = actor.UserID()
		image.ModifiedBy = actor.UserID()
		if _, err := s.store.InsertCommentImage(ctx, image); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func (s *Service) discardPayloads(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.media.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("remove orphaned payload", "key", key, "error", err)
		}
	}
}

// recacheCommentCounts refreshes the reply, section and hearing counters
// touched by a comment.
func (s *Service) recacheCommentCounts(ctx context.Context, comment store.Comment) error {
	if comment.ParentID != nil {
		if err := s.store.RecacheCommentReplies(ctx, *comment.ParentID); err != nil {
			return err
		}
	}
	if err := s.store.RecacheSectionComments(ctx, comment.SectionID); err != nil {
		return err
	}
	return s.store.RecacheHearingComments(ctx, comment.HearingID)
}

type revisionSnapshot struct {
	Content        string          `json:"content"`
	AuthorName     *string         `json:"author_name"`
	PluginData     string          `json:"plugin_data"`
	LabelID        *int64          `json:"label"`
	GeoJSON        json.RawMessage `json:"geojson,omitempty"`
	MapCommentText string          `json:"map_comment_text"`
	LanguageCode   string          `json:"language_code"`
	ReplyTo        string          `json:"reply_to"`
	Pinned         bool            `json:"pinned"`
	Answers        []AnswerInput   `json:"answers,omitempty"`
}

func (s *Service) writeRevision(ctx context.Context, actor Actor, comment store.Comment, answers []AnswerInput) error {
	snapshot, err := json.Marshal(revisionSnapshot{
		Content:        comment.Content,
		AuthorName:     comment.AuthorName,
		PluginData:     comment.PluginData,
		LabelID:        comment.LabelID,
		GeoJSON:        comment.GeoJSON,
		MapCommentText: comment.MapCommentText,
		LanguageCode:   comment.LanguageCode,
		ReplyTo:        comment.ReplyTo,
		Pinned:         comment.Pinned,
		Answers:        answers,
	})
	if err != nil {
		return err
	}
	return s.store.InsertCommentRevision(ctx, store.CommentRevision{
		CommentID: comment.ID,
		Snapshot:  snapshot,
		CreatedBy: actor.UserID(),
	})
}

// commentViews builds read projections, batching the per-comment lookups.
func (s *Service) commentViews(ctx context.Context, actor Actor, comments []store.Comment, showAuthor bool) ([]CommentView, error) {
	ids := make([]int64, 0, len(comments))
	sectionIDs := []string{}
	for _, comment := range comments {
		ids = append(ids, comment.ID)
		if !slices.Contains(sectionIDs, comment.SectionID) {
			sectionIDs = append(sectionIDs, comment.SectionID)
		}
	}
	images, err := s.store.ListCommentImages(ctx, ids)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.CommentAnswers(ctx, ids)
	if err != nil {
		return nil, err
	}
	voted := map[int64]bool{}
	if actor.Authenticated() {
		if voted, err = s.store.VotedCommentIDs(ctx, actor.User.ID, ids); err != nil {
			return nil, err
		}
	}
	labels := map[int64]store.Label{}
	allLabels, err := s.store.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	for _, label := range allLabels {
		labels[label.ID] = label
	}
	pollTypes := map[int64]string{}
	polls, err := s.store.ListPolls(ctx, sectionIDs, store.ScopeEverything)
	if err != nil {
		return nil, err
	}
	for _, poll := range polls {
		pollTypes[poll.ID] = poll.Type
	}
	hearings := map[string]store.Hearing{}

	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		hearing, ok := hearings[comment.HearingID]
		if !ok {
			hearing, err = s.store.GetHearing(ctx, comment.HearingID)
			if err != nil {
				return nil, err
			}
			hearings[comment.HearingID] = hearing
		}
		moderator := actor.AdminOf(hearing.OrganizationID)
		author := isAuthor(actor, comment)
		live := !comment.Deleted

		view := CommentView{
			ID:               comment.ID,
			Section:          comment.SectionID,
			Hearing:          comment.HearingID,
			Comment:          comment.ParentID,
			Content:          comment.Content,
			PluginIdentifier: comment.PluginIdentifier,
			PluginData:       comment.PluginData,
			GeoJSON:          comment.GeoJSON,
			MapCommentText:   comment.MapCommentText,
			LanguageCode:     comment.LanguageCode,
			ReplyTo:          comment.ReplyTo,
			Pinned:           comment.Pinned,
			Edited:           comment.Edited,
			Moderated:        comment.Moderated,
			Flagged:          comment.FlaggedAt != nil,
			Deleted:          comment.Deleted,
			NComments:        comment.NComments,
			NVotes:           comment.NVotes,
			HasVoted:         voted[comment.ID],
			IsRegistered:     comment.CreatedBy != nil,
			CanEdit:          live && (author || moderator) && !hearing.Closed(s.now()),
			CanDelete:        live && (author || moderator),
			Images:           []CommentImageView{},
			Answers:          []AnswerView{},
			CreatedAt:        comment.CreatedAt,
		}
		if live && showAuthor {
			view.AuthorName = comment.AuthorName
		}
		if live {
			view.Organization = optionalString(comment.OrganizationName)
		} else {
			kind := "moderator"
			if comment.DeletedBy != nil && comment.CreatedBy != nil && *comment.DeletedBy == *comment.CreatedBy {
				kind = "self"
			}
			view.DeletedByType = &kind
			view.Content = redactedContent(kind, comment.DeleteReason)
			view.PluginData = ""
			view.MapCommentText = ""
			view.GeoJSON = nil
		}
		if moderator {
			view.CreatorName = comment.CreatorName
			if live && s.config.IncludeCreatorEmail {
				view.CreatorEmail = comment.CreatorEmail
			}
		}
		if comment.LabelID != nil {
			if label, ok := labels[*comment.LabelID]; ok {
				labelView := s.labelView(label)
				view.Label = &labelView
			}
		}
		if live {
			for _, image := range images[comment.ID] {
				view.Images = append(view.Images, CommentImageView{
					ID:      image.ID,
					Title:   image.Title,
					Caption: image.Caption,
					URL:     s.downloadURL("commentimage", image.ID),
					Width:   image.Width,
					Height:  image.Height,
				})
			}
		}
		for _, answer := range answers[comment.ID] {
			n := len(view.Answers)
			if n == 0 || view.Answers[n-1].Question != answer.PollID {
				view.Answers = append(view.Answers, AnswerView{Question: answer.PollID, Type: pollTypes[answer.PollID], Answers: []int64{}})
				n++
			}
			view.Answers[n-1].Answers = append(view.Answers[n-1].Answers, answer.OptionID)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) commentRecord(comment store.Comment, hearing store.Hearing) search.CommentRecord {
	return search.CommentRecord{
		ID:               strconv.FormatInt(comment.ID, 10),
		Content:          comment.Content,
		HearingID:        hearing.ID,
		SectionID:        comment.SectionID,
		HearingTitle:     s.hearingTitle(hearing, comment.LanguageCode),
		HearingPublished: hearing.Published,
		HearingOpenAt:    hearing.OpenAt.Unix(),
	}
}

// hearingTitle is the hearing title in lang, falling back through the
// configured languages.
func (s *Service) hearingTitle(hearing store.Hearing, lang string) string {
	title, _ := s.languages.Resolve(hearing.Title, lang)
	return title
}

// redactedContent replaces the content of a deleted comment in reads.
func redactedContent(deletedBy, reason string) string {
	if deletedBy == "self" {
		return redactedBySelf
	}
	if reason != "" {
		return redactedByModerator + " Reason: " + reason
	}
	return redactedByModerator
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
