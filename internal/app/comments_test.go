package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"strconv"
	"strings"
	"testing"

	"kerrokantasi/api/internal/store"
)

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCreateCommentAnonymous(t *testing.T) {
	f := newFixture(t)

	view := f.comment(t, Actor{}, CommentInput{Content: text("  Lisää penkkejä puistoon.  ")})

	if view.Content != "Lisää penkkejä puistoon." {
		t.Fatalf("expected trimmed content, got %q", view.Content)
	}
	if view.AuthorName != nil {
		t.Fatalf("expected no author name, got %q", *view.AuthorName)
	}
	if view.IsRegistered || view.CanEdit || view.CanDelete {
		t.Fatalf("anonymous comment should not be registered or editable: %+v", view)
	}
	if got := f.store.sections[f.section.ID].NComments; got != 1 {
		t.Fatalf("expected section n_comments 1, got %d", got)
	}
	if got := f.store.hearings[f.hearing.ID].NComments; got != 1 {
		t.Fatalf("expected hearing n_comments 1, got %d", got)
	}
	if len(f.store.revisions) != 1 {
		t.Fatalf("expected one revision, got %d", len(f.store.revisions))
	}
}

func TestCreateCommentChecksRunInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setSection(func(s *store.Section) { s.Commenting = "none" })
	f.setHearing(func(h *store.Hearing) { h.ForceClosed = true })
	_, err := f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{})
	assertCode(t, err, CodeCommentingDisabled)

	f.setSection(func(s *store.Section) { s.Commenting = "open" })
	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{})
	assertCode(t, err, CodeHearingClosed)

	f.setHearing(func(h *store.Hearing) { h.ForceClosed = false })
	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("   ")})
	assertCode(t, err, CodeEmptyComment)

	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("x"), PluginData: text(`{"a":1}`)})
	assertCode(t, err, CodePluginValidation)

	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("x"), Pinned: boolPtr(true)})
	assertCode(t, err, CodePinNotAllowed)
}

func TestCreateCommentPolicies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := CommentInput{Content: text("Hyvä idea")}

	f.setSection(func(s *store.Section) { s.Commenting = "registered" })
	_, err := f.svc.CreateComment(ctx, Actor{}, f.hearing.ID, f.section.ID, input)
	assertCode(t, err, CodeAuthRequired)
	f.comment(t, f.alice, input)

	f.setSection(func(s *store.Section) { s.Commenting = "strong" })
	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, input)
	assertCode(t, err, CodeStrongAuthRequired)

	strong := f.alice
	strong.StrongAuth = true
	f.comment(t, strong, input)
	f.comment(t, f.admin, input)
}

func TestCreateCommentHiddenHearingIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.setHearing(func(h *store.Hearing) { h.Published = false })

	_, err := f.svc.CreateComment(context.Background(), f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("hei")})
	assertCode(t, err, CodeNotFound)

	// admins of the organization still reach it
	f.comment(t, f.admin, CommentInput{Content: text("hei")})
}

func TestCreateCommentPluginData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setSection(func(s *store.Section) { s.PluginIdentifier = "mapdon-hkr" })

	_, err := f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{PluginData: text(`[1,2]`)})
	assertCode(t, err, CodePluginValidation)

	view := f.comment(t, f.alice, CommentInput{PluginData: text("{ \"route\": [1, 2] }")})
	if view.PluginData != `{"route":[1,2]}` {
		t.Fatalf("expected compacted plugin data, got %q", view.PluginData)
	}
	if view.PluginIdentifier != "mapdon-hkr" {
		t.Fatalf("expected plugin identifier copied from section, got %q", view.PluginIdentifier)
	}

	f.setSection(func(s *store.Section) { s.PluginIdentifier = "unknown-plugin" })
	view = f.comment(t, f.alice, CommentInput{PluginData: text("anything goes")})
	if view.PluginData != "anything goes" {
		t.Fatalf("expected unknown plugin data kept verbatim, got %q", view.PluginData)
	}
}

func TestCreateCommentAuthorNameUpdatesNickname(t *testing.T) {
	f := newFixture(t)

	view := f.comment(t, f.alice, CommentInput{Content: text("Hyvä"), AuthorName: text(" Ali ")})
	if view.AuthorName == nil || *view.AuthorName != "Ali" {
		t.Fatalf("expected author name Ali, got %v", view.AuthorName)
	}
	if got := f.store.users["alice"].Nickname; got != "Ali" {
		t.Fatalf("expected nickname written back, got %q", got)
	}

	view = f.comment(t, f.bob, CommentInput{Content: text("Samaa mieltä")})
	if view.AuthorName == nil || *view.AuthorName != "Bob" {
		t.Fatalf("expected display name fallback, got %v", view.AuthorName)
	}
}

func TestCreateCommentByAdminCarriesOrganization(t *testing.T) {
	f := newFixture(t)

	view := f.comment(t, f.admin, CommentInput{Content: text("Vastaus kysymykseen"), Pinned: boolPtr(true)})
	if view.Organization == nil || *view.Organization != f.org.Name {
		t.Fatalf("expected organization %q, got %v", f.org.Name, view.Organization)
	}
	if !view.Pinned {
		t.Fatalf("expected pinned comment")
	}
}

func TestCreateReplyRecachesParent(t *testing.T) {
	f := newFixture(t)
	parent := f.comment(t, f.alice, CommentInput{Content: text("Alkuperäinen")})
	parentID := flexID(strconv.FormatInt(parent.ID, 10))

	reply := f.comment(t, f.bob, CommentInput{Content: text("Vastaus"), Comment: &parentID})
	if reply.Comment == nil || *reply.Comment != parent.ID {
		t.Fatalf("expected reply to parent %d, got %v", parent.ID, reply.Comment)
	}
	if got := f.store.comments[parent.ID].NComments; got != 1 {
		t.Fatalf("expected parent n_comments 1, got %d", got)
	}

	missing := flexID("999999")
	_, err := f.svc.CreateComment(context.Background(), f.bob, f.hearing.ID, f.section.ID, CommentInput{Content: text("x"), Comment: &missing})
	assertCode(t, err, CodeValidation)
}

func TestCreateCommentDetectsLanguage(t *testing.T) {
	f := newFixture(t)

	view := f.comment(t, f.alice, CommentInput{Content: text("Kannatan tätä suunnitelmaa, koska puisto on kaupunkilaisille erittäin tärkeä virkistysalue ja sitä pitää suojella tulevaisuudessakin.")})
	if view.LanguageCode != "fi" {
		t.Fatalf("expected detected language fi, got %q", view.LanguageCode)
	}

	view = f.comment(t, f.alice, CommentInput{Content: text("Kannatan"), LanguageCode: text("sv")})
	if view.LanguageCode != "sv" {
		t.Fatalf("expected explicit language sv, got %q", view.LanguageCode)
	}
}

func TestCreateCommentWithImage(t *testing.T) {
	f := newFixture(t)
	images := []CommentImageInput{{Title: "Kuva", Image: pngDataURL(t, 4, 3)}}

	view := f.comment(t, f.alice, CommentInput{Content: text("Katso kuvaa"), Images: &images})
	if len(view.Images) != 1 {
		t.Fatalf("expected one image, got %d", len(view.Images))
	}
	if view.Images[0].Width != 4 || view.Images[0].Height != 3 {
		t.Fatalf("unexpected image size %dx%d", view.Images[0].Width, view.Images[0].Height)
	}
	if !strings.HasPrefix(view.Images[0].URL, "http://api.test/v1/download/commentimage/") {
		t.Fatalf("unexpected image url %q", view.Images[0].URL)
	}

	download, err := f.svc.Download(context.Background(), Actor{}, "commentimage", view.Images[0].ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if download.ContentType != "image/png" || len(download.Data) == 0 {
		t.Fatalf("unexpected download %s (%d bytes)", download.ContentType, len(download.Data))
	}
}

func TestCreateCommentPollAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, second := f.poll.Options[0].ID, f.poll.Options[1].ID

	both := []AnswerInput{{Question: f.poll.ID, Answers: []int64{first, second}}}
	_, err := f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("x"), Answers: &both})
	assertCode(t, err, CodeValidation)

	foreign := []AnswerInput{{Question: f.poll.ID + 1000, Answers: []int64{first}}}
	_, err = f.svc.CreateComment(ctx, f.alice, f.hearing.ID, f.section.ID, CommentInput{Content: text("x"), Answers: &foreign})
	assertCode(t, err, CodeValidation)

	one := []AnswerInput{{Question: f.poll.ID, Answers: []int64{second}}}
	view := f.comment(t, f.alice, CommentInput{Content: text("Huono"), Answers: &one})
	if len(view.Answers) != 1 || view.Answers[0].Type != "single-choice" || view.Answers[0].Answers[0] != second {
		t.Fatalf("unexpected answers %+v", view.Answers)
	}
	if got := f.store.polls[f.poll.ID].NAnswers; got != 1 {
		t.Fatalf("expected poll n_answers 1, got %d", got)
	}
	if got := f.store.options[second].NAnswers; got != 1 {
		t.Fatalf("expected option n_answers 1, got %d", got)
	}

	if err := f.svc.DeleteComment(ctx, f.alice, view.ID, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.store.polls[f.poll.ID].NAnswers; got != 0 {
		t.Fatalf("expected poll n_answers 0 after delete, got %d", got)
	}
}

func TestDeleteOwnCommentRedacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.comment(t, f.alice, CommentInput{
		Content:        text("Poistan tämän"),
		MapCommentText: text("kartalla"),
		GeoJSON:        []byte(`{"type":"Point","coordinates":[24.94,60.17]}`),
	})

	if err := f.svc.DeleteComment(ctx, f.alice, view.ID, "ignored"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stored := f.store.comments[view.ID]
	if !stored.Deleted || stored.Content != "Poistan tämän" || stored.DeleteReason != "" {
		t.Fatalf("expected soft-deleted comment with stored content, got %+v", stored)
	}
	if stored.Moderated {
		t.Fatalf("self deletion should not mark the comment moderated")
	}
	if got := f.store.sections[f.section.ID].NComments; got != 0 {
		t.Fatalf("expected section n_comments 0, got %d", got)
	}

	got, err := f.svc.GetComment(ctx, Actor{}, view.ID)
	if err != nil {
		t.Fatalf("get deleted comment: %v", err)
	}
	if !got.Deleted || got.DeletedByType == nil || *got.DeletedByType != "self" || got.AuthorName != nil {
		t.Fatalf("unexpected deleted projection %+v", got)
	}
	if got.Content != redactedBySelf || got.MapCommentText != "" || got.GeoJSON != nil {
		t.Fatalf("expected redacted projection, got %+v", got)
	}

	assertCode(t, f.svc.DeleteComment(ctx, f.alice, view.ID, ""), CodeNotFound)
	_, err = f.svc.Vote(ctx, f.bob, view.ID)
	assertCode(t, err, CodeNotFound)
}

func TestModeratorDeleteIncludesReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.comment(t, f.alice, CommentInput{Content: text("Asiaton viesti")})

	assertCode(t, f.svc.DeleteComment(ctx, f.bob, view.ID, ""), CodePermissionDenied)
	assertCode(t, f.svc.DeleteComment(ctx, Actor{}, view.ID, ""), CodePermissionDenied)

	if err := f.svc.DeleteComment(ctx, f.admin, view.ID, " spam "); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	stored := f.store.comments[view.ID]
	if stored.Content != "Asiaton viesti" {
		t.Fatalf("expected stored content to be kept, got %q", stored.Content)
	}
	got, err := f.svc.GetComment(ctx, Actor{}, view.ID)
	if err != nil {
		t.Fatalf("get deleted comment: %v", err)
	}
	if got.Content != redactedByModerator+" Reason: spam" || got.DeletedByType == nil || *got.DeletedByType != "moderator" {
		t.Fatalf("unexpected redaction %+v", got)
	}
	if !stored.Moderated || stored.DeleteReason != "spam" {
		t.Fatalf("expected moderated comment with reason, got %+v", stored)
	}

	got, err = f.svc.GetComment(ctx, f.alice, view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DeletedByType == nil || *got.DeletedByType != "moderator" {
		t.Fatalf("expected deleted_by_type moderator, got %v", got.DeletedByType)
	}
}

func TestRestoreDeletedComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.comment(t, f.alice, CommentInput{
		Content:        text("Alkuperäinen"),
		MapCommentText: text("puiston kulma"),
		GeoJSON:        []byte(`{"type":"Point","coordinates":[24.94,60.17]}`),
	})
	if err := f.svc.DeleteComment(ctx, f.alice, view.ID, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.store.sections[f.section.ID].NComments; got != 0 {
		t.Fatalf("expected section n_comments 0, got %d", got)
	}

	restored, err := f.svc.Restore(ctx, "section_comments", strconv.FormatInt(view.ID, 10))
	if err != nil || !restored {
		t.Fatalf("restore: restored=%v err=%v", restored, err)
	}
	got, err := f.svc.GetComment(ctx, f.alice, view.ID)
	if err != nil {
		t.Fatalf("get restored comment: %v", err)
	}
	if got.Deleted || got.DeletedByType != nil || got.Content != "Alkuperäinen" || got.MapCommentText != "puiston kulma" || got.GeoJSON == nil {
		t.Fatalf("expected content intact after restore, got %+v", got)
	}
	if n := f.store.sections[f.section.ID].NComments; n != 1 {
		t.Fatalf("expected section n_comments 1 after restore, got %d", n)
	}

	restored, err = f.svc.Restore(ctx, "section_comments", strconv.FormatInt(view.ID, 10))
	if err != nil || restored {
		t.Fatalf("expected live comment to stay untouched, got restored=%v err=%v", restored, err)
	}
	if _, err := f.svc.Restore(ctx, "users", "x"); err == nil {
		t.Fatal("expected unknown table to fail")
	}
}

func TestUpdateComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.comment(t, f.alice, CommentInput{Content: text("Ensimmäinen versio")})

	_, err := f.svc.UpdateComment(ctx, f.bob, view.ID, CommentInput{Content: text("kaapattu")})
	assertCode(t, err, CodePermissionDenied)

	other := "s-other"
	_, err = f.svc.UpdateComment(ctx, f.alice, view.ID, CommentInput{Section: &other})
	assertCode(t, err, CodeImmutableField)

	updated, err := f.svc.UpdateComment(ctx, f.alice, view.ID, CommentInput{Content: text("Toinen versio")})
	if err != nil {
		t.Fatalf("author update: %v", err)
	}
	if updated.Content != "Toinen versio" || !updated.Edited || updated.Moderated {
		t.Fatalf("unexpected author edit %+v", updated)
	}

	moderated, err := f.svc.UpdateComment(ctx, f.admin, view.ID, CommentInput{Content: text("Siistitty versio")})
	if err != nil {
		t.Fatalf("moderator update: %v", err)
	}
	if !moderated.Moderated {
		t.Fatalf("expected moderator edit to mark the comment moderated")
	}

	revisions, err := f.svc.CommentRevisions(ctx, f.alice, view.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("expected 3 revisions, got %d", len(revisions))
	}
	_, err = f.svc.CommentRevisions(ctx, f.bob, view.ID)
	assertCode(t, err, CodePermissionDenied)

	f.setHearing(func(h *store.Hearing) { h.ForceClosed = true })
	_, err = f.svc.UpdateComment(ctx, f.alice, view.ID, CommentInput{Content: text("myöhässä")})
	assertCode(t, err, CodeHearingClosed)
}

func TestUpdateCommentReplacesAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, second := f.poll.Options[0].ID, f.poll.Options[1].ID
	answers := []AnswerInput{{Question: f.poll.ID, Answers: []int64{first}}}
	view := f.comment(t, f.alice, CommentInput{Content: text("Hyvä"), Answers: &answers})

	changed := []AnswerInput{{Question: f.poll.ID, Answers: []int64{second}}}
	updated, err := f.svc.UpdateComment(ctx, f.alice, view.ID, CommentInput{Answers: &changed})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Answers) != 1 || updated.Answers[0].Answers[0] != second {
		t.Fatalf("unexpected answers %+v", updated.Answers)
	}
	if f.store.options[first].NAnswers != 0 || f.store.options[second].NAnswers != 1 {
		t.Fatalf("expected answer moved between options, got %d/%d", f.store.options[first].NAnswers, f.store.options[second].NAnswers)
	}
	if got := f.store.polls[f.poll.ID].NAnswers; got != 1 {
		t.Fatalf("expected poll n_answers 1, got %d", got)
	}
}

func TestListCommentsProjections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.comment(t, f.alice, CommentInput{Content: text("Oma")})
	f.comment(t, f.bob, CommentInput{Content: text("Toisen")})

	all, err := f.svc.ListComments(ctx, Actor{}, CommentListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(all))
	}
	for _, view := range all {
		if view.AuthorName != nil {
			t.Fatalf("expected author names hidden in an unfiltered listing")
		}
	}

	section, err := f.svc.ListSectionComments(ctx, Actor{}, f.hearing.ID, f.section.ID, CommentListParams{})
	if err != nil {
		t.Fatalf("list section: %v", err)
	}
	if section[0].AuthorName == nil {
		t.Fatalf("expected author names in a section listing")
	}

	own, err := f.svc.ListComments(ctx, f.alice, CommentListParams{CreatedByMe: true})
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(own) != 1 || own[0].ID != mine.ID || !own[0].CanEdit {
		t.Fatalf("unexpected own comments %+v", own)
	}

	_, err = f.svc.ListComments(ctx, Actor{}, CommentListParams{CreatedByMe: true})
	assertCode(t, err, CodeUnauthorized)

	moderated, err := f.svc.ListComments(ctx, f.admin, CommentListParams{})
	if err != nil {
		t.Fatalf("list as admin: %v", err)
	}
	if moderated[0].CreatorName == "" {
		t.Fatalf("expected creator name for moderators")
	}
	if moderated[0].CreatorEmail != "" {
		t.Fatalf("creator email must stay hidden unless configured")
	}
}

func boolPtr(value bool) *bool { return &value }
