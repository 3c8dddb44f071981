package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
	"kerrokantasi/api/internal/util"
)

// FileUpload is an orphan section file. Either Data (multipart) or DataURL
// (JSON body) carries the payload.
type FileUpload struct {
	Title       json.RawMessage
	Caption     json.RawMessage
	ContentType string
	Data        []byte
	DataURL     string
}

// UploadFile stores a section file that no section owns yet. A later
// hearing write claims it by linking its download url in section content.
func (s *Service) UploadFile(ctx context.Context, actor Actor, upload FileUpload) (FileView, error) {
	if !actor.IsAdmin() {
		return FileView{}, errPermissionDenied("Only organization admins can upload files")
	}
	var payload media.Payload
	if upload.DataURL != "" {
		decoded, err := media.DecodeFile(upload.DataURL, s.config.MaxFileSize)
		if err != nil {
			return FileView{}, err
		}
		payload = decoded
	} else {
		if len(upload.Data) == 0 {
			return FileView{}, errValidation("A file is required", map[string]any{"field": "file"})
		}
		if s.config.MaxFileSize > 0 && int64(len(upload.Data)) > s.config.MaxFileSize {
			return FileView{}, media.ErrFileTooLarge
		}
		payload = media.Payload{ContentType: upload.ContentType, Data: upload.Data}
		if payload.ContentType == "" {
			payload.ContentType = http.DetectContentType(upload.Data)
		}
	}
	title, err := s.uploadText("title", upload.Title)
	if err != nil {
		return FileView{}, err
	}
	caption, err := s.uploadText("caption", upload.Caption)
	if err != nil {
		return FileView{}, err
	}

	file := store.SectionFile{
		Title:       title,
		Caption:     caption,
		ContentType: payload.ContentType,
		ObjectKey:   media.ObjectKey("sectionfile", util.NewID(""), payload.Extension()),
		Size:        int64(len(payload.Data)),
	}
	file.Published = true
	file.CreatedBy = actor.UserID()
	file.ModifiedBy = actor.UserID()
	if err := s.media.Put(ctx, file.ObjectKey, file.ContentType, payload.Data); err != nil {
		return FileView{}, err
	}
	created, err := s.store.InsertSectionFile(ctx, file)
	if err != nil {
		s.discardPayloads(ctx, []string{file.ObjectKey})
		return FileView{}, err
	}
	audit.Track(ctx, created)
	return s.fileView(created), nil
}

// uploadText reads a translation object, or a bare string as text in the
// first configured language.
func (s *Service) uploadText(field string, raw json.RawMessage) (translation.Text, error) {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		if plain == "" {
			return translation.Text{}, nil
		}
		return translation.Text{s.languages.Codes()[0]: plain}, nil
	}
	return s.parseText(field, raw)
}

// Download is a stored payload ready to stream.
type Download struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Download resolves a payload by kind and id, subject to the visibility of
// the hearing it belongs to.
func (s *Service) Download(ctx context.Context, actor Actor, kind string, id int64) (Download, error) {
	var key, contentType string
	switch kind {
	case "sectionimage":
		image, err := s.store.GetSectionImage(ctx, id)
		if err != nil {
			return Download{}, notFoundOr(err)
		}
		if err := s.sectionReadable(ctx, actor, image.SectionID); err != nil {
			return Download{}, err
		}
		key, contentType = image.ObjectKey, image.ContentType
	case "sectionfile":
		file, err := s.store.GetSectionFile(ctx, id)
		if err != nil {
			return Download{}, notFoundOr(err)
		}
		if file.SectionID == nil {
			if !actor.IsAdmin() {
				return Download{}, errNotFound()
			}
		} else if err := s.sectionReadable(ctx, actor, *file.SectionID); err != nil {
			return Download{}, err
		}
		key, contentType = file.ObjectKey, file.ContentType
	case "commentimage":
		image, err := s.store.GetCommentImage(ctx, id)
		if err != nil {
			return Download{}, notFoundOr(err)
		}
		if _, _, err := s.loadComment(ctx, actor, image.CommentID); err != nil {
			return Download{}, err
		}
		key, contentType = image.ObjectKey, image.ContentType
	default:
		return Download{}, errNotFound()
	}

	data, err := s.media.Get(ctx, key)
	if err != nil {
		return Download{}, err
	}
	return Download{
		ContentType: contentType,
		Filename:    path.Base(key),
		Data:        data,
	}, nil
}

func (s *Service) sectionReadable(ctx context.Context, actor Actor, sectionID string) error {
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return notFoundOr(err)
	}
	_, err = s.commentTarget(ctx, actor, section.HearingID, section.ID)
	return err
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound()
	}
	return err
}
