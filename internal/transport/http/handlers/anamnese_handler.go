package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	mediasvc "github.com/coachhub/backend/internal/services/media"
	"github.com/coachhub/backend/internal/transport/http/dto"
	httperrors "github.com/coachhub/backend/internal/transport/http/errors"
)

const (
	maxSubmitBodySize      = 256 << 10
	maxPhotoUploadOverhead = 1 << 20
)

type AnamneseHandler struct {
	service *anamnesesvc.Service
	media   *mediasvc.Service
	logger  *zap.Logger
}

func NewAnamneseHandler(service *anamnesesvc.Service, media *mediasvc.Service, logger *zap.Logger) *AnamneseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnamneseHandler{service: service, media: media, logger: logger}
}

func (h *AnamneseHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "ANAMNESE_SERVICE_UNAVAILABLE", "anamnese service is unavailable")
		return
	}

	form, err := h.service.FindPending(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, anamnesesvc.ErrInvalidOrConsumedForm) {
			writeNotFound(w, "FORM_NOT_FOUND", "invalid or already used form link")
			return
		}
		h.logger.Error("find form failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "could not load form")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AnamneseFormResponse{
		FormID:    form.ID,
		Status:    string(form.Status),
		ExpiresAt: form.ExpiresAt,
	})
}

func (h *AnamneseHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "ANAMNESE_SERVICE_UNAVAILABLE", "anamnese service is unavailable")
		return
	}

	var req dto.AnamneseSubmitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBodySize)
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	data := req.FormData
	res, err := h.service.Submit(r.Context(), req.FormLinkToken, anamnesesvc.FormData{
		Name:                data.Name,
		Email:               data.Email,
		Phone:               data.Phone,
		CPF:                 data.CPF,
		BirthDate:           data.BirthDate,
		Gender:              data.Gender,
		WeightKg:            data.Weight,
		HeightCm:            data.Height,
		HealthConditions:    data.HealthConditions,
		Injuries:            data.Injuries,
		Medications:         data.Medications,
		Goal:                data.Goal,
		ActivityPreferences: data.ActivityPreferences,
		FrequencyPreference: data.FrequencyPreference,
		Notes:               data.Notes,
		PhotoKeys:           data.PhotoKeys,
	})
	if err != nil {
		h.handleSubmitError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AnamneseSubmitResponse{
		Success:   true,
		StudentID: res.StudentID,
	})
}

func (h *AnamneseHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		writeInternal(w, "MEDIA_SERVICE_UNAVAILABLE", "media service is unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, mediasvc.MaxPhotoBytes+maxPhotoUploadOverhead)
	if err := r.ParseMultipartForm(mediasvc.MaxPhotoBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writePhotoTooLarge(w)
			return
		}
		writeBadRequest(w, "VALIDATION_ERROR", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "photo is required")
		return
	}
	defer file.Close()

	photo, err := h.media.UploadIntakePhoto(r.Context(), chi.URLParam(r, "token"), file, header.Size)
	if err != nil {
		switch {
		case errors.Is(err, mediasvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "photo is empty")
		case errors.Is(err, mediasvc.ErrInvalidForm):
			writeNotFound(w, "FORM_NOT_FOUND", "invalid or already used form link")
		case errors.Is(err, mediasvc.ErrUnsupportedImage):
			httperrors.Write(w, http.StatusUnsupportedMediaType, httperrors.APIError{
				Code:    "UNSUPPORTED_IMAGE",
				Message: "photo must be a jpeg, png or webp image",
			})
		case errors.Is(err, mediasvc.ErrTooLarge):
			writePhotoTooLarge(w)
		default:
			h.logger.Error("photo upload failed", zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "could not store photo")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PhotoUploadResponse{
		URL:         photo.URL,
		Key:         photo.Key,
		ContentType: photo.ContentType,
		Size:        photo.Size,
	})
}

func (h *AnamneseHandler) handleSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, anamnesesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid form data")
	case errors.Is(err, anamnesesvc.ErrInvalidOrConsumedForm):
		writeBadRequest(w, "INVALID_FORM_LINK", "invalid or already used form link")
	case errors.Is(err, anamnesesvc.ErrOrphanedForm):
		h.logger.Error("intake form has no sale", zap.Error(err))
		writeBadRequest(w, "ORPHANED_FORM", "form is not linked to a sale")
	default:
		h.logger.Error("intake submission failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "could not process form")
	}
}

func writePhotoTooLarge(w http.ResponseWriter) {
	httperrors.Write(w, http.StatusRequestEntityTooLarge, httperrors.APIError{
		Code:    "PHOTO_TOO_LARGE",
		Message: "photo is too large",
	})
}
