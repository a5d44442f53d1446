package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"go.uber.org/zap"
)

type QuoteHandler struct {
	quoteService   *service.QuoteService
	stepperService *service.StepperService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewQuoteHandler(quoteService *service.QuoteService, stepperService *service.StepperService, maxUploadMB int64, logger *zap.Logger) *QuoteHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &QuoteHandler{
		quoteService:   quoteService,
		stepperService: stepperService,
		maxUploadBytes: maxUploadMB << 20,
		logger:         logger,
	}
}

// @Summary Get quote
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id} [get]
func (h *QuoteHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	quote, err := h.quoteService.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get quote", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// @Summary Update quote status
// @Description draft to sent or expired; sent to accepted, rejected or expired
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID"
// @Param request body domain.UpdateQuoteStatusRequest true "New status"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/status [put]
func (h *QuoteHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	var req domain.UpdateQuoteStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.quoteService.UpdateStatus(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "update quote status", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// @Summary Financial stepper
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID"
// @Success 200 {object} domain.StepperDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/stepper [get]
func (h *QuoteHandler) Stepper(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	stepper, err := h.stepperService.GetStepper(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, "get stepper", err)
		return
	}
	respondJSON(w, http.StatusOK, stepper)
}

// @Summary Record client approval
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID"
// @Param request body domain.ClientApprovalRequest true "Decision"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/client-approval [post]
func (h *QuoteHandler) ClientApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	var req domain.ClientApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.stepperService.RecordClientApproval(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "record client approval", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// @Summary Confirm payment
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID"
// @Param request body domain.ConfirmPaymentRequest true "Payment details"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/payment [post]
func (h *QuoteHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	var req domain.ConfirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.stepperService.ConfirmPayment(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "confirm payment", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// @Summary Request invoice
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID"
// @Param request body domain.RequestInvoiceRequest false "Billing details"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/invoice-request [post]
func (h *QuoteHandler) RequestInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	req := domain.RequestInvoiceRequest{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.stepperService.RequestInvoice(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "request invoice", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// @Summary Confirm invoice issued
// @Description Accepts JSON, or multipart/form-data with an optional "document" file
// @Tags Quotes
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Quote ID"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/invoice-issued [post]
func (h *QuoteHandler) ConfirmInvoiceIssued(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}

	req := domain.ConfirmInvoiceIssuedRequest{}
	var document *service.InvoiceAttachment

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		document, err = h.parseInvoiceForm(w, r, &req)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			respondValidationError(w, err)
			return
		}
	} else if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.stepperService.ConfirmInvoiceIssued(r.Context(), actor, id, &req, document)
	if err != nil {
		respondServiceError(w, h.logger, "confirm invoice issued", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

func (h *QuoteHandler) parseInvoiceForm(w http.ResponseWriter, r *http.Request, req *domain.ConfirmInvoiceIssuedRequest) (*service.InvoiceAttachment, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return nil, errors.New("invalid multipart form or document too large")
	}

	req.InvoiceNumber = strings.TrimSpace(r.FormValue("invoiceNumber"))
	if v := r.FormValue("expectedVersion"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("expectedVersion must be an integer")
		}
		req.ExpectedVersion = &version
	}

	file, header, err := r.FormFile("document")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("invalid document upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read document")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &service.InvoiceAttachment{Filename: header.Filename, ContentType: contentType, Data: data}, nil
}

// @Summary Send invoice to client
// @Description The e-mail is sent first; the quote is only marked as sent after delivery succeeded
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID"
// @Param request body domain.SendInvoiceRequest false "Recipient override"
// @Success 200 {object} domain.QuoteDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/invoice-send [post]
func (h *QuoteHandler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "quote")
	if !ok {
		return
	}
	req := domain.SendInvoiceRequest{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.stepperService.SendInvoiceToClient(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, "send invoice", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}
