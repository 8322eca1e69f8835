package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/booking"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc Service
	log *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps booking errors onto status codes. Anything that is
// not a *booking.Error is an infrastructure failure.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var be *booking.Error
	if !errors.As(err, &be) {
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch be.Kind {
	case booking.KindValidation:
		status = http.StatusUnprocessableEntity
	case booking.KindNotFound:
		status = http.StatusNotFound
	case booking.KindConflict:
		status = http.StatusConflict
	case booking.KindForbidden:
		status = http.StatusForbidden
	}
	writeError(w, status, be.Reason, be.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Practitioners

func (h *handlers) listPractitioners(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.ListPractitioners(r.Context(), booking.Specialty(q.Get("specialty")), q.Get("search"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *handlers) getPractitioner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}
	p, err := h.svc.GetPractitioner(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}
	date, err := booking.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), id, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{PractitionerID: id, Date: date, Slots: slots})
}

func (h *handlers) listUpcoming(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_days", "days must be an integer")
		return
	}

	dates, err := h.svc.ListUpcomingWindow(r.Context(), id, days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{PractitionerID: id, Dates: dates})
}

// Windows

func (h *handlers) listWindows(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}
	windows, err := h.svc.ListWindows(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(windows))
}

func (h *handlers) createWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}
	var req CreateWindowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	win, err := h.svc.CreateWindow(r.Context(), ActorFromContext(r.Context()), booking.WindowInput{
		PractitionerID: id,
		Weekday:        req.Weekday,
		Start:          req.StartTime,
		End:            req.EndTime,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (h *handlers) patchWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_window_id")
	if !ok {
		return
	}
	var req UpdateWindowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "is_active is required")
		return
	}

	win, err := h.svc.SetWindowActive(r.Context(), ActorFromContext(r.Context()), id, *req.IsActive)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// Reservations

func (h *handlers) createReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
		return
	}

	res, err := h.svc.CreateReservation(r.Context(), ActorFromContext(r.Context()), booking.CreateReservationRequest{
		PractitionerID: practitionerID,
		Date:           req.Date,
		Time:           req.Time,
		Type:           booking.AppointmentType(req.AppointmentType),
		Intake:         req.Intake,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) listReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := booking.ReservationFilter{Status: booking.Status(q.Get("status"))}

	if v := q.Get("practitioner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		f.PractitionerID = &id
	}
	if v := q.Get("date"); v != "" {
		d, err := booking.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		f.Date = &d
	}

	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	list, err := h.svc.ListReservations(r.Context(), ActorFromContext(r.Context()), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

func (h *handlers) getReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	detail, err := h.svc.GetReservation(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	res, err := h.svc.CancelReservation(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	res, err := h.svc.ConfirmPayment(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) transitionReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.TransitionReservation(r.Context(), ActorFromContext(r.Context()), id, booking.Status(req.Status), req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) rescheduleReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.RescheduleReservation(r.Context(), ActorFromContext(r.Context()), id, req.Date, req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) submitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	var req ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := h.svc.SubmitReview(r.Context(), ActorFromContext(r.Context()), id, booking.ReviewInput{
		Rating:         req.Rating,
		Text:           req.ReviewText,
		WouldRecommend: req.WouldRecommend,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handlers) appendNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_reservation_id")
	if !ok {
		return
	}
	var req NotesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.AppendNotes(r.Context(), ActorFromContext(r.Context()), id, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) reservationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ReservationStats(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
