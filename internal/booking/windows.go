package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WindowInput struct {
	PractitionerID uuid.UUID
	Weekday        int
	Start          TimeOfDay
	End            TimeOfDay
}

// CreateWindow adds an active weekly window. Windows that overlap an
// active window on the same weekday are rejected.
func (s *Service) CreateWindow(ctx context.Context, actor Actor, in WindowInput) (*Window, error) {
	if !s.isOperator(actor) {
		return nil, ErrForbidden
	}
	if _, err := s.loadPractitioner(ctx, in.PractitionerID); err != nil {
		return nil, err
	}
	if in.Weekday < 0 || in.Weekday > 6 {
		return nil, newError(KindValidation, ReasonInvalidWindow, "weekday must be 0 (Monday) to 6 (Sunday)")
	}
	if !in.Start.Valid() || !in.End.Valid() || in.Start >= in.End {
		return nil, newError(KindValidation, ReasonInvalidWindow, "start %s must be before end %s", in.Start, in.End)
	}

	w := Window{
		ID:             uuid.New(),
		PractitionerID: in.PractitionerID,
		Weekday:        in.Weekday,
		Start:          in.Start,
		End:            in.End,
		Active:         true,
		CreatedAt:      s.now(),
	}
	var created *Window
	err := s.repo.WithScheduleLock(ctx, w.PractitionerID, w.Weekday, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, w); err != nil {
			return err
		}
		c, err := s.repo.CreateWindow(ctx, w)
		if err != nil {
			if errors.Is(err, errWindowExists) {
				return newError(KindConflict, ReasonWindowOverlap, "a window already starts at %s on that weekday", in.Start)
			}
			return fmt.Errorf("create window: %w", err)
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("availability window created",
		zap.Stringer("practitioner_id", created.PractitionerID),
		zap.Int("weekday", created.Weekday),
		zap.String("range", created.Start.String()+"-"+created.End.String()))
	return created, nil
}

func (s *Service) checkOverlap(ctx context.Context, w Window) error {
	existing, err := s.repo.ListActiveWindows(ctx, w.PractitionerID, w.Weekday)
	if err != nil {
		return fmt.Errorf("load windows: %w", err)
	}
	for _, o := range existing {
		if o.ID != w.ID && w.overlaps(o) {
			return newError(KindConflict, ReasonWindowOverlap, "overlaps existing window %s-%s", o.Start, o.End)
		}
	}
	return nil
}

func (s *Service) ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]Window, error) {
	if _, err := s.loadPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	windows, err := s.repo.ListWindows(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if windows == nil {
		windows = []Window{}
	}
	return windows, nil
}

// SetWindowActive toggles a window. Reactivating checks overlap again.
func (s *Service) SetWindowActive(ctx context.Context, actor Actor, id uuid.UUID, active bool) (*Window, error) {
	if !s.isOperator(actor) {
		return nil, ErrForbidden
	}

	w, err := s.repo.GetWindow(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load window: %w", err)
	}
	if w.Active == active {
		return w, nil
	}

	var updated *Window
	err = s.repo.WithScheduleLock(ctx, w.PractitionerID, w.Weekday, func(ctx context.Context) error {
		if active {
			if err := s.checkOverlap(ctx, *w); err != nil {
				return err
			}
		}
		u, err := s.repo.SetWindowActive(ctx, id, active)
		if err != nil {
			if errors.Is(err, ErrWindowNotFound) {
				return err
			}
			return fmt.Errorf("update window: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
