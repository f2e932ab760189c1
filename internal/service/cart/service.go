package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coursecart/internal/domain"
	"go.uber.org/zap"
)

// ErrCourseRequired rejects an add without a course id.
var ErrCourseRequired = errors.New("courseId required")

type Service struct {
	repo        cartRepo
	courses     courseReader
	enrollments enrollmentChecker
	logger      *zap.Logger
}

type cartRepo interface {
	GetOrCreateActive(ctx context.Context, userID string) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	AddLine(ctx context.Context, cartID string, course domain.Course) (*domain.CartLine, error)
	RemoveLine(ctx context.Context, cartID, courseID string) error
	Clear(ctx context.Context, cartID string) error
}

type courseReader interface {
	GetByID(ctx context.Context, id string) (*domain.Course, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

func New(repo cartRepo, courses courseReader, enrollments enrollmentChecker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, courses: courses, enrollments: enrollments, logger: logger.Named("cart")}
}

// Get returns the user's active cart, creating an empty one on first use.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.repo.GetOrCreateActive(ctx, userID)
}

// AddCourse puts a course in the user's active cart at its current catalog
// price. Courses the user already owns are rejected.
func (s *Service) AddCourse(ctx context.Context, userID, courseID string) (*domain.Cart, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, ErrCourseRequired
	}
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("lookup course %s: %w", courseID, err)
	}
	owned, err := s.enrollments.IsEnrolled(ctx, userID, course.ID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, domain.ErrAlreadyPurchased
	}

	cart, err := s.repo.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.AddLine(ctx, cart.ID, *course); err != nil {
		return nil, err
	}
	s.logger.Info("course added to cart",
		zap.String("user_id", userID),
		zap.String("cart_id", cart.ID),
		zap.String("course_id", course.ID),
		zap.Int64("price_cents", course.PriceCents),
	)
	return s.repo.GetByID(ctx, cart.ID)
}

func (s *Service) RemoveCourse(ctx context.Context, userID, courseID string) (*domain.Cart, error) {
	cart, err := s.repo.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemoveLine(ctx, cart.ID, strings.TrimSpace(courseID)); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, cart.ID)
}

func (s *Service) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Clear(ctx, cart.ID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, cart.ID)
}
