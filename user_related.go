package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRelated is implemented by records owned by a user
type UserRelated interface {
	GetUserID() uuid.UUID
	SetUserID(id uuid.UUID)
}

// UserScoped restricts queries over T to rows owned by a single user.
// Every query gets a user_id condition so one user can never read or
// create rows for another.
type UserScoped[T UserRelated] struct {
	db      bun.IDB
	repo    repository.Repository[T]
	newFunc func() T
	column  string
}

// NewUserScoped wraps repo. newRecord must return a zero value model
// pointer, it is used as the scan target.
func NewUserScoped[T UserRelated](db bun.IDB, repo repository.Repository[T], newRecord func() T) *UserScoped[T] {
	return &UserScoped[T]{
		db:      db,
		repo:    repo,
		newFunc: newRecord,
		column:  "user_id",
	}
}

// WithColumn changes the owner column, defaults to user_id
func (s *UserScoped[T]) WithColumn(column string) *UserScoped[T] {
	if column != "" {
		s.column = column
	}
	return s
}

func (s *UserScoped[T]) scope(userID uuid.UUID) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(s.column), userID)
	}
}

// FindAllForUser returns every row owned by userID matching criteria
func (s *UserScoped[T]) FindAllForUser(ctx context.Context, userID uuid.UUID, criteria ...repository.SelectCriteria) ([]T, error) {
	var records []T
	q := s.db.NewSelect().Model(&records)
	q.Apply(s.scope(userID))
	for _, c := range criteria {
		q.Apply(c)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

// FindOneForUser returns the first matching row or a zero T with a nil
// error when nothing matches.
func (s *UserScoped[T]) FindOneForUser(ctx context.Context, userID uuid.UUID, criteria ...repository.SelectCriteria) (T, bool, error) {
	var zero T
	record := s.newFunc()
	q := s.db.NewSelect().Model(record)
	q.Apply(s.scope(userID))
	for _, c := range criteria {
		q.Apply(c)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if isRecordNotFound(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return record, true, nil
}

// FindOneForUserOrNotFound is FindOneForUser with ErrNotFound on a miss
func (s *UserScoped[T]) FindOneForUserOrNotFound(ctx context.Context, userID uuid.UUID, criteria ...repository.SelectCriteria) (T, error) {
	record, found, err := s.FindOneForUser(ctx, userID, criteria...)
	if err != nil {
		return record, err
	}
	if !found {
		return record, ErrNotFound
	}
	return record, nil
}

// GetForUser loads a row by primary key, scoped to userID
func (s *UserScoped[T]) GetForUser(ctx context.Context, userID uuid.UUID, id any, criteria ...repository.SelectCriteria) (T, bool, error) {
	return s.FindOneForUser(ctx, userID, append([]repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.id = ?", id)
		},
	}, criteria...)...)
}

// GetForUserOrNotFound is GetForUser with ErrNotFound on a miss
func (s *UserScoped[T]) GetForUserOrNotFound(ctx context.Context, userID uuid.UUID, id any, criteria ...repository.SelectCriteria) (T, error) {
	record, found, err := s.GetForUser(ctx, userID, id, criteria...)
	if err != nil {
		return record, err
	}
	if !found {
		return record, ErrNotFound
	}
	return record, nil
}

// CreateForUser stamps record with userID and inserts it
func (s *UserScoped[T]) CreateForUser(ctx context.Context, userID uuid.UUID, record T, criteria ...repository.InsertCriteria) (T, error) {
	record.SetUserID(userID)
	return s.repo.CreateTx(ctx, s.db, record, criteria...)
}

// FindAllForCurrentUser runs FindAllForUser for the user in ctx
func (s *UserScoped[T]) FindAllForCurrentUser(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.FindAllForUser(ctx, id, criteria...)
}

func (s *UserScoped[T]) FindOneForCurrentUser(ctx context.Context, criteria ...repository.SelectCriteria) (T, bool, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return s.FindOneForUser(ctx, id, criteria...)
}

func (s *UserScoped[T]) FindOneForCurrentUserOrNotFound(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.FindOneForUserOrNotFound(ctx, id, criteria...)
}

func (s *UserScoped[T]) GetForCurrentUser(ctx context.Context, pk any, criteria ...repository.SelectCriteria) (T, bool, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return s.GetForUser(ctx, id, pk, criteria...)
}

func (s *UserScoped[T]) GetForCurrentUserOrNotFound(ctx context.Context, pk any, criteria ...repository.SelectCriteria) (T, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.GetForUserOrNotFound(ctx, id, pk, criteria...)
}

func (s *UserScoped[T]) CreateForCurrentUser(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	id, err := currentUserID(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.CreateForUser(ctx, id, record, criteria...)
}

func currentUserID(ctx context.Context) (uuid.UUID, error) {
	user, ok := FromContext(ctx)
	if !ok || user == nil || user.ID == uuid.Nil {
		return uuid.Nil, ErrNoCurrentUser
	}
	return user.ID, nil
}
