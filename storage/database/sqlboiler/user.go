package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
)

var dialect = drivers.Dialect{
	LQ:                   '"',
	RQ:                   '"',
	UseIndexPlaceholders: true,
	UseDefaultKeyword:    true,
}

const userTable = `"user"`

var (
	userColumns = struct {
		ID, Name, Username, Email, IsActive, Roles, PasswordHash, CreatedAt, UpdatedAt, LastLogin string
	}{
		ID:           "id",
		Name:         "name",
		Username:     "username",
		Email:        "email",
		IsActive:     "is_active",
		Roles:        "roles",
		PasswordHash: "password_hash",
		CreatedAt:    "created_at",
		UpdatedAt:    "updated_at",
		LastLogin:    "last_login",
	}

	// every column but id, in insert order
	userWritableColumns = []string{
		userColumns.Name, userColumns.Username, userColumns.Email, userColumns.IsActive, userColumns.Roles,
		userColumns.PasswordHash, userColumns.CreatedAt, userColumns.UpdatedAt, userColumns.LastLogin,
	}
)

// userRow is a row of the "user" table.
type userRow struct {
	ID           string            `boil:"id"`
	Name         null.String       `boil:"name"`
	Username     null.String       `boil:"username"`
	Email        null.String       `boil:"email"`
	IsActive     null.Bool         `boil:"is_active"`
	Roles        types.StringArray `boil:"roles"`
	PasswordHash null.Bytes        `boil:"password_hash"`
	CreatedAt    null.Time         `boil:"created_at"`
	UpdatedAt    null.Time         `boil:"updated_at"`
	LastLogin    null.Time         `boil:"last_login"`
}

// values follow userWritableColumns
func (row *userRow) values() []interface{} {
	return []interface{}{
		row.Name, row.Username, row.Email, row.IsActive, row.Roles,
		row.PasswordHash, row.CreatedAt, row.UpdatedAt, row.LastLogin,
	}
}

func newQuery(mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	qm.Apply(q, mods...)
	return q
}

func users(mods ...qm.QueryMod) *queries.Query {
	return newQuery(append(mods, qm.From(userTable))...)
}

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{exec: exec}
}

func (repo userRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

func (repo userRepository) boil(usr user.User) *userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	u := &userRow{
		ID:           usr.ID,
		Name:         null.NewString(usr.Name, true),
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     null.BoolFromPtr(usr.IsActive),
		Roles:        roles,
		PasswordHash: null.BytesFrom(usr.PasswordHash),
		CreatedAt:    null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
	if !u.IsActive.Valid {
		u.IsActive = null.BoolFrom(true)
	}
	return u
}

func (repo userRepository) unboil(usr *userRow) user.User {
	if usr == nil {
		return user.User{}
	}
	return user.User{
		ID:           usr.ID,
		Name:         usr.Name.String,
		Username:     usr.Username.String,
		Email:        usr.Email.String,
		IsActive:     usr.IsActive.Ptr(),
		Roles:        usr.Roles,
		PasswordHash: usr.PasswordHash.Bytes,
		CreatedAt:    usr.CreatedAt.Time,
		UpdatedAt:    usr.UpdatedAt.Time,
		LastLogin:    usr.LastLogin.Time,
	}
}

func (repo userRepository) unboilSlice(slice []*userRow) []user.User {
	users := make([]user.User, 0, len(slice))
	for _, u := range slice {
		users = append(users, repo.unboil(u))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	mods := []qm.QueryMod{
		qm.Expr(qm.Where(fmt.Sprintf("%s = ? OR %s = ?", userColumns.Username, userColumns.Email), username, email)),
	}
	if len(excludedUsers) > 0 {
		ids := make(types.StringArray, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		mods = append(mods, qm.Where(fmt.Sprintf("NOT (%s = ANY(?::uuid[]))", userColumns.ID), ids))
	}

	q := users(mods...)
	queries.SetCount(q)
	queries.SetLimit(q, 1)

	var count int64
	if err := q.QueryRowContext(ctx, repo.getExec(exec)).Scan(&count); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if count > 0 {
		return user.ErrUserExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	now := core.Now()
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = now
	}
	usr.UpdatedAt = now
	u := repo.boil(usr)

	cols := append([]string{userColumns.ID}, userWritableColumns...)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		userTable,
		strings.Join(strmangle.IdentQuoteSlice(dialect.LQ, dialect.RQ, cols), ", "),
		strmangle.Placeholders(dialect.UseIndexPlaceholders, len(cols), 1, 1))

	var inserted userRow
	args := append([]interface{}{u.ID}, u.values()...)
	if err := queries.Raw(query, args...).Bind(ctx, repo.getExec(exec), &inserted); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.unboil(&inserted), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var mods []qm.QueryMod

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			mods = append(mods, qm.Expr(qm.Where(
				fmt.Sprintf(
					"%s ILIKE ? OR %s ILIKE ? OR %s ILIKE ?",
					userColumns.Name, userColumns.Username, userColumns.Email),
				val, val, val)))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleMods := make([]qm.QueryMod, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleMods = append(roleMods, qm.Or2(qm.Where(
					fmt.Sprintf(
						"%s IN (SELECT %s FROM %s, UNNEST(%s) user_role WHERE user_role ILIKE ?)",
						userColumns.ID, userColumns.ID, userTable, userColumns.Roles), role+"%")))
			}
			mods = append(mods, qm.Expr(roleMods...))
		}
		if filter.IsActive != nil {
			mods = append(mods, qm.Where(userColumns.IsActive+" = ?", *filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			mods = append(mods, qm.Where(userColumns.CreatedAt+" >= ?", filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			mods = append(mods, qm.Where(userColumns.CreatedAt+" <= ?", filter.CreatedTo.UTC()))
		}
	}

	if ordering != nil {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		mods = append(mods, qm.OrderBy(strings.Join(orderList, ", ")))
	}

	var rows []*userRow
	if err := users(mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unboilSlice(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var mod qm.QueryMod

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		mod = qm.Where(userColumns.ID+" = ?", filter.ID)
	case filter.Username != "":
		mod = qm.Where(userColumns.Username+" = ?", filter.Username)
	case filter.Email != "":
		mod = qm.Where(userColumns.Email+" = ?", filter.Email)
	case filter.UsernameOrEmail != nil:
		var email string
		uname := filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 {
			email = filter.UsernameOrEmail[1]
		}
		if email == "" {
			email = uname
		} else if uname == "" {
			uname = email
		}
		if email == "" && uname == "" {
			return user.User{}, user.ErrNotFound
		}
		mod = qm.Where(fmt.Sprintf("%s = ? OR %s = ?", userColumns.Username, userColumns.Email), uname, email)
	default:
		return user.User{}, user.ErrNotFound
	}

	var usr userRow
	if err := users(mod, qm.Limit(1)).Bind(ctx, repo.getExec(exec), &usr); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.unboil(&usr), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.UpdatedAt = core.Now()
	u := repo.boil(usr)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		userTable,
		strmangle.SetParamNames(`"`, `"`, 1, userWritableColumns),
		userColumns.ID, len(userWritableColumns)+1)

	var updated userRow
	args := append(u.values(), u.ID)
	if err := queries.Raw(query, args...).Bind(ctx, repo.getExec(exec), &updated); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "updating user")
	}
	return repo.unboil(&updated), nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}
