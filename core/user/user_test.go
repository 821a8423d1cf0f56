package user_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
	emailsvc "github.com/trezcool/elimu/services/email"
	logsvc "github.com/trezcool/elimu/services/logger"
	dummydb "github.com/trezcool/elimu/storage/database/dummy"
	testutil "github.com/trezcool/elimu/tests"
)

func setup(t *testing.T) (user.Service, user.Repository, *validator.Validate) {
	db, err := dummydb.Open()
	require.NoError(t, err)
	repo := dummydb.NewUserRepository(db)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	logger := logsvc.NewNopLogger()
	user.LoadCommonPasswords(logger)

	emailsvc.ResetSentMessages()
	t.Cleanup(emailsvc.ResetSentMessages)
	return user.NewService(repo, emailsvc.NewConsoleServiceMock(logger)), repo, validate
}

// fieldTags maps each invalid field to its failing tag.
func fieldTags(t *testing.T, err error) map[string]string {
	var vErrs validator.ValidationErrors
	require.ErrorAs(t, err, &vErrs)
	tags := make(map[string]string, len(vErrs))
	for _, fe := range vErrs {
		tags[fe.Field()] = fe.Tag()
	}
	return tags
}

func TestNewUser_Validate(t *testing.T) {
	svc, _, validate := setup(t)
	valid := func() user.NewUser {
		return user.NewUser{Name: "Joe Doe", Username: "joe", Email: "joe@test.cd", Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&3"}
	}

	tests := []struct {
		name   string
		modify func(nu *user.NewUser)
		want   map[string]string
	}{
		{"valid", func(nu *user.NewUser) {}, nil},
		{"no username nor email", func(nu *user.NewUser) { nu.Username, nu.Email = "", "" },
			map[string]string{"username": "username_or_email", "email": "username_or_email"}},
		{"bad username", func(nu *user.NewUser) { nu.Username = "jo-e" }, map[string]string{"username": "alphanum_"}},
		{"bad roles", func(nu *user.NewUser) { nu.Roles = []string{user.RoleStudent, "root"} }, map[string]string{"roles": "allroles"}},
		{"passwords differ", func(nu *user.NewUser) { nu.PasswordConfirm = "other" }, map[string]string{"password_confirm": "eqfield"}},
	}
	pwdTests := []struct {
		pwd, tag string
	}{
		{"Sh0rt!", "pwdminlen"},
		{"With Space1!", "pwdnospace"},
		{"1234567890", "pwdnotallnum"},
		{"alllowercase1!", "pwdcplx"},
		{"Joe@test.cd1", "pwdtoosim"},
		{"P@ssw0rd", "pwdnocommon"},
	}
	for _, pt := range pwdTests {
		pt := pt
		tests = append(tests, struct {
			name   string
			modify func(nu *user.NewUser)
			want   map[string]string
		}{
			name:   "password " + pt.tag,
			modify: func(nu *user.NewUser) { nu.Password, nu.PasswordConfirm = pt.pwd, pt.pwd },
			want:   map[string]string{"password": pt.tag},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			tt.modify(&nu)
			err := nu.Validate(context.Background(), validate, svc)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fieldTags(t, err))
		})
	}

	t.Run("inputs are cleaned", func(t *testing.T) {
		nu := valid()
		nu.Username, nu.Email = " JOE ", " Joe@Test.CD "
		require.NoError(t, nu.Validate(context.Background(), validate, svc))
		assert.Equal(t, "joe", nu.Username)
		assert.Equal(t, "joe@test.cd", nu.Email)
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc, repo, validate := setup(t)
	existing := testutil.CreateUser(t, repo, "Ada", "ada", "ada@test.cd", "pwd", []string{user.RoleStudent}, true)

	t.Run("uniqueness", func(t *testing.T) {
		nu := user.NewUser{Name: "Ada", Username: "ada", Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&3"}
		err := nu.Validate(ctx, validate, svc)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Len(t, vErr.Fields, 2)

		assert.NoError(t, svc.CheckUniqueness(ctx, "ada", "ada@test.cd", existing))
	})

	t.Run("create", func(t *testing.T) {
		usr, err := svc.Create(ctx, user.NewUser{Name: "Joe", Username: "joe", Password: "Tr0ub4dor&3", Roles: []string{user.RoleStaff}})
		require.NoError(t, err)
		assert.True(t, usr.Active())
		assert.True(t, usr.IsStaff())
		assert.False(t, usr.IsSuperuser())
		assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3"))

		got, err := svc.GetByUsernameOrEmail(ctx, " JOE ")
		require.NoError(t, err)
		assert.Equal(t, usr.ID, got.ID)
	})

	t.Run("last login", func(t *testing.T) {
		assert.True(t, existing.LastLogin.IsZero())
		usr, err := svc.SetLastLogin(ctx, existing)
		require.NoError(t, err)
		got, err := svc.GetByID(ctx, usr.ID)
		require.NoError(t, err)
		assert.False(t, got.LastLogin.IsZero())
	})

	_, err := svc.GetByID(ctx, "nope")
	assert.Equal(t, user.ErrNotFound, err)
}

func TestService_passwordReset(t *testing.T) {
	ctx := context.Background()
	svc, repo, validate := setup(t)
	ada := testutil.CreateUser(t, repo, "Ada", "ada", "ada@test.cd", "pwd", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, repo, "Bob", "bob", "bob@test.cd", "pwd", []string{user.RoleStudent}, false)

	t.Run("request", func(t *testing.T) {
		for _, email := range []string{"nobody@test.cd", "bob@test.cd"} {
			require.NoError(t, svc.RequestPasswordReset(ctx, email))
		}
		assert.Empty(t, emailsvc.SentMessages(), "unknown & inactive users get no email")

		require.NoError(t, svc.RequestPasswordReset(ctx, " ADA@test.cd "))
		msgs := emailsvc.SentMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "ada@test.cd", msgs[0].To[0].Address)
		link := "/password-reset/" + user.EncodeUID(ada) + "/" + user.MakeToken(ada)
		assert.Contains(t, msgs[0].TextContent, link)
		assert.Contains(t, msgs[0].HTMLContent, link)
	})

	t.Run("validate", func(t *testing.T) {
		rp := user.ResetUserPassword{Token: "t", UID: "u", Password: "1234567890", PasswordConfirm: "1234567890"}
		assert.Equal(t, map[string]string{"password": "pwdnotallnum"}, fieldTags(t, rp.Validate(validate)))

		rp.PasswordConfirm = "other"
		assert.Equal(t, "eqfield", fieldTags(t, rp.Validate(validate))["password_confirm"])
	})

	validUID, validToken := user.EncodeUID(ada), user.MakeToken(ada)
	tests := []struct {
		name  string
		rp    user.ResetUserPassword
		field string
	}{
		{"undecodable uid", user.ResetUserPassword{UID: "!!", Token: validToken}, "uid"},
		{"unknown user", user.ResetUserPassword{UID: user.EncodeUID(user.User{ID: "nope"}), Token: validToken}, "uid"},
		{"bad token", user.ResetUserPassword{UID: validUID, Token: "MQ-sig"}, "token"},
		{"similar password", user.ResetUserPassword{UID: validUID, Token: validToken, Password: "Ada@test.cd1"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ResetPassword(ctx, tt.rp)
			var vErr *core.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Fields[0].Field)
		})
	}

	usr, err := svc.ResetPassword(ctx, user.ResetUserPassword{UID: validUID, Token: validToken, Password: "Tr0ub4dor&3"})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3"))

	_, err = svc.ResetPassword(ctx, user.ResetUserPassword{UID: validUID, Token: validToken, Password: "N3w-Secret!"})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr, "tokens are single use")
	assert.Equal(t, "token", vErr.Fields[0].Field)
}

func TestUser_roles(t *testing.T) {
	tests := []struct {
		roles                     []string
		superuser, staff, student bool
		priority                  int
	}{
		{[]string{user.RoleAdmin}, true, true, false, 30},
		{[]string{user.RoleStaffEducator, user.RoleStudent}, false, true, true, 19},
		{[]string{user.RoleStudent}, false, false, true, 1},
		{nil, false, false, false, 0},
	}
	for _, tt := range tests {
		usr := user.User{Roles: tt.roles}
		assert.Equal(t, tt.superuser, usr.IsSuperuser(), tt.roles)
		assert.Equal(t, tt.staff, usr.IsStaff(), tt.roles)
		assert.Equal(t, tt.student, usr.IsStudent(), tt.roles)
		assert.Equal(t, tt.priority, user.MaxRolePriority(tt.roles), tt.roles)
	}

	assert.Equal(t, "ada", user.User{Username: "ada"}.DisplayName())
	assert.Equal(t, "Ada", user.User{Name: "Ada", Username: "ada"}.DisplayName())
}
