package emailsvc

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
)

type errLogger struct{ errs []string }

func (l *errLogger) Debug(string, ...interface{}) {}
func (l *errLogger) Info(string, ...interface{})  {}
func (l *errLogger) Warn(string, ...interface{})  {}
func (l *errLogger) Fatal(string, ...interface{}) {}
func (l *errLogger) Error(msg string, _ ...interface{}) {
	l.errs = append(l.errs, msg)
}

func testSendgridService(logger core.Logger) *sendgridService {
	return newSendgridService(&core.Config{
		AppName:          "Elimu",
		Env:              "test",
		TestMode:         true,
		SendgridApiKey:   "SG.key",
		DefaultFromEmail: mail.Address{Name: "Elimu", Address: "noreply@elimu.cd"},
	}, logger)
}

func TestSendgridService_prepare(t *testing.T) {
	svc := testSendgridService(&errLogger{})
	to := []mail.Address{{Name: "Learner", Address: "learner@test.cd"}}

	tests := []struct {
		name        string
		msg         core.EmailMessage
		wantSubject string
		wantCats    []string
		noTracking  bool
	}{
		{
			name:        "enrollment",
			msg:         core.EmailMessage{To: to, Subject: "Welcome to Go 101", TemplateName: "enrollment", TextContent: "hi"},
			wantSubject: "[Elimu] Welcome to Go 101",
			wantCats:    []string{"Elimu", "enrollment"},
		},
		{
			name:        "password reset",
			msg:         core.EmailMessage{To: to, TemplateName: "password_reset", TextContent: "reset", HTMLContent: "<p>reset</p>"},
			wantSubject: "[Elimu] Password Reset",
			wantCats:    []string{"Elimu", "password_reset"},
			noTracking:  true,
		},
		{
			name:        "plain message",
			msg:         core.EmailMessage{To: to, Subject: "Hello", TextContent: "hello"},
			wantSubject: "[Elimu] Hello",
			wantCats:    []string{"Elimu"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := svc.prepare(tt.msg)

			require.Len(t, m.Personalizations, 1)
			p := m.Personalizations[0]
			assert.Equal(t, tt.wantSubject, p.Subject)
			assert.Equal(t, "learner@test.cd", p.To[0].Address)
			assert.Equal(t, "test", p.CustomArgs["env"])
			assert.Equal(t, tt.msg.TemplateName, p.CustomArgs["template"])
			assert.Equal(t, tt.wantCats, m.Categories)

			if tt.msg.HTMLContent == "" {
				assert.Len(t, m.Content, 1)
			} else {
				assert.Len(t, m.Content, 2)
			}

			if tt.noTracking {
				require.NotNil(t, m.TrackingSettings)
				require.NotNil(t, m.TrackingSettings.ClickTracking)
				assert.False(t, *m.TrackingSettings.ClickTracking.Enable)
			} else {
				assert.Nil(t, m.TrackingSettings)
			}

			require.NotNil(t, m.MailSettings)
			assert.True(t, *m.MailSettings.SandboxMode.Enable)
		})
	}
}

func TestSendgridService_prepare_attachment(t *testing.T) {
	svc := testSendgridService(&errLogger{})
	msg := core.EmailMessage{
		To:          []mail.Address{{Address: "staff@test.cd"}},
		TextContent: "report attached",
		Attachments: []core.Attachment{{Content: bytes.NewBufferString("ok"), ContentType: "text/plain", Filename: "report.txt"}},
	}

	m := svc.prepare(msg)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "b2s=", m.Attachments[0].Content)
	assert.Equal(t, "report.txt", m.Attachments[0].Filename)
}

func TestSendgridService_send(t *testing.T) {
	origAPI, origDelay := sendgridAPI, retryDelay
	retryDelay = time.Millisecond
	defer func() { sendgridAPI, retryDelay = origAPI, origDelay }()

	resp := func(status int) (*rest.Response, error) {
		return &rest.Response{StatusCode: status, Body: http.StatusText(status)}, nil
	}
	tests := []struct {
		name      string
		responses []func() (*rest.Response, error)
		wantCalls int
		wantErrs  int
	}{
		{
			name:      "accepted",
			responses: []func() (*rest.Response, error){func() (*rest.Response, error) { return resp(http.StatusAccepted) }},
			wantCalls: 1,
		},
		{
			name: "rate limited then accepted",
			responses: []func() (*rest.Response, error){
				func() (*rest.Response, error) { return resp(http.StatusTooManyRequests) },
				func() (*rest.Response, error) { return resp(http.StatusAccepted) },
			},
			wantCalls: 2,
		},
		{
			name:      "bad request is not retried",
			responses: []func() (*rest.Response, error){func() (*rest.Response, error) { return resp(http.StatusBadRequest) }},
			wantCalls: 1,
			wantErrs:  1,
		},
		{
			name: "gives up after the last attempt",
			responses: []func() (*rest.Response, error){
				func() (*rest.Response, error) { return nil, errors.New("connection reset") },
				func() (*rest.Response, error) { return resp(http.StatusBadGateway) },
				func() (*rest.Response, error) { return resp(http.StatusServiceUnavailable) },
			},
			wantCalls: sendAttempts,
			wantErrs:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &errLogger{}
			svc := testSendgridService(logger)

			calls := 0
			sendgridAPI = func(req rest.Request) (*rest.Response, error) {
				assert.Equal(t, http.MethodPost, string(req.Method))
				assert.Equal(t, "Bearer SG.key", req.Headers["Authorization"])
				calls++
				if calls > len(tt.responses) {
					return nil, fmt.Errorf("unexpected call %d", calls)
				}
				return tt.responses[calls-1]()
			}

			msg := core.EmailMessage{To: []mail.Address{{Address: "a@test.cd"}}, TemplateName: "import_finished", TextContent: "done"}
			svc.send(svc.prepare(msg), msg.TemplateName)

			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, logger.errs, tt.wantErrs)
		})
	}
}
