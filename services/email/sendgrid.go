package emailsvc

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/elimu/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
	sendAttempts     = 3
)

var (
	sendgridAPI = sendgrid.API // mockable
	retryDelay  = time.Second

	// subjects used when a templated message has none
	templateSubjects = map[string]string{
		"enrollment":      "Course enrollment",
		"import_finished": "Course import finished",
		"password_reset":  "Password Reset",
	}

	// emails whose links carry secrets; SendGrid must not rewrite them for click tracking
	untrackedTemplates = map[string]bool{"password_reset": true}
)

type sendgridService struct {
	key     string
	from    *sgmail.Email
	appName string
	env     string
	sandbox bool
	logger  core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

// NewSendgridService sends emails through the SendGrid v3 API.
// In test mode the API runs in sandbox mode: requests are validated but nothing is delivered.
func NewSendgridService(logger core.Logger) core.EmailService {
	return newSendgridService(core.Conf, logger)
}

func newSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	return &sendgridService{
		key:     conf.SendgridApiKey,
		from:    sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		appName: conf.AppName,
		env:     conf.Env,
		sandbox: conf.TestMode,
		logger:  logger,
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go svc.sendMessage(msg)
	}
}

func (svc *sendgridService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering email %q: %v", msg.TemplateName, err), err)
		return
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return
	}
	svc.send(svc.prepare(*msg), msg.TemplateName)
}

func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	subject := msg.Subject
	if subject == "" {
		subject = templateSubjects[msg.TemplateName]
	}
	p.Subject = "[" + svc.appName + "] " + subject
	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}
	p.SetCustomArg("env", svc.env)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	// categories group the LMS emails in SendGrid stats: one per template
	m.AddCategories(svc.appName)
	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
		p.SetCustomArg("template", msg.TemplateName)
	}

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(at.Content.Bytes()),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}

	if untrackedTemplates[msg.TemplateName] {
		m.SetTrackingSettings(sgmail.NewTrackingSettings().SetClickTracking(
			sgmail.NewClickTrackingSetting().SetEnable(false).SetEnableText(false),
		))
	}
	if svc.sandbox {
		m.SetMailSettings(sgmail.NewMailSettings().SetSandboxMode(sgmail.NewSetting(true)))
	}
	return m
}

// send posts m, retrying rate limited and server errors.
func (svc *sendgridService) send(m *sgmail.SGMailV3, template string) {
	req := sendgrid.GetRequest(svc.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	for attempt := 1; ; attempt++ {
		res, err := sendgridAPI(req)
		switch {
		case err == nil && res.StatusCode < http.StatusBadRequest:
			return
		case attempt < sendAttempts && (err != nil || retryable(res.StatusCode)):
			time.Sleep(time.Duration(attempt) * retryDelay)
			continue
		case err != nil:
			svc.logger.Error(fmt.Sprintf("sending %q email: %v", template, err), err)
		default:
			svc.logger.Error(
				fmt.Sprintf("sending %q email - status: %d", template, res.StatusCode),
				map[string]interface{}{"template": template, "attempts": attempt, "body": res.Body},
			)
		}
		return
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}
