package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/narrativescanner/scanner/internal/config"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
}

var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether any notification channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendJobSummary reports a finished ingestion job via configured channels
func (s *Service) SendJobSummary(job models.IngestionJob) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(job); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Debugf("Sent job %s summary to Teams", job.ID)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(job); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Debugf("Sent job %s summary via email", job.ID)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(job models.IngestionJob) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(buildTeamsMessage(job)).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func subject(job models.IngestionJob) string {
	return fmt.Sprintf("%s ingestion %s (%d mentions)", job.Source.DisplayName(), job.Status, job.MentionsCount)
}

func jobFacts(job models.IngestionJob) []TeamsFact {
	facts := []TeamsFact{
		{Name: "Job", Value: job.ID},
		{Name: "Status", Value: string(job.Status)},
		{Name: "Mentions", Value: fmt.Sprintf("%d", job.MentionsCount)},
		{Name: "Started", Value: job.StartedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if job.CompletedAt != nil {
		facts = append(facts, TeamsFact{
			Name:  "Duration",
			Value: job.CompletedAt.Sub(job.StartedAt).Round(time.Second).String(),
		})
	}
	if p := job.Progress; p != nil {
		facts = append(facts,
			TeamsFact{Name: "Partitions", Value: fmt.Sprintf("%d/%d", p.PartitionsDone, p.PartitionsTotal)},
			TeamsFact{Name: "New / Duplicate / Skipped", Value: fmt.Sprintf("%d / %d / %d", p.Inserted, p.Duplicates, p.Skipped)},
		)
		if len(p.FailedPartitions) > 0 {
			facts = append(facts, TeamsFact{Name: "Failed partitions", Value: strings.Join(p.FailedPartitions, ", ")})
		}
	}
	return facts
}

func buildTeamsMessage(job models.IngestionJob) *TeamsMessage {
	color := "107C10"
	if job.Status == models.JobFailed {
		color = "D13438"
	}

	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      subject(job),
		Text:       job.Message,
		Sections: []TeamsSection{
			{
				ActivityTitle: "Summary",
				Facts:         jobFacts(job),
				Markdown:      true,
			},
		},
	}
}

func (s *Service) sendEmail(job models.IngestionJob) error {
	htmlBody, err := buildEmailHTML(job)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject(job))
	m.SetBody("text/plain", buildEmailText(job))
	m.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #{{.Color}}; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        {{range .Facts}}
            <p><strong>{{.Name}}:</strong> {{.Value}}</p>
        {{end}}
    </div>

    <hr>
    <p><small>This summary was generated automatically by the narrative scanner.</small></p>
</body>
</html>
`))

func buildEmailHTML(job models.IngestionJob) (string, error) {
	message := buildTeamsMessage(job)

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]interface{}{
		"Title":   message.Title,
		"Color":   message.ThemeColor,
		"Message": job.Message,
		"Facts":   message.Sections[0].Facts,
	})
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

func buildEmailText(job models.IngestionJob) string {
	var text strings.Builder

	text.WriteString(subject(job) + "\n")
	text.WriteString(job.Message + "\n\n")

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	for _, fact := range jobFacts(job) {
		text.WriteString(fmt.Sprintf("%s: %s\n", fact.Name, fact.Value))
	}

	text.WriteString("\n---\nThis summary was generated automatically by the narrative scanner.\n")

	return text.String()
}
