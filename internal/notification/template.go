package notification

import (
	"strings"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// DefaultTemplate is used when neither the rule nor configuration names one
const DefaultTemplate = "Safety alert: {{event}} ({{severity}}) on vehicle {{vehicle}}, driver {{driver}}, at {{time}}."

// TemplateData holds the placeholder values for a notification body
type TemplateData struct {
	Vehicle  string
	Driver   string
	Event    string
	Severity models.Severity
	Time     time.Time
}

// TemplateDataFromSignal fills template values from a signal
func TemplateDataFromSignal(signal *models.Signal) TemplateData {
	if signal == nil {
		return TemplateData{}
	}
	event := signal.EventType
	if event == "" && len(signal.Labels) > 0 {
		event = strings.Join(signal.Labels, ", ")
	}
	vehicle := signal.VehicleName
	if vehicle == "" {
		vehicle = signal.VehicleID
	}
	driver := signal.DriverName
	if driver == "" {
		driver = signal.DriverID
	}
	return TemplateData{
		Vehicle:  vehicle,
		Driver:   driver,
		Event:    event,
		Severity: signal.Severity,
		Time:     signal.OccurredAt,
	}
}

// Render replaces {{vehicle}}, {{driver}}, {{event}}, {{severity}} and
// {{time}} in tmpl. Missing values render as "unknown".
func Render(tmpl string, data TemplateData) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	at := "unknown"
	if !data.Time.IsZero() {
		at = data.Time.UTC().Format("2006-01-02 15:04 MST")
	}
	replacer := strings.NewReplacer(
		"{{vehicle}}", orUnknown(data.Vehicle),
		"{{driver}}", orUnknown(data.Driver),
		"{{event}}", orUnknown(data.Event),
		"{{severity}}", orUnknown(string(data.Severity)),
		"{{time}}", at,
	)
	return replacer.Replace(tmpl)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
