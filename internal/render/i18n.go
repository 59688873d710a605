package render

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	appLog "calgrid/internal/log"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs in locales/active.<lang>.json.
const (
	msgMonthTitle = "month_title"
	msgWeekTitle  = "week_title"
	msgMore       = "more"
)

// Labels translates the strings drawn on the calendar.
type Labels struct {
	lang      string
	localizer *i18n.Localizer
}

// NewLabels loads the embedded locales and returns labels for lang.
// Unknown languages fall back to English.
func NewLabels(lang string) (*Labels, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			return nil, fmt.Errorf("load locale %s: %w", name, err)
		}
	}

	return &Labels{
		lang:      lang,
		localizer: i18n.NewLocalizer(bundle, lang, language.English.String()),
	}, nil
}

func (l *Labels) Language() string { return l.lang }

func (l *Labels) get(id string, data map[string]any, count any) string {
	cfg := &i18n.LocalizeConfig{MessageID: id, TemplateData: data}
	if count != nil {
		cfg.PluralCount = count
	}
	msg, err := l.localizer.Localize(cfg)
	if err != nil {
		appLog.Debug("translation missing", "lang", l.lang, "key", id, "err", err)
		return id
	}
	return msg
}

// Weekday is the short weekday name.
func (l *Labels) Weekday(d time.Weekday) string {
	return l.get(fmt.Sprintf("weekday_%d", int(d)), nil, nil)
}

// MonthTitle is the heading of a month grid.
func (l *Labels) MonthTitle(year int, month time.Month) string {
	return l.get(msgMonthTitle, map[string]any{
		"Year":      year,
		"Month":     int(month),
		"MonthName": month.String(),
	}, nil)
}

// WeekTitle is the heading of a single week row.
func (l *Labels) WeekTitle(start time.Time) string {
	return l.get(msgWeekTitle, map[string]any{"Date": start.Format("2006-01-02")}, nil)
}

// More is the "+N more" label for hidden entries.
func (l *Labels) More(n int) string {
	return l.get(msgMore, map[string]any{"Count": n}, n)
}
