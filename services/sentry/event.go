package sentry

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Event is an issue event as delivered by the Sentry WebHooks integration.
type Event struct {
	// Group (issue) ID.
	GroupID     string
	Project     string
	ProjectName string
	Message     string
	Culprit     string
	Level       string
	// Absolute URL of the group, possibly with a query string.
	URL string
	// Group status, unresolved, resolved or ignored.
	Status      string
	EventID     string
	Environment string
	Title       string
	Tags        Tags
}

const StatusIgnored = "ignored"

// Ignored reports whether the group was muted in Sentry.
func (e Event) Ignored() bool {
	return e.Status == StatusIgnored
}

// Summary is the text shown as the error summary, before trimming.
func (e Event) Summary() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Title != "":
		return e.Title
	default:
		return e.Culprit
	}
}

// DetailsURL links to the event within its group, or is empty when the
// group URL is unknown.
func (e Event) DetailsURL(baseURL string) string {
	groupURL := e.URL
	if groupURL == "" {
		if baseURL == "" || e.GroupID == "" {
			return ""
		}
		groupURL = strings.TrimSuffix(baseURL, "/") + "/issues/" + e.GroupID + "/"
	}
	u, err := url.Parse(groupURL)
	if err != nil {
		return ""
	}
	// Sentry appends a referrer to group links.
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if e.EventID != "" {
		u.Path += "events/" + e.EventID + "/"
	}
	return u.String()
}

type Tag struct {
	Key   string
	Value string
}

// Tags accepts both the [key, value] pair and the {"key", "value"} object forms.
type Tags []Tag

func (t *Tags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tags := make(Tags, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		var tag Tag
		if len(r) > 0 && r[0] == '[' {
			var pair []string
			if err := json.Unmarshal(r, &pair); err != nil {
				return errors.Wrap(err, "invalid tag pair")
			}
			if len(pair) != 2 {
				return errors.Errorf("invalid tag pair of length %d", len(pair))
			}
			tag = Tag{Key: pair[0], Value: pair[1]}
		} else {
			var obj struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := json.Unmarshal(r, &obj); err != nil {
				return errors.Wrap(err, "invalid tag")
			}
			tag = Tag{Key: obj.Key, Value: obj.Value}
		}
		tags = append(tags, tag)
	}
	*t = tags
	return nil
}

// Get returns the value of the first tag with the key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// idString accepts IDs sent either as strings or as numbers.
type idString string

func (s *idString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = idString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = idString(n.String())
	return nil
}

type payload struct {
	ID          idString `json:"id"`
	Project     string   `json:"project"`
	ProjectSlug string   `json:"project_slug"`
	ProjectName string   `json:"project_name"`
	Message     string   `json:"message"`
	Culprit     string   `json:"culprit"`
	Level       string   `json:"level"`
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	Event       struct {
		EventID     idString `json:"event_id"`
		ID          idString `json:"id"`
		Environment string   `json:"environment"`
		Title       string   `json:"title"`
		Message     string   `json:"message"`
		Tags        Tags     `json:"tags"`
	} `json:"event"`
}

// DecodeEvent decodes a WebHooks payload.
func DecodeEvent(data []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, errors.Wrap(err, "invalid event payload")
	}
	e := Event{
		GroupID:     string(p.ID),
		Project:     p.ProjectSlug,
		ProjectName: p.ProjectName,
		Message:     p.Message,
		Culprit:     p.Culprit,
		Level:       p.Level,
		URL:         p.URL,
		Status:      p.Status,
		EventID:     string(p.Event.EventID),
		Environment: p.Event.Environment,
		Title:       p.Event.Title,
		Tags:        p.Event.Tags,
	}
	if e.Project == "" {
		e.Project = p.Project
	}
	if e.EventID == "" {
		e.EventID = string(p.Event.ID)
	}
	if e.Message == "" {
		e.Message = p.Event.Message
	}
	if e.Environment == "" {
		e.Environment, _ = e.Tags.Get("environment")
	}
	return e, nil
}
