package jira

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/issue-stream/internal/domain"
)

// jiraTime is the timestamp layout Jira uses in issue fields.
const jiraTime = "2006-01-02T15:04:05.000-0700"

// KindInitialLoad marks events produced by the backfill driver rather than a
// live webhook.
const KindInitialLoad = "initial_load"

// Subfields of "fields" worth keeping for enrichment and display. Everything
// else Jira sends (avatars, watch counts, renderable variants) is dropped.
var relevantSubfields = map[string]struct{}{
	"issuetype":   {},
	"project":     {},
	"priority":    {},
	"summary":     {},
	"description": {},
	"status":      {},
	"creator":     {},
	"reporter":    {},
	"created":     {},
	"updated":     {},
	"labels":      {},
	"comment":     {},
}

var relevantNestedFields = map[string]map[string]struct{}{
	"statusCategory": {"key": {}, "name": {}, "colorName": {}},
	"creator":        {"displayName": {}, "emailAddress": {}, "timeZone": {}},
	"reporter":       {"displayName": {}, "emailAddress": {}, "timeZone": {}},
	"project":        {"key": {}, "name": {}, "projectTypeKey": {}},
	"issuetype":      {"name": {}, "description": {}, "subtask": {}},
}

// MapEventKind translates a webhook event key (X-Event-Key header) into the
// canonical event kind. Unknown keys pass through unchanged so new webhook
// types degrade gracefully instead of being dropped.
func MapEventKind(eventKey string) string {
	switch eventKey {
	case "jira:issue_created", "issue_created":
		return "created"
	case "jira:issue_updated", "issue_updated":
		return "updated"
	case "jira:issue_deleted", "issue_deleted":
		return "deleted"
	case "comment_created", "comment_updated", "jira:comment_created":
		return "commented"
	case "":
		return "updated"
	default:
		return eventKey
	}
}

// Normalize converts a raw issue document into a canonical Event. It is a
// pure transform: the same input always yields an Event with identical
// fields, including the event ID, so redelivered notifications are safe
// downstream.
func Normalize(raw []byte, kind string) (domain.Event, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Event{}, &domain.MalformedEventError{Reason: "notification is not valid JSON"}
	}

	entityID, _ := doc["key"].(string)
	if entityID == "" {
		entityID, _ = doc["id"].(string)
	}
	if entityID == "" {
		return domain.Event{}, &domain.MalformedEventError{Reason: "no issue key or id in notification"}
	}

	ev := domain.Event{
		EntityID: entityID,
		Kind:     kind,
		Payload:  filterFields(doc),
		URL:      browseURL(doc, entityID),
	}

	if ts, ok := issueTimestamp(doc); ok {
		ev.OccurredAt = ts
		rev := ts.UnixMilli()
		ev.SourceRevision = &rev
	}

	// Deterministic event identity: the same issue state normalizes to the
	// same event ID no matter how many times the notification is delivered.
	seed := entityID + "|" + kind
	if ev.SourceRevision != nil {
		seed += "|" + ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	ev.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()

	return ev, nil
}

// issueTimestamp picks the issue's updated time, falling back to created.
func issueTimestamp(doc map[string]any) (time.Time, bool) {
	fields, _ := doc["fields"].(map[string]any)
	for _, name := range []string{"updated", "created"} {
		raw, _ := fields[name].(string)
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(jiraTime, raw); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// browseURL derives the human-facing issue link from the API self link.
func browseURL(doc map[string]any, key string) string {
	self, _ := doc["self"].(string)
	if self == "" {
		return ""
	}
	u, err := url.Parse(self)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/browse/" + key
}

// filterFields trims an issue document to the whitelisted structure,
// preserving its shape: top-level id/key/fields, the relevant subfields of
// "fields", trimmed nested objects, and comment author/body/created/updated.
func filterFields(doc map[string]any) map[string]any {
	filtered := make(map[string]any)
	for _, k := range []string{"id", "key"} {
		if v, ok := doc[k]; ok {
			filtered[k] = v
		}
	}

	fields, ok := doc["fields"].(map[string]any)
	if !ok {
		return filtered
	}

	filteredFields := make(map[string]any)
	for fieldKey, fieldValue := range fields {
		if _, keep := relevantSubfields[fieldKey]; !keep {
			continue
		}

		switch {
		case fieldKey == "comment":
			if comments := filterComments(fieldValue); comments != nil {
				filteredFields[fieldKey] = comments
			}
		default:
			if nested, ok := fieldValue.(map[string]any); ok {
				filteredFields[fieldKey] = filterNested(fieldKey, nested)
			} else {
				filteredFields[fieldKey] = fieldValue
			}
		}
	}
	filtered["fields"] = filteredFields

	return filtered
}

func filterNested(fieldKey string, nested map[string]any) map[string]any {
	keep, ok := relevantNestedFields[fieldKey]
	if !ok {
		return nested
	}

	out := make(map[string]any, len(keep))
	for k, v := range nested {
		if _, wanted := keep[k]; wanted {
			out[k] = v
		}
	}
	return out
}

func filterComments(v any) map[string]any {
	wrapper, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := wrapper["comments"].([]any)
	if !ok {
		return nil
	}

	comments := make([]any, 0, len(raw))
	for _, item := range raw {
		comment, ok := item.(map[string]any)
		if !ok {
			continue
		}

		trimmed := map[string]any{
			"body":    comment["body"],
			"created": comment["created"],
			"updated": comment["updated"],
		}
		if author, ok := comment["author"].(map[string]any); ok {
			trimmed["author"] = map[string]any{
				"displayName":  author["displayName"],
				"emailAddress": author["emailAddress"],
			}
		}
		comments = append(comments, trimmed)
	}

	return map[string]any{"comments": comments}
}

// CommentBodies extracts the comment body strings from a filtered payload,
// newest-last, for embedding input assembly.
func CommentBodies(payload map[string]any) []string {
	fields, _ := payload["fields"].(map[string]any)
	wrapper, _ := fields["comment"].(map[string]any)
	raw, _ := wrapper["comments"].([]any)

	bodies := make([]string, 0, len(raw))
	for _, item := range raw {
		comment, _ := item.(map[string]any)
		if body, _ := comment["body"].(string); strings.TrimSpace(body) != "" {
			bodies = append(bodies, body)
		}
	}
	return bodies
}
