package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/issuerag/internal/document"
)

// TagSeparator joins tags into the stored tag string.
const TagSeparator = ","

var kindTags = map[document.Kind][]string{
	document.KindProject: {"project", "overview", "metadata"},
	document.KindIssue:   {"issue", "core", "metadata"},
	document.KindComment: {"comment", "developer_update", "communication", "progress"},
}

var worklogTags = []string{"worklog", "time_tracking", "billing", "hours"}

var (
	teamTags      = []string{"team", "members", "staff", "collaboration"}
	componentTags = []string{"component", "team", "subteam", "group"}
)

// commentSignals maps a comment type tag to the keywords that imply it.
// Matching is substring based on the lowercased body.
var commentSignals = []struct {
	tag      string
	keywords []string
}{
	{"resolution", []string{"fixed", "resolved", "completed", "done"}},
	{"problem_report", []string{"error", "bug", "issue", "problem", "broken"}},
	{"question", []string{"question", "?", "what about", "should i"}},
	{"collaboration", []string{"@", "ping", "mention", "review"}},
	{"blocker", []string{"blocked", "stuck", "cannot", "unable"}},
	{"testing", []string{"test", "testing", "qa", "verified"}},
}

// DetectCommentTypes returns the comment type tags implied by body.
func DetectCommentTypes(body string) []string {
	lower := strings.ToLower(body)
	var types []string
	for _, sig := range commentSignals {
		for _, kw := range sig.keywords {
			if strings.Contains(lower, kw) {
				types = append(types, sig.tag)
				break
			}
		}
	}
	return types
}

// identityTags returns the key:value tags locating doc: its kind, id,
// project, issue and comment author, in that order. Empty values are
// omitted.
func identityTags(doc document.Document) []string {
	tags := []string{"kind:" + string(doc.Kind), "doc:" + doc.ID}
	var project, issue, author string
	switch {
	case doc.Project != nil:
		project = doc.Project.Key
	case doc.Issue != nil:
		project, issue = doc.Issue.ProjectKey, doc.Issue.Key
	case doc.Comment != nil:
		project, issue, author = doc.Comment.ProjectKey, doc.Comment.IssueKey, doc.Comment.Author
	}
	for _, kv := range [][2]string{{"project", project}, {"issue", issue}, {"author", author}} {
		if strings.TrimSpace(kv[1]) != "" {
			tags = append(tags, kv[0]+":"+kv[1])
		}
	}
	return tags
}

// PartTag names the position of chunk ordinal within a document of n chunks.
func PartTag(ordinal, n int) string {
	return fmt.Sprintf("part:%d/%d", ordinal+1, n)
}

// contentTags builds the semantic tags shared by every chunk of doc: kind
// tags, issue labels, caller tags, then worklog and comment type tags.
func contentTags(doc document.Document) []string {
	tags := append([]string(nil), kindTags[doc.Kind]...)
	if doc.Issue != nil {
		tags = append(tags, doc.Issue.Labels...)
	}
	tags = append(tags, doc.Tags...)
	if doc.IsWorklog() {
		tags = append(tags, worklogTags...)
	}
	if doc.Kind == document.KindComment {
		tags = append(tags, DetectCommentTypes(doc.Body)...)
	}
	return tags
}

// chunkTags returns the joined tags for chunk ordinal of n: identity tags,
// the part tag, then content tags.
func chunkTags(identity, content []string, ordinal, n int) string {
	tags := make([]string, 0, len(identity)+1+len(content))
	tags = append(tags, identity...)
	tags = append(tags, PartTag(ordinal, n))
	return JoinTags(append(tags, content...))
}

// JoinTags sanitizes, de-duplicates and joins tags preserving first
// occurrence order.
func JoinTags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = sanitizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, TagSeparator)
}

// SplitTags is the inverse of JoinTags.
func SplitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, TagSeparator)
}

// sanitizeTag replaces separators and whitespace runs with underscores.
func sanitizeTag(t string) string {
	t = strings.TrimSpace(t)
	var b strings.Builder
	underscore := false
	for _, r := range t {
		if r == ',' || unicode.IsSpace(r) {
			if !underscore {
				b.WriteRune('_')
				underscore = true
			}
			continue
		}
		underscore = false
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}
