// Package document defines the issue-tracker documents fed into the
// retrieval pipeline.
//
// A Document is a closed variant over three kinds: project, issue and
// comment. Each kind carries an optional typed payload; only the payload
// matching the kind may be set. Documents are immutable once built and are
// consumed by the chunker.
package document

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
)

// Kind identifies the document variant.
type Kind string

const (
	KindProject Kind = "project"
	KindIssue   Kind = "issue"
	KindComment Kind = "comment"
)

// Kinds lists every valid kind in reporting order.
var Kinds = []Kind{KindProject, KindIssue, KindComment}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProject, KindIssue, KindComment:
		return true
	}
	return false
}

// DefaultSizeClass returns the natural size class of the kind.
func (k Kind) DefaultSizeClass() SizeClass {
	switch k {
	case KindProject:
		return SizeLarge
	case KindIssue:
		return SizeMedium
	default:
		return SizeSmall
	}
}

// SizeClass selects the chunk budget used for a document.
type SizeClass string

const (
	SizeLarge  SizeClass = "large"
	SizeMedium SizeClass = "medium"
	SizeSmall  SizeClass = "small"
)

func (s SizeClass) rank() int {
	switch s {
	case SizeLarge:
		return 3
	case SizeMedium:
		return 2
	case SizeSmall:
		return 1
	}
	return 0
}

// ProjectInfo is the project payload.
type ProjectInfo struct {
	Key        string   `json:"key"`
	Name       string   `json:"name,omitempty"`
	Lead       string   `json:"lead,omitempty"`
	Members    []string `json:"members,omitempty"`
	Components []string `json:"components,omitempty"`
}

// IssueInfo is the issue payload.
type IssueInfo struct {
	Key        string    `json:"key"`
	ProjectKey string    `json:"project_key,omitempty"`
	Type       string    `json:"type,omitempty"`
	Status     string    `json:"status,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	Created    time.Time `json:"created,omitempty"`
}

// CommentInfo is the comment payload.
type CommentInfo struct {
	IssueKey   string    `json:"issue_key"`
	ProjectKey string    `json:"project_key,omitempty"`
	Author     string    `json:"author,omitempty"`
	Created    time.Time `json:"created,omitempty"`
	Worklog    bool      `json:"worklog,omitempty"`
}

// Document is one unit of source content.
type Document struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	SizeClass SizeClass `json:"size_class,omitempty"`

	Project *ProjectInfo `json:"project,omitempty"`
	Issue   *IssueInfo   `json:"issue,omitempty"`
	Comment *CommentInfo `json:"comment,omitempty"`
}

// NewProject builds a project document.
func NewProject(id, title, body string, info ProjectInfo) Document {
	return Document{Kind: KindProject, ID: id, Title: title, Body: body, Project: &info}
}

// NewIssue builds an issue document.
func NewIssue(id, title, body string, info IssueInfo) Document {
	return Document{Kind: KindIssue, ID: id, Title: title, Body: body, Issue: &info}
}

// NewComment builds a comment document.
func NewComment(id, body string, info CommentInfo) Document {
	return Document{Kind: KindComment, ID: id, Body: body, Comment: &info}
}

// EffectiveSizeClass returns the explicit size class or the kind default.
func (d Document) EffectiveSizeClass() SizeClass {
	if d.SizeClass != "" {
		return d.SizeClass
	}
	return d.Kind.DefaultSizeClass()
}

// Validate checks the variant invariants.
func (d Document) Validate() error {
	const op = "document.Validate"
	if !d.Kind.Valid() {
		return ragerrors.Validationf(op, "unknown kind %q", d.Kind)
	}
	if strings.TrimSpace(d.ID) == "" {
		return ragerrors.Validationf(op, "%s document has empty id", d.Kind)
	}
	if d.SizeClass != "" {
		if d.SizeClass.rank() == 0 {
			return ragerrors.Validationf(op, "document %s: unknown size class %q", d.ID, d.SizeClass)
		}
		if d.SizeClass.rank() > d.Kind.DefaultSizeClass().rank() {
			return ragerrors.Validationf(op, "document %s: size class %q exceeds %s budget", d.ID, d.SizeClass, d.Kind)
		}
	}

	payloads := 0
	if d.Project != nil {
		payloads++
		if d.Kind != KindProject {
			return ragerrors.Validationf(op, "document %s: project payload on %s document", d.ID, d.Kind)
		}
	}
	if d.Issue != nil {
		payloads++
		if d.Kind != KindIssue {
			return ragerrors.Validationf(op, "document %s: issue payload on %s document", d.ID, d.Kind)
		}
	}
	if d.Comment != nil {
		payloads++
		if d.Kind != KindComment {
			return ragerrors.Validationf(op, "document %s: comment payload on %s document", d.ID, d.Kind)
		}
	}
	if payloads > 1 {
		return ragerrors.Validationf(op, "document %s: more than one payload set", d.ID)
	}
	return nil
}

// IsWorklog reports whether the document is a time-tracking comment.
func (d Document) IsWorklog() bool {
	return d.Kind == KindComment && d.Comment != nil && d.Comment.Worklog
}

// Metadata flattens the document into string key/value pairs.
// Empty values are omitted.
func (d Document) Metadata() map[string]string {
	m := map[string]string{
		"kind":        string(d.Kind),
		"document_id": d.ID,
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	setTime := func(k string, t time.Time) {
		if !t.IsZero() {
			m[k] = t.UTC().Format(time.RFC3339)
		}
	}
	set("title", d.Title)

	switch {
	case d.Project != nil:
		set("project_key", d.Project.Key)
		set("project_name", d.Project.Name)
		set("lead", d.Project.Lead)
		set("members", strings.Join(d.Project.Members, ","))
		set("components", strings.Join(d.Project.Components, ","))
	case d.Issue != nil:
		set("issue_key", d.Issue.Key)
		set("project_key", d.Issue.ProjectKey)
		set("issue_type", d.Issue.Type)
		set("status", d.Issue.Status)
		set("priority", d.Issue.Priority)
		set("assignee", d.Issue.Assignee)
		set("labels", strings.Join(d.Issue.Labels, ","))
		setTime("created", d.Issue.Created)
	case d.Comment != nil:
		set("issue_key", d.Comment.IssueKey)
		set("project_key", d.Comment.ProjectKey)
		set("author", d.Comment.Author)
		setTime("created", d.Comment.Created)
		if d.Comment.Worklog {
			m["worklog"] = strconv.FormatBool(true)
		}
	}
	return m
}

// LoadJSON decodes a JSON array of documents. Documents are not validated
// here so that ingestion can report invalid entries individually.
func LoadJSON(r io.Reader) ([]Document, error) {
	var docs []Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&docs); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, ragerrors.Validationf("document.LoadJSON", "decoding documents: %v", err)
	}
	return docs, nil
}

// String implements fmt.Stringer.
func (d Document) String() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.ID)
}
