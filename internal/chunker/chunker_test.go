package chunker_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunker(t *testing.T) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)
	return c
}

// numberedWords produces n unique space separated words.
func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%04d", i)
	}
	return strings.Join(words, " ")
}

func TestChunk_EmptyBody(t *testing.T) {
	c := newChunker(t)

	for _, body := range []string{"", "   ", "\n\n\t"} {
		chunks, err := c.Chunk(document.Document{Kind: document.KindIssue, ID: "PROJ-1", Body: body})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunk_InvalidDocument(t *testing.T) {
	c := newChunker(t)

	_, err := c.Chunk(document.Document{Kind: "epic", ID: "x", Body: "text"})
	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))
}

func TestChunk_ShortBodySingleChunk(t *testing.T) {
	c := newChunker(t)
	doc := document.NewIssue("PROJ-1", "Login", "  Users cannot log in after the upgrade.  ", document.IssueInfo{Key: "PROJ-1", Status: "Open"})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, "Users cannot log in after the upgrade.", ch.Text)
	assert.Equal(t, document.KindIssue, ch.Kind)
	assert.Equal(t, "PROJ-1", ch.DocumentID)
	assert.Equal(t, 0, ch.Ordinal)
	assert.Equal(t, utf8.RuneCountInString(ch.Text), ch.Length)
	assert.Equal(t, chunker.ChunkID("PROJ-1", 0, ch.Text), ch.ID)
	assert.Equal(t, "Open", ch.Metadata["status"])
	assert.Equal(t, "1", ch.Metadata["chunk_count"])
}

func TestChunk_RespectsBudgetPerKind(t *testing.T) {
	c := newChunker(t)
	body := numberedWords(1200)

	tests := []struct {
		kind  document.Kind
		limit int
	}{
		{document.KindProject, 1500},
		{document.KindIssue, 1000},
		{document.KindComment, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			chunks, err := c.Chunk(document.Document{Kind: tt.kind, ID: "doc", Body: body})
			require.NoError(t, err)
			require.Greater(t, len(chunks), 1)
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Ordinal)
				assert.Greater(t, ch.Length, 0)
				assert.LessOrEqual(t, ch.Length, tt.limit)
				assert.NotEmpty(t, strings.TrimSpace(ch.Text))
			}
		})
	}
}

func TestChunk_SmallerBudgetsYieldMoreChunks(t *testing.T) {
	c := newChunker(t)
	body := numberedWords(1200)

	project, err := c.Chunk(document.Document{Kind: document.KindProject, ID: "d", Body: body})
	require.NoError(t, err)
	comment, err := c.Chunk(document.Document{Kind: document.KindComment, ID: "d", Body: body})
	require.NoError(t, err)

	assert.Greater(t, len(comment), len(project))
}

func TestChunk_AdjacentChunksOverlap(t *testing.T) {
	c := newChunker(t)
	chunks, err := c.Chunk(document.Document{Kind: document.KindComment, ID: "c1", Body: numberedWords(400)})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i].Text)[0]
		assert.Contains(t, chunks[i-1].Text, first, "chunk %d should start inside chunk %d", i, i-1)
	}
}

func TestChunk_HardCutWithoutBoundaries(t *testing.T) {
	c := newChunker(t)
	body := strings.Repeat("é", 1234)

	chunks, err := c.Chunk(document.Document{Kind: document.KindComment, ID: "c1", Body: body})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
		assert.LessOrEqual(t, ch.Length, 500)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := newChunker(t)
	doc := document.Document{Kind: document.KindIssue, ID: "PROJ-2", Body: numberedWords(600), Tags: []string{"backend"}}

	a, err := c.Chunk(doc)
	require.NoError(t, err)
	b, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkID(t *testing.T) {
	id := chunker.ChunkID("doc-1", 0, "hello")
	assert.Len(t, id, 32)
	assert.Equal(t, id, chunker.ChunkID("doc-1", 0, "hello"))
	assert.NotEqual(t, id, chunker.ChunkID("doc-1", 1, "hello"))
	assert.NotEqual(t, id, chunker.ChunkID("doc-2", 0, "hello"))
	assert.NotEqual(t, id, chunker.ChunkID("doc-1", 0, "hello!"))
}

func TestChunk_Tags(t *testing.T) {
	c := newChunker(t)
	doc := document.NewComment("c-1", "Fixed the bug, @sam please review",
		document.CommentInfo{IssueKey: "PROJ-1", ProjectKey: "PROJ", Author: "Sam Lee"})
	doc.Tags = []string{"release notes", "comment"}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "kind:comment,doc:c-1,project:PROJ,issue:PROJ-1,author:Sam_Lee,part:1/1,"+
		"comment,developer_update,communication,progress,release_notes,"+
		"resolution,problem_report,collaboration", chunks[0].Tags)
}

func TestChunk_PartTags(t *testing.T) {
	c := newChunker(t)
	doc := document.NewIssue("PROJ-2", "Big", numberedWords(600),
		document.IssueInfo{Key: "PROJ-2", ProjectKey: "PROJ", Labels: []string{"backend"}})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	n := len(chunks)
	for i, ch := range chunks {
		tags := chunker.SplitTags(ch.Tags)
		assert.Equal(t, []string{"kind:issue", "doc:PROJ-2", "project:PROJ", "issue:PROJ-2", chunker.PartTag(i, n)}, tags[:5])
		assert.Equal(t, fmt.Sprintf("part:%d/%d", i+1, n), tags[4])
		assert.Contains(t, tags, "backend")
		assert.NotContains(t, ch.Tags, "author:")
	}
}

func TestChunk_ProjectTagsOmitEmptyKeys(t *testing.T) {
	c := newChunker(t)
	doc := document.NewProject("p-1", "Payments", "Handles refunds.", document.ProjectInfo{Name: "Payments"})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	tags := chunker.SplitTags(chunks[0].Tags)
	assert.Equal(t, []string{"kind:project", "doc:p-1", "part:1/1", "project", "overview", "metadata"}, tags[:6])
}

func TestChunk_ProjectTeamAndComponents(t *testing.T) {
	c := newChunker(t)
	doc := document.NewProject("PRJ", "Payments", "Payments platform handling refunds.", document.ProjectInfo{
		Key:        "PRJ",
		Name:       "Payments",
		Lead:       "ana",
		Members:    []string{"ana", "li", " "},
		Components: []string{"Gateway", "", "Ledger"},
	})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	sections := make([]string, len(chunks))
	for i, ch := range chunks {
		sections[i] = ch.Metadata[chunker.MetaSection]
		assert.Equal(t, i, ch.Ordinal)
		assert.Equal(t, "4", ch.Metadata["chunk_count"])
		assert.Equal(t, document.KindProject, ch.Kind)
		assert.Equal(t, "PRJ", ch.Metadata["project_key"])
	}
	assert.Equal(t, []string{chunker.SectionBody, chunker.SectionTeam, chunker.SectionComponent, chunker.SectionComponent}, sections)

	team := chunks[1]
	assert.Equal(t, "Project team members: Payments (PRJ)\n- ana: lead\n- li: member", team.Text)
	assert.Equal(t, "kind:project,doc:PRJ,project:PRJ,part:2/4,team,members,staff,collaboration", team.Tags)

	gateway := chunks[2]
	assert.Equal(t, "Gateway", gateway.Metadata["component"])
	assert.Equal(t, "Component: Gateway\nProject: Payments (PRJ)\nProject lead: ana", gateway.Text)
	assert.Contains(t, chunker.SplitTags(gateway.Tags), "subteam")
	assert.Equal(t, "Ledger", chunks[3].Metadata["component"])
	assert.NotEqual(t, chunks[2].ID, chunks[3].ID)
}

func TestChunk_ProjectWithoutBodyHasNoTeamChunks(t *testing.T) {
	c := newChunker(t)
	doc := document.NewProject("PRJ", "Payments", "  ", document.ProjectInfo{Key: "PRJ", Lead: "ana", Components: []string{"Gateway"}})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_WorklogTags(t *testing.T) {
	c := newChunker(t)
	doc := document.NewComment("w-1", "2h spent on migration", document.CommentInfo{IssueKey: "PROJ-1", Worklog: true})

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunker.SplitTags(chunks[0].Tags), "time_tracking")
}

func TestJoinTags(t *testing.T) {
	assert.Equal(t, "a_b,c_d,e", chunker.JoinTags([]string{" a b ", "a_b", "c,d", "", "e", "e"}))
	assert.Equal(t, "", chunker.JoinTags(nil))
	assert.Nil(t, chunker.SplitTags(""))
	assert.Equal(t, []string{"x", "y"}, chunker.SplitTags(chunker.JoinTags([]string{"x", "y"})))
}

func TestDetectCommentTypes(t *testing.T) {
	assert.Equal(t, []string{"blocker"}, chunker.DetectCommentTypes("We are blocked on infra"))
	assert.Empty(t, chunker.DetectCommentTypes("lgtm"))
}

func TestConfigValidate(t *testing.T) {
	cfg := chunker.DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Small.Overlap = 500
	assert.Error(t, bad.Validate())

	unordered := cfg
	unordered.Small.Size = 2000
	unordered.Small.Overlap = 10
	assert.Error(t, unordered.Validate())

	_, err := chunker.New(bad)
	assert.Error(t, err)
}
