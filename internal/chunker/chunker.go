// Package chunker splits documents into overlapping, budget-bounded chunks.
//
// Budgets are measured in runes and selected by the document's size class.
// Text is split on paragraph, line, sentence and word boundaries using
// langchaingo's recursive character splitter; any piece that still exceeds
// the budget is hard cut.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/tmc/langchaingo/textsplitter"
)

// Budget is the maximum chunk length and the overlap between neighbours.
type Budget struct {
	Size    int `koanf:"size" json:"size"`
	Overlap int `koanf:"overlap" json:"overlap"`
}

// Validate checks that the budget can produce progress.
func (b Budget) Validate() error {
	if b.Size <= 0 {
		return fmt.Errorf("chunk size must be > 0, got %d", b.Size)
	}
	if b.Overlap < 0 || b.Overlap >= b.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", b.Size, b.Overlap)
	}
	return nil
}

// Config holds the per size class budgets.
type Config struct {
	Large  Budget `koanf:"large"`
	Medium Budget `koanf:"medium"`
	Small  Budget `koanf:"small"`
}

// DefaultConfig returns the stock budgets: large 1500/300, medium 1000/200,
// small 500/100.
func DefaultConfig() Config {
	return Config{
		Large:  Budget{Size: 1500, Overlap: 300},
		Medium: Budget{Size: 1000, Overlap: 200},
		Small:  Budget{Size: 500, Overlap: 100},
	}
}

// Validate checks budgets are usable and ordered large ≥ medium ≥ small.
func (c Config) Validate() error {
	for name, b := range map[string]Budget{"large": c.Large, "medium": c.Medium, "small": c.Small} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s budget: %w", name, err)
		}
	}
	if c.Large.Size < c.Medium.Size || c.Medium.Size < c.Small.Size {
		return fmt.Errorf("budgets must satisfy large >= medium >= small, got %d/%d/%d",
			c.Large.Size, c.Medium.Size, c.Small.Size)
	}
	return nil
}

// Section values stored under the "section" metadata key. Project
// documents add team and component chunks after their body chunks.
const (
	MetaSection      = "section"
	SectionBody      = "body"
	SectionTeam      = "team_members"
	SectionComponent = "component"
)

// Chunk is a retrievable fragment of a document.
type Chunk struct {
	ID         string            `json:"id"`
	Kind       document.Kind     `json:"kind"`
	DocumentID string            `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Text       string            `json:"text"`
	Tags       string            `json:"tags"`
	Length     int               `json:"length"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// piece is chunk text before ids and tags are assigned.
type piece struct {
	text      string
	section   string
	component string
}

// Chunker turns documents into chunks.
type Chunker struct {
	budgets   map[document.SizeClass]Budget
	splitters map[document.SizeClass]textsplitter.RecursiveCharacter
}

// New creates a Chunker from cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	budgets := map[document.SizeClass]Budget{
		document.SizeLarge:  cfg.Large,
		document.SizeMedium: cfg.Medium,
		document.SizeSmall:  cfg.Small,
	}
	splitters := make(map[document.SizeClass]textsplitter.RecursiveCharacter, len(budgets))
	for class, b := range budgets {
		splitters[class] = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(b.Size),
			textsplitter.WithChunkOverlap(b.Overlap),
			textsplitter.WithSeparators(separatorsFor(class)),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
			textsplitter.WithKeepSeparator(true),
		)
	}
	return &Chunker{budgets: budgets, splitters: splitters}, nil
}

// separatorsFor returns the boundary preference for a size class. Small
// chunks skip the paragraph separator so short comments split on lines.
func separatorsFor(class document.SizeClass) []string {
	if class == document.SizeSmall {
		return []string{"\n", ". ", " ", ""}
	}
	return []string{"\n\n", "\n", ". ", " ", ""}
}

// Budget returns the budget applied to a size class.
func (c *Chunker) Budget(class document.SizeClass) Budget {
	return c.budgets[class]
}

// Chunk splits doc into chunks. A document with empty or whitespace-only
// body yields no chunks and no error. Project documents with a lead,
// members or components also get team and component chunks.
func (c *Chunker) Chunk(doc document.Document) ([]Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Body) == "" {
		return nil, nil
	}

	class := doc.EffectiveSizeClass()
	budget := c.budgets[class]

	pieces, err := c.splitters[class].SplitText(doc.Body)
	if err != nil {
		return nil, ragerrors.Validationf("chunker.Chunk", "splitting %s: %v", doc, err)
	}

	var out []piece
	for _, p := range pieces {
		out = append(out, cutPieces(p, budget, piece{section: SectionBody})...)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if doc.Project != nil {
		out = append(out, projectPieces(doc, budget)...)
	}

	identity, content := identityTags(doc), contentTags(doc)
	base := doc.Metadata()

	chunks := make([]Chunk, len(out))
	for i, p := range out {
		md := make(map[string]string, len(base)+4)
		for k, v := range base {
			md[k] = v
		}
		md["ordinal"] = strconv.Itoa(i)
		md["chunk_count"] = strconv.Itoa(len(out))
		md[MetaSection] = p.section
		tags := content
		switch p.section {
		case SectionTeam:
			tags = teamTags
		case SectionComponent:
			md["component"] = p.component
			tags = componentTags
		}

		chunks[i] = Chunk{
			ID:         ChunkID(doc.ID, i, p.text),
			Kind:       doc.Kind,
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       p.text,
			Tags:       chunkTags(identity, tags, i, len(out)),
			Length:     utf8.RuneCountInString(p.text),
			Metadata:   md,
		}
	}
	return chunks, nil
}

// cutPieces hard cuts text to budget and returns the non-empty windows
// labelled like tmpl.
func cutPieces(text string, b Budget, tmpl piece) []piece {
	var out []piece
	for _, cut := range hardCut(strings.TrimSpace(text), b) {
		if cut = strings.TrimSpace(cut); cut != "" {
			p := tmpl
			p.text = cut
			out = append(out, p)
		}
	}
	return out
}

// projectPieces renders the team roster and one record per component.
func projectPieces(doc document.Document, b Budget) []piece {
	info := doc.Project
	name := info.Name
	if name == "" {
		name = doc.Title
	}
	label := name
	if info.Key != "" {
		label = fmt.Sprintf("%s (%s)", name, info.Key)
	}

	var out []piece
	if info.Lead != "" || len(info.Members) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Project team members: %s\n", label)
		if info.Lead != "" {
			fmt.Fprintf(&sb, "- %s: lead\n", info.Lead)
		}
		for _, m := range info.Members {
			if m = strings.TrimSpace(m); m != "" && m != info.Lead {
				fmt.Fprintf(&sb, "- %s: member\n", m)
			}
		}
		out = append(out, cutPieces(sb.String(), b, piece{section: SectionTeam})...)
	}
	for _, c := range info.Components {
		if c = strings.TrimSpace(c); c == "" {
			continue
		}
		text := fmt.Sprintf("Component: %s\nProject: %s", c, label)
		if info.Lead != "" {
			text += "\nProject lead: " + info.Lead
		}
		out = append(out, cutPieces(text, b, piece{section: SectionComponent, component: c})...)
	}
	return out
}

// ChunkID derives a stable identifier from the document id, the chunk's
// position and its content.
func ChunkID(documentID string, ordinal int, text string) string {
	content := sha256.Sum256([]byte(text))
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write(content[:])
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// hardCut splits s into windows of at most b.Size runes, stepping by
// b.Size-b.Overlap. Input within budget is returned as-is.
func hardCut(s string, b Budget) []string {
	if utf8.RuneCountInString(s) <= b.Size {
		return []string{s}
	}
	runes := []rune(s)
	step := b.Size - b.Overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + b.Size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
