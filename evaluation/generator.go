package evaluation

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/promptreg"
	"github.com/ragctl/ragctl/storage"
)

// referenceContextSep joins multiple reference contexts into one CSV
// field; encoding/csv already quotes fields containing commas, so this
// only needs to be a separator unlikely to appear in ordinary chunk text.
const referenceContextSep = " ||| "

// TestRow is one synthesized question/ground-truth/context triple.
type TestRow struct {
	Question          string
	GroundTruth       string
	ReferenceContexts []string
}

type generatedRow struct {
	Question          string   `json:"question"`
	GroundTruth       string   `json:"ground_truth"`
	ReferenceContexts []string `json:"reference_contexts"`
}

// Generator synthesizes a test set from a knowledge base's already-ingested
// chunks, one row per chunk, via an LLM.
type Generator struct {
	knowledge repository.KnowledgeRepository
	testsets  repository.TestSetRepository
	lexical   index.Lexical
	blobs     storage.Store
	provider  llm.Provider
	model     string
	log       *common.ContextLogger
}

func NewGenerator(
	knowledge repository.KnowledgeRepository,
	testsets repository.TestSetRepository,
	lexical index.Lexical,
	blobs storage.Store,
	provider llm.Provider,
	model string,
) *Generator {
	return &Generator{
		knowledge: knowledge,
		testsets:  testsets,
		lexical:   lexical,
		blobs:     blobs,
		provider:  provider,
		model:     model,
		log:       common.ComponentLogger("evaluation"),
	}
}

// GenerateTestSet fetches every chunk belonging to sourceDocIDs within kbID,
// asks the provider to synthesize one question/ground-truth row per chunk,
// and writes the result as a CSV blob at testsets/{testSetID}.csv.
func (g *Generator) GenerateTestSet(ctx context.Context, testSetID, kbID string, sourceDocIDs []string) error {
	if err := g.testsets.SetStatus(ctx, testSetID, domain.TestSetStatusGenerating, ""); err != nil {
		return fmt.Errorf("failed to mark test set %s generating: %w", testSetID, err)
	}

	rows, err := g.generate(ctx, kbID, sourceDocIDs)
	if err != nil {
		g.markFailed(ctx, testSetID, err)
		return err
	}

	blobPath := fmt.Sprintf("testsets/%s.csv", testSetID)
	if err := g.writeCSV(ctx, blobPath, rows); err != nil {
		g.markFailed(ctx, testSetID, err)
		return err
	}

	if err := g.testsets.SetStatus(ctx, testSetID, domain.TestSetStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark test set %s completed: %w", testSetID, err)
	}
	return nil
}

func (g *Generator) generate(ctx context.Context, kbID string, sourceDocIDs []string) ([]TestRow, error) {
	kb, err := g.knowledge.Get(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base %s: %w", kbID, err)
	}
	indexName := kb.IndexName()

	var rows []TestRow
	for _, docID := range sourceDocIDs {
		entries, err := g.lexical.ListByFilter(ctx, indexName, index.Filter{KnowledgeID: kbID, DocID: docID})
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks for document %s: %w", docID, err)
		}
		for _, entry := range entries {
			row, err := g.generateRow(ctx, entry.Text)
			if err != nil {
				g.log.WithError(err).Warn("failed to synthesize test row for a chunk, skipping")
				continue
			}
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no test rows could be synthesized from %d source documents", len(sourceDocIDs))
	}
	return rows, nil
}

func (g *Generator) generateRow(ctx context.Context, excerpt string) (TestRow, error) {
	prompt, err := promptreg.Render(promptreg.GenerateTestset, struct{ Excerpt string }{excerpt})
	if err != nil {
		return TestRow{}, fmt.Errorf("failed to render generate_testset prompt: %w", err)
	}

	text, _, err := g.provider.Generate(ctx, g.model, []llm.Message{{Role: llm.RoleUser, Text: prompt}})
	if err != nil {
		return TestRow{}, fmt.Errorf("generate_testset call failed: %w", err)
	}

	var row generatedRow
	if err := json.Unmarshal([]byte(extractJSON(text)), &row); err != nil {
		return TestRow{}, fmt.Errorf("failed to parse synthesized row: %w", err)
	}
	if row.Question == "" {
		return TestRow{}, fmt.Errorf("synthesized row is missing a question")
	}
	if len(row.ReferenceContexts) == 0 {
		row.ReferenceContexts = []string{excerpt}
	}
	return TestRow{Question: row.Question, GroundTruth: row.GroundTruth, ReferenceContexts: row.ReferenceContexts}, nil
}

func (g *Generator) writeCSV(ctx context.Context, path string, rows []TestRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"question", "ground_truth", "reference_contexts"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{r.Question, r.GroundTruth, strings.Join(r.ReferenceContexts, referenceContextSep)}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	if err := g.blobs.Put(ctx, path, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return fmt.Errorf("failed to store test set csv at %s: %w", path, err)
	}
	return nil
}

func (g *Generator) markFailed(ctx context.Context, testSetID string, cause error) {
	msg := cause.Error()
	if len(msg) > domain.MaxErrorMessageLen {
		msg = msg[:domain.MaxErrorMessageLen]
	}
	if err := g.testsets.SetStatus(ctx, testSetID, domain.TestSetStatusFailed, msg); err != nil {
		g.log.WithError(err).Error("failed to persist FAILED status for test set " + testSetID)
	}
}

// ReadCSV parses a test set blob back into rows, used by Runner.
func ReadCSV(data []byte) ([]TestRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse test set csv: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("test set csv has no header row")
	}

	rows := make([]TestRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 3 {
			continue
		}
		rows = append(rows, TestRow{
			Question:          rec[0],
			GroundTruth:       rec[1],
			ReferenceContexts: strings.Split(rec[2], referenceContextSep),
		})
	}
	return rows, nil
}
